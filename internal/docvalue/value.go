// Package docvalue implements the in-memory Result Document: a JSON-shaped
// tree that probes mutate by reference during a single run.
package docvalue

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind identifies the shape a Node currently holds.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindArray
	KindObject
)

// Append is the sentinel index meaning "push a new element" when addressing
// an array through Ref.Index.
const Append = -1

// Node is one location in the document tree. Objects preserve insertion
// order so serialization is reproducible.
type Node struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	arr  []*Node
	keys []string
	obj  map[string]*Node
}

func newNode() *Node {
	return &Node{kind: KindNull}
}

func newObjectNode() *Node {
	return &Node{kind: KindObject, obj: make(map[string]*Node)}
}

// Ref is a writable handle into the document tree, rooted wherever it was
// obtained from. Navigation methods create missing intermediate nodes.
type Ref struct {
	n *Node
}

// Child returns a reference to an object field, creating it if missing.
// If this node is not already an object it becomes an empty one first,
// discarding any scalar or array it held.
func (r Ref) Child(key string) Ref {
	if r.n.kind != KindObject {
		r.n.kind = KindObject
		r.n.obj = make(map[string]*Node)
		r.n.arr = nil
	}
	if child, ok := r.n.obj[key]; ok {
		return Ref{child}
	}
	child := newNode()
	r.n.obj[key] = child
	r.n.keys = append(r.n.keys, key)
	return Ref{child}
}

// Has reports whether an object field is already present, without creating it.
func (r Ref) Has(key string) bool {
	if r.n.kind != KindObject {
		return false
	}
	_, ok := r.n.obj[key]
	return ok
}

// Index returns a reference to an array element. docvalue.Append ("-1")
// appends a new empty element at the end; other indices grow the array
// with null elements as needed.
func (r Ref) Index(i int) Ref {
	if r.n.kind != KindArray {
		r.n.kind = KindArray
		r.n.obj = nil
	}
	if i == Append {
		child := newNode()
		r.n.arr = append(r.n.arr, child)
		return Ref{child}
	}
	for len(r.n.arr) <= i {
		r.n.arr = append(r.n.arr, newNode())
	}
	return Ref{r.n.arr[i]}
}

// Len returns the number of elements if this node is an array, else 0.
func (r Ref) Len() int {
	if r.n.kind != KindArray {
		return 0
	}
	return len(r.n.arr)
}

// Assign replaces the referenced node with a scalar value. Supported types:
// nil, bool, int, int64, float64, string.
func (r Ref) Assign(v any) {
	switch val := v.(type) {
	case nil:
		r.n.kind = KindNull
	case bool:
		r.n.kind = KindBool
		r.n.b = val
	case int:
		r.n.kind = KindInt
		r.n.i = int64(val)
	case int64:
		r.n.kind = KindInt
		r.n.i = val
	case float64:
		r.n.kind = KindFloat
		r.n.f = val
	case string:
		r.n.kind = KindString
		r.n.s = val
	default:
		panic(fmt.Sprintf("docvalue: unsupported scalar type %T", v))
	}
}

// Document is the root of a Result Document: always an object, carrying the
// run's start/end timestamps plus the document-level error counters.
type Document struct {
	root             *Node
	errors           []ErrorEntry
	maxErrorPriority int
}

// ErrorEntry is one error recorded during a run, independent of where in
// the tree it was displayed.
type ErrorEntry struct {
	Producer string
	Message  string
	Priority int
	Where    string
}

// New creates an empty Result Document.
func New() *Document {
	return &Document{root: newObjectNode()}
}

// Root returns a writable reference to the document root.
func (d *Document) Root() Ref {
	return Ref{d.root}
}

// ClearErrors resets the document-level error counters. Must be invoked
// exactly once per run, before any probe executes.
func (d *Document) ClearErrors() {
	d.errors = nil
	d.maxErrorPriority = 0
}

// ErrInvalidPriority is returned by RecordError when priority is outside [0,100].
type ErrInvalidPriority struct {
	Priority int
}

func (e *ErrInvalidPriority) Error() string {
	return fmt.Sprintf("docvalue: priority %d out of range [0,100]", e.Priority)
}

// RecordError appends an error entry into where["error"] (creating the
// array if absent) and updates the document-level error_count and
// max_error_priority counters. It does not mutate the document if priority
// is out of range.
func (d *Document) RecordError(where Ref, producer, message string, priority int) error {
	if priority < 0 || priority > 100 {
		return &ErrInvalidPriority{Priority: priority}
	}

	item := where.Child("error").Index(Append)
	item.Child("plugin_name").Assign(producer)
	item.Child("message").Assign(message)
	item.Child("priority").Assign(int64(priority))

	d.errors = append(d.errors, ErrorEntry{Producer: producer, Message: message, Priority: priority})
	if priority > d.maxErrorPriority {
		d.maxErrorPriority = priority
	}
	return nil
}

// ErrorCount returns the number of errors recorded so far in this run.
func (d *Document) ErrorCount() int {
	return len(d.errors)
}

// MaxErrorPriority returns the highest priority recorded so far in this run.
func (d *Document) MaxErrorPriority() int {
	return d.maxErrorPriority
}

// Errors returns a copy of the canonical error list recorded this run.
func (d *Document) Errors() []ErrorEntry {
	out := make([]ErrorEntry, len(d.errors))
	copy(out, d.errors)
	return out
}

// FieldCount returns the number of top-level keys the root object carries.
// Used by the worker to detect an "empty" run (only run_id/start_date/end_date).
func (d *Document) FieldCount() int {
	return len(d.root.keys)
}

// Serialize produces deterministic JSON: object key order is insertion
// order, integers stay 64-bit signed, floats use Go's shortest round-trip
// representation.
func (d *Document) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeNode(&buf, d.root); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeNode(buf *bytes.Buffer, n *Node) error {
	switch n.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		if n.b {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case KindInt:
		fmt.Fprintf(buf, "%d", n.i)
	case KindFloat:
		b, err := json.Marshal(n.f)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindString:
		b, err := json.Marshal(n.s)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindArray:
		buf.WriteByte('[')
		for i, child := range n.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeNode(buf, child); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		for i, key := range n.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(key)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeNode(buf, n.obj[key]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	}
	return nil
}
