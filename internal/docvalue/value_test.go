package docvalue

import (
	"encoding/json"
	"testing"
)

func TestChildCreatesMissingObject(t *testing.T) {
	doc := New()
	doc.Root().Child("disk").Child("dir").Assign("/")

	out, err := doc.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	disk, ok := got["disk"].(map[string]any)
	if !ok {
		t.Fatalf("expected disk object, got %#v", got["disk"])
	}
	if disk["dir"] != "/" {
		t.Errorf("expected dir '/', got %v", disk["dir"])
	}
}

func TestIndexAppendSentinel(t *testing.T) {
	doc := New()
	arr := doc.Root().Child("disk").Child("partition")
	arr.Index(Append).Child("dir").Assign("/a")
	arr.Index(Append).Child("dir").Assign("/b")

	if arr.Len() != 2 {
		t.Fatalf("expected 2 elements, got %d", arr.Len())
	}
}

func TestRecordErrorUpdatesCounters(t *testing.T) {
	doc := New()
	doc.ClearErrors()

	if err := doc.RecordError(doc.Root(), "disk", "partition full", 55); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := doc.RecordError(doc.Root(), "cpu", "load too high", 90); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if doc.ErrorCount() != 2 {
		t.Errorf("expected error_count 2, got %d", doc.ErrorCount())
	}
	if doc.MaxErrorPriority() != 90 {
		t.Errorf("expected max_error_priority 90, got %d", doc.MaxErrorPriority())
	}
}

func TestRecordErrorRejectsOutOfRangePriority(t *testing.T) {
	doc := New()
	doc.ClearErrors()

	err := doc.RecordError(doc.Root(), "disk", "bad", 101)
	if err == nil {
		t.Fatal("expected error for out-of-range priority")
	}
	if doc.ErrorCount() != 0 {
		t.Errorf("expected no mutation on invalid priority, got error_count=%d", doc.ErrorCount())
	}

	err = doc.RecordError(doc.Root(), "disk", "bad", -1)
	if err == nil {
		t.Fatal("expected error for negative priority")
	}
}

func TestSerializeIsDeterministic(t *testing.T) {
	build := func() *Document {
		doc := New()
		doc.Root().Child("start_date").Assign(int64(100))
		doc.Root().Child("end_date").Assign(int64(101))
		doc.Root().Child("cpu").Child("load1").Assign(1.5)
		return doc
	}

	a, err := build().Serialize()
	if err != nil {
		t.Fatalf("serialize a: %v", err)
	}
	b, err := build().Serialize()
	if err != nil {
		t.Fatalf("serialize b: %v", err)
	}
	if string(a) != string(b) {
		t.Errorf("expected deterministic serialization, got %q vs %q", a, b)
	}
}

func TestFieldCountDetectsEmptyRun(t *testing.T) {
	doc := New()
	if doc.FieldCount() != 0 {
		t.Fatalf("expected empty root, got %d fields", doc.FieldCount())
	}
	doc.Root().Child("start_date").Assign(int64(1))
	doc.Root().Child("end_date").Assign(int64(2))
	if doc.FieldCount() != 2 {
		t.Errorf("expected 2 fields after start/end date, got %d", doc.FieldCount())
	}
	doc.Root().Child("cpu").Child("load1").Assign(0.1)
	if doc.FieldCount() != 3 {
		t.Errorf("expected 3 fields after a probe writes, got %d", doc.FieldCount())
	}
}
