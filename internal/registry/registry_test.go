package registry

import (
	"context"
	"testing"

	"github.com/sitterd/sitterd/internal/docvalue"
	"github.com/sitterd/sitterd/internal/hostservices"
	"github.com/sitterd/sitterd/internal/probe"
)

type stubProbe struct {
	name string
	deps []string
}

func (s stubProbe) Name() string           { return s.name }
func (s stubProbe) Dependencies() []string { return s.deps }
func (s stubProbe) OnTick(context.Context, docvalue.Ref, *hostservices.Services) error {
	return nil
}

func TestLoadOrdersByDependency(t *testing.T) {
	probes := []probe.Probe{
		stubProbe{name: "disk"},
		stubProbe{name: "reboot", deps: []string{"apt", "disk"}},
		stubProbe{name: "apt", deps: []string{"disk"}},
	}

	r, err := Load(probes, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pos := make(map[string]int)
	for i, p := range r.Ordered() {
		pos[p.Name()] = i
	}

	if pos["disk"] > pos["apt"] {
		t.Errorf("expected disk before apt, got disk=%d apt=%d", pos["disk"], pos["apt"])
	}
	if pos["apt"] > pos["reboot"] {
		t.Errorf("expected apt before reboot, got apt=%d reboot=%d", pos["apt"], pos["reboot"])
	}
}

func TestLoadDetectsCycle(t *testing.T) {
	probes := []probe.Probe{
		stubProbe{name: "a", deps: []string{"b"}},
		stubProbe{name: "b", deps: []string{"a"}},
	}

	if _, err := Load(probes, nil); err == nil {
		t.Fatal("expected cycle error, got nil")
	}
}

func TestLoadRejectsDuplicateName(t *testing.T) {
	probes := []probe.Probe{
		stubProbe{name: "disk"},
		stubProbe{name: "disk"},
	}

	if _, err := Load(probes, nil); err == nil {
		t.Fatal("expected duplicate-name error, got nil")
	}
}

func TestLoadSelectsNamedSubsetAndPullsDependencies(t *testing.T) {
	probes := []probe.Probe{
		stubProbe{name: "disk"},
		stubProbe{name: "apt", deps: []string{"disk"}},
		stubProbe{name: "reboot", deps: []string{"apt"}},
	}

	r, err := Load(probes, []string{"reboot"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Len() != 3 {
		t.Fatalf("expected dependency pull-in to yield 3 probes, got %d", r.Len())
	}
	if !r.Has("disk") || !r.Has("apt") {
		t.Error("expected transitively-depended probes to be present")
	}
}

func TestLoadRejectsUnknownName(t *testing.T) {
	probes := []probe.Probe{stubProbe{name: "disk"}}

	if _, err := Load(probes, []string{"nope"}); err == nil {
		t.Fatal("expected error for unknown probe name")
	}
}
