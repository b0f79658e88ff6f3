package navigation

import (
	"errors"
	"testing"
)

func TestNewStack(t *testing.T) {
	root := map[string]any{"a": 1}
	s := New(root)

	if s.Depth() != 1 {
		t.Fatalf("expected depth 1, got %d", s.Depth())
	}
	if got, ok := s.Current().(map[string]any); !ok || got["a"] != 1 {
		t.Errorf("expected current to be root, got %#v", s.Current())
	}
	if s.Trail() != "" {
		t.Errorf("expected empty trail, got %q", s.Trail())
	}
	if len(s.Breadcrumbs()) != 0 {
		t.Errorf("expected no breadcrumbs, got %v", s.Breadcrumbs())
	}
}

func TestDescendThenAscendToRoot(t *testing.T) {
	root := []int{1, 2, 3}
	s := New(root)

	s.Descend("k", "W")
	if s.Current() != "W" {
		t.Fatalf("expected current W, got %v", s.Current())
	}
	if s.Trail() != "k;" {
		t.Errorf("expected trail %q, got %q", "k;", s.Trail())
	}

	if err := s.Ascend(0); err != nil {
		t.Fatalf("Ascend(0) failed: %v", err)
	}
	got, ok := s.Current().([]int)
	if !ok || &got[0] != &root[0] {
		t.Errorf("expected the original root slice back, got %#v", s.Current())
	}
	if s.Trail() != "" {
		t.Errorf("expected empty trail after ascending to root, got %q", s.Trail())
	}
}

func TestTrailAndTruncate(t *testing.T) {
	s := New("root")
	s.Descend("a", 1)
	s.Descend("b", 2)
	s.Descend("c", 3)

	if s.Trail() != "a;b;c;" {
		t.Fatalf("expected trail a;b;c;, got %q", s.Trail())
	}

	if err := s.Ascend(1); err != nil {
		t.Fatalf("Ascend(1) failed: %v", err)
	}
	if s.Trail() != "a;b;" {
		t.Errorf("expected trail a;b;, got %q", s.Trail())
	}
	if s.Current() != 2 {
		t.Errorf("expected current 2, got %v", s.Current())
	}
	if s.Depth() != 3 {
		t.Errorf("expected depth 3, got %d", s.Depth())
	}
}

func TestAscendOutOfBounds(t *testing.T) {
	s := New("root")
	s.Descend("a", 1)

	for _, idx := range []int{-1, 2, 10} {
		err := s.Ascend(idx)
		if err == nil {
			t.Fatalf("expected error for index %d", idx)
		}
		if !errors.Is(err, ErrOutOfBounds) {
			t.Errorf("expected ErrOutOfBounds, got %v", err)
		}
		var be *BoundsError
		if !errors.As(err, &be) || be.Index != idx || be.Depth != 2 {
			t.Errorf("unexpected bounds error: %#v", err)
		}
		if s.Depth() != 2 || s.Trail() != "a;" {
			t.Errorf("state changed after rejected ascend: depth=%d trail=%q", s.Depth(), s.Trail())
		}
	}
}

func TestAscendToCurrentIsNoop(t *testing.T) {
	s := New("root")
	s.Descend("a", 1)
	if err := s.Ascend(1); err != nil {
		t.Fatalf("Ascend to current index failed: %v", err)
	}
	if s.Current() != 1 || s.Trail() != "a;" {
		t.Errorf("unexpected state: current=%v trail=%q", s.Current(), s.Trail())
	}
}

func TestDescendAfterAscendDiscardsBranch(t *testing.T) {
	s := New("root")
	s.Descend("a", 1)
	s.Descend("b", 2)
	if err := s.Ascend(1); err != nil {
		t.Fatal(err)
	}
	s.Descend("x", 9)

	if s.Trail() != "a;x;" {
		t.Errorf("expected trail a;x;, got %q", s.Trail())
	}
	for _, f := range s.Frames() {
		if f.Label == "b" {
			t.Error("expected branch b to be discarded")
		}
	}
}

func TestReset(t *testing.T) {
	s := New("old")
	s.Descend("a", 1)
	s.Reset("new")

	if s.Depth() != 1 || s.Current() != "new" || s.Root() != "new" {
		t.Errorf("unexpected state after reset: depth=%d current=%v", s.Depth(), s.Current())
	}
}

func TestBreadcrumbs(t *testing.T) {
	s := New("root")
	s.Descend("a", 1)
	s.Descend("b", 2)

	crumbs := s.Breadcrumbs()
	want := []Crumb{{Index: 1, Label: "a"}, {Index: 2, Label: "b"}}
	if len(crumbs) != len(want) {
		t.Fatalf("expected %d crumbs, got %d", len(want), len(crumbs))
	}
	for i := range want {
		if crumbs[i] != want[i] {
			t.Errorf("crumb[%d]: got %#v want %#v", i, crumbs[i], want[i])
		}
	}
}

func TestFramesIsCopy(t *testing.T) {
	s := New("root")
	s.Descend("a", 1)
	frames := s.Frames()
	frames[1].Label = "mutated"
	if s.Trail() != "a;" {
		t.Errorf("Frames must return a copy, trail is now %q", s.Trail())
	}
}
