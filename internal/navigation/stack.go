// Package navigation tracks the drill-down path a user takes into one evaluated value.
package navigation

import (
	"errors"
	"fmt"
	"strings"
)

// TrailSeparator terminates every label in a rendered trail ("a;b;c;").
const TrailSeparator = ";"

// ErrOutOfBounds is returned when an ascend target does not exist on the stack.
var ErrOutOfBounds = errors.New("navigation: index out of bounds")

// BoundsError reports a rejected ascend. The stack is left unchanged.
type BoundsError struct {
	Index int
	Depth int
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("navigation: cannot ascend to %d (depth %d)", e.Index, e.Depth)
}

func (e *BoundsError) Unwrap() error { return ErrOutOfBounds }

// Frame is one step of a drill-down path.
type Frame struct {
	Label string `json:"label"`
	Value any    `json:"-"`
}

// Crumb is the display form of a non-root frame.
type Crumb struct {
	Index int    `json:"index"`
	Label string `json:"label"`
}

// Stack is the append/truncate path from a root value down to the value currently shown.
//
// A Stack is owned by exactly one result and is not safe for concurrent use; callers
// serialize access at the session boundary.
type Stack struct {
	frames []Frame
}

// New returns a stack at depth 1 holding root.
func New(root any) *Stack {
	return &Stack{frames: []Frame{{Value: root}}}
}

// Descend pushes a frame reached from the current value.
func (s *Stack) Descend(label string, value any) {
	s.frames = append(s.frames, Frame{Label: label, Value: value})
}

// Ascend truncates the stack so that frame toIndex becomes current.
func (s *Stack) Ascend(toIndex int) error {
	if toIndex < 0 || toIndex >= len(s.frames) {
		return &BoundsError{Index: toIndex, Depth: len(s.frames)}
	}
	// Clear dropped frames so abandoned branches can be collected.
	for i := toIndex + 1; i < len(s.frames); i++ {
		s.frames[i] = Frame{}
	}
	s.frames = s.frames[:toIndex+1]
	return nil
}

// Reset discards every frame and roots the stack at a new value.
func (s *Stack) Reset(root any) {
	s.frames = []Frame{{Value: root}}
}

// Depth returns the number of frames, root included.
func (s *Stack) Depth() int { return len(s.frames) }

// Root returns the value the stack was rooted at.
func (s *Stack) Root() any { return s.frames[0].Value }

// Current returns the value of the deepest frame.
func (s *Stack) Current() any { return s.frames[len(s.frames)-1].Value }

// Frames returns a copy of the frames, root first.
func (s *Stack) Frames() []Frame {
	out := make([]Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

// Breadcrumbs lists the frames below the root; the root has no label.
func (s *Stack) Breadcrumbs() []Crumb {
	crumbs := make([]Crumb, 0, len(s.frames)-1)
	for i := 1; i < len(s.frames); i++ {
		crumbs = append(crumbs, Crumb{Index: i, Label: s.frames[i].Label})
	}
	return crumbs
}

// Trail concatenates breadcrumb labels, each terminated by TrailSeparator.
func (s *Stack) Trail() string {
	var b strings.Builder
	for i := 1; i < len(s.frames); i++ {
		b.WriteString(s.frames[i].Label)
		b.WriteString(TrailSeparator)
	}
	return b.String()
}
