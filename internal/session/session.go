package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zeitstein/REPLey/internal/navigation"
)

var (
	// ErrNotFound is returned for unknown session ids.
	ErrNotFound = errors.New("session not found")
	// ErrSuperseded is returned when a result identity no longer names the session's
	// current result.
	ErrSuperseded = errors.New("result superseded")
	// ErrStaleTargets is returned when a click refers to targets of an older render.
	ErrStaleTargets = errors.New("targets belong to an older render")
	// ErrUnknownTarget is returned for target indices the last render never produced.
	ErrUnknownTarget = errors.New("unknown target")
)

// Result is one evaluated value together with the navigation state over it.
type Result struct {
	ID        string
	Expr      string
	Lang      string
	Value     any
	Stack     *navigation.Stack
	CreatedAt time.Time
}

// NewResult mints a fresh identity for value and roots a navigation stack at it.
func NewResult(expr, lang string, value any) *Result {
	return &Result{
		ID:        uuid.NewString(),
		Expr:      expr,
		Lang:      lang,
		Value:     value,
		Stack:     navigation.New(value),
		CreatedAt: time.Now(),
	}
}

// Info is the public metadata of a session.
type Info struct {
	ID         string    `json:"id"`
	ResultID   string    `json:"result_id,omitempty"`
	Lang       string    `json:"lang,omitempty"`
	Depth      int       `json:"depth"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

// Session holds the current result of one browser (or tool client) and the click
// targets of its last render. Methods are not synchronized; callers reach a session
// through Manager.With.
type Session struct {
	id         string
	createdAt  time.Time
	lastActive time.Time

	result     *Result
	targets    []navigation.Frame
	generation int
	choice     string
}

func (s *Session) ID() string { return s.id }

func (s *Session) Info() Info {
	info := Info{ID: s.id, CreatedAt: s.createdAt, LastActive: s.lastActive}
	if s.result != nil {
		info.ResultID = s.result.ID
		info.Lang = s.result.Lang
		info.Depth = s.result.Stack.Depth()
	}
	return info
}

// Current returns the session's result, or nil before the first evaluation.
func (s *Session) Current() *Result { return s.result }

// Replace makes r the current result. The previous identity becomes superseded and any
// outstanding click targets are invalidated.
func (s *Session) Replace(r *Result) {
	s.result = r
	s.invalidate()
}

// Result resolves rid against the current result.
func (s *Session) Result(rid string) (*Result, error) {
	if s.result == nil || s.result.ID != rid {
		return nil, fmt.Errorf("%w: %s", ErrSuperseded, rid)
	}
	return s.result, nil
}

// Generation identifies the targets currently registered.
func (s *Session) Generation() int { return s.generation }

// NextGeneration is the generation a render in progress should embed in its links.
func (s *Session) NextGeneration() int { return s.generation + 1 }

// SetTargets records the click targets produced by a render of generation gen.
func (s *Session) SetTargets(gen int, targets []navigation.Frame) {
	s.generation = gen
	s.targets = targets
}

// Targets returns a copy of the registered click targets.
func (s *Session) Targets() []navigation.Frame {
	out := make([]navigation.Frame, len(s.targets))
	copy(out, s.targets)
	return out
}

// Descend pushes target t of render gen onto the stack of result rid.
func (s *Session) Descend(rid string, gen, t int) (navigation.Frame, error) {
	r, err := s.Result(rid)
	if err != nil {
		return navigation.Frame{}, err
	}
	if gen != s.generation {
		return navigation.Frame{}, fmt.Errorf("%w: have %d, got %d", ErrStaleTargets, s.generation, gen)
	}
	if t < 0 || t >= len(s.targets) {
		return navigation.Frame{}, fmt.Errorf("%w: %d", ErrUnknownTarget, t)
	}
	frame := s.targets[t]
	r.Stack.Descend(frame.Label, frame.Value)
	s.invalidate()
	return frame, nil
}

// Ascend truncates the stack of result rid to index.
func (s *Session) Ascend(rid string, index int) error {
	r, err := s.Result(rid)
	if err != nil {
		return err
	}
	if err := r.Stack.Ascend(index); err != nil {
		return err
	}
	s.invalidate()
	return nil
}

// Choose pins a visualizer label for the current value. An empty label restores
// automatic selection.
func (s *Session) Choose(label string) { s.choice = label }

// Choice returns the pinned visualizer label, if any.
func (s *Session) Choice() string { return s.choice }

// invalidate drops targets and pinned choice whenever the current value changes.
func (s *Session) invalidate() {
	s.targets = nil
	s.generation++
	s.choice = ""
}
