package recorder

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultMaxFiles is how many traces are kept when the caller does not say.
	DefaultMaxFiles = 10
	// DefaultDir is where traces land when no directory is configured.
	DefaultDir = "traces"
)

// Event kinds written by the inspector.
const (
	KindEvaluate = "evaluate"
	KindRender   = "render"
	KindNavigate = "navigate"
	KindDownload = "download"
	KindFault    = "fault"
)

// Event is one line of a trace file.
type Event struct {
	Seq       int64       `json:"seq"`
	Timestamp time.Time   `json:"ts"`
	Kind      string      `json:"kind"`
	SessionID string      `json:"session_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// Recorder writes inspector activity to a rotating set of JSONL traces. A nil
// *Recorder is valid and records nothing.
type Recorder struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	encoder  *json.Encoder
	dir      string
	maxFiles int
	seq      int64
	path     string
	started  int
}

// NewRecorder creates dir if needed. maxFiles <= 0 means DefaultMaxFiles.
func NewRecorder(dir string, maxFiles int) (*Recorder, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if maxFiles <= 0 {
		maxFiles = DefaultMaxFiles
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}
	return &Recorder{dir: dir, maxFiles: maxFiles}, nil
}

// Start opens a new trace labelled label, closing the previous one and pruning old
// traces so at most maxFiles remain.
func (r *Recorder) Start(label string) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.closeLocked(); err != nil {
		return err
	}
	if err := r.prune(r.maxFiles - 1); err != nil {
		return fmt.Errorf("rotate traces: %w", err)
	}

	r.started++
	stamp := time.Now().UTC().Format("20060102T150405.000000000")
	name := fmt.Sprintf("trace_%s-%04d_%s.jsonl", stamp, r.started, sanitize(label))
	path := filepath.Join(r.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	r.file = f
	r.writer = bufio.NewWriter(f)
	r.encoder = json.NewEncoder(r.writer)
	r.seq = 0
	r.path = path
	return nil
}

// Log appends an event to the current trace. It is a no-op before Start.
func (r *Recorder) Log(kind, sessionID string, data interface{}) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.encoder == nil {
		return
	}
	r.seq++
	_ = r.encoder.Encode(Event{
		Seq:       r.seq,
		Timestamp: time.Now(),
		Kind:      kind,
		SessionID: sessionID,
		Data:      data,
	})
	_ = r.writer.Flush()
}

// Path returns the file of the current trace, or "" when none is open.
func (r *Recorder) Path() string {
	if r == nil {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

// Close finishes the current trace.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked()
}

func (r *Recorder) closeLocked() error {
	if r.file == nil {
		return nil
	}
	flushErr := r.writer.Flush()
	err := r.file.Close()
	r.file, r.writer, r.encoder, r.path = nil, nil, nil, ""
	if flushErr != nil {
		return flushErr
	}
	return err
}

// prune deletes all but the newest keep traces. Names sort chronologically.
func (r *Recorder) prune(keep int) error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return err
	}
	var traces []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "trace_") || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		traces = append(traces, e.Name())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(traces)))

	if keep < 0 {
		keep = 0
	}
	for i := keep; i < len(traces); i++ {
		_ = os.Remove(filepath.Join(r.dir, traces[i]))
	}
	return nil
}

// ReadTrace decodes every event of a trace file.
func ReadTrace(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []Event
	dec := json.NewDecoder(f)
	for dec.More() {
		var evt Event
		if err := dec.Decode(&evt); err != nil {
			return events, fmt.Errorf("decode event %d: %w", len(events)+1, err)
		}
		events = append(events, evt)
	}
	return events, nil
}

func sanitize(label string) string {
	if label == "" {
		return "session"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		}
		return '_'
	}, label)
}
