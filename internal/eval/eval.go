// Package eval turns the text typed into the inspector into Go values.
//
// An expression may start with a language prefix such as "toml:" or "range:". Without
// one it is read as YAML, which also accepts JSON.
package eval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/zeitstein/REPLey/internal/download"
	"github.com/zeitstein/REPLey/internal/mangle"
	"github.com/zeitstein/REPLey/internal/session"
)

// DefaultLang is used when an expression carries no known prefix.
const DefaultLang = "yaml"

// MaxRange bounds the length of range: sequences.
const MaxRange = 1_000_000

var (
	// ErrNoEngine is returned for query: expressions when no engine is wired.
	ErrNoEngine = errors.New("query language unavailable: no engine")
	// ErrOutsideRoots is returned for file: paths outside the configured roots.
	ErrOutsideRoots = errors.New("path outside allowed roots")
)

// Querier answers query: expressions.
type Querier interface {
	Query(ctx context.Context, q string) ([]mangle.QueryResult, error)
}

// Options configures an Evaluator.
type Options struct {
	// Query backs the query: language. Optional.
	Query Querier
	// Roots restricts file: paths. Empty allows any readable file.
	Roots []string
}

type langFunc func(ctx context.Context, body string) (any, error)

// Evaluator parses expressions in any of its languages.
type Evaluator struct {
	query Querier
	roots []string
	langs map[string]langFunc
}

var prefixPattern = regexp.MustCompile(`^\s*([a-z]+):`)

// New builds an evaluator with every built-in language.
func New(opts Options) *Evaluator {
	e := &Evaluator{query: opts.Query}
	for _, r := range opts.Roots {
		abs, err := filepath.Abs(r)
		if err != nil {
			continue
		}
		if resolved, err := filepath.EvalSymlinks(abs); err == nil {
			abs = resolved
		}
		e.roots = append(e.roots, abs)
	}
	e.langs = map[string]langFunc{
		"yaml":  evalYAML,
		"toml":  evalTOML,
		"query": e.evalQuery,
		"file":  e.evalFile,
		"error": evalError,
		"range": evalRange,
	}
	return e
}

// Languages lists the accepted prefixes in sorted order.
func (e *Evaluator) Languages() []string {
	out := make([]string, 0, len(e.langs))
	for name := range e.langs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Split separates a known language prefix from the body. Unknown prefixes are left in
// the body so plain YAML such as "name: x" is not mistaken for a language.
func (e *Evaluator) Split(src string) (lang, body string) {
	m := prefixPattern.FindStringSubmatchIndex(src)
	if m != nil {
		name := src[m[2]:m[3]]
		if _, ok := e.langs[name]; ok {
			return name, strings.TrimSpace(src[m[1]:])
		}
	}
	return DefaultLang, src
}

// Evaluate parses src and wraps the value in a result with a fresh identity.
func (e *Evaluator) Evaluate(ctx context.Context, src string) (*session.Result, error) {
	lang, body := e.Split(src)
	v, err := e.Value(ctx, lang, body)
	if err != nil {
		return nil, err
	}
	return session.NewResult(src, lang, v), nil
}

// Value parses body in lang.
func (e *Evaluator) Value(ctx context.Context, lang, body string) (any, error) {
	fn, ok := e.langs[lang]
	if !ok {
		return nil, fmt.Errorf("unknown language %q", lang)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, err := fn(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", lang, err)
	}
	return v, nil
}

func evalYAML(_ context.Context, body string) (any, error) {
	var v any
	if err := yaml.Unmarshal([]byte(body), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func evalTOML(_ context.Context, body string) (any, error) {
	var v map[string]any
	if err := toml.Unmarshal([]byte(body), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (e *Evaluator) evalQuery(ctx context.Context, body string) (any, error) {
	if e.query == nil {
		return nil, ErrNoEngine
	}
	results, err := e.query.Query(ctx, body)
	if err != nil {
		return nil, err
	}
	rows := make([]any, len(results))
	for i, r := range results {
		rows[i] = map[string]any(r)
	}
	return rows, nil
}

func (e *Evaluator) evalFile(_ context.Context, body string) (any, error) {
	f, err := download.NewFile(strings.TrimSpace(body))
	if err != nil {
		return nil, err
	}
	if len(e.roots) > 0 {
		// check and serve the link target, not the link
		resolved, err := filepath.EvalSymlinks(f.Path())
		if err != nil {
			return nil, err
		}
		if !e.allowed(resolved) {
			return nil, fmt.Errorf("%w: %s", ErrOutsideRoots, f.Path())
		}
		if f, err = download.NewFile(resolved); err != nil {
			return nil, err
		}
	}
	info, err := os.Stat(f.Path())
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", f.Path())
	}
	return f, nil
}

// allowed reports whether path, with symlinks already resolved, lies under a root.
func (e *Evaluator) allowed(path string) bool {
	for _, root := range e.roots {
		rel, err := filepath.Rel(root, path)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Failure is one link of an error chain built by the error: language.
type Failure struct {
	Message string
	Cause   error
}

func (f *Failure) Error() string { return f.Message }
func (f *Failure) Unwrap() error { return f.Cause }

// evalError builds "a <- b <- c" into a where a is caused by b, caused by c.
func evalError(_ context.Context, body string) (any, error) {
	parts := strings.Split(body, "<-")
	var err error
	for i := len(parts) - 1; i >= 0; i-- {
		msg := strings.TrimSpace(parts[i])
		if msg == "" {
			return nil, errors.New("empty message in error chain")
		}
		err = &Failure{Message: msg, Cause: err}
	}
	return err, nil
}

// evalRange accepts "n" for 0..n-1 and "a..b" for a through b inclusive.
func evalRange(_ context.Context, body string) (any, error) {
	body = strings.TrimSpace(body)
	var (
		lo    int
		count uint64
	)
	if a, b, ok := strings.Cut(body, ".."); ok {
		var (
			last int
			err  error
		)
		if lo, err = strconv.Atoi(strings.TrimSpace(a)); err != nil {
			return nil, fmt.Errorf("range start: %w", err)
		}
		if last, err = strconv.Atoi(strings.TrimSpace(b)); err != nil {
			return nil, fmt.Errorf("range end: %w", err)
		}
		if last < lo {
			return nil, fmt.Errorf("empty range %s", body)
		}
		// exact for any lo <= last, even when last-lo overflows int
		count = uint64(last) - uint64(lo) + 1
		if count == 0 {
			count = math.MaxUint64
		}
	} else {
		n, err := strconv.Atoi(body)
		if err != nil {
			return nil, fmt.Errorf("range length: %w", err)
		}
		if n < 0 {
			return nil, fmt.Errorf("negative range length %d", n)
		}
		count = uint64(n)
	}
	if count > MaxRange {
		return nil, fmt.Errorf("range of %s elements exceeds %d", strconv.FormatUint(count, 10), MaxRange)
	}
	out := make([]int, 0, count)
	for k := 0; k < int(count); k++ {
		out = append(out, lo+k)
	}
	return out, nil
}
