package visualizer

import (
	"fmt"
	"strconv"

	"github.com/zeitstein/REPLey/internal/download"
)

// DefaultOrder is the registration order of the built-in strategies. Among strategies
// of equal precedence the earlier one wins, so tables beat plain maps and sequences for
// record lists.
var DefaultOrder = []string{"exception", "file", "chart", "table", "map", "sequence", "scalar"}

// StrategyOptions toggles one built-in strategy and carries its specific options.
type StrategyOptions struct {
	Enabled bool
	Options map[string]any
}

// Options configures RegisterDefaults.
type Options struct {
	// SampleSize bounds structural predicates. Zero means DefaultSampleSize.
	SampleSize int
	// PreviewLen bounds inline previews. Zero means DefaultPreviewLen.
	PreviewLen int
	// Strategies is keyed by label. Strategies missing from the map are enabled.
	Strategies map[string]StrategyOptions
	// Downloads backs the file strategy. Without it the file strategy is left out.
	Downloads *download.Store
	// OnDownload observes completed downloads.
	OnDownload download.ServeFunc
}

// RegisterDefaults builds the enabled built-in strategies in DefaultOrder. Hosts append
// or interleave their own strategies before handing the slice to NewRegistry.
func RegisterDefaults(opts Options) []Visualizer {
	sample := opts.SampleSize
	if sample <= 0 {
		sample = DefaultSampleSize
	}
	preview := opts.PreviewLen
	if preview <= 0 {
		preview = DefaultPreviewLen
	}

	out := make([]Visualizer, 0, len(DefaultOrder))
	for _, name := range DefaultOrder {
		so, configured := opts.Strategies[name]
		if configured && !so.Enabled {
			continue
		}
		switch name {
		case "exception":
			out = append(out, &Exception{PreviewLen: preview})
		case "file":
			if opts.Downloads == nil {
				continue
			}
			out = append(out, NewFile(opts.Downloads, opts.OnDownload))
		case "chart":
			out = append(out, &Chart{
				SampleSize: sample,
				Width:      intOption(so.Options, "width", 640),
				Height:     intOption(so.Options, "height", 320),
			})
		case "table":
			out = append(out, &Table{
				SampleSize: sample,
				PreviewLen: preview,
				PageSize:   intOption(so.Options, "page_size", 500),
			})
		case "map":
			out = append(out, &Map{PreviewLen: preview})
		case "sequence":
			out = append(out, &Sequence{
				PreviewLen: preview,
				MaxItems:   intOption(so.Options, "max_items", 1000),
			})
		case "scalar":
			out = append(out, Scalar{})
		}
	}
	return out
}

func intOption(opts map[string]any, key string, fallback int) int {
	raw, ok := opts[key]
	if !ok {
		return fallback
	}
	switch v := raw.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// Known reports whether name is a built-in strategy label.
func Known(name string) bool {
	for _, n := range DefaultOrder {
		if n == name {
			return true
		}
	}
	return false
}

// ValidateStrategies rejects configuration for labels that are not built in.
func ValidateStrategies(names []string) error {
	for _, n := range names {
		if !Known(n) {
			return fmt.Errorf("unknown visualizer %q", n)
		}
	}
	return nil
}
