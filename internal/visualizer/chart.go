package visualizer

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"math"

	chart "github.com/wcharczuk/go-chart/v2"
)

// PrecedenceChart sits between the generic views and type-specific strategies: a
// numeric series is better drawn than listed, but the user can still switch.
const PrecedenceChart = 50

// Chart draws a numeric sequence as an inline SVG line chart.
type Chart struct {
	SampleSize int
	Width      int
	Height     int
}

func (c *Chart) Label() string   { return "chart" }
func (c *Chart) Precedence() int { return PrecedenceChart }

// Supports accepts sequences of at least two elements whose sampled head is numeric.
func (c *Chart) Supports(v any) bool {
	rv, ok := sequenceOf(v)
	if !ok || rv.Len() < 2 || isBytes(rv) {
		return false
	}
	for i := 0; i < sampleLen(rv, c.SampleSize); i++ {
		if _, ok := toFloat(elem(rv, i)); !ok {
			return false
		}
	}
	return true
}

func (c *Chart) Render(_ *RenderContext, v any) (template.HTML, error) {
	rv, _ := sequenceOf(v)
	xs := make([]float64, 0, rv.Len())
	ys := make([]float64, 0, rv.Len())
	minY, maxY := math.Inf(1), math.Inf(-1)
	for i := 0; i < rv.Len(); i++ {
		y, ok := toFloat(elem(rv, i))
		if !ok || math.IsNaN(y) || math.IsInf(y, 0) {
			continue
		}
		xs = append(xs, float64(i))
		ys = append(ys, y)
		minY = math.Min(minY, y)
		maxY = math.Max(maxY, y)
	}
	if len(ys) < 2 {
		return "", errors.New("chart needs at least two numeric points")
	}

	graph := chart.Chart{
		Width:  c.width(),
		Height: c.height(),
		Series: []chart.Series{
			chart.ContinuousSeries{Name: "value", XValues: xs, YValues: ys},
		},
	}
	if minY == maxY {
		// go-chart refuses a zero-height range.
		graph.YAxis = chart.YAxis{Range: &chart.ContinuousRange{Min: minY - 1, Max: maxY + 1}}
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.SVG, &buf); err != nil {
		return "", fmt.Errorf("draw chart: %w", err)
	}
	return execute("chart", struct {
		SVG      template.HTML
		Points   int
		Min, Max float64
	}{template.HTML(buf.String()), len(ys), minY, maxY})
}

func (c *Chart) width() int {
	if c.Width <= 0 {
		return 640
	}
	return c.Width
}

func (c *Chart) height() int {
	if c.Height <= 0 {
		return 320
	}
	return c.Height
}
