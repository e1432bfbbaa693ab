// Package scale bins aggregate counts into the ordered colour buckets of a
// choropleth legend.
package scale

// DefaultPalette is the 9-colour diverging legend, low to high.
var DefaultPalette = []string{
	"#4575b4", "#74add1", "#abd9e9", "#e0f3f8", "#ffffbf",
	"#fee090", "#fdae61", "#f46d43", "#d73027",
}

// NoDataColor marks a region with no aggregate row. It is never a palette
// entry.
const NoDataColor = "#c0c0c0"

const (
	DefaultFloor  = 1
	DefaultMargin = 100
)

type Options struct {
	Buckets int
	Floor   float64
	Margin  float64
	Palette []string
}

func (o Options) withDefaults() Options {
	if len(o.Palette) == 0 {
		o.Palette = DefaultPalette
	}
	if o.Buckets <= 0 {
		o.Buckets = len(o.Palette)
	}
	if o.Buckets < 2 {
		o.Buckets = 2
	}
	if o.Margin < 0 {
		o.Margin = 0
	}
	return o
}

// DefaultOptions is the reference legend: 9 buckets from 1 to max+100.
func DefaultOptions() Options {
	return Options{Floor: DefaultFloor, Margin: DefaultMargin}.withDefaults()
}

// Scale holds N strictly ascending thresholds. Bucket i covers
// [Thresholds[i], Thresholds[i+1]); the last bucket is open above and the
// first also takes anything below Thresholds[0].
type Scale struct {
	Thresholds []float64 `json:"thresholds"`
	Palette    []string  `json:"palette"`
}

// New spans [min(Floor, min(counts)), max(counts)+Margin] in equal steps.
// When the span is empty the step falls back to 1.
func New(counts []int, opts Options) Scale {
	opts = opts.withDefaults()

	lower := opts.Floor
	upper := 0.0
	for i, c := range counts {
		v := float64(c)
		if v < lower {
			lower = v
		}
		if i == 0 || v > upper {
			upper = v
		}
	}
	upper += opts.Margin

	n := opts.Buckets
	step := (upper - lower) / float64(n-1)
	if upper <= lower {
		step = 1
	}
	thresholds := make([]float64, n)
	for i := range thresholds {
		thresholds[i] = lower + step*float64(i)
	}
	if upper > lower {
		thresholds[n-1] = upper
	}

	palette := make([]string, n)
	for i := range palette {
		palette[i] = opts.Palette[i*len(opts.Palette)/n]
	}
	return Scale{Thresholds: thresholds, Palette: palette}
}

// Bucket returns the index of the bucket holding c, always in [0, N-1].
func (s Scale) Bucket(c int) int {
	v := float64(c)
	last := len(s.Thresholds) - 1
	for i := last; i > 0; i-- {
		if v >= s.Thresholds[i] {
			return i
		}
	}
	return 0
}

func (s Scale) Color(c int) string {
	if len(s.Palette) == 0 {
		return NoDataColor
	}
	return s.Palette[s.Bucket(c)]
}
