package immune

// sample is one tick of proximity counts.
type sample struct {
	close int
	far   int
}

// ProximityObserver keeps a sliding window of neighbour counts.
type ProximityObserver struct {
	Close  float64 // ranges below this are "close"
	Far    float64 // ranges in [Close, Far) are "far"
	Window int

	samples []sample
}

// NewProximityObserver creates an observer with the given thresholds and
// window length.
func NewProximityObserver(close, far float64, window int) *ProximityObserver {
	return &ProximityObserver{Close: close, Far: far, Window: window}
}

// Observe classifies the ranges heard this tick and pushes one sample,
// dropping the oldest once the window is full.
func (o *ProximityObserver) Observe(ranges []float64) {
	var s sample
	for _, r := range ranges {
		switch {
		case r < o.Close:
			s.close++
		case r < o.Far:
			s.far++
		}
	}
	o.samples = append(o.samples, s)
	if len(o.samples) > o.Window {
		o.samples = o.samples[len(o.samples)-o.Window:]
	}
}

// Len is the number of samples currently held.
func (o *ProximityObserver) Len() int { return len(o.samples) }

// Full reports whether the window holds Window samples.
func (o *ProximityObserver) Full() bool { return len(o.samples) >= o.Window }

// BFV sets bit 1 when at least half the samples saw a close neighbour and
// bit 2 likewise for far neighbours. An empty window yields 00.
func (o *ProximityObserver) BFV() FeatureVector {
	if len(o.samples) == 0 {
		return 0
	}
	var close, far int
	for _, s := range o.samples {
		if s.close > 0 {
			close++
		}
		if s.far > 0 {
			far++
		}
	}
	n := len(o.samples)
	return FromBits(2*close >= n, 2*far >= n)
}

// Reset empties the window.
func (o *ProximityObserver) Reset() { o.samples = nil }
