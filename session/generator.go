package session

import (
	"math/rand/v2"

	"github.com/XC-/cgms/record"
)

// Simulated glucose range in mg/dL, half-open.
const (
	minGlucose = 70
	maxGlucose = 100
)

// A Generator synthesizes glucose readings for a simulated sensor.
type Generator struct {
	rnd   *rand.Rand
	prev  uint16
	trend int16
	have  bool
}

// NewGenerator returns a generator seeded with seed.
func NewGenerator(seed uint64) *Generator {
	return &Generator{rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Reset forgets the previous reading so the next trend starts at zero.
func (g *Generator) Reset() {
	g.prev, g.trend, g.have = 0, 0, false
}

// Next returns a new measurement at st.TimeOffset. Result status bits
// in st are updated for the new reading before the annunciation is
// copied into the measurement.
func (g *Generator) Next(st *State) *record.Measurement {
	glucose := uint16(minGlucose + g.rnd.IntN(maxGlucose-minGlucose))
	if g.have {
		// Two-point running average of the per-reading change.
		g.trend = (g.trend + int16(glucose) - int16(g.prev)) / 2
	}
	g.prev, g.have = glucose, true

	m := &record.Measurement{
		Seq:        record.NextSeq(),
		Glucose:    glucose,
		TimeOffset: st.TimeOffset,
	}
	if st.Features.Has(FeatureTrend) {
		m.Flags |= record.FlagTrend
		m.Trend = g.trend
	}
	if st.Features.Has(FeatureQuality) {
		m.Flags |= record.FlagQuality
		m.Quality = 100
	}
	evaluate(st, glucose, g.trend)
	m.SetAnnunciation(st.Status.Octets())
	return m
}

// evaluate sets the result status bits of st for a reading.
func evaluate(st *State, glucose uint16, trend int16) {
	set := func(a Alert, bit Status, cond bool) {
		if !st.Features.Has(a.Feature()) {
			return
		}
		if cond {
			st.Status |= bit
		} else {
			st.Status &^= bit
		}
	}
	set(AlertPatientLow, StatusBelowPatientLow, glucose < st.Level(AlertPatientLow))
	set(AlertPatientHigh, StatusAbovePatientHigh, glucose > st.Level(AlertPatientHigh))
	set(AlertHypo, StatusBelowHypo, glucose < st.Level(AlertHypo))
	set(AlertHyper, StatusAboveHyper, glucose > st.Level(AlertHyper))
	set(AlertRateDecrease, StatusRateDecreaseAlert, int(-trend) > int(st.Level(AlertRateDecrease)))
	set(AlertRateIncrease, StatusRateIncreaseAlert, int(trend) > int(st.Level(AlertRateIncrease)))
}
