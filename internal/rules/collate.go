package rules

import (
	"fmt"

	"github.com/dokzlo13/hueni/internal/light"
)

// MergeMode decides how several triggered rules targeting one light are combined.
type MergeMode int

const (
	// LastWins applies the state of the last discovered rule verbatim.
	LastWins MergeMode = iota
	// Average takes the mean of every numeric attribute across all rules.
	Average
)

// String returns the config spelling of the mode.
func (m MergeMode) String() string {
	switch m {
	case LastWins:
		return "last_wins"
	case Average:
		return "average"
	default:
		return fmt.Sprintf("MergeMode(%d)", int(m))
	}
}

// Collate groups the light states of the triggered rules per light, in discovery
// order, and resolves each group to a single state.
func Collate(triggered []Rule, mode MergeMode) map[string]light.State {
	perLight := make(map[string][]light.State)
	for _, r := range triggered {
		for id, st := range r.Lights {
			perLight[id] = append(perLight[id], st)
		}
	}

	collated := make(map[string]light.State, len(perLight))
	for id, states := range perLight {
		switch mode {
		case Average:
			collated[id] = average(states)
		default:
			collated[id] = states[len(states)-1].Clone()
		}
	}
	return collated
}

// mean accumulates one integer attribute.
type mean struct {
	sum   int
	count int
}

func (m *mean) add(v int) {
	m.sum += v
	m.count++
}

func (m *mean) value() int {
	return m.sum / m.count
}

// average merges states attribute by attribute. Each attribute is averaged over the
// states that set it, so the result is the union of all attributes present.
// Power is not averaged: any rule asking for on wins.
func average(states []light.State) light.State {
	var (
		on                    *bool
		bri, hue, sat, ct, tt mean
		xSum, ySum            float64
		xyCount               int
	)

	for _, st := range states {
		if st.On != nil {
			on = light.Ptr((on != nil && *on) || *st.On)
		}
		if st.Bri != nil {
			bri.add(int(*st.Bri))
		}
		if st.Hue != nil {
			hue.add(int(*st.Hue))
		}
		if st.Sat != nil {
			sat.add(int(*st.Sat))
		}
		if st.Ct != nil {
			ct.add(int(*st.Ct))
		}
		if st.TransitionTime != nil {
			tt.add(int(*st.TransitionTime))
		}
		if len(st.Xy) == 2 {
			xSum += float64(st.Xy[0])
			ySum += float64(st.Xy[1])
			xyCount++
		}
	}

	merged := light.State{On: on}
	if bri.count > 0 {
		merged.Bri = light.Ptr(uint8(bri.value()))
	}
	if hue.count > 0 {
		merged.Hue = light.Ptr(uint16(hue.value()))
	}
	if sat.count > 0 {
		merged.Sat = light.Ptr(uint8(sat.value()))
	}
	if ct.count > 0 {
		merged.Ct = light.Ptr(uint16(ct.value()))
	}
	if tt.count > 0 {
		merged.TransitionTime = light.Ptr(uint16(tt.value()))
	}
	if xyCount > 0 {
		merged.Xy = []float32{
			float32(xSum / float64(xyCount)),
			float32(ySum / float64(xyCount)),
		}
	}
	return merged
}
