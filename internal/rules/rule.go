// Package rules matches departure offsets against configured time windows and collates
// the light states of all triggered rules into one target state per light.
package rules

import (
	"github.com/dokzlo13/hueni/internal/light"
)

// Rule lights up a set of lights while a departure offset t satisfies End < t <= Start.
// Start is the upper bound and End the lower bound.
type Rule struct {
	Start  int                    `yaml:"start"`
	End    int                    `yaml:"end"`
	Lights map[string]light.State `yaml:"lights" validate:"required,min=1,dive"`
}

// Triggers reports whether departure offset t falls in the rule window.
func (r Rule) Triggers(t int) bool {
	return t <= r.Start && t > r.End
}

// Degenerate reports whether the window is empty and can never trigger.
func (r Rule) Degenerate() bool {
	return r.Start <= r.End
}

// Evaluate returns every rule triggered by any of the offsets. Offsets are the outer
// loop and rules the inner one, so a rule matched by two offsets appears twice.
func Evaluate(offsets []int, rules []Rule) []Rule {
	var triggered []Rule
	for _, t := range offsets {
		for _, r := range rules {
			if r.Triggers(t) {
				triggered = append(triggered, r)
			}
		}
	}
	return triggered
}

// Targets returns the ids of all lights named by the triggered rules.
func Targets(triggered []Rule) map[string]struct{} {
	ids := make(map[string]struct{})
	for _, r := range triggered {
		for id := range r.Lights {
			ids[id] = struct{}{}
		}
	}
	return ids
}
