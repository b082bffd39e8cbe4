// Package light holds the partial light state used by rules and the natural-state
// baseline captured before any rule touches a light.
package light

// State is a partial light state. Nil fields carry no opinion.
type State struct {
	On             *bool     `yaml:"on,omitempty" json:"on,omitempty"`
	Bri            *uint8    `yaml:"bri,omitempty" json:"bri,omitempty" validate:"omitempty,min=1,max=254"`
	Xy             []float32 `yaml:"xy,omitempty" json:"xy,omitempty" validate:"omitempty,len=2,dive,gte=0,lte=1"`
	Hue            *uint16   `yaml:"hue,omitempty" json:"hue,omitempty"`
	Sat            *uint8    `yaml:"sat,omitempty" json:"sat,omitempty" validate:"omitempty,max=254"`
	Ct             *uint16   `yaml:"ct,omitempty" json:"ct,omitempty" validate:"omitempty,min=153,max=500"`
	TransitionTime *uint16   `yaml:"transitiontime,omitempty" json:"transitiontime,omitempty"`
}

// Light is a bridge light with its current state.
type Light struct {
	ID    string
	Name  string
	State State
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// Core returns only the attributes that make up a light's natural state: xy, on and bri.
func (s State) Core() State {
	core := State{}
	if s.On != nil {
		core.On = Ptr(*s.On)
	}
	if s.Bri != nil {
		core.Bri = Ptr(*s.Bri)
	}
	if s.Xy != nil {
		core.Xy = append([]float32(nil), s.Xy...)
	}
	return core
}

// Clone returns a deep copy.
func (s State) Clone() State {
	c := s.Core()
	if s.Hue != nil {
		c.Hue = Ptr(*s.Hue)
	}
	if s.Sat != nil {
		c.Sat = Ptr(*s.Sat)
	}
	if s.Ct != nil {
		c.Ct = Ptr(*s.Ct)
	}
	if s.TransitionTime != nil {
		c.TransitionTime = Ptr(*s.TransitionTime)
	}
	return c
}

// CoreEqual compares the core attributes of two states.
func (s State) CoreEqual(o State) bool {
	if !boolEqual(s.On, o.On) {
		return false
	}
	if !uint8Equal(s.Bri, o.Bri) {
		return false
	}
	return xyEqual(s.Xy, o.Xy)
}

func boolEqual(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func uint8Equal(a, b *uint8) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// xyEqual compares two XY coordinate slices.
func xyEqual(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		// The bridge rounds coordinates to 4 decimals
		if abs32(a[i]-b[i]) > 0.001 {
			return false
		}
	}
	return true
}

func abs32(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}
