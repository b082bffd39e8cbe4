package hue

import (
	"github.com/amimof/huego"

	"github.com/dokzlo13/hueni/internal/light"
)

// fromHuego converts a full bridge state into a light state with every attribute set.
func fromHuego(s *huego.State) light.State {
	if s == nil {
		return light.State{}
	}

	st := light.State{
		On:  light.Ptr(s.On),
		Bri: light.Ptr(s.Bri),
		Hue: light.Ptr(s.Hue),
		Sat: light.Ptr(s.Sat),
		Ct:  light.Ptr(s.Ct),
	}
	if len(s.Xy) == 2 {
		st.Xy = append([]float32(nil), s.Xy...)
	}
	return st
}

// stateBody builds the bridge request for a partial state. Only set attributes are
// sent, zero values included. Power is always sent and defaults to on.
func stateBody(s light.State) map[string]any {
	body := map[string]any{"on": true}

	if s.On != nil {
		body["on"] = *s.On
	}
	if s.Bri != nil {
		body["bri"] = *s.Bri
	}
	if s.Hue != nil {
		body["hue"] = *s.Hue
	}
	if s.Sat != nil {
		body["sat"] = *s.Sat
	}
	if s.Xy != nil {
		body["xy"] = append([]float32(nil), s.Xy...)
	}
	if s.Ct != nil {
		body["ct"] = *s.Ct
	}
	if s.TransitionTime != nil {
		body["transitiontime"] = *s.TransitionTime
	}

	return body
}
