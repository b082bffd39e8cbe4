package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/dokzlo13/hueni/internal/rules"
)

// Stops lists the monitored stops in the order they appear in the file. That order is
// the order rules are discovered in, which matters for last-wins collation.
type Stops []StopConfig

// StopConfig maps the routes served at one stop to their rules.
type StopConfig struct {
	ID     string        `validate:"required"`
	Routes []RouteConfig `validate:"required,min=1,dive"`
}

// RouteConfig holds the rules for one route and direction at a stop.
type RouteConfig struct {
	ID        string       `yaml:"-" validate:"required"`
	Direction string       `yaml:"direction"`
	Rules     []rules.Rule `yaml:"rules" validate:"required,min=1,dive"`
}

// UnmarshalYAML decodes `stopId: {routeId: {direction, rules}}` keeping key order.
func (s *Stops) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: stops must be a mapping of stop id to routes", value.Line)
	}

	stops := make(Stops, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		key, body := value.Content[i], value.Content[i+1]
		if body.Kind != yaml.MappingNode {
			return fmt.Errorf("line %d: stop %q must be a mapping of route id to rules", body.Line, key.Value)
		}

		stop := StopConfig{ID: key.Value}
		for j := 0; j+1 < len(body.Content); j += 2 {
			routeKey, routeBody := body.Content[j], body.Content[j+1]

			var route RouteConfig
			if err := routeBody.Decode(&route); err != nil {
				return fmt.Errorf("stop %q route %q: %w", key.Value, routeKey.Value, err)
			}
			route.ID = routeKey.Value
			stop.Routes = append(stop.Routes, route)
		}
		stops = append(stops, stop)
	}

	*s = stops
	return nil
}
