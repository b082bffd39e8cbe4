package reconcile

import (
	"errors"
	"fmt"

	"github.com/dokzlo13/hueni/internal/config"
	"github.com/dokzlo13/hueni/internal/rules"
	"github.com/dokzlo13/hueni/internal/transit"
)

var (
	// ErrUnknownRoute is returned when a configured route is not served by the agency.
	ErrUnknownRoute = errors.New("unknown route")
	// ErrUnknownDirection is returned when a configured direction is not one of the route's.
	ErrUnknownDirection = errors.New("unknown direction")
)

// Monitor is one configured (stop, route, direction) with its rules, bound to the
// route record fetched from the transit service.
type Monitor struct {
	StopID    string
	Route     transit.Route
	Direction string
	Rules     []rules.Rule
}

// ResolveMonitors binds every configured route to a fetched route. The result keeps the
// configuration order. Any route id the service does not know is fatal.
func ResolveMonitors(stops config.Stops, routes []transit.Route) ([]Monitor, error) {
	byCode := make(map[string]transit.Route, len(routes))
	for _, r := range routes {
		byCode[r.Code] = r
	}

	var monitors []Monitor
	for _, stop := range stops {
		for _, rc := range stop.Routes {
			route, ok := byCode[rc.ID]
			if !ok {
				return nil, fmt.Errorf("%w: route %q at stop %q", ErrUnknownRoute, rc.ID, stop.ID)
			}
			if len(route.Directions) > 0 && rc.Direction != "" && !route.HasDirectionCode(rc.Direction) {
				return nil, fmt.Errorf("%w: route %q at stop %q has no direction %q",
					ErrUnknownDirection, rc.ID, stop.ID, rc.Direction)
			}

			monitors = append(monitors, Monitor{
				StopID:    stop.ID,
				Route:     route,
				Direction: rc.Direction,
				Rules:     rc.Rules,
			})
		}
	}
	return monitors, nil
}
