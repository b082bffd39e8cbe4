package transit

// Agency is a transit operator known to the 511 service.
type Agency struct {
	Name         string
	Mode         string
	HasDirection bool
}

// Direction is one travel direction of a route.
type Direction struct {
	Code string
	Name string
}

// Route is a route of an agency. Code is the identifier used in configuration.
type Route struct {
	Code         string
	Name         string
	Agency       string
	HasDirection bool
	Directions   []Direction
}

// HasDirectionCode reports whether code names one of the route directions.
func (r Route) HasDirectionCode(code string) bool {
	for _, d := range r.Directions {
		if d.Code == code {
			return true
		}
	}
	return false
}

// Stop is a stop served by a route.
type Stop struct {
	Code      string
	Name      string
	Direction string
}

// Departures holds the upcoming departure offsets, in minutes, of one route and
// direction at a stop.
type Departures struct {
	StopCode  string
	RouteCode string
	Direction string
	Times     []int
}

// FilterAgency keeps only the routes operated by agency.
func FilterAgency(routes []Route, agency string) []Route {
	var filtered []Route
	for _, r := range routes {
		if r.Agency == agency {
			filtered = append(filtered, r)
		}
	}
	return filtered
}
