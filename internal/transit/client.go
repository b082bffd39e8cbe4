// Package transit is a client for the 511.org Transit API: agencies, routes, stops and
// real-time departure predictions.
package transit

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/clbanning/mxj/v2"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultBaseURL is the 511 Transit 2.0 endpoint.
const DefaultBaseURL = "http://services.my511.org/Transit2.0/"

// Options configures a Client.
type Options struct {
	BaseURL string
	Timeout time.Duration
}

// Client talks to the 511 Transit API.
type Client struct {
	httpClient *http.Client
	token      string
	baseURL    string
	tracer     trace.Tracer
}

// NewClient creates a client authenticated with token.
func NewClient(token string, opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   opts.Timeout,
		},
		token:   token,
		baseURL: strings.TrimSuffix(opts.BaseURL, "/") + "/",
		tracer:  otel.Tracer("transit-client"),
	}
}

// Agencies returns every agency known to the service.
func (c *Client) Agencies(ctx context.Context) ([]Agency, error) {
	doc, err := c.get(ctx, "GetAgencies.aspx", nil)
	if err != nil {
		return nil, err
	}

	var agencies []Agency
	for _, a := range values(doc, "RTT.AgencyList.Agency") {
		agencies = append(agencies, parseAgency(a))
	}
	return agencies, nil
}

// RoutesForAgency returns the routes of one agency.
func (c *Client) RoutesForAgency(ctx context.Context, agency Agency) ([]Route, error) {
	doc, err := c.get(ctx, "GetRoutesForAgency.aspx", url.Values{"agencyName": {agency.Name}})
	if err != nil {
		return nil, err
	}

	var routes []Route
	for _, a := range values(doc, "RTT.AgencyList.Agency") {
		owner := parseAgency(a)
		if owner.Name == "" {
			owner = agency
		}
		for _, r := range children(a, "RouteList.Route") {
			route := Route{
				Code:         attr(r, "Code"),
				Name:         attr(r, "Name"),
				Agency:       owner.Name,
				HasDirection: owner.HasDirection,
			}
			for _, d := range children(r, "RouteDirectionList.RouteDirection") {
				route.Directions = append(route.Directions, Direction{
					Code: attr(d, "Code"),
					Name: attr(d, "Name"),
				})
			}
			routes = append(routes, route)
		}
	}
	return routes, nil
}

// ListRoutes returns the routes of every agency. Callers narrow the result with
// FilterAgency.
func (c *Client) ListRoutes(ctx context.Context) ([]Route, error) {
	agencies, err := c.Agencies(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list agencies: %w", err)
	}

	var routes []Route
	for _, agency := range agencies {
		agencyRoutes, err := c.RoutesForAgency(ctx, agency)
		if err != nil {
			return nil, fmt.Errorf("failed to list routes for %s: %w", agency.Name, err)
		}
		routes = append(routes, agencyRoutes...)
	}

	log.Debug().Int("agencies", len(agencies)).Int("routes", len(routes)).Msg("Fetched transit routes")
	return routes, nil
}

// ListStops returns the stops of a route in one direction. Direction is ignored for
// agencies without directions.
func (c *Client) ListStops(ctx context.Context, route Route, direction string) ([]Stop, error) {
	routeIDF := route.Agency + "~" + route.Code
	if route.HasDirection && direction != "" {
		routeIDF += "~" + direction
	}

	doc, err := c.get(ctx, "GetStopsForRoute.aspx", url.Values{"routeIDF": {routeIDF}})
	if err != nil {
		return nil, err
	}

	var stops []Stop
	for _, s := range values(doc, "RTT.AgencyList.Agency.RouteList.Route.RouteDirectionList.RouteDirection.StopList.Stop") {
		stops = append(stops, Stop{Code: attr(s, "StopCode"), Name: attr(s, "name"), Direction: direction})
	}
	if len(stops) == 0 {
		// Agencies without directions put the stop list directly under the route
		for _, s := range values(doc, "RTT.AgencyList.Agency.RouteList.Route.StopList.Stop") {
			stops = append(stops, Stop{Code: attr(s, "StopCode"), Name: attr(s, "name"), Direction: direction})
		}
	}
	return stops, nil
}

// NextDepartures returns the predicted departure offsets for a route and direction at
// a stop. An empty direction matches routes of agencies without directions.
func (c *Client) NextDepartures(ctx context.Context, stopCode, routeCode, direction string) (*Departures, error) {
	doc, err := c.get(ctx, "GetNextDeparturesByStopCode.aspx", url.Values{"stopcode": {stopCode}})
	if err != nil {
		return nil, err
	}

	deps := &Departures{StopCode: stopCode, RouteCode: routeCode, Direction: direction}
	for _, r := range values(doc, "RTT.AgencyList.Agency.RouteList.Route") {
		if attr(r, "Code") != routeCode {
			continue
		}

		var lists []interface{}
		if dirs := children(r, "RouteDirectionList.RouteDirection"); len(dirs) > 0 {
			for _, d := range dirs {
				if direction == "" || attr(d, "Code") == direction {
					lists = append(lists, children(d, "StopList.Stop.DepartureTimeList.DepartureTime")...)
				}
			}
		} else {
			lists = children(r, "StopList.Stop.DepartureTimeList.DepartureTime")
		}

		for _, v := range lists {
			t, ok, err := parseOffset(v)
			if err != nil {
				return nil, fmt.Errorf("stop %s route %s: %w", stopCode, routeCode, err)
			}
			if ok {
				deps.Times = append(deps.Times, t)
			}
		}
	}

	return deps, nil
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values) (mxj.Map, error) {
	ctx, span := c.tracer.Start(ctx, "transit."+strings.TrimSuffix(endpoint, ".aspx"),
		trace.WithAttributes(attribute.String("api.endpoint", endpoint)),
	)
	defer span.End()

	if params == nil {
		params = url.Values{}
	}
	params.Set("token", c.token)
	reqURL := c.baseURL + endpoint + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("%s returned status %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(body)))
		span.RecordError(err)
		return nil, err
	}

	doc, err := mxj.NewMapXml(body)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to parse %s response: %w", endpoint, err)
	}

	// Errors come back as 200 with <RTT><message>...</message></RTT>
	if msgs := values(doc, "RTT.message"); len(msgs) > 0 {
		if msg, ok := msgs[0].(string); ok && msg != "" {
			err := fmt.Errorf("%s: %s", endpoint, msg)
			span.RecordError(err)
			return nil, err
		}
	}

	return doc, nil
}

func parseAgency(v interface{}) Agency {
	return Agency{
		Name:         attr(v, "Name"),
		Mode:         attr(v, "Mode"),
		HasDirection: strings.EqualFold(attr(v, "HasDirection"), "true"),
	}
}

// parseOffset converts a DepartureTime element to minutes. Blank elements are skipped.
func parseOffset(v interface{}) (int, bool, error) {
	var raw string
	switch tv := v.(type) {
	case string:
		raw = tv
	case map[string]interface{}:
		raw, _ = tv["#text"].(string)
	default:
		return 0, false, fmt.Errorf("unexpected departure time %v", v)
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false, nil
	}
	t, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("invalid departure time %q: %w", raw, err)
	}
	return t, true, nil
}

func values(doc mxj.Map, path string) []interface{} {
	vals, err := doc.ValuesForPath(path)
	if err != nil {
		return nil
	}
	return vals
}

func children(v interface{}, path string) []interface{} {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	return values(mxj.Map(m), path)
}

// attr reads an XML attribute; mxj stores attributes under a "-" prefix.
func attr(v interface{}, name string) string {
	m, ok := v.(map[string]interface{})
	if !ok {
		return ""
	}
	s, _ := m["-"+name].(string)
	return s
}
