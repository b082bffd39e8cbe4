package hue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/amimof/huego"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// bridge is a *huego.Bridge whose state writes go out as raw JSON. huego.State tags
// hue, sat, ct and transitiontime with omitempty, so an explicit zero would never
// reach the bridge.
type bridge struct {
	*huego.Bridge

	address  string
	username string
	http     *http.Client
}

func newBridge(address, username string) *bridge {
	return &bridge{
		Bridge:   huego.New(address, username),
		address:  address,
		username: username,
		http:     &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

// GetLightsContext lists lights. huego decodes the bridge's error array into the lights
// map and reports a JSON type error; that case is re-read so the caller sees the bridge
// error itself.
func (b *bridge) GetLightsContext(ctx context.Context) ([]huego.Light, error) {
	lights, err := b.Bridge.GetLightsContext(ctx)
	var typeErr *json.UnmarshalTypeError
	if err == nil || !errors.As(err, &typeErr) {
		return lights, err
	}

	body, rerr := b.do(ctx, http.MethodGet, b.url("lights"), nil)
	if rerr != nil {
		return nil, err
	}
	if apiErr := bridgeError(body); apiErr != nil {
		return nil, apiErr
	}
	return nil, err
}

// PutLightStateContext sends body as the new state of light id.
func (b *bridge) PutLightStateContext(ctx context.Context, id int, body map[string]any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode light state: %w", err)
	}

	resp, err := b.do(ctx, http.MethodPut, b.url("lights", strconv.Itoa(id), "state"), payload)
	if err != nil {
		return err
	}
	if apiErr := bridgeError(resp); apiErr != nil {
		return apiErr
	}
	return nil
}

func (b *bridge) url(parts ...string) string {
	host := strings.TrimSuffix(b.address, "/")
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	return host + "/api/" + b.username + "/" + strings.Join(parts, "/")
}

func (b *bridge) do(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bridge returned status %d", resp.StatusCode)
	}
	return data, nil
}

// bridgeError returns the first entry of a v1 error array, or nil when body is not one.
func bridgeError(body []byte) *huego.APIError {
	var items []struct {
		Error *struct {
			Type        int    `json:"type"`
			Address     string `json:"address"`
			Description string `json:"description"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &items); err != nil {
		return nil
	}
	for _, it := range items {
		if it.Error != nil {
			return &huego.APIError{Type: it.Error.Type, Address: it.Error.Address, Description: it.Error.Description}
		}
	}
	return nil
}
