package hue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/amimof/huego"

	"github.com/dokzlo13/hueni/internal/light"
)

type fakeAPI struct {
	username string

	lights   []huego.Light
	lightErr error

	pairErrs   []error // consumed one per CreateUser call
	pairCalls  int
	newUser    string
	setCalls   map[int]map[string]any
	lightCalls int
}

func (f *fakeAPI) GetLightsContext(ctx context.Context) ([]huego.Light, error) {
	if f.lightErr != nil {
		return nil, f.lightErr
	}
	return f.lights, nil
}

func (f *fakeAPI) GetLightContext(ctx context.Context, id int) (*huego.Light, error) {
	f.lightCalls++
	for i := range f.lights {
		if f.lights[i].ID == id {
			return &f.lights[i], nil
		}
	}
	return nil, &huego.APIError{Type: 3, Description: "resource not available"}
}

func (f *fakeAPI) PutLightStateContext(ctx context.Context, id int, body map[string]any) error {
	if f.setCalls == nil {
		f.setCalls = make(map[int]map[string]any)
	}
	f.setCalls[id] = body
	return nil
}

func (f *fakeAPI) CreateUserContext(ctx context.Context, deviceType string) (string, error) {
	f.pairCalls++
	if len(f.pairErrs) > 0 {
		err := f.pairErrs[0]
		f.pairErrs = f.pairErrs[1:]
		if err != nil {
			return "", err
		}
	}
	return f.newUser, nil
}

func linkButton() error {
	return &huego.APIError{Type: ErrTypeLinkButtonNotPressed, Description: "link button not pressed"}
}

// testClient returns a client whose logins all resolve to api.
func testClient(api *fakeAPI, username string, opts Options) (*Client, *[]string) {
	var logins []string
	login := func(u string) bridgeAPI {
		logins = append(logins, u)
		api.username = u
		return api
	}
	return newClient("192.168.1.2", username, opts, login), &logins
}

func TestPairRetriesUntilLinkButtonPressed(t *testing.T) {
	api := &fakeAPI{
		pairErrs: []error{linkButton(), linkButton(), nil},
		newUser:  "new-user",
	}
	client, logins := testClient(api, "", Options{PairAttempts: 5, PairInterval: time.Millisecond})

	username, err := client.Pair(context.Background())
	if err != nil {
		t.Fatalf("Pair() error = %v", err)
	}
	if username != "new-user" || client.Username() != "new-user" {
		t.Errorf("username = %q, client.Username() = %q", username, client.Username())
	}
	if api.pairCalls != 3 {
		t.Errorf("CreateUser called %d times, want 3", api.pairCalls)
	}
	if got := *logins; len(got) != 2 || got[1] != "new-user" {
		t.Errorf("logins = %v, want re-login as new-user", got)
	}
}

func TestPairFailsOnOtherErrors(t *testing.T) {
	api := &fakeAPI{
		pairErrs: []error{&huego.APIError{Type: 7, Description: "invalid value"}},
	}
	client, _ := testClient(api, "", Options{PairAttempts: 5, PairInterval: time.Millisecond})

	_, err := client.Pair(context.Background())
	if !errors.Is(err, ErrPairingFailed) {
		t.Fatalf("Pair() error = %v, want ErrPairingFailed", err)
	}
	if api.pairCalls != 1 {
		t.Errorf("CreateUser called %d times, want 1", api.pairCalls)
	}
}

func TestPairAbandoned(t *testing.T) {
	api := &fakeAPI{
		pairErrs: []error{linkButton(), linkButton(), linkButton(), linkButton()},
	}
	client, _ := testClient(api, "", Options{PairAttempts: 3, PairInterval: time.Millisecond})

	_, err := client.Pair(context.Background())
	if !errors.Is(err, ErrPairingAbandoned) {
		t.Fatalf("Pair() error = %v, want ErrPairingAbandoned", err)
	}
	if api.pairCalls != 3 {
		t.Errorf("CreateUser called %d times, want 3", api.pairCalls)
	}
}

func TestPairCancelled(t *testing.T) {
	api := &fakeAPI{pairErrs: []error{linkButton(), linkButton()}}
	client, _ := testClient(api, "", Options{PairAttempts: 10, PairInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	if _, err := client.Pair(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Pair() error = %v, want context.Canceled", err)
	}
}

func TestConnect(t *testing.T) {
	tests := []struct {
		name      string
		username  string
		lightErr  error
		wantPair  bool
		wantError bool
	}{
		{name: "known_user", username: "abc"},
		{name: "no_username", username: "", wantPair: true},
		{name: "unauthorized", username: "stale", lightErr: &huego.APIError{Type: ErrTypeUnauthorizedUser}, wantPair: true},
		{name: "decode_error", username: "abc", lightErr: &json.UnmarshalTypeError{Value: "string"}, wantError: true},
		{name: "unreachable", username: "abc", lightErr: errors.New("connection refused"), wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{lightErr: tt.lightErr, newUser: "paired"}
			client, _ := testClient(api, tt.username, Options{PairInterval: time.Millisecond})

			err := client.Connect(context.Background())
			if (err != nil) != tt.wantError {
				t.Fatalf("Connect() error = %v, wantError %v", err, tt.wantError)
			}
			if paired := api.pairCalls > 0; paired != tt.wantPair {
				t.Errorf("paired = %v, want %v", paired, tt.wantPair)
			}
		})
	}
}

func TestLightsConversion(t *testing.T) {
	api := &fakeAPI{lights: []huego.Light{
		{ID: 7, Name: "Hall", State: &huego.State{On: true, Bri: 200, Xy: []float32{0.3, 0.4}, Ct: 366}},
		{ID: 12, Name: "Desk", State: &huego.State{On: false, Bri: 1}},
	}}
	client, _ := testClient(api, "abc", Options{})

	lights, err := client.Lights(context.Background())
	if err != nil {
		t.Fatalf("Lights() error = %v", err)
	}
	if len(lights) != 2 || lights[0].ID != "7" || lights[1].ID != "12" || lights[0].Name != "Hall" {
		t.Fatalf("Lights() = %+v", lights)
	}

	hall := lights[0].State
	if !*hall.On || *hall.Bri != 200 || *hall.Ct != 366 || len(hall.Xy) != 2 {
		t.Errorf("hall state = %+v", hall)
	}
	if lights[1].State.Xy != nil {
		t.Errorf("desk without color should have no xy, got %v", lights[1].State.Xy)
	}

	st, err := client.LightState(context.Background(), "12")
	if err != nil {
		t.Fatalf("LightState() error = %v", err)
	}
	if *st.On || *st.Bri != 1 {
		t.Errorf("LightState(12) = %+v", st)
	}

	if _, err := client.LightState(context.Background(), "hall"); err == nil {
		t.Error("LightState() should reject non-numeric ids")
	}
}

func TestSetLightState(t *testing.T) {
	api := &fakeAPI{}
	client, _ := testClient(api, "abc", Options{})

	err := client.SetLightState(context.Background(), "7", light.State{
		On:             light.Ptr(false),
		Xy:             []float32{0.5, 0.4},
		TransitionTime: light.Ptr(uint16(1)),
	})
	if err != nil {
		t.Fatalf("SetLightState() error = %v", err)
	}

	got := api.setCalls[7]
	if got["on"] != false || got["transitiontime"] != uint16(1) {
		t.Errorf("sent state = %v", got)
	}
	if xy, ok := got["xy"].([]float32); !ok || len(xy) != 2 || xy[0] != 0.5 {
		t.Errorf("sent xy = %v", got["xy"])
	}
	if _, ok := got["bri"]; ok {
		t.Errorf("unset brightness should not be sent: %v", got)
	}

	if err := client.SetLightState(context.Background(), "8", light.State{Bri: light.Ptr(uint8(40))}); err != nil {
		t.Fatalf("SetLightState() error = %v", err)
	}
	if got := api.setCalls[8]; got["on"] != true || got["bri"] != uint8(40) {
		t.Errorf("unset power should be sent as on, got %v", got)
	}
}

func TestStateBodyKeepsZeroValues(t *testing.T) {
	data, err := json.Marshal(stateBody(light.State{
		On:             light.Ptr(true),
		Hue:            light.Ptr(uint16(0)),
		Sat:            light.Ptr(uint8(254)),
		Ct:             light.Ptr(uint16(153)),
		TransitionTime: light.Ptr(uint16(0)),
	}))
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}

	var wire map[string]any
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}

	want := map[string]any{"on": true, "hue": float64(0), "sat": float64(254), "ct": float64(153), "transitiontime": float64(0)}
	if len(wire) != len(want) {
		t.Errorf("wire body = %s", data)
	}
	for k, v := range want {
		if wire[k] != v {
			t.Errorf("wire[%q] = %v, want %v (body %s)", k, wire[k], v, data)
		}
	}
}
