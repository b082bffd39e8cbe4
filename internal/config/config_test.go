package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dokzlo13/hueni/internal/rules"
)

const sampleConfig = `
hue:
  bridge: ${HUENI_TEST_BRIDGE:192.168.1.2}
  username: abc
transit:
  token: secret
poll:
  interval: 30s
  duration: 2h
effects:
  merge: true
stops:
  "15678":
    "43":
      direction: Inbound
      rules:
        - start: 5
          end: 2
          lights:
            7: {bri: 200, xy: [0.3, 0.4]}
  "13001":
    "1":
      direction: Outbound
      rules:
        - start: 10
          end: 5
          lights:
            "7": {on: false}
    "N":
      direction: Inbound
      rules:
        - start: 3
          end: 0
          lights:
            2: {bri: 10, transitiontime: 20}
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if cfg.Hue.Bridge != "192.168.1.2" {
		t.Errorf("Hue.Bridge = %q, want env default", cfg.Hue.Bridge)
	}
	if cfg.Poll.Interval.Duration() != 30*time.Second {
		t.Errorf("Poll.Interval = %v, want 30s", cfg.Poll.Interval.Duration())
	}
	if cfg.Poll.Duration.Duration() != 2*time.Hour {
		t.Errorf("Poll.Duration = %v, want 2h", cfg.Poll.Duration.Duration())
	}
	if cfg.Effects.MergeMode() != rules.Average {
		t.Errorf("MergeMode() = %v, want average", cfg.Effects.MergeMode())
	}

	// Stop and route order follows the file
	if len(cfg.Stops) != 2 || cfg.Stops[0].ID != "15678" || cfg.Stops[1].ID != "13001" {
		t.Fatalf("Stops = %+v, want 15678 then 13001", cfg.Stops)
	}
	routes := cfg.Stops[1].Routes
	if len(routes) != 2 || routes[0].ID != "1" || routes[1].ID != "N" {
		t.Fatalf("routes of 13001 = %+v, want 1 then N", routes)
	}
	if routes[0].Direction != "Outbound" {
		t.Errorf("Direction = %q, want Outbound", routes[0].Direction)
	}

	rule := cfg.Stops[0].Routes[0].Rules[0]
	if rule.Start != 5 || rule.End != 2 {
		t.Errorf("rule window = (%d,%d), want (5,2)", rule.Start, rule.End)
	}
	st, ok := rule.Lights["7"]
	if !ok {
		t.Fatalf("numeric light key not decoded as \"7\": %+v", rule.Lights)
	}
	if st.Bri == nil || *st.Bri != 200 || len(st.Xy) != 2 {
		t.Errorf("light 7 state = %+v", st)
	}

	tt := cfg.Stops[1].Routes[1].Rules[0].Lights["2"].TransitionTime
	if tt == nil || *tt != 20 {
		t.Errorf("transitiontime = %v, want 20", tt)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Transit.Agency != "SF-MUNI" {
		t.Errorf("Agency = %q, want SF-MUNI", cfg.Transit.Agency)
	}
	if cfg.Poll.Interval.Duration() != 15*time.Second {
		t.Errorf("Interval = %v, want 15s", cfg.Poll.Interval.Duration())
	}
	if cfg.Poll.Duration != 0 {
		t.Errorf("Duration = %v, want 0 (unbounded)", cfg.Poll.Duration.Duration())
	}
	if *cfg.Effects.TransitionTime != 4 || *cfg.Effects.RestoreTransitionTime != 1 {
		t.Errorf("transition defaults = %d/%d, want 4/1",
			*cfg.Effects.TransitionTime, *cfg.Effects.RestoreTransitionTime)
	}
	if cfg.Effects.MergeMode() != rules.LastWins {
		t.Errorf("MergeMode() = %v, want last_wins", cfg.Effects.MergeMode())
	}
	if cfg.Hue.PairAttempts != 30 {
		t.Errorf("PairAttempts = %d, want 30", cfg.Hue.PairAttempts)
	}
	if cfg.Database.Retention.Duration() != 30*24*time.Hour || cfg.Database.RetentionInterval.Duration() != time.Hour {
		t.Errorf("retention = %v every %v, want 720h every 1h",
			cfg.Database.Retention.Duration(), cfg.Database.RetentionInterval.Duration())
	}
	if cfg.Metrics.Endpoint != "" || cfg.Metrics.Interval.Duration() != time.Minute {
		t.Errorf("metrics = %+v, want disabled with 1m interval", cfg.Metrics)
	}
}

func TestDurationUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr bool
	}{
		{name: "with_unit", input: "interval: 30s", want: 30 * time.Second},
		{name: "bare_seconds", input: "interval: 15", want: 15 * time.Second},
		{name: "quoted_seconds", input: `interval: "45"`, want: 45 * time.Second},
		{name: "compound", input: "interval: 1m30s", want: 90 * time.Second},
		{name: "fraction_without_unit", input: "interval: 1.5", wantErr: true},
		{name: "garbage", input: "interval: soon", wantErr: true},
		{name: "sequence", input: "interval: [15]", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte("poll:\n  " + tt.input + "\n"))
			if tt.wantErr {
				if err == nil {
					t.Errorf("Parse(%q) should fail", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.input, err)
			}
			if got := cfg.Poll.Interval.Duration(); got != tt.want {
				t.Errorf("Interval = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExplicitZeroTransitionKept(t *testing.T) {
	cfg, err := Parse([]byte("effects:\n  transition_time: 0\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if *cfg.Effects.TransitionTime != 0 {
		t.Errorf("TransitionTime = %d, want explicit 0", *cfg.Effects.TransitionTime)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr error
	}{
		{
			name: "degenerate_window",
			yaml: `
hue: {bridge: h}
transit: {token: t}
stops:
  "1":
    "43":
      rules:
        - {start: 2, end: 2, lights: {1: {bri: 5}}}
`,
			wantErr: ErrInvalidRule,
		},
		{
			name: "missing_bridge",
			yaml: `
transit: {token: t}
stops:
  "1":
    "43":
      rules:
        - {start: 3, end: 2, lights: {1: {bri: 5}}}
`,
		},
		{
			name: "no_stops",
			yaml: `
hue: {bridge: h}
transit: {token: t}
`,
		},
		{
			name: "rule_without_lights",
			yaml: `
hue: {bridge: h}
transit: {token: t}
stops:
  "1":
    "43":
      rules:
        - {start: 3, end: 2}
`,
		},
		{
			name: "brightness_out_of_range",
			yaml: `
hue: {bridge: h}
transit: {token: t}
stops:
  "1":
    "43":
      rules:
        - {start: 3, end: 2, lights: {1: {bri: 255}}}
`,
		},
		{
			name: "no_token",
			yaml: `
hue: {bridge: h}
stops:
  "1":
    "43":
      rules:
        - {start: 3, end: 2, lights: {1: {bri: 5}}}
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.yaml))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			err = cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestStopsMustBeMapping(t *testing.T) {
	if _, err := Parse([]byte("stops: [1, 2]\n")); err == nil {
		t.Error("Parse() accepted a sequence for stops")
	}
}

func TestResolveToken(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token")
	if err := os.WriteFile(path, []byte("  abc-123\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	c := TransitConfig{TokenFile: path}
	token, err := c.ResolveToken()
	if err != nil {
		t.Fatalf("ResolveToken() error = %v", err)
	}
	if token != "abc-123" {
		t.Errorf("ResolveToken() = %q, want abc-123", token)
	}

	inline := TransitConfig{Token: "inline", TokenFile: path}
	if token, _ := inline.ResolveToken(); token != "inline" {
		t.Errorf("inline token should win, got %q", token)
	}

	if _, err := (&TransitConfig{}).ResolveToken(); err == nil {
		t.Error("ResolveToken() with nothing configured should fail")
	}
}
