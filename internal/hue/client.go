package hue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/amimof/huego"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/hueni/internal/light"
)

// Bridge API error types, see the Hue v1 API error reference.
const (
	ErrTypeUnauthorizedUser     = 1
	ErrTypeLinkButtonNotPressed = 101
)

var (
	// ErrPairingAbandoned is returned when the link button was not pressed in time.
	ErrPairingAbandoned = errors.New("pairing abandoned")
	// ErrPairingFailed is returned when the bridge rejects pairing for any other reason.
	ErrPairingFailed = errors.New("pairing failed")
)

// bridgeAPI is the part of the bridge adapter the client uses.
type bridgeAPI interface {
	GetLightsContext(ctx context.Context) ([]huego.Light, error)
	GetLightContext(ctx context.Context, id int) (*huego.Light, error)
	PutLightStateContext(ctx context.Context, id int, body map[string]any) error
	CreateUserContext(ctx context.Context, deviceType string) (string, error)
}

// Options configures a Client.
type Options struct {
	DeviceType   string        // Announced when pairing
	Timeout      time.Duration // Per-request timeout
	PairAttempts int           // Link button polls before giving up
	PairInterval time.Duration // Delay between link button polls
}

// Client is the bridge adapter: light listing, state reads and writes, and the
// one-time pairing flow.
type Client struct {
	address  string
	username string
	opts     Options

	api   bridgeAPI
	login func(username string) bridgeAPI
}

// NewClient creates a client for the bridge at address. An empty username means the
// client has to pair before use.
func NewClient(address, username string, opts Options) *Client {
	login := func(u string) bridgeAPI { return newBridge(address, u) }
	return newClient(address, username, opts, login)
}

func newClient(address, username string, opts Options, login func(string) bridgeAPI) *Client {
	if opts.DeviceType == "" {
		opts.DeviceType = "hueni"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.PairAttempts <= 0 {
		opts.PairAttempts = 30
	}
	if opts.PairInterval == 0 {
		opts.PairInterval = 2 * time.Second
	}

	return &Client{
		address:  address,
		username: username,
		opts:     opts,
		api:      login(username),
		login:    login,
	}
}

// Connect verifies the bridge accepts the configured user, pairing when it does not.
func (c *Client) Connect(ctx context.Context) error {
	if c.username == "" {
		_, err := c.Pair(ctx)
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	_, err := c.api.GetLightsContext(reqCtx)
	if err == nil {
		log.Info().Str("address", c.address).Msg("Connected to Hue bridge")
		return nil
	}
	if !IsAPIError(err, ErrTypeUnauthorizedUser) {
		return fmt.Errorf("failed to connect to Hue bridge: %w", err)
	}

	log.Warn().Str("address", c.address).Msg("Bridge does not know this user, pairing")
	_, err = c.Pair(ctx)
	return err
}

// Pair registers a new bridge user. The bridge answers "link button not pressed" until
// someone presses it; that answer is retried up to PairAttempts times, any other error
// ends pairing immediately.
func (c *Client) Pair(ctx context.Context) (string, error) {
	log.Warn().Str("address", c.address).Msg("Press the link button on the Hue bridge")

	for attempt := 1; attempt <= c.opts.PairAttempts; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		username, err := c.api.CreateUserContext(reqCtx, c.opts.DeviceType)
		cancel()

		if err == nil {
			c.username = username
			c.api = c.login(username)
			log.Info().
				Str("address", c.address).
				Str("username", username).
				Msg("Paired with Hue bridge, set hue.username to reuse this user")
			return username, nil
		}
		if !IsAPIError(err, ErrTypeLinkButtonNotPressed) {
			return "", fmt.Errorf("%w: %w", ErrPairingFailed, err)
		}

		log.Debug().Int("attempt", attempt).Int("max_attempts", c.opts.PairAttempts).Msg("Link button not pressed yet")
		if attempt == c.opts.PairAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.opts.PairInterval):
		}
	}

	return "", fmt.Errorf("%w: link button not pressed after %d attempts", ErrPairingAbandoned, c.opts.PairAttempts)
}

// Lights returns all lights with their current state.
func (c *Client) Lights(ctx context.Context) ([]light.Light, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	raw, err := c.api.GetLightsContext(reqCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to list lights: %w", err)
	}

	lights := make([]light.Light, 0, len(raw))
	for _, l := range raw {
		lights = append(lights, light.Light{
			ID:    strconv.Itoa(l.ID),
			Name:  l.Name,
			State: fromHuego(l.State),
		})
	}
	return lights, nil
}

// LightState returns the current state of one light.
func (c *Client) LightState(ctx context.Context, lightID string) (light.State, error) {
	id, err := strconv.Atoi(lightID)
	if err != nil {
		return light.State{}, fmt.Errorf("invalid light id %q: %w", lightID, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	l, err := c.api.GetLightContext(reqCtx, id)
	if err != nil {
		return light.State{}, fmt.Errorf("failed to get light %s: %w", lightID, err)
	}
	return fromHuego(l.State), nil
}

// SetLightState sends a state to one light. The v1 API always carries the power flag,
// so an unset On is sent as on.
func (c *Client) SetLightState(ctx context.Context, lightID string, st light.State) error {
	id, err := strconv.Atoi(lightID)
	if err != nil {
		return fmt.Errorf("invalid light id %q: %w", lightID, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	if err := c.api.PutLightStateContext(reqCtx, id, stateBody(st)); err != nil {
		return fmt.Errorf("failed to set light %s: %w", lightID, err)
	}
	return nil
}

// Username returns the bridge user in use.
func (c *Client) Username() string {
	return c.username
}

// Address returns the bridge address
func (c *Client) Address() string {
	return c.address
}

// IsAPIError reports whether err is a bridge API error of the given type.
func IsAPIError(err error, errType int) bool {
	var apiErr *huego.APIError
	return errors.As(err, &apiErr) && apiErr.Type == errType
}
