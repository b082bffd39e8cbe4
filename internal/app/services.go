package app

import (
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/hueni/internal/config"
	"github.com/dokzlo13/hueni/internal/db"
	"github.com/dokzlo13/hueni/internal/hue"
	"github.com/dokzlo13/hueni/internal/ledger"
	"github.com/dokzlo13/hueni/internal/transit"
)

// Services is a container for the adapters and infrastructure the app runs on.
type Services struct {
	cfg *config.Config

	// Core infrastructure, nil when database.path is empty
	DB     *db.DB
	Ledger *ledger.Ledger

	// Adapters
	Hue     *hue.Client
	Transit *transit.Client

	Health *HealthService
}

// NewServices creates all services. Nothing talks to the network yet.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	token, err := cfg.Transit.ResolveToken()
	if err != nil {
		return nil, err
	}

	if cfg.Database.Path != "" {
		database, err := db.Open(cfg.Database.Path)
		if err != nil {
			return nil, err
		}
		s.DB = database
		s.Ledger = ledger.New(database.DB)
		log.Info().Str("path", cfg.Database.Path).Msg("Ledger enabled")
	}

	s.Hue = NewHueClient(cfg.Hue)
	s.Transit = transit.NewClient(token, transit.Options{
		BaseURL: cfg.Transit.BaseURL,
		Timeout: cfg.Transit.Timeout.Duration(),
	})
	s.Health = NewHealthService(cfg)

	return s, nil
}

// NewHueClient builds the bridge adapter from configuration.
func NewHueClient(cfg config.HueConfig) *hue.Client {
	return hue.NewClient(cfg.Bridge, cfg.Username, hue.Options{
		DeviceType:   cfg.DeviceType,
		Timeout:      cfg.Timeout.Duration(),
		PairAttempts: cfg.PairAttempts,
		PairInterval: cfg.PairInterval.Duration(),
	})
}

// Close releases all resources.
func (s *Services) Close() {
	if s.DB != nil {
		s.DB.Close()
	}
}
