package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidRule is returned for a rule whose window can never trigger.
var ErrInvalidRule = errors.New("invalid rule")

// Validate checks the whole configuration, including rule windows.
func (cfg *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return err
	}

	for _, stop := range cfg.Stops {
		for _, route := range stop.Routes {
			for i, rule := range route.Rules {
				if rule.Degenerate() {
					return fmt.Errorf("%w: stop %s route %s rule %d: start (%d) must be greater than end (%d)",
						ErrInvalidRule, stop.ID, route.ID, i, rule.Start, rule.End)
				}
			}
		}
	}

	return nil
}
