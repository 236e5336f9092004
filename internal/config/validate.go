// Coscribe - Real-Time Document Collaboration Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coscribe

package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// validate is the shared validator instance. validator.Validate caches
// struct metadata, so a single instance is reused for all checks.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration for missing or malformed values.
// It combines struct-tag validation with cross-field checks the tags
// cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if ok := asValidationErrors(err, &verrs); ok && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("invalid value for %s: failed %q check", first.Namespace(), first.Tag())
		}
		return err
	}

	if c.Relay.PingInterval < time.Second {
		return fmt.Errorf("relay.ping_interval must be at least 1s, got %s", c.Relay.PingInterval)
	}

	if c.Relay.InboundRate <= 0 {
		return fmt.Errorf("relay.inbound_rate must be positive, got %g", c.Relay.InboundRate)
	}
	if c.Relay.InboundBurst < 1 {
		return fmt.Errorf("relay.inbound_burst must be at least 1, got %d", c.Relay.InboundBurst)
	}

	if c.SMTP.Enabled {
		if c.SMTP.Host == "" {
			return fmt.Errorf("smtp.host is required when SMTP delivery is enabled")
		}
		if c.SMTP.Port < 1 || c.SMTP.Port > 65535 {
			return fmt.Errorf("smtp.port must be 1-65535, got %d", c.SMTP.Port)
		}
		if c.SMTP.From == "" {
			return fmt.Errorf("smtp.from is required when SMTP delivery is enabled")
		}
	}

	if len(c.Security.CORSOrigins) == 0 {
		return fmt.Errorf("security.cors_origins must list at least one origin")
	}

	return nil
}

// asValidationErrors unwraps a validator.ValidationErrors from err.
func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	verrs, ok := err.(validator.ValidationErrors) //nolint:errorlint // validator returns this type directly
	if ok {
		*target = verrs
	}
	return ok
}
