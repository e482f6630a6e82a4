// Datapulse - Real-Time Data Acquisition and Source Health Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/datapulse

package config

import (
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// getValidator returns the singleton validator instance. validator caches
// struct metadata, so a single shared instance is the intended usage.
func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks struct tags and cross-field constraints that tags cannot
// express (auth kind vs. credential fields, rule parameter completeness,
// duplicate source IDs).
func (c *Config) Validate() error {
	if err := getValidator().Struct(c); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return fmt.Errorf("invalid configuration value: %w", err)
		}
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("field %s failed %q validation", fe.Namespace(), fe.Tag())
		}
		return err
	}

	seen := make(map[string]bool, len(c.Sources))
	for i := range c.Sources {
		src := &c.Sources[i]
		if seen[src.ID] {
			return fmt.Errorf("duplicate source id %q", src.ID)
		}
		seen[src.ID] = true

		if err := validateAuth(&src.Auth); err != nil {
			return fmt.Errorf("source %q: %w", src.ID, err)
		}
		for j := range src.Rules {
			if err := validateRule(&src.Rules[j]); err != nil {
				return fmt.Errorf("source %q: %w", src.ID, err)
			}
		}
	}
	return nil
}

// validateAuth checks that the credential fields required by the auth kind
// are present.
func validateAuth(a *AuthConfig) error {
	switch a.Kind {
	case AuthNone, "":
		return nil
	case AuthBearer, AuthAPIKey, AuthQuery:
		if a.Token == "" {
			return fmt.Errorf("auth kind %q requires a token", a.Kind)
		}
	case AuthBasic:
		if a.Username == "" || a.Password == "" {
			return errors.New(`auth kind "basic" requires username and password`)
		}
	default:
		return fmt.Errorf("unknown auth kind %q", a.Kind)
	}
	return nil
}

// validateRule checks that a rule carries the parameters its kind requires,
// and that pattern rules compile.
func validateRule(r *RuleConfig) error {
	switch r.Kind {
	case "required":
		return nil
	case "range":
		if r.Min == nil && r.Max == nil {
			return fmt.Errorf("range rule on %q needs min or max", r.Field)
		}
	case "pattern":
		if r.Pattern == "" {
			return fmt.Errorf("pattern rule on %q needs a pattern", r.Field)
		}
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return fmt.Errorf("pattern rule on %q: %w", r.Field, err)
		}
	case "enum":
		if len(r.Allowed) == 0 {
			return fmt.Errorf("enum rule on %q needs allowed values", r.Field)
		}
	case "type":
		if r.Type == "" {
			return fmt.Errorf("type rule on %q needs a type", r.Field)
		}
	default:
		return fmt.Errorf("unknown rule kind %q on %q", r.Kind, r.Field)
	}
	return nil
}
