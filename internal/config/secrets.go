// Datapulse - Real-Time Data Acquisition and Source Health Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/datapulse

package config

import (
	"fmt"
	"regexp"
)

// secretRefPattern matches ${ENV_NAME} references in secret fields.
var secretRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ResolveSecrets replaces ${ENV_NAME} references in secret-bearing fields
// with values from lookup (normally os.LookupEnv). A reference to an unset
// variable is a hard error so misconfigured credentials fail at startup
// instead of at the first authenticated request.
func (c *Config) ResolveSecrets(lookup func(string) (string, bool)) error {
	for i := range c.Sources {
		src := &c.Sources[i]
		fields := []*string{&src.Auth.Token, &src.Auth.Username, &src.Auth.Password}
		for _, field := range fields {
			resolved, err := expandSecret(*field, lookup)
			if err != nil {
				return fmt.Errorf("source %q: %w", src.ID, err)
			}
			*field = resolved
		}
	}
	return nil
}

// expandSecret substitutes every ${VAR} in value from lookup.
func expandSecret(value string, lookup func(string) (string, bool)) (string, error) {
	var missing string
	out := secretRefPattern.ReplaceAllStringFunc(value, func(match string) string {
		name := secretRefPattern.FindStringSubmatch(match)[1]
		v, ok := lookup(name)
		if !ok {
			if missing == "" {
				missing = name
			}
			return match
		}
		return v
	})
	if missing != "" {
		return "", fmt.Errorf("secret reference ${%s} is not set in the environment", missing)
	}
	return out, nil
}
