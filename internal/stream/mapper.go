// Datapulse - Real-Time Data Acquisition and Source Health Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/datapulse

package stream

import (
	"fmt"
	"strconv"

	"github.com/tomtom215/datapulse/internal/config"
	"github.com/tomtom215/datapulse/internal/logging"
	"github.com/tomtom215/datapulse/internal/models"
)

// ApplyMappings renames payload fields per the source's field mappings,
// optionally coercing the value type. Unmapped fields pass through
// untouched. A mapping whose source field is absent is skipped; a value
// that cannot be coerced keeps its original type and is logged once per
// poll rather than failing the payload.
func ApplyMappings(payload models.Payload, mappings []config.FieldMapping) models.Payload {
	if len(mappings) == 0 {
		return payload
	}

	out := payload.Clone()
	for i := range mappings {
		m := &mappings[i]
		value, exists := out[m.From]
		if !exists {
			continue
		}
		delete(out, m.From)

		if m.Type != "" {
			coerced, err := coerce(value, m.Type)
			if err != nil {
				logging.Warn().
					Err(err).
					Str("field", m.From).
					Str("type", m.Type).
					Msg("Field coercion failed, keeping original value")
			} else {
				value = coerced
			}
		}
		out[m.To] = value
	}
	return out
}

// coerce converts a payload value to the requested type.
func coerce(value interface{}, target string) (interface{}, error) {
	switch target {
	case "string":
		return fmt.Sprintf("%v", value), nil
	case "int":
		switch v := value.(type) {
		case float64:
			return int64(v), nil
		case int64:
			return v, nil
		case int:
			return int64(v), nil
		case string:
			return strconv.ParseInt(v, 10, 64)
		case bool:
			if v {
				return int64(1), nil
			}
			return int64(0), nil
		}
	case "float":
		switch v := value.(type) {
		case float64:
			return v, nil
		case int64:
			return float64(v), nil
		case int:
			return float64(v), nil
		case string:
			return strconv.ParseFloat(v, 64)
		}
	case "bool":
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			return strconv.ParseBool(v)
		case float64:
			return v != 0, nil
		}
	}
	return nil, fmt.Errorf("cannot coerce %T to %s", value, target)
}
