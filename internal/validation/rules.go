// Datapulse - Real-Time Data Acquisition and Source Health Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/datapulse

// Package validation checks fetched payloads against per-source rules before
// they enter the sync pipeline. Rules are a closed set of tagged variants
// dispatched by kind, not by string comparison at check time; rule parameters
// are typed and compiled once per source.
//
// Payload rules operate on dynamic map payloads, which is why this package
// does not use go-playground/validator (that validates Go structs); config
// structs are validated with validator/v10 in internal/config.
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tomtom215/datapulse/internal/config"
	"github.com/tomtom215/datapulse/internal/models"
)

// RuleKind is the closed set of rule variants.
type RuleKind int

const (
	KindRequired RuleKind = iota
	KindRange
	KindPattern
	KindEnum
	KindType
)

// ValueType is the closed set of payload value types a type rule can demand.
type ValueType int

const (
	TypeString ValueType = iota
	TypeNumber
	TypeBool
	TypeMap
	TypeList
)

// Rule is one compiled validation rule. Only the parameters for its Kind
// are populated.
type Rule struct {
	Field string
	Kind  RuleKind

	// KindRange
	Min *float64
	Max *float64

	// KindPattern
	Pattern *regexp.Regexp

	// KindEnum
	Allowed []string

	// KindType
	Type ValueType
}

// Required builds a rule demanding the field be present and non-nil.
func Required(field string) Rule {
	return Rule{Field: field, Kind: KindRequired}
}

// Range builds a rule bounding a numeric field. Either bound may be nil.
func Range(field string, min, max *float64) Rule {
	return Rule{Field: field, Kind: KindRange, Min: min, Max: max}
}

// Pattern builds a rule matching a string field against a compiled regexp.
func Pattern(field string, re *regexp.Regexp) Rule {
	return Rule{Field: field, Kind: KindPattern, Pattern: re}
}

// Enum builds a rule restricting a field to a fixed set of string values.
func Enum(field string, allowed ...string) Rule {
	return Rule{Field: field, Kind: KindEnum, Allowed: allowed}
}

// Type builds a rule demanding a field hold a specific value type.
func Type(field string, t ValueType) Rule {
	return Rule{Field: field, Kind: KindType, Type: t}
}

// Compile converts config-side rule descriptions into typed rules.
// config.Validate has already checked parameter completeness, so Compile
// only fails on a pattern that no longer compiles.
func Compile(rules []config.RuleConfig) ([]Rule, error) {
	out := make([]Rule, 0, len(rules))
	for i := range rules {
		rc := &rules[i]
		switch rc.Kind {
		case "required":
			out = append(out, Required(rc.Field))
		case "range":
			out = append(out, Range(rc.Field, rc.Min, rc.Max))
		case "pattern":
			re, err := regexp.Compile(rc.Pattern)
			if err != nil {
				return nil, fmt.Errorf("rule on %q: %w", rc.Field, err)
			}
			out = append(out, Pattern(rc.Field, re))
		case "enum":
			out = append(out, Enum(rc.Field, rc.Allowed...))
		case "type":
			t, err := parseValueType(rc.Type)
			if err != nil {
				return nil, fmt.Errorf("rule on %q: %w", rc.Field, err)
			}
			out = append(out, Type(rc.Field, t))
		default:
			return nil, fmt.Errorf("unknown rule kind %q on %q", rc.Kind, rc.Field)
		}
	}
	return out, nil
}

func parseValueType(s string) (ValueType, error) {
	switch s {
	case "string":
		return TypeString, nil
	case "number":
		return TypeNumber, nil
	case "bool":
		return TypeBool, nil
	case "map":
		return TypeMap, nil
	case "list":
		return TypeList, nil
	default:
		return 0, fmt.Errorf("unknown value type %q", s)
	}
}

// Error aggregates every rule violation found in one payload.
type Error struct {
	Violations []string
}

func (e *Error) Error() string {
	return "payload validation failed: " + strings.Join(e.Violations, "; ")
}

// Validate checks the payload against all rules and collects every
// violation rather than stopping at the first. Returns nil when the payload
// passes.
func Validate(payload models.Payload, rules []Rule) error {
	var violations []string
	for i := range rules {
		if msg := checkRule(payload, &rules[i]); msg != "" {
			violations = append(violations, msg)
		}
	}
	if len(violations) > 0 {
		return &Error{Violations: violations}
	}
	return nil
}

// checkRule dispatches on the rule variant. Rules other than KindRequired
// pass vacuously when the field is absent; combine with Required to demand
// presence.
func checkRule(payload models.Payload, r *Rule) string {
	value, present := payload[r.Field]

	switch r.Kind {
	case KindRequired:
		if !present || value == nil {
			return fmt.Sprintf("field %q is required", r.Field)
		}
	case KindRange:
		if !present {
			return ""
		}
		num, ok := toFloat(value)
		if !ok {
			return fmt.Sprintf("field %q is not numeric", r.Field)
		}
		if r.Min != nil && num < *r.Min {
			return fmt.Sprintf("field %q value %v below minimum %v", r.Field, num, *r.Min)
		}
		if r.Max != nil && num > *r.Max {
			return fmt.Sprintf("field %q value %v above maximum %v", r.Field, num, *r.Max)
		}
	case KindPattern:
		if !present {
			return ""
		}
		s, ok := value.(string)
		if !ok {
			return fmt.Sprintf("field %q is not a string", r.Field)
		}
		if !r.Pattern.MatchString(s) {
			return fmt.Sprintf("field %q does not match %s", r.Field, r.Pattern)
		}
	case KindEnum:
		if !present {
			return ""
		}
		s := fmt.Sprintf("%v", value)
		for _, allowed := range r.Allowed {
			if s == allowed {
				return ""
			}
		}
		return fmt.Sprintf("field %q value %q not in allowed set", r.Field, s)
	case KindType:
		if !present {
			return ""
		}
		if !matchesType(value, r.Type) {
			return fmt.Sprintf("field %q has wrong type", r.Field)
		}
	}
	return ""
}

// toFloat widens any JSON-decoded numeric representation.
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func matchesType(v interface{}, t ValueType) bool {
	switch t {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeNumber:
		_, ok := toFloat(v)
		return ok
	case TypeBool:
		_, ok := v.(bool)
		return ok
	case TypeMap:
		_, ok := v.(map[string]interface{})
		return ok
	case TypeList:
		_, ok := v.([]interface{})
		return ok
	default:
		return false
	}
}
