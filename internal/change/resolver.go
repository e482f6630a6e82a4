// Datapulse - Real-Time Data Acquisition and Source Health Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/datapulse

package change

import (
	"github.com/tomtom215/datapulse/internal/logging"
	"github.com/tomtom215/datapulse/internal/models"
)

// CustomResolver reconciles a single field conflict. Returning ok=false
// declines the conflict, which falls back to latest-wins.
type CustomResolver interface {
	Resolve(conflict models.Conflict) (value interface{}, ok bool)
}

// ResolverFunc adapts a plain function to CustomResolver.
type ResolverFunc func(conflict models.Conflict) (interface{}, bool)

func (f ResolverFunc) Resolve(conflict models.Conflict) (interface{}, bool) {
	return f(conflict)
}

// Resolver applies a source's configured conflict strategy to individual
// field conflicts.
type Resolver struct {
	strategy models.ConflictStrategy
	// priority > 0 marks the locally committed data authoritative under
	// the source-priority strategy.
	priority int
	custom   CustomResolver
}

// NewResolver builds a resolver for one source. custom may be nil unless the
// strategy is custom_function; a missing custom resolver degrades to
// latest-wins.
func NewResolver(strategy models.ConflictStrategy, priority int, custom CustomResolver) *Resolver {
	if strategy == "" {
		strategy = models.LatestWins
	}
	return &Resolver{strategy: strategy, priority: priority, custom: custom}
}

// Strategy returns the configured strategy.
func (r *Resolver) Strategy() models.ConflictStrategy {
	return r.strategy
}

// Resolve fills the conflict's Resolved and ResolvedValue fields in place.
// A conflict carrying its own Strategy overrides the source default.
// Manual-review conflicts stay unresolved and keep the local value so the
// committed state never silently moves under an operator's feet.
func (r *Resolver) Resolve(c *models.Conflict) {
	strategy := c.Strategy
	if strategy == "" {
		strategy = r.strategy
		c.Strategy = strategy
	}

	switch strategy {
	case models.LatestWins:
		r.latestWins(c)

	case models.SourcePriority:
		if r.priority > 0 {
			c.ResolvedValue = c.LocalValue
		} else {
			c.ResolvedValue = c.RemoteValue
		}
		c.Resolved = true

	case models.MergeFields:
		if merged, ok := mergeMaps(c.LocalValue, c.RemoteValue); ok {
			c.ResolvedValue = merged
			c.Resolved = true
		} else {
			// Non-map sides cannot shallow-merge.
			r.latestWins(c)
		}

	case models.CustomFunction:
		if r.resolveCustom(c) {
			return
		}
		logging.Debug().
			Str("source_id", c.SourceID).
			Str("field", c.Field).
			Msg("Custom resolver declined conflict, falling back to latest-wins")
		r.latestWins(c)

	case models.ManualReview:
		c.ResolvedValue = c.LocalValue
		c.Resolved = false

	default:
		r.latestWins(c)
	}
}

// resolveCustom invokes the registered resolver, containing panics. A panic
// degrades to the remote value so one bad resolver cannot abort
// synchronization for its source.
func (r *Resolver) resolveCustom(c *models.Conflict) (resolved bool) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.Error().
				Interface("panic", rec).
				Str("source_id", c.SourceID).
				Str("field", c.Field).
				Msg("Custom resolver panicked, degrading to remote value")
			c.ResolvedValue = c.RemoteValue
			c.Resolved = true
			resolved = true
		}
	}()

	if r.custom == nil {
		return false
	}
	value, ok := r.custom.Resolve(*c)
	if !ok {
		return false
	}
	c.ResolvedValue = value
	c.Resolved = true
	return true
}

// latestWins picks the side with the newer timestamp. A tie keeps the local
// value: the remote brought nothing demonstrably fresher.
func (r *Resolver) latestWins(c *models.Conflict) {
	if c.RemoteTimestamp.After(c.LocalTimestamp) {
		c.ResolvedValue = c.RemoteValue
	} else {
		c.ResolvedValue = c.LocalValue
	}
	c.Resolved = true
}

// mergeMaps shallow-merges two map values, remote entries overriding local
// ones. ok is false when either side is not a map.
func mergeMaps(local, remote interface{}) (interface{}, bool) {
	localMap, lok := local.(map[string]interface{})
	remoteMap, rok := remote.(map[string]interface{})
	if !lok || !rok {
		return nil, false
	}

	out := make(map[string]interface{}, len(localMap)+len(remoteMap))
	for k, v := range localMap {
		out[k] = v
	}
	for k, v := range remoteMap {
		out[k] = v
	}
	return out, true
}
