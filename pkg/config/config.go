// Package config carries the small authorization configuration surface:
// what to do when no policy matches, how to treat unloaded relationship
// edges, and the defaults applied when callers do not say otherwise.
package config

import (
	"os"
	"strings"
)

// MissingPolicyMode controls compile behavior for a (resource, action)
// key with zero registrations.
type MissingPolicyMode string

const (
	// MissingDeny compiles to a constant-false filter (deny by default).
	MissingDeny MissingPolicyMode = "deny"
	// MissingRaise surfaces a PolicyNotFoundError instead.
	MissingRaise MissingPolicyMode = "raise"
)

// UnloadedMode controls point-check behavior when an unloaded
// relationship edge is reached and no loader is available.
type UnloadedMode string

const (
	UnloadedDeny  UnloadedMode = "deny"
	UnloadedRaise UnloadedMode = "raise"
	// UnloadedWarn logs a warning and then denies.
	UnloadedWarn UnloadedMode = "warn"
)

type Config struct {
	OnMissingPolicy        MissingPolicyMode
	OnUnloadedRelationship UnloadedMode
	DefaultAction          string
	DefaultCompose         string // "or" or "and"
	LogDecisions           bool
}

// Default returns the deny-by-default configuration.
func Default() Config {
	return Config{
		OnMissingPolicy:        MissingDeny,
		OnUnloadedRelationship: UnloadedDeny,
		DefaultAction:          "read",
		DefaultCompose:         "or",
	}
}

// Overrides holds optional per-field overrides; nil fields keep the
// base value.
type Overrides struct {
	OnMissingPolicy        *MissingPolicyMode
	OnUnloadedRelationship *UnloadedMode
	DefaultAction          *string
	DefaultCompose         *string
	LogDecisions           *bool
}

// Merge returns a copy of c with non-nil overrides applied.
func (c Config) Merge(o Overrides) Config {
	if o.OnMissingPolicy != nil {
		c.OnMissingPolicy = *o.OnMissingPolicy
	}
	if o.OnUnloadedRelationship != nil {
		c.OnUnloadedRelationship = *o.OnUnloadedRelationship
	}
	if o.DefaultAction != nil {
		c.DefaultAction = *o.DefaultAction
	}
	if o.DefaultCompose != nil {
		c.DefaultCompose = *o.DefaultCompose
	}
	if o.LogDecisions != nil {
		c.LogDecisions = *o.LogDecisions
	}
	return c
}

// FromEnv builds a Config from AUTHZ_* environment variables, falling
// back to defaults for unset or unrecognized values.
func FromEnv() Config {
	c := Default()
	switch strings.ToLower(env("AUTHZ_ON_MISSING_POLICY", "")) {
	case "deny":
		c.OnMissingPolicy = MissingDeny
	case "raise":
		c.OnMissingPolicy = MissingRaise
	}
	switch strings.ToLower(env("AUTHZ_ON_UNLOADED_RELATIONSHIP", "")) {
	case "deny":
		c.OnUnloadedRelationship = UnloadedDeny
	case "raise":
		c.OnUnloadedRelationship = UnloadedRaise
	case "warn":
		c.OnUnloadedRelationship = UnloadedWarn
	}
	if v := env("AUTHZ_DEFAULT_ACTION", ""); v != "" {
		c.DefaultAction = v
	}
	switch strings.ToLower(env("AUTHZ_DEFAULT_COMPOSE", "")) {
	case "or":
		c.DefaultCompose = "or"
	case "and":
		c.DefaultCompose = "and"
	}
	if env("AUTHZ_LOG_DECISIONS", "") == "true" {
		c.LogDecisions = true
	}
	return c
}

func env(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
