// Package authz is the embedding surface: point checks, assertion
// helpers, and query filters built from one registry + schema pair.
package authz

import (
	"fmt"
	"log"

	"rowguard/pkg/config"
	"rowguard/pkg/eval"
	"rowguard/pkg/expr"
	"rowguard/pkg/policy"
	"rowguard/pkg/schema"
	"rowguard/pkg/sqlgen"
)

// AuthorizationDeniedError reports a denied point check.
type AuthorizationDeniedError struct {
	Actor    any
	Action   string
	Resource string
}

func (e *AuthorizationDeniedError) Error() string {
	return fmt.Sprintf("authz: actor %v is not authorized to %s %s", e.Actor, e.Action, e.Resource)
}

// Authorizer binds a registry, a schema, and a configuration into one
// decision surface. It is stateless apart from those references and
// safe for concurrent use.
type Authorizer struct {
	Registry *policy.Registry
	Schema   *schema.Schema
	Resolver *schema.Resolver
	Config   config.Config

	// Loader, when set, fetches unloaded relationship edges during
	// point checks instead of applying OnUnloadedRelationship.
	Loader eval.Loader

	// Logf receives decision logging when Config.LogDecisions is set.
	// Defaults to log.Printf.
	Logf func(format string, args ...any)
}

func New(reg *policy.Registry, s *schema.Schema, cfg config.Config) *Authorizer {
	return &Authorizer{
		Registry: reg,
		Schema:   s,
		Resolver: schema.NewResolver(s),
		Config:   cfg,
	}
}

// Compile combines the registered policies for (resource, action) into
// one filter expression for the given actor.
func (a *Authorizer) Compile(resource, action string, actor any) (expr.Node, error) {
	return policy.Compile(a.Registry, resource, action, actor, a.Config)
}

// Filter compiles and renders the policies into a SQL predicate for
// the bulk-query path.
func (a *Authorizer) Filter(resource, action string, actor any) (sqlgen.Filter, error) {
	node, err := a.Compile(resource, action, actor)
	if err != nil {
		return sqlgen.Filter{}, err
	}
	return sqlgen.Render(a.Schema, resource, node)
}

// AuthorizeQuery appends the compiled predicate for (resource, action,
// actor) to a SELECT statement.
func (a *Authorizer) AuthorizeQuery(baseSQL, resource, action string, actor any) (string, []any, error) {
	node, err := a.Compile(resource, action, actor)
	if err != nil {
		return "", nil, err
	}
	return sqlgen.AuthorizeQuery(baseSQL, a.Schema, resource, node)
}

// Can answers a point check: may actor perform action on this loaded
// instance. Deny-by-default applies when nothing is registered.
func (a *Authorizer) Can(actor any, action string, inst schema.Instance) (bool, error) {
	resource := inst.ResourceType()
	node, err := a.Compile(resource, action, actor)
	if err != nil {
		return false, err
	}
	allowed, err := eval.Evaluate(node, inst, a.evalOptions())
	if err != nil {
		return false, err
	}
	a.logDecision(resource, action, actor, allowed)
	return allowed, nil
}

// Authorize asserts a point check, returning AuthorizationDeniedError
// when the actor is denied.
func (a *Authorizer) Authorize(actor any, action string, inst schema.Instance) error {
	allowed, err := a.Can(actor, action, inst)
	if err != nil {
		return err
	}
	if !allowed {
		return &AuthorizationDeniedError{Actor: actor, Action: action, Resource: inst.ResourceType()}
	}
	return nil
}

// SafeGet runs fetch and then the point check. It returns nil both
// when the instance does not exist and when access is denied, so a
// caller cannot distinguish hidden rows from missing ones.
func (a *Authorizer) SafeGet(fetch func() (schema.Instance, error), actor any, action string) (schema.Instance, error) {
	inst, err := fetch()
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, nil
	}
	allowed, err := a.Can(actor, action, inst)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, nil
	}
	return inst, nil
}

// SafeGetOrDeny is SafeGet except an existing-but-denied instance
// yields AuthorizationDeniedError.
func (a *Authorizer) SafeGetOrDeny(fetch func() (schema.Instance, error), actor any, action string) (schema.Instance, error) {
	inst, err := fetch()
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, nil
	}
	if err := a.Authorize(actor, action, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

func (a *Authorizer) evalOptions() eval.Options {
	return eval.Options{
		Resolver:   a.Resolver,
		OnUnloaded: a.Config.OnUnloadedRelationship,
		Loader:     a.Loader,
		Logf:       a.Logf,
	}
}

func (a *Authorizer) logDecision(resource, action string, actor any, allowed bool) {
	if !a.Config.LogDecisions {
		return
	}
	logf := a.Logf
	if logf == nil {
		logf = log.Printf
	}
	if !a.Registry.HasPolicy(resource, action) {
		logf("authz: no policy registered for (%s, %q); deny-by-default applied", resource, action)
		return
	}
	logf("authz: %s.%s actor=%v allowed=%t", resource, action, actor, allowed)
}
