// Package authztest holds test helpers for policy suites: canned
// actors, a record builder, and assertion wrappers over the point-check
// and filter paths.
package authztest

import (
	"testing"

	"rowguard/pkg/authz"
	"rowguard/pkg/schema"
)

// Actor is a lightweight test actor carrying the fields policies most
// often read.
type Actor struct {
	ID    any
	Role  string
	OrgID any
}

func NewAdmin(id any) Actor {
	return Actor{ID: id, Role: "admin"}
}

func NewUser(id any, orgID any) Actor {
	return Actor{ID: id, Role: "viewer", OrgID: orgID}
}

func NewAnonymous() Actor {
	return Actor{Role: "anonymous"}
}

// RecordBuilder assembles a schema.Record without map literals cluttering
// the test body.
type RecordBuilder struct {
	rec *schema.Record
}

func NewRecord(resourceType string) *RecordBuilder {
	return &RecordBuilder{rec: &schema.Record{
		Type:  resourceType,
		Attrs: map[string]any{},
		Edges: map[string]schema.Edge{},
	}}
}

func (b *RecordBuilder) Attr(name string, value any) *RecordBuilder {
	b.rec.Attrs[name] = value
	return b
}

// One sets a loaded to-one edge.
func (b *RecordBuilder) One(name string, target *schema.Record) *RecordBuilder {
	b.rec.Edges[name] = schema.LoadedOne(target)
	return b
}

// None marks a to-one edge as loaded and absent.
func (b *RecordBuilder) None(name string) *RecordBuilder {
	b.rec.Edges[name] = schema.LoadedNone()
	return b
}

// Many sets a loaded collection edge.
func (b *RecordBuilder) Many(name string, targets ...*schema.Record) *RecordBuilder {
	items := make([]schema.Instance, len(targets))
	for i, target := range targets {
		items[i] = target
	}
	b.rec.Edges[name] = schema.LoadedMany(items...)
	return b
}

// Unloaded marks an edge explicitly unloaded. Edges never set behave
// the same way; this exists for readable test intent.
func (b *RecordBuilder) Unloaded(name string) *RecordBuilder {
	b.rec.Edges[name] = schema.Unloaded()
	return b
}

func (b *RecordBuilder) Build() *schema.Record {
	return b.rec
}

// AssertCan fails the test unless the point check allows access.
func AssertCan(t *testing.T, a *authz.Authorizer, actor any, action string, inst schema.Instance) {
	t.Helper()
	allowed, err := a.Can(actor, action, inst)
	if err != nil {
		t.Fatalf("check %s on %s: %v", action, inst.ResourceType(), err)
	}
	if !allowed {
		t.Fatalf("expected %s on %s to be allowed (actor=%v)", action, inst.ResourceType(), actor)
	}
}

// AssertCannot fails the test unless the point check denies access.
func AssertCannot(t *testing.T, a *authz.Authorizer, actor any, action string, inst schema.Instance) {
	t.Helper()
	allowed, err := a.Can(actor, action, inst)
	if err != nil {
		t.Fatalf("check %s on %s: %v", action, inst.ResourceType(), err)
	}
	if allowed {
		t.Fatalf("expected %s on %s to be denied (actor=%v)", action, inst.ResourceType(), actor)
	}
}

// AssertFilterSQL renders the filter for (resource, action, actor) and
// fails unless the SQL matches exactly. Pins policy-to-SQL output so
// refactors cannot silently change the emitted predicate.
func AssertFilterSQL(t *testing.T, a *authz.Authorizer, resource, action string, actor any, wantSQL string) {
	t.Helper()
	f, err := a.Filter(resource, action, actor)
	if err != nil {
		t.Fatalf("filter %s/%s: %v", resource, action, err)
	}
	if f.SQL != wantSQL {
		t.Fatalf("filter %s/%s sql = %q, want %q", resource, action, f.SQL, wantSQL)
	}
}
