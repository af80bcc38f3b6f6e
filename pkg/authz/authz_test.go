package authz

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"rowguard/pkg/config"
	"rowguard/pkg/expr"
	"rowguard/pkg/policy"
	"rowguard/pkg/schema"
)

type actor struct {
	ID    string
	OrgID string
}

func contentSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s := schema.New()
	mustAdd := func(rt schema.ResourceType) {
		if err := s.AddResource(rt); err != nil {
			t.Fatalf("add resource %s: %v", rt.Name, err)
		}
	}
	mustAdd(schema.ResourceType{
		Name:       "article",
		Table:      "articles",
		Attributes: map[string]string{"id": "id", "published": "published", "author_id": "author_id"},
		Relationships: map[string]schema.Relationship{
			"author": {Name: "author", Target: "user", Cardinality: schema.ToOne, LocalColumn: "author_id", RemoteColumn: "id"},
		},
	})
	mustAdd(schema.ResourceType{
		Name:       "user",
		Table:      "users",
		Attributes: map[string]string{"id": "id", "org_id": "org_id"},
	})
	return s
}

func contentAuthorizer(t *testing.T, cfg config.Config) *Authorizer {
	t.Helper()
	reg := policy.NewRegistry()
	mustRegister := func(r policy.Registration) {
		if err := reg.Register(r); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	mustRegister(policy.Registration{
		Resource: "article", Action: "read", Name: "published",
		Description: "published articles are public",
		Fn:          func(any) expr.Node { return expr.Eq("published", true) },
	})
	mustRegister(policy.Registration{
		Resource: "article", Action: "read", Name: "own",
		Description: "authors see their own drafts",
		Fn: func(a any) expr.Node {
			return expr.Eq("author_id", a.(actor).ID)
		},
	})
	mustRegister(policy.Registration{
		Resource: "article", Action: "edit", Name: "org",
		Description: "members edit articles authored in their org",
		Fn: func(a any) expr.Node {
			return expr.ExistsIn("author", expr.Eq("org_id", a.(actor).OrgID))
		},
	})
	return New(reg, contentSchema(t), cfg)
}

func articleInst(published bool, authorID string, edges map[string]schema.Edge) *schema.Record {
	return &schema.Record{
		Type:  "article",
		Attrs: map[string]any{"id": "a1", "published": published, "author_id": authorID},
		Edges: edges,
	}
}

func TestCanPublishedOrOwn(t *testing.T) {
	a := contentAuthorizer(t, config.Default())
	me := actor{ID: "u1", OrgID: "org-1"}
	cases := []struct {
		name string
		inst *schema.Record
		want bool
	}{
		{"published foreign", articleInst(true, "u2", nil), true},
		{"own draft", articleInst(false, "u1", nil), true},
		{"foreign draft", articleInst(false, "u2", nil), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := a.Can(me, "read", tc.inst)
			if err != nil {
				t.Fatalf("can: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %t, want %t", got, tc.want)
			}
		})
	}
}

func TestCanDenyByDefault(t *testing.T) {
	a := contentAuthorizer(t, config.Default())
	got, err := a.Can(actor{ID: "u1"}, "delete", articleInst(true, "u1", nil))
	if err != nil {
		t.Fatalf("can: %v", err)
	}
	if got {
		t.Fatal("unregistered action must deny")
	}
}

func TestAuthorizeError(t *testing.T) {
	a := contentAuthorizer(t, config.Default())
	me := actor{ID: "u1"}
	if err := a.Authorize(me, "read", articleInst(false, "u1", nil)); err != nil {
		t.Fatalf("authorize allowed instance: %v", err)
	}
	err := a.Authorize(me, "read", articleInst(false, "u2", nil))
	var denied *AuthorizationDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("err = %v, want AuthorizationDeniedError", err)
	}
	if denied.Resource != "article" || denied.Action != "read" {
		t.Fatalf("error carries %q/%q", denied.Resource, denied.Action)
	}
}

func TestCanRelationshipPolicy(t *testing.T) {
	a := contentAuthorizer(t, config.Default())
	me := actor{ID: "u1", OrgID: "org-1"}
	sameOrgAuthor := &schema.Record{Type: "user", Attrs: map[string]any{"id": "u2", "org_id": "org-1"}}

	got, err := a.Can(me, "edit", articleInst(true, "u2", map[string]schema.Edge{
		"author": schema.LoadedOne(sameOrgAuthor),
	}))
	if err != nil {
		t.Fatalf("can: %v", err)
	}
	if !got {
		t.Fatal("same-org author should allow edit")
	}

	// Unloaded author edge under the default config denies silently.
	got, err = a.Can(me, "edit", articleInst(true, "u2", nil))
	if err != nil {
		t.Fatalf("can: %v", err)
	}
	if got {
		t.Fatal("unloaded edge should deny under default config")
	}
}

func TestLoaderHookFetchesEdges(t *testing.T) {
	a := contentAuthorizer(t, config.Default())
	a.Loader = func(inst schema.Instance, relationship string) (schema.Edge, error) {
		return schema.LoadedOne(&schema.Record{Type: "user", Attrs: map[string]any{"org_id": "org-1"}}), nil
	}
	got, err := a.Can(actor{ID: "u1", OrgID: "org-1"}, "edit", articleInst(true, "u2", nil))
	if err != nil {
		t.Fatalf("can: %v", err)
	}
	if !got {
		t.Fatal("loader should supply the author edge")
	}
}

func TestSafeGet(t *testing.T) {
	a := contentAuthorizer(t, config.Default())
	me := actor{ID: "u1"}

	fetchDenied := func() (schema.Instance, error) { return articleInst(false, "u2", nil), nil }
	inst, err := a.SafeGet(fetchDenied, me, "read")
	if err != nil || inst != nil {
		t.Fatalf("denied row: inst=%v err=%v, want nil/nil", inst, err)
	}

	fetchMissing := func() (schema.Instance, error) { return nil, nil }
	inst, err = a.SafeGet(fetchMissing, me, "read")
	if err != nil || inst != nil {
		t.Fatalf("missing row: inst=%v err=%v, want nil/nil", inst, err)
	}

	fetchAllowed := func() (schema.Instance, error) { return articleInst(true, "u2", nil), nil }
	inst, err = a.SafeGet(fetchAllowed, me, "read")
	if err != nil || inst == nil {
		t.Fatalf("allowed row: inst=%v err=%v", inst, err)
	}

	fetchErr := func() (schema.Instance, error) { return nil, fmt.Errorf("db down") }
	if _, err = a.SafeGet(fetchErr, me, "read"); err == nil {
		t.Fatal("fetch error must surface")
	}
}

func TestSafeGetOrDeny(t *testing.T) {
	a := contentAuthorizer(t, config.Default())
	me := actor{ID: "u1"}
	fetch := func() (schema.Instance, error) { return articleInst(false, "u2", nil), nil }
	_, err := a.SafeGetOrDeny(fetch, me, "read")
	var denied *AuthorizationDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("err = %v, want AuthorizationDeniedError", err)
	}
}

func TestFilterRendersPolicies(t *testing.T) {
	a := contentAuthorizer(t, config.Default())
	f, err := a.Filter("article", "read", actor{ID: "u1"})
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	want := "(articles.published = $1 OR articles.author_id = $2)"
	if f.SQL != want {
		t.Fatalf("sql = %q, want %q", f.SQL, want)
	}
	if len(f.Args) != 2 || f.Args[0] != true || f.Args[1] != "u1" {
		t.Fatalf("args = %#v", f.Args)
	}
}

func TestFilterDenyByDefaultIsFalse(t *testing.T) {
	a := contentAuthorizer(t, config.Default())
	f, err := a.Filter("article", "delete", actor{ID: "u1"})
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if f.SQL != "FALSE" {
		t.Fatalf("sql = %q, want FALSE", f.SQL)
	}
}

func TestAuthorizeQueryAppends(t *testing.T) {
	a := contentAuthorizer(t, config.Default())
	sql, args, err := a.AuthorizeQuery("SELECT * FROM articles", "article", "read", actor{ID: "u1"})
	if err != nil {
		t.Fatalf("authorize query: %v", err)
	}
	if !strings.HasPrefix(sql, "SELECT * FROM articles WHERE (") {
		t.Fatalf("sql = %q", sql)
	}
	if len(args) != 2 {
		t.Fatalf("args = %#v", args)
	}
}

func TestMissingPolicyRaiseMode(t *testing.T) {
	cfg := config.Default()
	cfg.OnMissingPolicy = config.MissingRaise
	a := contentAuthorizer(t, cfg)
	_, err := a.Can(actor{ID: "u1"}, "delete", articleInst(true, "u1", nil))
	var notFound *policy.PolicyNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want PolicyNotFoundError", err)
	}
}

func TestDecisionLogging(t *testing.T) {
	cfg := config.Default()
	cfg.LogDecisions = true
	a := contentAuthorizer(t, cfg)
	var lines []string
	a.Logf = func(format string, args ...any) {
		lines = append(lines, fmt.Sprintf(format, args...))
	}
	if _, err := a.Can(actor{ID: "u1"}, "read", articleInst(true, "u2", nil)); err != nil {
		t.Fatalf("can: %v", err)
	}
	if _, err := a.Can(actor{ID: "u1"}, "delete", articleInst(true, "u2", nil)); err != nil {
		t.Fatalf("can: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("lines = %v", lines)
	}
	if !strings.Contains(lines[0], "allowed=true") {
		t.Fatalf("first line = %q", lines[0])
	}
	if !strings.Contains(lines[1], "deny-by-default") {
		t.Fatalf("second line = %q", lines[1])
	}
}
