package sqlgen

import (
	"reflect"
	"strings"
	"testing"

	"rowguard/pkg/expr"
	"rowguard/pkg/schema"
)

func testSchema(t *testing.T) *schema.Schema {
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
		Attributes: map[string]string{"id": "id", "title": "title", "published": "published", "author_id": "author_id"},
		Relationships: map[string]schema.Relationship{
			"author": {Name: "author", Target: "user", Cardinality: schema.ToOne, LocalColumn: "author_id", RemoteColumn: "id"},
			"tags": {
				Name: "tags", Target: "tag", Cardinality: schema.ToMany,
				LocalColumn: "id", RemoteColumn: "id",
				JoinTable: "article_tags", JoinLocalColumn: "article_id", JoinRemoteColumn: "tag_id",
			},
		},
	})
	mustAdd(schema.ResourceType{
		Name:       "user",
		Table:      "users",
		Attributes: map[string]string{"id": "id", "org_id": "org_id"},
		Relationships: map[string]schema.Relationship{
			"org": {Name: "org", Target: "org", Cardinality: schema.ToOne, LocalColumn: "org_id", RemoteColumn: "id"},
		},
	})
	mustAdd(schema.ResourceType{Name: "org", Table: "orgs", Attributes: map[string]string{"id": "id"}})
	mustAdd(schema.ResourceType{Name: "tag", Table: "tags", Attributes: map[string]string{"id": "id", "name": "name"}})
	return s
}

func TestRenderComparisons(t *testing.T) {
	s := testSchema(t)
	cases := []struct {
		name     string
		node     expr.Node
		wantSQL  string
		wantArgs []any
	}{
		{"literal true", expr.True(), "TRUE", nil},
		{"literal false", expr.False(), "FALSE", nil},
		{"eq", expr.Eq("published", true), "articles.published = $1", []any{true}},
		{"eq nil is IS NULL", expr.Eq("title", nil), "articles.title IS NULL", nil},
		{"ne", expr.Ne("title", "x"), "articles.title <> $1", []any{"x"}},
		{"ne nil is IS NOT NULL", expr.Ne("title", nil), "articles.title IS NOT NULL", nil},
		{"lt", expr.Lt("id", 5), "articles.id < $1", []any{5}},
		{"le", expr.Le("id", 5), "articles.id <= $1", []any{5}},
		{"gt", expr.Gt("id", 5), "articles.id > $1", []any{5}},
		{"ge", expr.Ge("id", 5), "articles.id >= $1", []any{5}},
		{"is_null", expr.IsNull("title"), "articles.title IS NULL", nil},
		{"is_not_null", expr.IsNotNull("title"), "articles.title IS NOT NULL", nil},
		{"like", expr.Like("title", "q%"), "articles.title LIKE $1", []any{"q%"}},
		{"ilike", expr.ILike("title", "q%"), "articles.title ILIKE $1", []any{"q%"}},
		{"between", expr.Between("id", 1, 9), "articles.id BETWEEN $1 AND $2", []any{1, 9}},
		{"in", expr.In("title", "a", "b"), "articles.title IN ($1, $2)", []any{"a", "b"}},
		{"not_in", expr.NotIn("title", "a"), "articles.title NOT IN ($1)", []any{"a"}},
		{"empty in is FALSE", expr.In("title"), "FALSE", nil},
		{"empty not_in is TRUE", expr.NotIn("title"), "TRUE", nil},
		{"contains", expr.Contains("title", "x"), "POSITION($1 IN articles.title) > 0", []any{"x"}},
		{"starts_with", expr.StartsWith("title", "q"), "LEFT(articles.title, LENGTH($1)) = $1", []any{"q"}},
		{"ends_with", expr.EndsWith("title", "q"), "RIGHT(articles.title, LENGTH($1)) = $1", []any{"q"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := Render(s, "article", tc.node)
			if err != nil {
				t.Fatalf("render: %v", err)
			}
			if f.SQL != tc.wantSQL {
				t.Fatalf("sql = %q, want %q", f.SQL, tc.wantSQL)
			}
			if !reflect.DeepEqual(f.Args, tc.wantArgs) {
				t.Fatalf("args = %#v, want %#v", f.Args, tc.wantArgs)
			}
		})
	}
}

func TestRenderLogical(t *testing.T) {
	s := testSchema(t)
	node := expr.And(
		expr.Or(expr.Eq("published", true), expr.Eq("author_id", "u1")),
		expr.Not(expr.IsNull("title")),
	)
	f, err := Render(s, "article", node)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "((articles.published = $1 OR articles.author_id = $2) AND NOT (articles.title IS NULL))"
	if f.SQL != want {
		t.Fatalf("sql = %q, want %q", f.SQL, want)
	}
	if !reflect.DeepEqual(f.Args, []any{true, "u1"}) {
		t.Fatalf("args = %#v", f.Args)
	}
}

func TestRenderExistsToOne(t *testing.T) {
	s := testSchema(t)
	node := expr.ExistsIn("author", expr.Eq("org_id", "org-1"))
	f, err := Render(s, "article", node)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "EXISTS (SELECT 1 FROM users t1 WHERE t1.id = articles.author_id AND (t1.org_id = $1))"
	if f.SQL != want {
		t.Fatalf("sql = %q, want %q", f.SQL, want)
	}
	if !reflect.DeepEqual(f.Args, []any{"org-1"}) {
		t.Fatalf("args = %#v", f.Args)
	}
}

func TestRenderNestedExists(t *testing.T) {
	s := testSchema(t)
	node := expr.ExistsPath([]string{"author", "org"}, expr.Eq("id", "org-1"))
	f, err := Render(s, "article", node)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(f.SQL, "FROM users t1") || !strings.Contains(f.SQL, "FROM orgs t2") {
		t.Fatalf("nested aliases missing: %q", f.SQL)
	}
	if !strings.Contains(f.SQL, "t2.id = t1.org_id") {
		t.Fatalf("inner hop join missing: %q", f.SQL)
	}
}

func TestRenderExistsManyToMany(t *testing.T) {
	s := testSchema(t)
	node := expr.ExistsIn("tags", expr.Eq("name", "internal"))
	f, err := Render(s, "article", node)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "EXISTS (SELECT 1 FROM article_tags t2 JOIN tags t1 ON t1.id = t2.tag_id WHERE t2.article_id = articles.id AND (t1.name = $1))"
	if f.SQL != want {
		t.Fatalf("sql = %q, want %q", f.SQL, want)
	}
}

func TestRenderErrors(t *testing.T) {
	s := testSchema(t)
	cases := []struct {
		name     string
		resource string
		node     expr.Node
	}{
		{"unknown resource", "ghost", expr.True()},
		{"unknown attribute", "article", expr.Eq("secret", 1)},
		{"unknown relationship", "article", expr.ExistsIn("reviewer", expr.True())},
		{"bad between bound", "article", expr.Comparison{Attr: "id", Op: expr.OpBetween, Value: 5}},
		{"not arity", "article", expr.Logical{Kind: expr.KindNot, Children: []expr.Node{expr.True(), expr.True()}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Render(s, tc.resource, tc.node); err == nil {
				t.Fatal("want error")
			}
		})
	}
}

func TestAuthorizeQuery(t *testing.T) {
	s := testSchema(t)
	node := expr.Eq("published", true)

	sql, args, err := AuthorizeQuery("SELECT * FROM articles", s, "article", node)
	if err != nil {
		t.Fatalf("authorize query: %v", err)
	}
	if sql != "SELECT * FROM articles WHERE (articles.published = $1)" {
		t.Fatalf("sql = %q", sql)
	}
	if !reflect.DeepEqual(args, []any{true}) {
		t.Fatalf("args = %#v", args)
	}

	sql, _, err = AuthorizeQuery("SELECT * FROM articles WHERE deleted_at IS NULL", s, "article", node)
	if err != nil {
		t.Fatalf("authorize query: %v", err)
	}
	if !strings.HasSuffix(sql, " AND (articles.published = $1)") {
		t.Fatalf("existing WHERE should append AND: %q", sql)
	}
}
