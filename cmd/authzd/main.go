package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"rowguard/pkg/audit"
	"rowguard/pkg/authz"
	"rowguard/pkg/config"
	"rowguard/pkg/expr"
	"rowguard/pkg/httpapi"
	"rowguard/pkg/httpx"
	"rowguard/pkg/metrics"
	"rowguard/pkg/policy"
	"rowguard/pkg/ratelimit"
	"rowguard/pkg/schema"
	"rowguard/pkg/store"
	"rowguard/pkg/stream"
	"rowguard/pkg/telemetry"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Testable variables for main()
var (
	logFatalf       = log.Fatalf
	initTelemetryFn = telemetry.Init
	openDBFn        func(context.Context) (*pgxpool.Pool, error)
	openRedisFn     func(context.Context) (*redis.Client, error)
	listenFn        func(*http.Server) error
)

func main() {
	if err := run(initTelemetryFn, openDBFn, openRedisFn, listenFn); err != nil {
		logFatalf("authzd: %v", err)
	}
}

func run(
	initTelemetry func(context.Context, string) (func(context.Context) error, error),
	openDB func(context.Context) (*pgxpool.Pool, error),
	openRedis func(context.Context) (*redis.Client, error),
	listen func(*http.Server) error,
) error {
	if initTelemetry == nil {
		initTelemetry = telemetry.Init
	}
	if openDB == nil {
		openDB = store.NewPostgresPool
	}
	if openRedis == nil {
		openRedis = store.NewRedis
	}
	if listen == nil {
		listen = func(server *http.Server) error { return server.ListenAndServe() }
	}

	ctx := context.Background()
	shutdown, err := initTelemetry(ctx, "authzd")
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	cfg := config.FromEnv()
	reg := policy.NewRegistry()
	sch := contentSchema()
	if env("AUTHZD_DEMO_POLICIES", "true") == "true" {
		if err := registerContentPolicies(reg); err != nil {
			return err
		}
	}
	auth := authz.New(reg, sch, cfg)

	server := &httpapi.Server{
		Auth:                auth,
		Metrics:             metrics.NewRegistry(),
		Events:              stream.NewHub(),
		RateLimitEnabled:    env("RATE_LIMIT_ENABLED", "false") == "true",
		RateLimitPerMinute:  envInt("RATE_LIMIT_PER_MINUTE", 600),
		MaxRequestBodyBytes: int64(envInt("MAX_REQUEST_BODY_BYTES", 1<<20)),
		WSAllowedOrigins:    splitCSV(env("WS_ALLOWED_ORIGINS", "")),
		ServiceName:         "authzd",
	}

	if env("DATABASE_ENABLED", "false") == "true" {
		pool, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()
		server.Audit = &audit.Writer{
			DB:       pool,
			HashSalt: []byte(env("AUDIT_HASH_SALT", "")),
			Redact:   env("AUDIT_REDACT_ACTOR", "true") == "true",
		}
		if env("SCHEMA_INTROSPECT", "false") == "true" {
			introspected, err := schema.IntrospectPostgres(ctx, pool, env("SCHEMA_NAME", "public"))
			if err != nil {
				return err
			}
			auth.Schema = introspected
			auth.Resolver = schema.NewResolver(introspected)
		}
	}

	if env("RATE_LIMIT_BACKEND", "memory") == "redis" {
		client, err := openRedis(ctx)
		if err != nil {
			log.Printf("authzd: redis unavailable, using in-memory limiter: %v", err)
			server.RateLimiter = ratelimit.NewInMemory(time.Minute)
		} else {
			defer func() { _ = client.Close() }()
			server.RateLimiter = ratelimit.NewRedis(client, time.Minute)
		}
	} else {
		server.RateLimiter = ratelimit.NewInMemory(time.Minute)
	}

	if brokers := splitCSV(env("KAFKA_BROKERS", "")); len(brokers) > 0 {
		publisher, err := audit.NewPublisher(audit.PublisherConfig{
			Brokers: brokers,
			Topic:   env("KAFKA_DECISIONS_TOPIC", "authz.decisions"),
		})
		if err != nil {
			return err
		}
		defer func() { _ = publisher.Close() }()
		server.Publisher = publisher
	}

	handler := httpx.CORSMiddleware(env("CORS_ALLOWED_ORIGINS", ""))(server.Router())
	addr := env("ADDR", ":8090")
	log.Printf("authzd listening on %s", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: envDurationSec("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		ReadTimeout:       envDurationSec("HTTP_READ_TIMEOUT_SEC", 15),
		WriteTimeout:      envDurationSec("HTTP_WRITE_TIMEOUT_SEC", 30),
		IdleTimeout:       envDurationSec("HTTP_IDLE_TIMEOUT_SEC", 120),
	}
	return listen(srv)
}

// contentSchema describes the demo content domain: articles written by
// users who belong to organizations, with an article/tag many-to-many.
func contentSchema() *schema.Schema {
	s := schema.New()
	_ = s.AddResource(schema.ResourceType{
		Name:  "article",
		Table: "articles",
		Attributes: map[string]string{
			"id":        "id",
			"title":     "title",
			"published": "published",
			"author_id": "author_id",
		},
		Relationships: map[string]schema.Relationship{
			"author": {
				Name:         "author",
				Target:       "user",
				Cardinality:  schema.ToOne,
				LocalColumn:  "author_id",
				RemoteColumn: "id",
			},
			"tags": {
				Name:             "tags",
				Target:           "tag",
				Cardinality:      schema.ToMany,
				LocalColumn:      "id",
				RemoteColumn:     "id",
				JoinTable:        "article_tags",
				JoinLocalColumn:  "article_id",
				JoinRemoteColumn: "tag_id",
			},
		},
	})
	_ = s.AddResource(schema.ResourceType{
		Name:  "user",
		Table: "users",
		Attributes: map[string]string{
			"id":     "id",
			"org_id": "org_id",
		},
		Relationships: map[string]schema.Relationship{
			"org": {
				Name:         "org",
				Target:       "org",
				Cardinality:  schema.ToOne,
				LocalColumn:  "org_id",
				RemoteColumn: "id",
			},
		},
	})
	_ = s.AddResource(schema.ResourceType{
		Name:       "org",
		Table:      "orgs",
		Attributes: map[string]string{"id": "id"},
	})
	_ = s.AddResource(schema.ResourceType{
		Name:       "tag",
		Table:      "tags",
		Attributes: map[string]string{"id": "id", "name": "name"},
	})
	return s
}

func registerContentPolicies(reg *policy.Registry) error {
	regs := []policy.Registration{
		{
			Resource:    "article",
			Action:      "read",
			Name:        "published-articles",
			Description: "anyone can read published articles",
			Fn: func(actor any) expr.Node {
				return expr.Eq("published", true)
			},
		},
		{
			Resource:    "article",
			Action:      "read",
			Name:        "own-articles",
			Description: "authors can read their own drafts",
			Fn: func(actor any) expr.Node {
				id, ok := actorField(actor, "id")
				if !ok {
					return expr.False()
				}
				return expr.Eq("author_id", id)
			},
		},
		{
			Resource:    "article",
			Action:      "edit",
			Name:        "org-articles",
			Description: "members can edit articles authored inside their org",
			Fn: func(actor any) expr.Node {
				orgID, ok := actorField(actor, "org_id")
				if !ok {
					return expr.False()
				}
				return expr.ExistsIn("author", expr.Eq("org_id", orgID))
			},
		},
	}
	for _, r := range regs {
		if err := reg.Register(r); err != nil {
			return err
		}
	}
	return nil
}

// actorField reads a field from the generic JSON actor document the
// HTTP surface decodes.
func actorField(actor any, name string) (any, bool) {
	doc, ok := actor.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := doc[name]
	return v, ok
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDurationSec(k string, def int) time.Duration {
	return time.Second * time.Duration(envInt(k, def))
}
