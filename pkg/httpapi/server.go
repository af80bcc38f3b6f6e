// Package httpapi exposes the authorizer as a small decision service:
// point checks, filter rendering, explanations, and a live decision
// stream over websocket.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"rowguard/pkg/audit"
	"rowguard/pkg/authz"
	"rowguard/pkg/httpx"
	"rowguard/pkg/metrics"
	"rowguard/pkg/policy"
	"rowguard/pkg/ratelimit"
	"rowguard/pkg/stream"
	"rowguard/pkg/telemetry"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type Server struct {
	Auth    *authz.Authorizer
	Metrics *metrics.Registry
	Events  *stream.Hub

	// Audit and Publisher are optional decision sinks; nil disables them.
	Audit     *audit.Writer
	Publisher *audit.Publisher

	RateLimiter        ratelimit.Limiter
	RateLimitEnabled   bool
	RateLimitPerMinute int

	// DecodeActor turns the request's actor document into the value
	// policy functions receive. Defaults to generic JSON decoding.
	DecodeActor func(raw json.RawMessage) (any, error)

	MaxRequestBodyBytes int64
	WSAllowedOrigins    []string
	ServiceName         string
}

type checkRequest struct {
	Actor    json.RawMessage `json:"actor"`
	Action   string          `json:"action"`
	Instance json.RawMessage `json:"instance"`
}

type filterRequest struct {
	Actor    json.RawMessage `json:"actor"`
	Action   string          `json:"action"`
	Resource string          `json:"resource"`
	BaseSQL  string          `json:"base_sql,omitempty"`
}

func (s *Server) Router() chi.Router {
	name := s.ServiceName
	if name == "" {
		name = "rowguard"
	}
	r := chi.NewRouter()
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(telemetry.HTTPMiddleware(name))
	r.Use(s.limitRequestBodyMiddleware)
	r.Use(s.metricsMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteJSON(w, 200, map[string]string{"status": "ok", "service": name})
	})
	if s.Metrics != nil {
		r.Get("/metrics", s.Metrics.Handler())
		r.Get("/metrics/prom", s.Metrics.PrometheusHandler())
	}

	r.With(s.rateLimitMiddleware).Post("/v1/check", s.handleCheck)
	r.With(s.rateLimitMiddleware).Post("/v1/filter", s.handleFilter)
	r.With(s.rateLimitMiddleware).Post("/v1/explain", s.handleExplain)
	r.Get("/v1/policies", s.handlePolicies)
	r.Get("/v1/stream", s.handleStream)
	return r
}

func (s *Server) handleCheck(w http.ResponseWriter, req *http.Request) {
	var body checkRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	if body.Action == "" {
		httpx.Error(w, 400, "action required")
		return
	}
	actor, err := s.decodeActor(body.Actor)
	if err != nil {
		httpx.Error(w, 400, err.Error())
		return
	}
	inst, err := decodeInstance(body.Instance)
	if err != nil {
		httpx.Error(w, 400, err.Error())
		return
	}

	start := time.Now()
	allowed, err := s.Auth.Can(actor, body.Action, inst)
	if err != nil {
		httpx.Error(w, 422, err.Error())
		return
	}
	resource := inst.ResourceType()
	denyByDefault := !s.Auth.Registry.HasPolicy(resource, body.Action)
	decisionID := uuid.New().String()
	s.recordDecision(req.Context(), decisionID, resource, body.Action, actorID(req, body.Actor), allowed, denyByDefault, time.Since(start))

	httpx.WriteJSON(w, 200, map[string]any{
		"decision_id":     decisionID,
		"resource":        resource,
		"action":          body.Action,
		"allowed":         allowed,
		"deny_by_default": denyByDefault,
	})
}

func (s *Server) handleFilter(w http.ResponseWriter, req *http.Request) {
	var body filterRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	if body.Action == "" || body.Resource == "" {
		httpx.Error(w, 400, "resource and action required")
		return
	}
	actor, err := s.decodeActor(body.Actor)
	if err != nil {
		httpx.Error(w, 400, err.Error())
		return
	}

	if body.BaseSQL != "" {
		sql, args, err := s.Auth.AuthorizeQuery(body.BaseSQL, body.Resource, body.Action, actor)
		if err != nil {
			httpx.Error(w, 422, err.Error())
			return
		}
		s.publishEvent(stream.EventFilter, map[string]any{"resource": body.Resource, "action": body.Action})
		httpx.WriteJSON(w, 200, map[string]any{"sql": sql, "args": args})
		return
	}
	filter, err := s.Auth.Filter(body.Resource, body.Action, actor)
	if err != nil {
		httpx.Error(w, 422, err.Error())
		return
	}
	s.publishEvent(stream.EventFilter, map[string]any{"resource": body.Resource, "action": body.Action})
	httpx.WriteJSON(w, 200, map[string]any{"sql": filter.SQL, "args": filter.Args})
}

func (s *Server) handleExplain(w http.ResponseWriter, req *http.Request) {
	var body checkRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		httpx.Error(w, 400, "invalid json")
		return
	}
	if body.Action == "" {
		httpx.Error(w, 400, "action required")
		return
	}
	actor, err := s.decodeActor(body.Actor)
	if err != nil {
		httpx.Error(w, 400, err.Error())
		return
	}
	inst, err := decodeInstance(body.Instance)
	if err != nil {
		httpx.Error(w, 400, err.Error())
		return
	}
	explanation, err := s.Auth.Explain(actor, body.Action, inst)
	if err != nil {
		httpx.Error(w, 422, err.Error())
		return
	}
	httpx.WriteJSON(w, 200, explanation)
}

func (s *Server) handlePolicies(w http.ResponseWriter, req *http.Request) {
	type policySummary struct {
		Resource    string `json:"resource"`
		Action      string `json:"action"`
		Name        string `json:"name,omitempty"`
		Description string `json:"description,omitempty"`
		Compose     string `json:"compose"`
	}
	regs := s.Auth.Registry.All()
	items := make([]policySummary, 0, len(regs))
	for _, reg := range regs {
		items = append(items, policySummary{
			Resource:    reg.Resource,
			Action:      reg.Action,
			Name:        reg.Name,
			Description: reg.Description,
			Compose:     string(policy.EffectiveMode(reg.Compose, s.Auth.Config)),
		})
	}
	httpx.WriteJSON(w, 200, map[string]any{"items": items})
}

func (s *Server) handleStream(w http.ResponseWriter, req *http.Request) {
	if s.Events == nil {
		httpx.Error(w, 503, "stream unavailable")
		return
	}
	opts := &websocket.AcceptOptions{}
	if len(s.WSAllowedOrigins) > 0 {
		opts.OriginPatterns = s.WSAllowedOrigins
	}
	conn, err := websocket.Accept(w, req, opts)
	if err != nil {
		return
	}
	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()
	sub := s.Events.Subscribe(64)
	defer s.Events.Unsubscribe(sub)

	_ = wsjson.Write(ctx, conn, stream.NewEvent("ready", nil))
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				readErr <- err
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case <-readErr:
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case evt, ok := <-sub:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "closed")
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, evt)
			cancelWrite()
			if err != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
				return
			}
		}
	}
}

// recordDecision fans one decision out to every configured sink. Sink
// failures are logged and never fail the request.
func (s *Server) recordDecision(ctx context.Context, decisionID, resource, action, actorRef string, allowed, denyByDefault bool, took time.Duration) {
	if s.Metrics != nil {
		s.Metrics.IncDecision(resource, action, allowed)
		if denyByDefault {
			s.Metrics.IncDenyByDefault(resource, action)
		}
		s.Metrics.ObserveEvalLatency(took)
	}
	rec := audit.Record{
		DecisionID:    decisionID,
		Resource:      resource,
		Action:        action,
		ActorIDHash:   actorRef,
		Allowed:       allowed,
		DenyByDefault: denyByDefault,
		CreatedAt:     time.Now().UTC(),
	}
	if s.Audit != nil {
		if err := s.Audit.Append(ctx, rec); err != nil {
			log.Printf("httpapi: audit append: %v", err)
		}
	}
	if s.Publisher != nil {
		if err := s.Publisher.Publish(ctx, rec); err != nil {
			log.Printf("httpapi: audit publish: %v", err)
		}
	}
	s.publishEvent(stream.EventDecision, rec)
}

func (s *Server) publishEvent(eventType string, data any) {
	if s.Events == nil {
		return
	}
	s.Events.Publish(stream.NewEvent(eventType, data))
}

func (s *Server) decodeActor(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("actor required")
	}
	if s.DecodeActor != nil {
		return s.DecodeActor(raw)
	}
	var actor any
	if err := json.Unmarshal(raw, &actor); err != nil {
		return nil, fmt.Errorf("invalid actor: %w", err)
	}
	return actor, nil
}

// actorID picks a stable limiter/audit reference for the caller: the
// X-Actor-ID header, the actor document's id field, then remote addr.
func actorID(req *http.Request, rawActor json.RawMessage) string {
	if v := strings.TrimSpace(req.Header.Get("X-Actor-ID")); v != "" {
		return v
	}
	var doc struct {
		ID any `json:"id"`
	}
	if err := json.Unmarshal(rawActor, &doc); err == nil && doc.ID != nil {
		return fmt.Sprintf("%v", doc.ID)
	}
	return req.RemoteAddr
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if s.Metrics == nil {
			next.ServeHTTP(w, req)
			return
		}
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(sw, req)
		s.Metrics.Observe(req.URL.Path, sw.status, time.Since(start))
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !s.RateLimitEnabled || s.RateLimiter == nil {
			next.ServeHTTP(w, req)
			return
		}
		key := ratelimit.ActorKey(strings.TrimSpace(req.Header.Get("X-Actor-ID")), req.URL.Path)
		decision := s.RateLimiter.Allow(key, s.RateLimitPerMinute)
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", decision.Limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", decision.Remaining))
		if !decision.Allowed {
			retryAfter := int(time.Until(decision.ResetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
			httpx.Error(w, 429, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (s *Server) limitRequestBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if s.MaxRequestBodyBytes > 0 && req.Body != nil {
			req.Body = http.MaxBytesReader(w, req.Body, s.MaxRequestBodyBytes)
		}
		next.ServeHTTP(w, req)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
