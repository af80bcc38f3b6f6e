package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"rowguard/pkg/httpx"
	"rowguard/pkg/schema"
)

// Client calls a remote decision service, for hosts that embed the
// policies in a sidecar instead of in process.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Retries    int
	RetryDelay time.Duration
	AuthHeader string
	AuthToken  string
}

type CheckResult struct {
	DecisionID    string `json:"decision_id"`
	Resource      string `json:"resource"`
	Action        string `json:"action"`
	Allowed       bool   `json:"allowed"`
	DenyByDefault bool   `json:"deny_by_default"`
}

type FilterResult struct {
	SQL  string `json:"sql"`
	Args []any  `json:"args"`
}

func (c *Client) Check(ctx context.Context, actor any, action string, inst schema.Instance) (CheckResult, error) {
	var out CheckResult
	payload, err := json.Marshal(map[string]any{
		"actor":    actor,
		"action":   action,
		"instance": encodeInstance(inst),
	})
	if err != nil {
		return out, err
	}
	return out, c.post(ctx, "/v1/check", payload, &out)
}

func (c *Client) Filter(ctx context.Context, actor any, resource, action string) (FilterResult, error) {
	var out FilterResult
	payload, err := json.Marshal(map[string]any{
		"actor":    actor,
		"action":   action,
		"resource": resource,
	})
	if err != nil {
		return out, err
	}
	return out, c.post(ctx, "/v1/filter", payload, &out)
}

func (c *Client) post(ctx context.Context, path string, payload []byte, out any) error {
	headers := map[string]string{}
	if c.AuthHeader != "" && c.AuthToken != "" {
		headers[c.AuthHeader] = c.AuthToken
	}
	status, body, err := httpx.RequestJSON(ctx, c.HTTPClient, http.MethodPost,
		strings.TrimRight(c.BaseURL, "/")+path, payload, headers, c.Retries, c.RetryDelay)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("decision service %s: status %d: %s", path, status, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, out)
}

// encodeInstance flattens an Instance back into the wire shape. Edges
// are carried recursively; attribute enumeration needs the concrete
// Record type, anything else sends attributes the caller set via Attrs.
func encodeInstance(inst schema.Instance) *instancePayload {
	if inst == nil {
		return nil
	}
	out := &instancePayload{Type: inst.ResourceType(), Attributes: map[string]any{}}
	rec, ok := inst.(*schema.Record)
	if !ok {
		return out
	}
	for k, v := range rec.Attrs {
		out.Attributes[k] = v
	}
	if len(rec.Edges) > 0 {
		out.Edges = make(map[string]edgePayload, len(rec.Edges))
		for name, edge := range rec.Edges {
			out.Edges[name] = encodeEdge(edge)
		}
	}
	return out
}

func encodeEdge(edge schema.Edge) edgePayload {
	switch edge.State {
	case schema.EdgeAbsent:
		return edgePayload{State: "absent"}
	case schema.EdgePresent:
		return edgePayload{State: "present", One: encodeInstance(edge.One)}
	case schema.EdgeCollection:
		many := make([]*instancePayload, 0, len(edge.Many))
		for _, item := range edge.Many {
			many = append(many, encodeInstance(item))
		}
		return edgePayload{State: "collection", Many: many}
	default:
		return edgePayload{State: "unloaded"}
	}
}
