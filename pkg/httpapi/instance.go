package httpapi

import (
	"encoding/json"
	"fmt"

	"rowguard/pkg/schema"
)

// instancePayload is the wire shape of a loaded resource object: the
// resource type name, its attribute values, and the relationship edges
// the caller has loaded. Edges missing from the map are unloaded.
type instancePayload struct {
	Type       string                 `json:"type"`
	Attributes map[string]any         `json:"attributes"`
	Edges      map[string]edgePayload `json:"edges,omitempty"`
}

type edgePayload struct {
	State string             `json:"state"`
	One   *instancePayload   `json:"one,omitempty"`
	Many  []*instancePayload `json:"many,omitempty"`
}

func (p *instancePayload) toInstance() (schema.Instance, error) {
	if p == nil {
		return nil, fmt.Errorf("instance required")
	}
	if p.Type == "" {
		return nil, fmt.Errorf("instance type required")
	}
	rec := &schema.Record{
		Type:  p.Type,
		Attrs: p.Attributes,
	}
	if rec.Attrs == nil {
		rec.Attrs = map[string]any{}
	}
	if len(p.Edges) > 0 {
		rec.Edges = make(map[string]schema.Edge, len(p.Edges))
		for name, edge := range p.Edges {
			built, err := edge.toEdge()
			if err != nil {
				return nil, fmt.Errorf("edge %q: %w", name, err)
			}
			rec.Edges[name] = built
		}
	}
	return rec, nil
}

func (e edgePayload) toEdge() (schema.Edge, error) {
	switch e.State {
	case "unloaded", "":
		return schema.Unloaded(), nil
	case "absent":
		return schema.LoadedNone(), nil
	case "present":
		if e.One == nil {
			return schema.Edge{}, fmt.Errorf("present edge requires one")
		}
		inner, err := e.One.toInstance()
		if err != nil {
			return schema.Edge{}, err
		}
		return schema.LoadedOne(inner), nil
	case "collection":
		items := make([]schema.Instance, 0, len(e.Many))
		for i, item := range e.Many {
			inner, err := item.toInstance()
			if err != nil {
				return schema.Edge{}, fmt.Errorf("item %d: %w", i, err)
			}
			items = append(items, inner)
		}
		return schema.LoadedMany(items...), nil
	default:
		return schema.Edge{}, fmt.Errorf("unknown edge state %q", e.State)
	}
}

func decodeInstance(raw json.RawMessage) (schema.Instance, error) {
	var p instancePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid instance: %w", err)
	}
	return p.toInstance()
}
