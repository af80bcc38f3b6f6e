package authz

import (
	"fmt"
	"strings"

	"rowguard/pkg/eval"
	"rowguard/pkg/policy"
	"rowguard/pkg/schema"
)

// PolicyEvaluation is one registration's individual verdict against a
// specific instance.
type PolicyEvaluation struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Compose     string `json:"compose"`
	Matched     bool   `json:"matched"`
}

// Explanation reports why a point check allowed or denied access,
// policy by policy.
type Explanation struct {
	Action        string             `json:"action"`
	Resource      string             `json:"resource"`
	Allowed       bool               `json:"allowed"`
	DenyByDefault bool               `json:"deny_by_default"`
	Policies      []PolicyEvaluation `json:"policies"`
}

func (e *Explanation) String() string {
	verdict := "DENIED"
	if e.Allowed {
		verdict = "ALLOWED"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Access Check: %s\n", verdict)
	fmt.Fprintf(&b, "  Action: %s\n", e.Action)
	fmt.Fprintf(&b, "  Resource: %s\n", e.Resource)
	if e.DenyByDefault {
		b.WriteString("  DENY BY DEFAULT (no policies registered)\n")
		return b.String()
	}
	b.WriteString("  Policy Results:\n")
	for _, p := range e.Policies {
		status := "NO MATCH"
		if p.Matched {
			status = "MATCH"
		}
		fmt.Fprintf(&b, "    - %s [%s] compose=%s: %s\n", p.Name, status, p.Compose, p.Description)
	}
	return b.String()
}

// Explain evaluates each registration individually against the
// instance and reports per-policy matches alongside the combined
// verdict. The combined verdict comes from the same compile-then-
// evaluate path Can uses, so it cannot drift from the real decision.
func (a *Authorizer) Explain(actor any, action string, inst schema.Instance) (*Explanation, error) {
	resource := inst.ResourceType()
	regs := a.Registry.Lookup(resource, action)
	out := &Explanation{
		Action:        action,
		Resource:      resource,
		DenyByDefault: len(regs) == 0,
	}
	if len(regs) == 0 {
		return out, nil
	}

	opts := a.evalOptions()
	for _, r := range regs {
		node := r.Fn(actor)
		matched := false
		if node != nil {
			m, err := eval.Evaluate(node, inst, opts)
			if err != nil {
				return nil, err
			}
			matched = m
		}
		out.Policies = append(out.Policies, PolicyEvaluation{
			Name:        r.Name,
			Description: r.Description,
			Compose:     string(policy.EffectiveMode(r.Compose, a.Config)),
			Matched:     matched,
		})
	}

	combined, err := a.Compile(resource, action, actor)
	if err != nil {
		return nil, err
	}
	allowed, err := eval.Evaluate(combined, inst, opts)
	if err != nil {
		return nil, err
	}
	out.Allowed = allowed
	return out, nil
}
