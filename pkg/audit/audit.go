// Package audit records authorization decisions: a log line, a
// Postgres row, or a Kafka event, depending on what the host wires in.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type auditDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Record is one authorization decision.
type Record struct {
	DecisionID    string          `json:"decision_id"`
	Resource      string          `json:"resource"`
	Action        string          `json:"action"`
	ActorIDHash   string          `json:"actor_id_hash"`
	Allowed       bool            `json:"allowed"`
	DenyByDefault bool            `json:"deny_by_default"`
	PolicyNames   []string        `json:"policy_names,omitempty"`
	Detail        json.RawMessage `json:"detail,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Writer persists decision records to Postgres. When Redact is set the
// actor identifier is salted-hashed before it leaves the process.
type Writer struct {
	DB       auditDB
	HashSalt []byte
	Redact   bool
}

// Append inserts one decision record.
func (w *Writer) Append(ctx context.Context, rec Record) error {
	if w.Redact {
		rec.ActorIDHash = HashActorID(rec.ActorIDHash, w.HashSalt)
	}
	_, err := w.DB.Exec(ctx, `
		INSERT INTO authz_decisions
		(decision_id, resource, action, actor_id_hash, allowed, deny_by_default, policy_names, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, rec.DecisionID, rec.Resource, rec.Action, rec.ActorIDHash, rec.Allowed, rec.DenyByDefault, rec.PolicyNames, rec.Detail, rec.CreatedAt)
	return err
}

// Get fetches one decision record by ID.
func (w *Writer) Get(ctx context.Context, decisionID string) (Record, error) {
	var rec Record
	row := w.DB.QueryRow(ctx, `
		SELECT decision_id, resource, action, actor_id_hash, allowed, deny_by_default, policy_names, detail, created_at
		FROM authz_decisions WHERE decision_id=$1
	`, decisionID)
	var detail json.RawMessage
	if err := row.Scan(&rec.DecisionID, &rec.Resource, &rec.Action, &rec.ActorIDHash, &rec.Allowed, &rec.DenyByDefault, &rec.PolicyNames, &detail, &rec.CreatedAt); err != nil {
		return rec, err
	}
	rec.Detail = detail
	return rec, nil
}
