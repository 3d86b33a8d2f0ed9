package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event is one append-only audit record. ProjectID and EntityID may be
// empty for global entities such as skills and people.
type Event struct {
	Type      string
	ProjectID string
	Entity    string
	EntityID  string
	Actor     string
	Payload   map[string]any
}

// Writer appends events inside the caller's transaction so the audit
// trail commits or rolls back together with the mutation it describes.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, ev Event) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if ev.Payload == nil {
		ev.Payload = map[string]any{}
	}
	data, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339), ev.Type, orNull(ev.ProjectID), ev.Entity, orNull(ev.EntityID), ev.Actor, string(data))
	return err
}

func orNull(v string) any {
	if v == "" {
		return nil
	}
	return v
}
