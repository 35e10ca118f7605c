package journal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmwren/replica/pkg/entity"
)

// Append records one applied action and the snapshot hash of the cache it
// produced. Uses ON CONFLICT(seq) DO NOTHING for idempotency - re-appending
// an already journaled sequence number is silently ignored, so a crash
// between apply and acknowledge cannot duplicate rows.
//
// The action is serialized to deterministic JSON; its content-addressed ID
// and the snapshot hash are recomputable from the row, which is what Verify
// checks.
func (j *Journal) Append(ctx context.Context, a entity.Action, after *entity.Cache) error {
	id, err := entity.ActionID(a)
	if err != nil {
		return fmt.Errorf("append action: %w", err)
	}

	if after == nil {
		after = entity.NewCache()
	}
	snapshot, err := entity.SnapshotHash(after)
	if err != nil {
		return fmt.Errorf("append action: %w", err)
	}

	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("append action: %w", err)
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO actions
		(seq, id, entity, op, action, correlation_id, snapshot_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(seq) DO NOTHING
	`,
		a.Seq,
		id,
		a.Entity,
		a.Op.String(),
		string(body),
		a.CorrelationID,
		snapshot,
	)
	if err != nil {
		return fmt.Errorf("append action: %w", err)
	}

	return nil
}
