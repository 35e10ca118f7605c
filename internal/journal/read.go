package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmwren/replica/pkg/entity"
)

// Record is one journaled action row.
type Record struct {
	Seq           int64
	ID            string
	Entity        string
	Action        entity.Action
	CorrelationID string
	SnapshotHash  string
}

// ReadAll returns every journaled action in applied order.
func (j *Journal) ReadAll(ctx context.Context) ([]Record, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, id, entity, op, action, correlation_id, snapshot_hash
		FROM actions
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("read actions: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// ReadEntity returns every journaled action for one entity type, in
// applied order.
func (j *Journal) ReadEntity(ctx context.Context, name string) ([]Record, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, id, entity, op, action, correlation_id, snapshot_hash
		FROM actions
		WHERE entity = ?
		ORDER BY seq ASC
	`, name)
	if err != nil {
		return nil, fmt.Errorf("read actions for %s: %w", name, err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// LastSeq returns the highest sequence number in the journal, or 0 for an
// empty journal. Used to resume the store's logical clock after a restart.
func (j *Journal) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := j.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM actions
	`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq, nil
}

// Count returns the number of journaled actions.
func (j *Journal) Count(ctx context.Context) (int, error) {
	var n int
	err := j.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM actions
	`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count actions: %w", err)
	}
	return n, nil
}

func collectRecords(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", err)
	}

	if records == nil {
		records = []Record{}
	}

	return records, nil
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var rec Record
	var opName, body string

	err := rows.Scan(
		&rec.Seq,
		&rec.ID,
		&rec.Entity,
		&opName,
		&body,
		&rec.CorrelationID,
		&rec.SnapshotHash,
	)
	if err != nil {
		return Record{}, fmt.Errorf("scan action: %w", err)
	}

	if err := json.Unmarshal([]byte(body), &rec.Action); err != nil {
		return Record{}, fmt.Errorf("decode action seq %d: %w", rec.Seq, err)
	}

	return rec, nil
}
