package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmwren/replica/pkg/entity"
)

// Add inserts a new document. The key comes from the type's key field;
// inserting an existing key returns ErrExists.
func (s *Service) Add(ctx context.Context, entityName string, doc entity.Doc) (entity.Doc, error) {
	def := s.definition(entityName)
	key, err := def.SelectID(doc)
	if err != nil {
		return nil, fmt.Errorf("add %s: %w", entityName, err)
	}

	keyText, err := encodeKey(key)
	if err != nil {
		return nil, err
	}
	docText, err := encodeDoc(doc)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (entity, key, doc) VALUES (?, ?, ?)
		 ON CONFLICT(entity, key) DO NOTHING`,
		entityName, keyText, docText,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert document: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check insert result: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: %s %s", entity.ErrExists, entityName, key)
	}

	return doc.Clone(), nil
}

// Update merges changes into an existing document and returns the merged
// result. Updating a missing key returns ErrNotFound. The read-merge-write
// runs in one transaction so concurrent writers never interleave.
func (s *Service) Update(ctx context.Context, entityName string, u entity.Update) (entity.Doc, error) {
	keyText, err := encodeKey(u.ID)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var docText string
	err = tx.QueryRowContext(ctx,
		`SELECT doc FROM documents WHERE entity = ? AND key = ?`,
		entityName, keyText,
	).Scan(&docText)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s %s", entity.ErrNotFound, entityName, u.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query document: %w", err)
	}

	existing, err := decodeDoc(docText)
	if err != nil {
		return nil, err
	}

	merged := existing.Merge(u.Changes)
	mergedText, err := encodeDoc(merged)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET doc = ? WHERE entity = ? AND key = ?`,
		mergedText, entityName, keyText,
	); err != nil {
		return nil, fmt.Errorf("failed to update document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit update: %w", err)
	}

	return merged, nil
}

// Delete removes a document. Deleting a missing key succeeds, so retried
// deletes stay safe.
func (s *Service) Delete(ctx context.Context, entityName string, key entity.Key) error {
	keyText, err := encodeKey(key)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE entity = ? AND key = ?`,
		entityName, keyText,
	); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}
