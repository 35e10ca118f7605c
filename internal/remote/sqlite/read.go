package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/jmwren/replica/pkg/entity"
)

// GetAll returns every document of the given type in key order.
func (s *Service) GetAll(ctx context.Context, entityName string) ([]entity.Doc, error) {
	return s.list(ctx, entityName, nil)
}

// GetByID returns the document with the given key, or ErrNotFound.
func (s *Service) GetByID(ctx context.Context, entityName string, key entity.Key) (entity.Doc, error) {
	keyText, err := encodeKey(key)
	if err != nil {
		return nil, err
	}

	var docText string
	err = s.db.QueryRowContext(ctx,
		`SELECT doc FROM documents WHERE entity = ? AND key = ?`,
		entityName, keyText,
	).Scan(&docText)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s %s", entity.ErrNotFound, entityName, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query document: %w", err)
	}

	return decodeDoc(docText)
}

// GetWithQuery returns the documents matching every query field, in key
// order. Matching follows the query's scalar-equality semantics, so it
// runs over decoded documents rather than in SQL.
func (s *Service) GetWithQuery(ctx context.Context, entityName string, q entity.Query) ([]entity.Doc, error) {
	return s.list(ctx, entityName, func(doc entity.Doc) bool {
		return q.Matches(doc)
	})
}

func (s *Service) list(ctx context.Context, entityName string, match func(entity.Doc) bool) ([]entity.Doc, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, doc FROM documents WHERE entity = ?`,
		entityName,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	type record struct {
		key entity.Key
		doc entity.Doc
	}

	var records []record
	for rows.Next() {
		var keyText, docText string
		if err := rows.Scan(&keyText, &docText); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}

		key, err := decodeKey(keyText)
		if err != nil {
			return nil, err
		}
		doc, err := decodeDoc(docText)
		if err != nil {
			return nil, err
		}

		if match != nil && !match(doc) {
			continue
		}
		records = append(records, record{key: key, doc: doc})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read documents: %w", err)
	}

	slices.SortFunc(records, func(a, b record) int {
		return entity.CompareKeys(a.key, b.key)
	})

	docs := make([]entity.Doc, len(records))
	for i, rec := range records {
		docs[i] = rec.doc
	}
	return docs, nil
}
