// Package redis is a persistence service backed by a Redis server.
// Each document lives under "<entity>:<key>" with the key rendered as
// canonical scalar JSON, so integer and string keys never collide.
// Values are canonical document JSON.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/jmwren/replica/pkg/entity"
)

// scanCount is the batch hint for SCAN iterations.
const scanCount = 100

// Options configures the connection and write behavior.
type Options struct {
	Addr     string
	Password string
	DB       int

	// TTL expires documents this long after their last write; zero keeps
	// them forever.
	TTL time.Duration
}

// Service persists documents in Redis.
type Service struct {
	client *redis.Client
	ttl    time.Duration
	reg    *entity.Registry
}

// New creates a service connected per opts. The registry supplies key
// extraction per entity type; nil falls back to defaults for every type.
func New(opts Options, reg *entity.Registry) *Service {
	return &Service{
		client: redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		}),
		ttl: opts.TTL,
		reg: reg,
	}
}

// Close closes the client connection.
func (s *Service) Close() error {
	return s.client.Close()
}

// GetAll returns every document of the given type in key order.
func (s *Service) GetAll(ctx context.Context, entityName string) ([]entity.Doc, error) {
	return s.list(ctx, entityName, nil)
}

// GetByID returns the document with the given key, or ErrNotFound.
func (s *Service) GetByID(ctx context.Context, entityName string, key entity.Key) (entity.Doc, error) {
	dataKey, err := s.dataKey(entityName, key)
	if err != nil {
		return nil, err
	}

	val, err := s.client.Get(ctx, dataKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s %s", entity.ErrNotFound, entityName, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return decodeDoc(val)
}

// GetWithQuery returns the documents matching every query field, in key
// order. Redis has no field index over JSON values, so matching runs
// client-side over the scanned documents.
func (s *Service) GetWithQuery(ctx context.Context, entityName string, q entity.Query) ([]entity.Doc, error) {
	return s.list(ctx, entityName, func(doc entity.Doc) bool {
		return q.Matches(doc)
	})
}

// Add inserts a new document. SET NX makes the existence check and the
// write one atomic step; a present key returns ErrExists.
func (s *Service) Add(ctx context.Context, entityName string, doc entity.Doc) (entity.Doc, error) {
	def := s.definition(entityName)
	key, err := def.SelectID(doc)
	if err != nil {
		return nil, fmt.Errorf("add %s: %w", entityName, err)
	}

	dataKey, err := s.dataKey(entityName, key)
	if err != nil {
		return nil, err
	}
	docText, err := encodeDoc(doc)
	if err != nil {
		return nil, err
	}

	stored, err := s.client.SetNX(ctx, dataKey, docText, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to insert document: %w", err)
	}
	if !stored {
		return nil, fmt.Errorf("%w: %s %s", entity.ErrExists, entityName, key)
	}

	return doc.Clone(), nil
}

// Update merges changes into an existing document and returns the merged
// result. Updating a missing key returns ErrNotFound. The rewrite
// restarts the expiry clock when a TTL is configured.
func (s *Service) Update(ctx context.Context, entityName string, u entity.Update) (entity.Doc, error) {
	dataKey, err := s.dataKey(entityName, u.ID)
	if err != nil {
		return nil, err
	}

	val, err := s.client.Get(ctx, dataKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s %s", entity.ErrNotFound, entityName, u.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	existing, err := decodeDoc(val)
	if err != nil {
		return nil, err
	}

	merged := existing.Merge(u.Changes)
	mergedText, err := encodeDoc(merged)
	if err != nil {
		return nil, err
	}

	if err := s.client.Set(ctx, dataKey, mergedText, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("failed to update document: %w", err)
	}
	return merged, nil
}

// Delete removes a document. DEL of a missing key is a no-op, so retried
// deletes stay safe.
func (s *Service) Delete(ctx context.Context, entityName string, key entity.Key) error {
	dataKey, err := s.dataKey(entityName, key)
	if err != nil {
		return err
	}

	if err := s.client.Del(ctx, dataKey).Err(); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

func (s *Service) list(ctx context.Context, entityName string, match func(entity.Doc) bool) ([]entity.Doc, error) {
	prefix := entityName + ":"

	var dataKeys []string
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, prefix+"*", scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan documents: %w", err)
		}
		dataKeys = append(dataKeys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}

	if len(dataKeys) == 0 {
		return []entity.Doc{}, nil
	}

	vals, err := s.client.MGet(ctx, dataKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read documents: %w", err)
	}

	type record struct {
		key entity.Key
		doc entity.Doc
	}

	var records []record
	for i, val := range vals {
		text, ok := val.(string)
		if !ok {
			// Expired between SCAN and MGET.
			continue
		}

		key, err := decodeKey(strings.TrimPrefix(dataKeys[i], prefix))
		if err != nil {
			return nil, err
		}
		doc, err := decodeDoc(text)
		if err != nil {
			return nil, err
		}

		if match != nil && !match(doc) {
			continue
		}
		records = append(records, record{key: key, doc: doc})
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

func (s *Service) dataKey(entityName string, key entity.Key) (string, error) {
	data, err := entity.MarshalCanonical(key.Value())
	if err != nil {
		return "", fmt.Errorf("encode key %s: %w", key, err)
	}
	return entityName + ":" + string(data), nil
}

func (s *Service) definition(entityName string) *entity.Definition {
	if s.reg == nil {
		return entity.DefaultDefinition(entityName)
	}
	return s.reg.DefinitionOrDefault(entityName)
}

func encodeDoc(doc entity.Doc) (string, error) {
	data, err := entity.MarshalCanonical(doc)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	return string(data), nil
}

func decodeDoc(data string) (entity.Doc, error) {
	var doc entity.Doc
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}

func decodeKey(data string) (entity.Key, error) {
	v, err := entity.UnmarshalValue([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	key, err := entity.KeyOf(v)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	return key, nil
}
