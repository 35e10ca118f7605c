// Package sqlite is a file-backed persistence service. Documents are
// stored as canonical JSON, one row per (entity type, key), so a single
// database file serves any number of entity types.
package sqlite

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jmwren/replica/pkg/entity"
)

//go:embed schema.sql
var schemaSQL string

// currentSchemaVersion is the schema version this build expects.
// Stored in PRAGMA user_version.
//
// Version history:
//   1 - initial schema, documents table plus entity index
const currentSchemaVersion = 1

// Service persists documents in a local SQLite database.
type Service struct {
	db  *sql.DB
	reg *entity.Registry
}

// Open opens or creates the database at path. The registry supplies key
// extraction per entity type; nil falls back to defaults for every type.
func Open(path string, reg *entity.Registry) (*Service, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Serialize access through one connection. SQLite handles concurrency
	// at the file level; a single connection avoids lock contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Service{db: db, reg: reg}, nil
}

// Close closes the database connection.
func (s *Service) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying connection for tests.
func (s *Service) DB() *sql.DB {
	return s.db
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("pragma %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return runMigrations(db)
}

func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if version >= currentSchemaVersion {
		return nil
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return fmt.Errorf("migration to v1 failed: %w", err)
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return nil
}

// migrateToV1 backfills the entity index for databases created before the
// schema carried it.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_documents_entity ON documents(entity)`)
	return err
}

func (s *Service) definition(entityName string) *entity.Definition {
	if s.reg == nil {
		return entity.DefaultDefinition(entityName)
	}
	return s.reg.DefinitionOrDefault(entityName)
}

// encodeKey renders a key as canonical scalar JSON. Integer and string
// keys with the same digits stay distinct in the key column.
func encodeKey(key entity.Key) (string, error) {
	data, err := entity.MarshalCanonical(key.Value())
	if err != nil {
		return "", fmt.Errorf("encode key %s: %w", key, err)
	}
	return string(data), nil
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
