package entity

import "errors"

// Sentinel errors shared across the cache, the dispatchers, and the data
// services. Wrap with fmt.Errorf("...: %w", ...) and classify with
// errors.Is.
var (
	// ErrNotFound reports that no entity exists under the given key.
	ErrNotFound = errors.New("entity not found")

	// ErrExists reports that an add hit an already-present key.
	ErrExists = errors.New("entity already exists")

	// ErrInvalidKey reports a value that cannot serve as a primary key.
	ErrInvalidKey = errors.New("invalid entity key")

	// ErrMissingKey reports a document or update from which no key could
	// be extracted.
	ErrMissingKey = errors.New("missing entity key")

	// ErrNilDocument reports a nil document where one was required.
	ErrNilDocument = errors.New("nil entity document")

	// ErrUnknownEntity reports an entity type absent from the registry.
	ErrUnknownEntity = errors.New("unknown entity type")

	// ErrNoDataService reports a persistence command on a store that was
	// built without a data service.
	ErrNoDataService = errors.New("no data service configured")

	// ErrStoreClosed reports a dispatch after the store shut down.
	ErrStoreClosed = errors.New("store closed")

	// ErrInvalidAction reports an action that failed structural validation.
	ErrInvalidAction = errors.New("invalid action")
)
