package cache

import (
	"context"
	"fmt"

	"github.com/jmwren/replica/internal/metrics"
	"github.com/jmwren/replica/pkg/entity"
)

// DataService is the remote persistence boundary. All operations are
// context-bound; any failure is mapped to an _ERROR reconciliation action
// without the coordinator inspecting transport specifics.
//
// The bundled implementations live under pkg/remote.
type DataService interface {
	GetAll(ctx context.Context, entityName string) ([]entity.Doc, error)
	GetByID(ctx context.Context, entityName string, key entity.Key) (entity.Doc, error)
	GetWithQuery(ctx context.Context, entityName string, q entity.Query) ([]entity.Doc, error)
	Add(ctx context.Context, entityName string, doc entity.Doc) (entity.Doc, error)
	Update(ctx context.Context, entityName string, u entity.Update) (entity.Doc, error)
	Delete(ctx context.Context, entityName string, key entity.Key) error
}

// startPersistence launches the remote call for an applied persistence
// action. Called from the Run loop only; the call itself runs in its own
// goroutine and re-enqueues its result, so the reducer stays the single
// writer. Never retries.
func (s *Store) startPersistence(ctx context.Context, a entity.Action) {
	if !a.Op.IsPersistence() {
		return
	}
	metrics.Inc(metrics.PersistStarted)
	s.pending.inc()
	go s.persist(ctx, a)
}

func (s *Store) persist(ctx context.Context, a entity.Action) {
	defer s.pending.dec()

	result := s.callService(ctx, a)
	if result.Op.IsError() {
		metrics.Inc(metrics.PersistFailed)
		s.logger.Debug("persistence failed",
			"entity", a.Entity,
			"op", a.Op.String(),
			"correlation_id", a.CorrelationID,
			"error", result.Err.Message,
		)
	} else {
		metrics.Inc(metrics.PersistSucceeded)
	}

	s.enqueueResult(result)
}

// callService invokes the matching data-service operation and synthesizes
// exactly one reconciliation action.
func (s *Store) callService(ctx context.Context, a entity.Action) entity.Action {
	switch a.Op {
	case entity.OpQueryAll:
		docs, err := s.service.GetAll(ctx, a.Entity)
		if err != nil {
			return failureFor(a, err)
		}
		return successFor(a, entity.DocsPayload(nonNilDocs(docs)))

	case entity.OpQueryByKey:
		doc, err := s.service.GetByID(ctx, a.Entity, a.Payload.Key)
		if err != nil {
			return failureFor(a, err)
		}
		if doc == nil {
			return failureFor(a, fmt.Errorf("service returned no document for key %s", a.Payload.Key))
		}
		return successFor(a, entity.DocPayload(doc))

	case entity.OpQueryMany:
		docs, err := s.service.GetWithQuery(ctx, a.Entity, a.Payload.Query)
		if err != nil {
			return failureFor(a, err)
		}
		return successFor(a, entity.DocsPayload(nonNilDocs(docs)))

	case entity.OpSaveAdd:
		doc, err := s.service.Add(ctx, a.Entity, a.Payload.Doc)
		if err != nil {
			return failureFor(a, err)
		}
		if doc == nil {
			// Service confirmed without echoing a body; the command's own
			// document is the confirmed entity.
			doc = a.Payload.Doc
		}
		return successFor(a, entity.DocPayload(doc))

	case entity.OpSaveUpdate:
		u := *a.Payload.Update
		doc, err := s.service.Update(ctx, a.Entity, u)
		if err != nil {
			return failureFor(a, err)
		}
		changes := u.Changes
		if doc != nil {
			changes = doc
		}
		return successFor(a, entity.UpdatePayload(entity.Update{ID: u.ID, Changes: changes}))

	case entity.OpSaveDelete:
		if err := s.service.Delete(ctx, a.Entity, a.Payload.Key); err != nil {
			return failureFor(a, err)
		}
		return successFor(a, entity.KeyPayload(a.Payload.Key))
	}

	return failureFor(a, fmt.Errorf("op %s is not a persistence op", a.Op))
}

func successFor(a entity.Action, payload *entity.Payload) entity.Action {
	op, ok := a.Op.Success()
	if !ok {
		op = entity.OpUnknown
	}
	return entity.Action{
		Entity:        a.Entity,
		Op:            op,
		Payload:       payload,
		CorrelationID: a.CorrelationID,
	}
}

func failureFor(a entity.Action, err error) entity.Action {
	op, ok := a.Op.Failure()
	if !ok {
		op = entity.OpUnknown
	}
	return entity.Action{
		Entity:        a.Entity,
		Op:            op,
		Err:           &entity.ActionError{Message: err.Error()},
		CorrelationID: a.CorrelationID,
	}
}

// enqueueResult feeds a reconciliation action back through the store queue.
// A result arriving after Close is dropped; the store is shutting down and
// the cache will not transition again.
func (s *Store) enqueueResult(a entity.Action) {
	s.pending.inc()
	if !s.queue.Enqueue(a) {
		s.pending.dec()
		s.logger.Debug("reconciliation dropped, store closed",
			"entity", a.Entity,
			"op", a.Op.String(),
			"correlation_id", a.CorrelationID,
		)
	}
}

func nonNilDocs(docs []entity.Doc) []entity.Doc {
	if docs == nil {
		return []entity.Doc{}
	}
	return docs
}
