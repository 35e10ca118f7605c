// Package rest is a persistence service speaking JSON over HTTP.
// Collection reads address the plural resource name, single-document
// operations the singular, so the remote API reads naturally:
//
//	GET    base/heroes        list
//	GET    base/heroes?f=v    query
//	GET    base/hero/42       fetch
//	POST   base/hero          add
//	PUT    base/hero/42       update
//	DELETE base/hero/42       delete
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jmwren/replica/pkg/entity"
)

const (
	httpTimeout = 30 * time.Second

	// errBodyLimit caps how much of an error response body is quoted
	// back in error messages.
	errBodyLimit = 512
)

// Service talks to a remote document API.
type Service struct {
	baseURL string
	reg     *entity.Registry
	client  *http.Client
	logger  *slog.Logger
}

// New creates a service rooted at baseURL. The registry supplies resource
// naming per entity type; nil falls back to defaults for every type.
func New(baseURL string, reg *entity.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		baseURL: strings.TrimRight(baseURL, "/"),
		reg:     reg,
		client:  &http.Client{Timeout: httpTimeout},
		logger:  logger,
	}
}

// Close releases idle connections held by the shared client.
func (s *Service) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// GetAll fetches every document of the given type.
func (s *Service) GetAll(ctx context.Context, entityName string) ([]entity.Doc, error) {
	def := s.definition(entityName)
	return s.getList(ctx, s.baseURL+"/"+url.PathEscape(def.Plural))
}

// GetByID fetches one document, or ErrNotFound.
func (s *Service) GetByID(ctx context.Context, entityName string, key entity.Key) (entity.Doc, error) {
	raw, err := s.do(ctx, http.MethodGet, s.resourceURL(entityName, key), nil)
	if err != nil {
		return nil, err
	}
	return decodeDoc(raw)
}

// GetWithQuery fetches the documents matching the query. Fields are
// carried as URL parameters in sorted order; the remote side filters.
func (s *Service) GetWithQuery(ctx context.Context, entityName string, q entity.Query) ([]entity.Doc, error) {
	def := s.definition(entityName)
	u := s.baseURL + "/" + url.PathEscape(def.Plural)
	if encoded := q.Encode(); encoded != "" {
		u += "?" + encoded
	}
	return s.getList(ctx, u)
}

// Add posts a new document and returns the stored result. The remote
// side owns key assignment, so a document without a key is still a valid
// add; the response carries the assigned key.
func (s *Service) Add(ctx context.Context, entityName string, doc entity.Doc) (entity.Doc, error) {
	def := s.definition(entityName)
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshaling document: %w", err)
	}

	raw, err := s.do(ctx, http.MethodPost, s.baseURL+"/"+url.PathEscape(def.Name), body)
	if err != nil {
		return nil, err
	}
	return decodeDoc(raw)
}

// Update puts a partial document against an existing key and returns the
// merged result from the remote side.
func (s *Service) Update(ctx context.Context, entityName string, u entity.Update) (entity.Doc, error) {
	body, err := json.Marshal(u.Changes)
	if err != nil {
		return nil, fmt.Errorf("marshaling changes: %w", err)
	}

	raw, err := s.do(ctx, http.MethodPut, s.resourceURL(entityName, u.ID), body)
	if err != nil {
		return nil, err
	}
	return decodeDoc(raw)
}

// Delete removes a document. A 404 from the remote side counts as
// success so retried deletes stay safe.
func (s *Service) Delete(ctx context.Context, entityName string, key entity.Key) error {
	_, err := s.do(ctx, http.MethodDelete, s.resourceURL(entityName, key), nil)
	if errors.Is(err, entity.ErrNotFound) {
		return nil
	}
	return err
}

func (s *Service) resourceURL(entityName string, key entity.Key) string {
	def := s.definition(entityName)
	return s.baseURL + "/" + url.PathEscape(def.Name) + "/" + url.PathEscape(key.String())
}

func (s *Service) definition(entityName string) *entity.Definition {
	if s.reg == nil {
		return entity.DefaultDefinition(entityName)
	}
	return s.reg.DefinitionOrDefault(entityName)
}

func (s *Service) getList(ctx context.Context, u string) ([]entity.Doc, error) {
	raw, err := s.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	var docs []entity.Doc
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if docs == nil {
		docs = []entity.Doc{}
	}
	return docs, nil
}

// do runs one request and returns the response body. Non-2xx statuses
// become errors carrying the status and a body excerpt; 404 and 409 map
// to the not-found and already-exists sentinels.
func (s *Service) do(ctx context.Context, method, u string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s %s: %w", method, u, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	s.logger.Debug("remote call", "method", method, "url", u, "status", resp.StatusCode)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, statusError(method, u, resp.StatusCode, raw)
	}
	return raw, nil
}

func statusError(method, u string, status int, body []byte) error {
	switch status {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s %s", entity.ErrNotFound, method, u)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s %s", entity.ErrExists, method, u)
	}
	return fmt.Errorf("%s %s returned %d: %s", method, u, status, excerpt(body))
}

func excerpt(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > errBodyLimit {
		text = text[:errBodyLimit] + "..."
	}
	return text
}

func decodeDoc(raw []byte) (entity.Doc, error) {
	var doc entity.Doc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return doc, nil
}
