package entity

import (
	"encoding/json"
	"fmt"
)

// Action is one serializable state-transition record: which entity type,
// which operation, and the operation's payload. Actions carry no
// functions, closures, or live references, so a journal of them can be
// replayed to reconstruct the cache exactly.
//
// Seq is stamped by the store's logical clock when the action is accepted;
// CorrelationID links a persistence command to its reconciliation result.
type Action struct {
	Entity        string
	Op            Op
	Payload       *Payload
	Err           *ActionError
	CorrelationID string
	Seq           int64
}

// ActionError is the serializable failure detail carried by _ERROR
// reconciliation actions. Code is optional transport classification
// ("http_500", "timeout"); the core never interprets it.
type ActionError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func (e *ActionError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// Payload carries an operation's data. Exactly one field is set,
// determined by the op; Validate enforces the pairing.
type Payload struct {
	Doc     Doc
	Docs    []Doc
	Update  *Update
	Updates []Update
	Key     Key
	Keys    []Key
	Query   Query
	Filter  Value
}

// DocPayload wraps a single document.
func DocPayload(d Doc) *Payload { return &Payload{Doc: d} }

// DocsPayload wraps a document slice.
func DocsPayload(ds []Doc) *Payload { return &Payload{Docs: ds} }

// UpdatePayload wraps a single update.
func UpdatePayload(u Update) *Payload { return &Payload{Update: &u} }

// UpdatesPayload wraps an update slice.
func UpdatesPayload(us []Update) *Payload { return &Payload{Updates: us} }

// KeyPayload wraps a single key.
func KeyPayload(k Key) *Payload { return &Payload{Key: k} }

// KeysPayload wraps a key slice.
func KeysPayload(ks []Key) *Payload { return &Payload{Keys: ks} }

// QueryPayload wraps a query.
func QueryPayload(q Query) *Payload { return &Payload{Query: q} }

// FilterPayload wraps a filter pattern. Null clears the filter.
func FilterPayload(v Value) *Payload {
	if v == nil {
		v = Null{}
	}
	return &Payload{Filter: v}
}

// payloadKind identifies which payload field an op expects.
type payloadKind uint8

const (
	payloadNone payloadKind = iota
	payloadDoc
	payloadDocs
	payloadUpdate
	payloadUpdates
	payloadKey
	payloadKeys
	payloadQuery
	payloadFilter
)

// expectedPayload maps each declared op to its payload shape. Error
// results carry no payload; the failure detail rides in Action.Err and
// the originating command is found via CorrelationID.
func expectedPayload(op Op) (payloadKind, bool) {
	switch op {
	case OpQueryAll, OpRemoveAll:
		return payloadNone, true
	case OpQueryAllSuccess, OpQueryManySuccess, OpAddMany, OpAddAll:
		return payloadDocs, true
	case OpQueryByKey, OpSaveDelete, OpSaveDeleteSuccess, OpRemoveOne:
		return payloadKey, true
	case OpQueryByKeySuccess, OpSaveAdd, OpSaveAddSuccess, OpAddOne:
		return payloadDoc, true
	case OpQueryMany:
		return payloadQuery, true
	case OpSaveUpdate, OpSaveUpdateSuccess, OpUpdateOne:
		return payloadUpdate, true
	case OpUpdateMany:
		return payloadUpdates, true
	case OpRemoveMany:
		return payloadKeys, true
	case OpSetFilter:
		return payloadFilter, true
	case OpQueryAllError, OpQueryByKeyError, OpQueryManyError,
		OpSaveAddError, OpSaveUpdateError, OpSaveDeleteError:
		return payloadNone, true
	}
	return payloadNone, false
}

// kind reports which single field of the payload is set. A payload with
// zero or multiple fields set reports ok=false.
func (p *Payload) kind() (payloadKind, bool) {
	if p == nil {
		return payloadNone, true
	}
	kind := payloadNone
	set := 0
	if p.Doc != nil {
		kind, set = payloadDoc, set+1
	}
	if p.Docs != nil {
		kind, set = payloadDocs, set+1
	}
	if p.Update != nil {
		kind, set = payloadUpdate, set+1
	}
	if p.Updates != nil {
		kind, set = payloadUpdates, set+1
	}
	if p.Key != nil {
		kind, set = payloadKey, set+1
	}
	if p.Keys != nil {
		kind, set = payloadKeys, set+1
	}
	if p.Query != nil {
		kind, set = payloadQuery, set+1
	}
	if p.Filter != nil {
		kind, set = payloadFilter, set+1
	}
	if set > 1 {
		return kind, false
	}
	return kind, true
}

// ValidationError reports one structural violation with its field path.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the action's structure against the op vocabulary.
// Returns all violations, not just the first.
func (a Action) Validate() []ValidationError {
	var errs []ValidationError

	if a.Entity == "" {
		errs = append(errs, ValidationError{
			Field:   "entity",
			Message: "entity type name is required",
		})
	}

	want, declared := expectedPayload(a.Op)
	if !declared {
		errs = append(errs, ValidationError{
			Field:   "op",
			Message: fmt.Sprintf("undeclared op %s", a.Op),
		})
		return errs
	}

	got, unambiguous := a.Payload.kind()
	if !unambiguous {
		errs = append(errs, ValidationError{
			Field:   "payload",
			Message: "more than one payload field is set",
		})
	} else if got != want {
		errs = append(errs, ValidationError{
			Field:   "payload",
			Message: fmt.Sprintf("op %s expects %s payload, got %s", a.Op, want, got),
		})
	}

	if a.Op.IsError() && a.Err == nil {
		errs = append(errs, ValidationError{
			Field:   "error",
			Message: fmt.Sprintf("op %s requires failure detail", a.Op),
		})
	}
	if !a.Op.IsError() && a.Err != nil {
		errs = append(errs, ValidationError{
			Field:   "error",
			Message: fmt.Sprintf("op %s must not carry failure detail", a.Op),
		})
	}

	if a.Seq < 0 {
		errs = append(errs, ValidationError{
			Field:   "seq",
			Message: "sequence number must not be negative",
		})
	}

	return errs
}

func (k payloadKind) String() string {
	switch k {
	case payloadNone:
		return "no"
	case payloadDoc:
		return "doc"
	case payloadDocs:
		return "docs"
	case payloadUpdate:
		return "update"
	case payloadUpdates:
		return "updates"
	case payloadKey:
		return "key"
	case payloadKeys:
		return "keys"
	case payloadQuery:
		return "query"
	case payloadFilter:
		return "filter"
	}
	return "invalid"
}

// canonicalDoc renders the payload as a one-key document tagged by kind.
func (p *Payload) canonicalDoc() Doc {
	if p == nil {
		return nil
	}
	switch kind, _ := p.kind(); kind {
	case payloadDoc:
		return Doc{"doc": p.Doc}
	case payloadDocs:
		arr := make(Array, len(p.Docs))
		for i, d := range p.Docs {
			arr[i] = d
		}
		return Doc{"docs": arr}
	case payloadUpdate:
		return Doc{"update": p.Update.canonicalDoc()}
	case payloadUpdates:
		arr := make(Array, len(p.Updates))
		for i, u := range p.Updates {
			arr[i] = u.canonicalDoc()
		}
		return Doc{"updates": arr}
	case payloadKey:
		return Doc{"key": p.Key.Value()}
	case payloadKeys:
		arr := make(Array, len(p.Keys))
		for i, k := range p.Keys {
			arr[i] = k.Value()
		}
		return Doc{"keys": arr}
	case payloadQuery:
		return Doc{"query": p.Query.canonicalDoc()}
	case payloadFilter:
		return Doc{"filter": p.Filter}
	}
	return nil
}

// canonicalDoc renders the action for canonical serialization and hashing.
func (a Action) canonicalDoc() Doc {
	d := Doc{
		"entity": String(a.Entity),
		"op":     String(a.Op.String()),
		"seq":    Int(a.Seq),
	}
	if p := a.Payload.canonicalDoc(); p != nil {
		d["payload"] = p
	}
	if a.Err != nil {
		ed := Doc{"message": String(a.Err.Message)}
		if a.Err.Code != "" {
			ed["code"] = String(a.Err.Code)
		}
		d["error"] = ed
	}
	if a.CorrelationID != "" {
		d["correlation_id"] = String(a.CorrelationID)
	}
	return d
}

// MarshalJSON encodes the action with deterministic key order (the same
// layout the canonical form uses, without NFC/escape guarantees).
func (a Action) MarshalJSON() ([]byte, error) {
	return a.canonicalDoc().MarshalJSON()
}

// UnmarshalJSON decodes an action from its serialized form. An op name not
// in the declared vocabulary decodes to OpUnknown rather than failing, so
// journals written by newer versions remain readable; the reducer treats
// such actions as no-ops.
func (a *Action) UnmarshalJSON(data []byte) error {
	var raw struct {
		Entity        string          `json:"entity"`
		Op            string          `json:"op"`
		Payload       json.RawMessage `json:"payload"`
		Error         *ActionError    `json:"error"`
		CorrelationID string          `json:"correlation_id"`
		Seq           int64           `json:"seq"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	op, err := ParseOp(raw.Op)
	if err != nil {
		op = OpUnknown
	}

	var payload *Payload
	if len(raw.Payload) > 0 {
		payload, err = unmarshalPayload(raw.Payload)
		if err != nil {
			return fmt.Errorf("action payload: %w", err)
		}
	}

	*a = Action{
		Entity:        raw.Entity,
		Op:            op,
		Payload:       payload,
		Err:           raw.Error,
		CorrelationID: raw.CorrelationID,
		Seq:           raw.Seq,
	}
	return nil
}

func unmarshalPayload(data []byte) (*Payload, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	if len(raw) > 1 {
		return nil, fmt.Errorf("payload has %d fields, want one", len(raw))
	}

	for tag, body := range raw {
		switch tag {
		case "doc":
			var d Doc
			if err := json.Unmarshal(body, &d); err != nil {
				return nil, err
			}
			return DocPayload(d), nil
		case "docs":
			var ds []Doc
			if err := json.Unmarshal(body, &ds); err != nil {
				return nil, err
			}
			return DocsPayload(ds), nil
		case "update":
			u, err := unmarshalUpdate(body)
			if err != nil {
				return nil, err
			}
			return UpdatePayload(u), nil
		case "updates":
			var parts []json.RawMessage
			if err := json.Unmarshal(body, &parts); err != nil {
				return nil, err
			}
			us := make([]Update, len(parts))
			for i, part := range parts {
				u, err := unmarshalUpdate(part)
				if err != nil {
					return nil, fmt.Errorf("updates[%d]: %w", i, err)
				}
				us[i] = u
			}
			return UpdatesPayload(us), nil
		case "key":
			k, err := unmarshalKey(body)
			if err != nil {
				return nil, err
			}
			return KeyPayload(k), nil
		case "keys":
			var parts []json.RawMessage
			if err := json.Unmarshal(body, &parts); err != nil {
				return nil, err
			}
			ks := make([]Key, len(parts))
			for i, part := range parts {
				k, err := unmarshalKey(part)
				if err != nil {
					return nil, fmt.Errorf("keys[%d]: %w", i, err)
				}
				ks[i] = k
			}
			return KeysPayload(ks), nil
		case "query":
			var q Query
			if err := json.Unmarshal(body, &q); err != nil {
				return nil, err
			}
			return QueryPayload(q), nil
		case "filter":
			v, err := UnmarshalValue(body)
			if err != nil {
				return nil, err
			}
			return FilterPayload(v), nil
		default:
			// A payload kind from a newer vocabulary; drop it the way the
			// reducer drops the op.
			return nil, nil
		}
	}
	return nil, nil
}

func unmarshalUpdate(data []byte) (Update, error) {
	var raw struct {
		ID      json.RawMessage `json:"id"`
		Changes Doc             `json:"changes"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Update{}, err
	}
	k, err := unmarshalKey(raw.ID)
	if err != nil {
		return Update{}, fmt.Errorf("update id: %w", err)
	}
	return Update{ID: k, Changes: raw.Changes}, nil
}

func unmarshalKey(data []byte) (Key, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	v, err := UnmarshalValue(data)
	if err != nil {
		return nil, err
	}
	return KeyOf(v)
}
