package entity

import (
	"encoding/json"
	"fmt"
)

// Op is the closed operation vocabulary. Ops partition into three classes:
// queries (remote read, tracked by the loading flag), saves (pessimistic
// remote write, cache mutation deferred to the success result), and
// cache-only ops (immediate local mutation, no remote interaction).
//
// The reducer matches ops exhaustively; values outside the declared set
// reduce to a no-op so journals written by newer versions stay replayable.
type Op uint8

const (
	// OpUnknown is the zero value. It is never produced by a dispatcher;
	// the reducer treats it, like any undeclared value, as a no-op.
	OpUnknown Op = iota

	OpQueryAll
	OpQueryAllSuccess
	OpQueryAllError
	OpQueryByKey
	OpQueryByKeySuccess
	OpQueryByKeyError
	OpQueryMany
	OpQueryManySuccess
	OpQueryManyError

	OpSaveAdd
	OpSaveAddSuccess
	OpSaveAddError
	OpSaveUpdate
	OpSaveUpdateSuccess
	OpSaveUpdateError
	OpSaveDelete
	OpSaveDeleteSuccess
	OpSaveDeleteError

	OpAddOne
	OpAddMany
	OpAddAll
	OpUpdateOne
	OpUpdateMany
	OpRemoveOne
	OpRemoveMany
	OpRemoveAll
	OpSetFilter
)

var opNames = [...]string{
	OpUnknown:           "UNKNOWN",
	OpQueryAll:          "QUERY_ALL",
	OpQueryAllSuccess:   "QUERY_ALL_SUCCESS",
	OpQueryAllError:     "QUERY_ALL_ERROR",
	OpQueryByKey:        "QUERY_BY_KEY",
	OpQueryByKeySuccess: "QUERY_BY_KEY_SUCCESS",
	OpQueryByKeyError:   "QUERY_BY_KEY_ERROR",
	OpQueryMany:         "QUERY_MANY",
	OpQueryManySuccess:  "QUERY_MANY_SUCCESS",
	OpQueryManyError:    "QUERY_MANY_ERROR",
	OpSaveAdd:           "SAVE_ADD",
	OpSaveAddSuccess:    "SAVE_ADD_SUCCESS",
	OpSaveAddError:      "SAVE_ADD_ERROR",
	OpSaveUpdate:        "SAVE_UPDATE",
	OpSaveUpdateSuccess: "SAVE_UPDATE_SUCCESS",
	OpSaveUpdateError:   "SAVE_UPDATE_ERROR",
	OpSaveDelete:        "SAVE_DELETE",
	OpSaveDeleteSuccess: "SAVE_DELETE_SUCCESS",
	OpSaveDeleteError:   "SAVE_DELETE_ERROR",
	OpAddOne:            "ADD_ONE",
	OpAddMany:           "ADD_MANY",
	OpAddAll:            "ADD_ALL",
	OpUpdateOne:         "UPDATE_ONE",
	OpUpdateMany:        "UPDATE_MANY",
	OpRemoveOne:         "REMOVE_ONE",
	OpRemoveMany:        "REMOVE_MANY",
	OpRemoveAll:         "REMOVE_ALL",
	OpSetFilter:         "SET_FILTER",
}

var opByName = func() map[string]Op {
	m := make(map[string]Op, len(opNames))
	for op, name := range opNames {
		m[name] = Op(op)
	}
	return m
}()

// String returns the wire name of the op, e.g. "QUERY_ALL_SUCCESS".
func (op Op) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(op))
}

// ParseOp resolves a wire name back to its Op.
func ParseOp(name string) (Op, error) {
	op, ok := opByName[name]
	if !ok {
		return OpUnknown, fmt.Errorf("unknown op name %q", name)
	}
	return op, nil
}

// IsPersistence reports whether the op starts a remote round-trip
// (a base query or save op).
func (op Op) IsPersistence() bool {
	switch op {
	case OpQueryAll, OpQueryByKey, OpQueryMany, OpSaveAdd, OpSaveUpdate, OpSaveDelete:
		return true
	}
	return false
}

// IsQuery reports whether the op belongs to the query family,
// base or result.
func (op Op) IsQuery() bool {
	switch op {
	case OpQueryAll, OpQueryAllSuccess, OpQueryAllError,
		OpQueryByKey, OpQueryByKeySuccess, OpQueryByKeyError,
		OpQueryMany, OpQueryManySuccess, OpQueryManyError:
		return true
	}
	return false
}

// IsSave reports whether the op belongs to the save family,
// base or result.
func (op Op) IsSave() bool {
	switch op {
	case OpSaveAdd, OpSaveAddSuccess, OpSaveAddError,
		OpSaveUpdate, OpSaveUpdateSuccess, OpSaveUpdateError,
		OpSaveDelete, OpSaveDeleteSuccess, OpSaveDeleteError:
		return true
	}
	return false
}

// IsCacheOnly reports whether the op mutates local state with no remote
// interaction and no result action.
func (op Op) IsCacheOnly() bool {
	switch op {
	case OpAddOne, OpAddMany, OpAddAll, OpUpdateOne, OpUpdateMany,
		OpRemoveOne, OpRemoveMany, OpRemoveAll, OpSetFilter:
		return true
	}
	return false
}

// IsSuccess reports whether the op is a success reconciliation result.
func (op Op) IsSuccess() bool {
	switch op {
	case OpQueryAllSuccess, OpQueryByKeySuccess, OpQueryManySuccess,
		OpSaveAddSuccess, OpSaveUpdateSuccess, OpSaveDeleteSuccess:
		return true
	}
	return false
}

// IsError reports whether the op is a failure reconciliation result.
func (op Op) IsError() bool {
	switch op {
	case OpQueryAllError, OpQueryByKeyError, OpQueryManyError,
		OpSaveAddError, OpSaveUpdateError, OpSaveDeleteError:
		return true
	}
	return false
}

// IsResult reports whether the op is a reconciliation result of either kind.
func (op Op) IsResult() bool {
	return op.IsSuccess() || op.IsError()
}

// Success maps a base persistence op to its success result op.
func (op Op) Success() (Op, bool) {
	switch op {
	case OpQueryAll:
		return OpQueryAllSuccess, true
	case OpQueryByKey:
		return OpQueryByKeySuccess, true
	case OpQueryMany:
		return OpQueryManySuccess, true
	case OpSaveAdd:
		return OpSaveAddSuccess, true
	case OpSaveUpdate:
		return OpSaveUpdateSuccess, true
	case OpSaveDelete:
		return OpSaveDeleteSuccess, true
	}
	return OpUnknown, false
}

// Failure maps a base persistence op to its error result op.
func (op Op) Failure() (Op, bool) {
	switch op {
	case OpQueryAll:
		return OpQueryAllError, true
	case OpQueryByKey:
		return OpQueryByKeyError, true
	case OpQueryMany:
		return OpQueryManyError, true
	case OpSaveAdd:
		return OpSaveAddError, true
	case OpSaveUpdate:
		return OpSaveUpdateError, true
	case OpSaveDelete:
		return OpSaveDeleteError, true
	}
	return OpUnknown, false
}

// Base maps a result op back to the persistence op that initiated it.
// Non-result ops return themselves.
func (op Op) Base() Op {
	switch op {
	case OpQueryAllSuccess, OpQueryAllError:
		return OpQueryAll
	case OpQueryByKeySuccess, OpQueryByKeyError:
		return OpQueryByKey
	case OpQueryManySuccess, OpQueryManyError:
		return OpQueryMany
	case OpSaveAddSuccess, OpSaveAddError:
		return OpSaveAdd
	case OpSaveUpdateSuccess, OpSaveUpdateError:
		return OpSaveUpdate
	case OpSaveDeleteSuccess, OpSaveDeleteError:
		return OpSaveDelete
	}
	return op
}

// MarshalJSON encodes the op as its wire name.
func (op Op) MarshalJSON() ([]byte, error) {
	return json.Marshal(op.String())
}

// UnmarshalJSON decodes an op from its wire name.
func (op *Op) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseOp(name)
	if err != nil {
		return err
	}
	*op = parsed
	return nil
}
