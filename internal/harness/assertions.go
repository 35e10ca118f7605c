package harness

import (
	"fmt"
	"strings"

	"github.com/jmwren/replica/pkg/entity"
)

// AssertionError is returned when an assertion fails. It carries enough
// context to debug the failure without re-running the scenario.
type AssertionError struct {
	Type     string          // Assertion type for categorization
	Expected string          // Human-readable expected outcome
	Actual   string          // Human-readable actual outcome
	Trace    []entity.Action // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, a := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s\n", a.Seq, a.Entity, a.Op)
		}
	}

	return buf.String()
}

// EvaluateAssertions evaluates every assertion against the trace and the
// final cache. Returns a message per failed assertion, in assertion order.
func EvaluateAssertions(assertions []Assertion, trace []entity.Action, final *entity.Cache) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(trace, assertion)
		case AssertFinalCollection:
			err = assertFinalCollection(final, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

// matchesTrace reports whether the action matches the assertion's op,
// optional entity scope, and optional error substring.
func matchesTrace(a entity.Action, assertion Assertion) bool {
	if a.Op.String() != assertion.Op {
		return false
	}
	if assertion.Entity != "" && a.Entity != assertion.Entity {
		return false
	}
	if assertion.Error != "" {
		if a.Err == nil || !strings.Contains(a.Err.Message, assertion.Error) {
			return false
		}
	}
	return true
}

// assertTraceContains checks that at least one action matches the op,
// entity scope, and error substring.
func assertTraceContains(trace []entity.Action, assertion Assertion) error {
	for _, a := range trace {
		if matchesTrace(a, assertion) {
			return nil
		}
	}

	expected := fmt.Sprintf("action %s", assertion.Op)
	if assertion.Entity != "" {
		expected = fmt.Sprintf("action %s for %s", assertion.Op, assertion.Entity)
	}
	if assertion.Error != "" {
		expected += fmt.Sprintf(" with error containing %q", assertion.Error)
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the first occurrences of the listed ops
// appear in the given order. Intervening actions are allowed.
func assertTraceOrder(trace []entity.Action, assertion Assertion) error {
	positions := make(map[string]int)

	for i, a := range trace {
		if assertion.Entity != "" && a.Entity != assertion.Entity {
			continue
		}
		name := a.Op.String()
		for _, expected := range assertion.Ops {
			if name == expected && positions[expected] == 0 {
				positions[expected] = i + 1 // 1-indexed for readability
			}
		}
	}

	for _, name := range assertion.Ops {
		if positions[name] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all ops present: %v", assertion.Ops),
				Actual:   fmt.Sprintf("missing op: %s", name),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Ops); i++ {
		prev := assertion.Ops[i-1]
		curr := assertion.Ops[i]

		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("ops in order: %v", assertion.Ops),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

// assertTraceCount checks that the op appears exactly the specified number
// of times within the entity scope.
func assertTraceCount(trace []entity.Action, assertion Assertion) error {
	count := 0
	for _, a := range trace {
		if matchesTrace(a, assertion) {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Op),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}

	return nil
}

// assertFinalCollection checks the entity's final collection against the
// expected key order, document subset, loading flag, and filter. A type no
// action ever touched is treated as the empty default collection.
func assertFinalCollection(final *entity.Cache, assertion Assertion) error {
	col, ok := final.Collection(assertion.Entity)
	if !ok {
		col = &entity.Collection{IDs: []entity.Key{}, Entities: map[entity.Key]entity.Doc{}}
	}

	if assertion.IDs != nil {
		if err := checkIDs(col, assertion); err != nil {
			return err
		}
	}

	for i, raw := range assertion.Contains {
		expected, err := entity.DocFromGo(raw)
		if err != nil {
			return fmt.Errorf("final_collection contains[%d]: %w", i, err)
		}
		if !collectionContains(col, expected) {
			data, _ := expected.MarshalJSON()
			return &AssertionError{
				Type:     AssertFinalCollection,
				Expected: fmt.Sprintf("%s collection containing a document matching %s", assertion.Entity, data),
				Actual:   describeCollection(col),
			}
		}
	}

	if assertion.Loading != nil && col.Loading != *assertion.Loading {
		return &AssertionError{
			Type:     AssertFinalCollection,
			Expected: fmt.Sprintf("%s loading = %t", assertion.Entity, *assertion.Loading),
			Actual:   fmt.Sprintf("loading = %t", col.Loading),
		}
	}

	if assertion.Filter != nil {
		expected, err := entity.FromGo(assertion.Filter)
		if err != nil {
			return fmt.Errorf("final_collection filter: %w", err)
		}
		if col.Filter == nil || !entity.Equal(col.Filter, expected) {
			return &AssertionError{
				Type:     AssertFinalCollection,
				Expected: fmt.Sprintf("%s filter = %v", assertion.Entity, assertion.Filter),
				Actual:   fmt.Sprintf("filter = %v", col.Filter),
			}
		}
	}

	return nil
}

// checkIDs compares the collection's key order to the expected scalars.
func checkIDs(col *entity.Collection, assertion Assertion) error {
	expected := make([]entity.Key, len(assertion.IDs))
	for i, raw := range assertion.IDs {
		key, err := stepKey(raw)
		if err != nil {
			return fmt.Errorf("final_collection ids[%d]: %w", i, err)
		}
		expected[i] = key
	}

	match := len(col.IDs) == len(expected)
	if match {
		for i, key := range expected {
			if entity.CompareKeys(col.IDs[i], key) != 0 {
				match = false
				break
			}
		}
	}
	if !match {
		return &AssertionError{
			Type:     AssertFinalCollection,
			Expected: fmt.Sprintf("%s ids %s", assertion.Entity, describeKeys(expected)),
			Actual:   fmt.Sprintf("ids %s", describeKeys(col.IDs)),
		}
	}
	return nil
}

// collectionContains reports whether some stored document carries every
// expected field with an equal value.
func collectionContains(col *entity.Collection, expected entity.Doc) bool {
	for _, id := range col.IDs {
		if docMatches(col.Entities[id], expected) {
			return true
		}
	}
	return false
}

func docMatches(doc, expected entity.Doc) bool {
	for field, want := range expected {
		got, ok := doc[field]
		if !ok || !entity.Equal(got, want) {
			return false
		}
	}
	return true
}

func describeKeys(keys []entity.Key) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func describeCollection(col *entity.Collection) string {
	if col.Len() == 0 {
		return "empty collection"
	}
	return fmt.Sprintf("%d documents with ids %s", col.Len(), describeKeys(col.IDs))
}
