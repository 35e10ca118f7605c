package cache

import (
	"fmt"
	"strings"

	"github.com/jmwren/replica/pkg/entity"
)

// CommandError reports a misused dispatcher command. It is returned
// synchronously from the command that was misused; remote failures never
// take this path, they surface as _ERROR reconciliation actions.
type CommandError struct {
	Entity string
	Op     entity.Op
	Err    error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Entity, e.Op, e.Err)
}

// Unwrap exposes the underlying sentinel for errors.Is classification.
func (e *CommandError) Unwrap() error {
	return e.Err
}

func commandErr(entityName string, op entity.Op, err error) *CommandError {
	return &CommandError{Entity: entityName, Op: op, Err: err}
}

func commandErrf(entityName string, op entity.Op, sentinel error, format string, args ...any) *CommandError {
	return commandErr(entityName, op, fmt.Errorf("%w: "+format, append([]any{sentinel}, args...)...))
}

// invalidAction flattens structural violations into one sentinel-wrapped
// error line.
func invalidAction(violations []entity.ValidationError) error {
	msgs := make([]string, len(violations))
	for i, v := range violations {
		msgs[i] = v.Error()
	}
	return fmt.Errorf("%w: %s", entity.ErrInvalidAction, strings.Join(msgs, "; "))
}
