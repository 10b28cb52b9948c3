package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("not found")
	ErrDependencyUnmet  = errors.New("dependency unmet")
	ErrApprovalRequired = errors.New("approval required")
	ErrToolExecution    = errors.New("tool execution failed")
	ErrPermissionDenied = errors.New("permission denied")
	ErrLLMUnavailable   = errors.New("language model unavailable")
	ErrPlanActive       = errors.New("plan already running")
	ErrTemporary        = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
