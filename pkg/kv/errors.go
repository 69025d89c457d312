package kv

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Get when the key does not exist.
	ErrNotFound = errors.New("kv: item not found")

	// ErrConditionFailed matches every *ConditionFailedError via errors.Is.
	ErrConditionFailed = errors.New("kv: condition failed")

	// ErrTransactionConflict indicates an optimistic commit lost against a
	// concurrent writer. The caller may re-read and retry.
	ErrTransactionConflict = errors.New("kv: transaction conflict")

	// ErrTooManyItems is returned when a transaction exceeds MaxTransactItems.
	ErrTooManyItems = errors.New("kv: too many items in transaction")

	// ErrInvalidTransaction is returned for empty transactions or duplicate keys.
	ErrInvalidTransaction = errors.New("kv: invalid transaction")

	// ErrInvalidCursor is returned when a query cursor cannot be decoded.
	ErrInvalidCursor = errors.New("kv: invalid cursor")
)

// ConditionFailedError reports which operation's condition did not hold.
type ConditionFailedError struct {
	// Index is the position of the failing op in a TransactWrite (0 for single-item calls).
	Index int

	Key       Key
	Condition string
}

func (e *ConditionFailedError) Error() string {
	return fmt.Sprintf("kv: condition %q failed on %s (op %d)", e.Condition, e.Key, e.Index)
}

func (e *ConditionFailedError) Is(target error) bool {
	return target == ErrConditionFailed
}

// IsConditionFailed reports whether err is a condition failure.
func IsConditionFailed(err error) bool {
	return errors.Is(err, ErrConditionFailed)
}

// FailedCondition extracts the failing operation, if err is a condition failure.
func FailedCondition(err error) (*ConditionFailedError, bool) {
	var cf *ConditionFailedError
	if errors.As(err, &cf) {
		return cf, true
	}
	return nil, false
}
