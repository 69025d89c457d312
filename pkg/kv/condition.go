package kv

import (
	"encoding/base64"
	"fmt"
)

// Condition is a predicate over an item's current state, evaluated inside the
// same atomic unit as the write it guards.
type Condition struct {
	// Name identifies the condition in ConditionFailedError.
	Name string

	check func(current []byte, exists bool) bool
}

// Holds evaluates the condition. A nil condition always holds.
func (c *Condition) Holds(current []byte, exists bool) bool {
	if c == nil || c.check == nil {
		return true
	}
	return c.check(current, exists)
}

// String returns the condition name.
func (c *Condition) String() string {
	if c == nil {
		return "none"
	}
	return c.Name
}

// IfNotExists holds only when the key is absent.
func IfNotExists() *Condition {
	return &Condition{
		Name:  "attribute_not_exists",
		check: func(_ []byte, exists bool) bool { return !exists },
	}
}

// IfExists holds only when the key is present.
func IfExists() *Condition {
	return &Condition{
		Name:  "attribute_exists",
		check: func(_ []byte, exists bool) bool { return exists },
	}
}

// IfMatch holds when the key is present and fn accepts its current value.
func IfMatch(name string, fn func(current []byte) bool) *Condition {
	return &Condition{
		Name: name,
		check: func(current []byte, exists bool) bool {
			return exists && fn(current)
		},
	}
}

// IfAbsentOr holds when the key is absent, or present and fn accepts it.
func IfAbsentOr(name string, fn func(current []byte) bool) *Condition {
	return &Condition{
		Name: name,
		check: func(current []byte, exists bool) bool {
			return !exists || fn(current)
		},
	}
}

// OpType distinguishes the operations of a transaction.
type OpType int

const (
	OpPut OpType = iota
	OpDelete
	// OpCheck evaluates a condition without writing.
	OpCheck
)

func (t OpType) String() string {
	switch t {
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	case OpCheck:
		return "check"
	default:
		return "unknown"
	}
}

// WriteOp is one operation of a TransactWrite.
type WriteOp struct {
	Type      OpType
	Key       Key
	Value     []byte
	Condition *Condition
}

// Put builds a put operation.
func Put(key Key, value []byte, cond *Condition) WriteOp {
	return WriteOp{Type: OpPut, Key: key, Value: value, Condition: cond}
}

// Delete builds a delete operation.
func Delete(key Key, cond *Condition) WriteOp {
	return WriteOp{Type: OpDelete, Key: key, Condition: cond}
}

// Check builds a condition-only operation.
func Check(key Key, cond *Condition) WriteOp {
	return WriteOp{Type: OpCheck, Key: key, Condition: cond}
}

// ValidateOps enforces the transaction limits shared by all backends.
func ValidateOps(ops []WriteOp) error {
	if len(ops) == 0 {
		return fmt.Errorf("%w: no operations", ErrInvalidTransaction)
	}
	if len(ops) > MaxTransactItems {
		return fmt.Errorf("%w: %d > %d", ErrTooManyItems, len(ops), MaxTransactItems)
	}

	seen := make(map[Key]struct{}, len(ops))
	for _, op := range ops {
		if _, dup := seen[op.Key]; dup {
			return fmt.Errorf("%w: duplicate key %s", ErrInvalidTransaction, op.Key)
		}
		seen[op.Key] = struct{}{}
	}
	return nil
}

// EncodeCursor turns the last returned sort key into an opaque cursor.
func EncodeCursor(lastSort string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(lastSort))
}

// DecodeCursor reverses EncodeCursor.
func DecodeCursor(cursor string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	return string(raw), nil
}

// Range resolves a QueryInput into an inclusive lower bound, the exclusive
// resume point decoded from the cursor (empty without one) and an exclusive
// upper bound (empty means unbounded).
func (in QueryInput) Range() (lower, after, upper string, err error) {
	lower = in.Prefix
	if in.Start > lower {
		lower = in.Start
	}
	if in.Cursor != "" {
		if after, err = DecodeCursor(in.Cursor); err != nil {
			return "", "", "", err
		}
	}
	return lower, after, in.End, nil
}

// Bounds is Range folded into one inclusive lower bound for byte-ordered
// stores: the cursor moves the bound to the smallest key strictly after it.
// The result may contain a NUL byte and is only fit for byte-level seeks.
func (in QueryInput) Bounds() (lower, upper string, err error) {
	lower, after, upper, err := in.Range()
	if err != nil {
		return "", "", err
	}
	if after != "" {
		if next := after + "\x00"; next > lower {
			lower = next
		}
	}
	return lower, upper, nil
}

// EffectiveLimit returns Limit or DefaultQueryLimit.
func (in QueryInput) EffectiveLimit() int {
	if in.Limit <= 0 {
		return DefaultQueryLimit
	}
	return in.Limit
}
