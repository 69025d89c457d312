// Package kv defines the flat key-value store every metadata entity lives in.
//
// Items are addressed by a composite (partition, sort) key. The store offers
// single-item conditional writes, all-or-nothing transactions over a bounded
// number of items, and ordered queries within one partition. Higher layers
// (directory, lifecycle, purge) build filesystem-like guarantees on top of
// exactly these primitives and nothing else.
package kv

import (
	"context"
)

// MaxTransactItems is the largest number of operations TransactWrite accepts.
const MaxTransactItems = 100

// Key addresses one item.
type Key struct {
	Partition string
	Sort      string
}

func (k Key) String() string {
	return k.Partition + "/" + k.Sort
}

// Item is a stored key and its raw value.
type Item struct {
	Key   Key
	Value []byte
}

// Store is the key-value contract implemented by the badger and postgres backends.
//
// Thread safety:
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key Key) ([]byte, error)

	// Put writes value under key. A non-nil cond is evaluated against the
	// current value first; a false result returns a *ConditionFailedError.
	Put(ctx context.Context, key Key, value []byte, cond *Condition) error

	// Delete removes key. Deleting a missing key without a condition is a no-op.
	Delete(ctx context.Context, key Key, cond *Condition) error

	// TransactWrite applies ops atomically: either every condition holds and
	// every write lands, or nothing changes.
	//
	// Errors:
	//   - ErrTooManyItems: more than MaxTransactItems ops
	//   - ErrInvalidTransaction: empty or the same key appears twice
	//   - *ConditionFailedError: a condition evaluated false (Index identifies the op)
	//   - ErrTransactionConflict: a concurrent writer touched the same keys; retryable
	TransactWrite(ctx context.Context, ops []WriteOp) error

	// Query returns items of one partition ordered by sort key.
	Query(ctx context.Context, in QueryInput) (*QueryResult, error)

	// Close releases the backend.
	Close() error
}

// QueryInput selects a page of items from one partition.
//
// Prefix restricts results to sort keys starting with it. Start (inclusive)
// and End (exclusive) further bound the range; empty means unbounded.
// Cursor is the NextCursor of a previous page.
type QueryInput struct {
	Partition string
	Prefix    string
	Start     string
	End       string
	Cursor    string
	Limit     int
}

// QueryResult is one page of a Query.
type QueryResult struct {
	Items []Item

	// NextCursor is empty when no more items match.
	NextCursor string
}

// DefaultQueryLimit applies when QueryInput.Limit is zero or negative.
const DefaultQueryLimit = 100
