// Package badger implements kv.Store on an embedded BadgerDB.
package badger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/marmos91/dittodrive/pkg/kv"
)

// Key Layout
// ==========
//
// Badger has a single flat keyspace, so the composite (partition, sort) key is
// flattened as:
//
//	<partition> 0x00 <sort>
//
// Partitions never contain 0x00, which keeps every partition a contiguous
// byte range: a prefix scan over "<partition>\x00<sortPrefix>" returns
// exactly the items of one partition whose sort key has that prefix, in
// lexicographic sort-key order.
const partitionSeparator = byte(0)

// Store is a kv.Store backed by BadgerDB.
//
// Conditions are evaluated inside the same read-write transaction as the
// write they guard. Badger tracks every key read by the transaction and
// aborts the commit with badger.ErrConflict if a concurrent transaction
// committed a write to one of them; that error is surfaced as
// kv.ErrTransactionConflict.
type Store struct {
	db *badger.DB
}

// Config configures the Badger backend.
type Config struct {
	// DBPath is the data directory. Ignored when InMemory is set.
	DBPath string `mapstructure:"db_path"`

	// InMemory keeps all data in memory (tests and throwaway runs).
	InMemory bool `mapstructure:"in_memory"`

	// SyncWrites fsyncs every commit.
	SyncWrites bool `mapstructure:"sync_writes"`

	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb"`
	IndexCacheSizeMB int64 `mapstructure:"index_cache_size_mb"`
}

// Open creates or opens a Badger-backed store.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	db, err := badger.Open(Options(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.DBPath, err)
	}

	return &Store{db: db}, nil
}

// OpenInMemory opens an in-memory store.
func OpenInMemory() (*Store, error) {
	return Open(context.Background(), Config{InMemory: true})
}

// Options translates Config into badger options. Exported so the Badger
// queue can share the same tuning.
func Options(cfg Config) badger.Options {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.DBPath)
	}

	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None)
	opts = opts.WithSyncWrites(cfg.SyncWrites)

	blockCacheMB := cfg.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 64
	}
	indexCacheMB := cfg.IndexCacheSizeMB
	if indexCacheMB == 0 {
		indexCacheMB = 32
	}

	opts = opts.WithBlockCacheSize(blockCacheMB << 20)
	opts = opts.WithIndexCacheSize(indexCacheMB << 20)
	return opts
}

// DB exposes the underlying database for components sharing it.
func (s *Store) DB() *badger.DB {
	return s.db
}

func encodeKey(key kv.Key) []byte {
	buf := make([]byte, 0, len(key.Partition)+1+len(key.Sort))
	buf = append(buf, key.Partition...)
	buf = append(buf, partitionSeparator)
	buf = append(buf, key.Sort...)
	return buf
}

func decodeSort(partition string, raw []byte) string {
	return string(raw[len(partition)+1:])
}

func validateKey(key kv.Key) error {
	if key.Partition == "" || key.Sort == "" {
		return fmt.Errorf("kv: empty key component in %s", key)
	}
	if strings.IndexByte(key.Partition, partitionSeparator) >= 0 {
		return fmt.Errorf("kv: partition contains NUL: %q", key.Partition)
	}
	return nil
}

func mapCommitError(err error) error {
	if errors.Is(err, badger.ErrConflict) {
		return kv.ErrTransactionConflict
	}
	return err
}

// readCurrent loads the current value of key inside txn.
func readCurrent(txn *badger.Txn, key []byte) ([]byte, bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *Store) Get(ctx context.Context, key kv.Key) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}

	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		current, exists, err := readCurrent(txn, encodeKey(key))
		if err != nil {
			return err
		}
		if !exists {
			return kv.ErrNotFound
		}
		value = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *Store) Put(ctx context.Context, key kv.Key, value []byte, cond *kv.Condition) error {
	return s.TransactWrite(ctx, []kv.WriteOp{kv.Put(key, value, cond)})
}

func (s *Store) Delete(ctx context.Context, key kv.Key, cond *kv.Condition) error {
	return s.TransactWrite(ctx, []kv.WriteOp{kv.Delete(key, cond)})
}

func (s *Store) TransactWrite(ctx context.Context, ops []kv.WriteOp) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := kv.ValidateOps(ops); err != nil {
		return err
	}
	for _, op := range ops {
		if err := validateKey(op.Key); err != nil {
			return err
		}
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		// Evaluate every condition before the first write so a failure
		// never leaves partial state in the transaction.
		for i, op := range ops {
			if op.Condition == nil {
				continue
			}
			current, exists, err := readCurrent(txn, encodeKey(op.Key))
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", op.Key, err)
			}
			if !op.Condition.Holds(current, exists) {
				return &kv.ConditionFailedError{Index: i, Key: op.Key, Condition: op.Condition.String()}
			}
		}

		for _, op := range ops {
			switch op.Type {
			case kv.OpPut:
				if err := txn.Set(encodeKey(op.Key), op.Value); err != nil {
					return fmt.Errorf("failed to set %s: %w", op.Key, err)
				}
			case kv.OpDelete:
				if err := txn.Delete(encodeKey(op.Key)); err != nil {
					return fmt.Errorf("failed to delete %s: %w", op.Key, err)
				}
			case kv.OpCheck:
			default:
				return fmt.Errorf("kv: unknown op type %d", op.Type)
			}
		}
		return nil
	})
	return mapCommitError(err)
}

func (s *Store) Query(ctx context.Context, in kv.QueryInput) (*kv.QueryResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if in.Partition == "" {
		return nil, fmt.Errorf("kv: query without partition")
	}

	lower, upper, err := in.Bounds()
	if err != nil {
		return nil, err
	}
	limit := in.EffectiveLimit()

	partitionPrefix := append([]byte(in.Partition), partitionSeparator)
	scanPrefix := append(append([]byte{}, partitionPrefix...), in.Prefix...)
	seek := append(append([]byte{}, partitionPrefix...), lower...)

	result := &kv.QueryResult{}
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = scanPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(seek); it.ValidForPrefix(scanPrefix); it.Next() {
			item := it.Item()
			sortKey := decodeSort(in.Partition, item.Key())
			if upper != "" && sortKey >= upper {
				break
			}

			if len(result.Items) == limit {
				result.NextCursor = kv.EncodeCursor(result.Items[len(result.Items)-1].Key.Sort)
				break
			}

			value, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("failed to read value: %w", err)
			}
			result.Items = append(result.Items, kv.Item{
				Key:   kv.Key{Partition: in.Partition, Sort: sortKey},
				Value: value,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close BadgerDB: %w", err)
	}
	return nil
}

var _ kv.Store = (*Store)(nil)
