package testing

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittodrive/pkg/kv"
)

// StoreTestSuite checks the kv.Store contract, independent of backend.
//
// Usage:
//
//	func TestBadgerStore(t *testing.T) {
//	    suite := &kvtesting.StoreTestSuite{
//	        NewStore: func(t *testing.T) kv.Store { ... },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore returns a fresh, empty store for each test.
	NewStore func(t *testing.T) kv.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("PutGet", suite.testPutGet)
	t.Run("Conditions", suite.testConditions)
	t.Run("TransactionAtomicity", suite.testTransactionAtomicity)
	t.Run("TransactionLimits", suite.testTransactionLimits)
	t.Run("QueryPrefix", suite.testQueryPrefix)
	t.Run("QueryRange", suite.testQueryRange)
	t.Run("QueryPagination", suite.testQueryPagination)
}

func (suite *StoreTestSuite) store(t *testing.T) kv.Store {
	s := suite.NewStore(t)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func key(sort string) kv.Key {
	return kv.Key{Partition: "tenant#space", Sort: sort}
}

func (suite *StoreTestSuite) testPutGet(t *testing.T) {
	ctx := context.Background()
	s := suite.store(t)

	_, err := s.Get(ctx, key("L:1"))
	require.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, s.Put(ctx, key("L:1"), []byte("v1"), nil))
	got, err := s.Get(ctx, key("L:1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	require.NoError(t, s.Put(ctx, key("L:1"), []byte("v2"), nil))
	got, err = s.Get(ctx, key("L:1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)

	// Same sort key in another partition is a different item.
	_, err = s.Get(ctx, kv.Key{Partition: "tenant#other", Sort: "L:1"})
	require.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, s.Delete(ctx, key("L:1"), nil))
	_, err = s.Get(ctx, key("L:1"))
	require.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, s.Delete(ctx, key("L:missing"), nil), "unconditional delete of a missing key is a no-op")
}

func (suite *StoreTestSuite) testConditions(t *testing.T) {
	ctx := context.Background()
	s := suite.store(t)

	require.NoError(t, s.Put(ctx, key("D:root:F:docs"), []byte("a"), kv.IfNotExists()))

	err := s.Put(ctx, key("D:root:F:docs"), []byte("b"), kv.IfNotExists())
	require.ErrorIs(t, err, kv.ErrConditionFailed)
	cf, ok := kv.FailedCondition(err)
	require.True(t, ok)
	assert.Equal(t, key("D:root:F:docs"), cf.Key)

	err = s.Delete(ctx, key("D:root:F:none"), kv.IfExists())
	require.ErrorIs(t, err, kv.ErrConditionFailed)

	isA := kv.IfMatch("value_is_a", func(v []byte) bool { return string(v) == "a" })
	require.NoError(t, s.Put(ctx, key("D:root:F:docs"), []byte("c"), isA))
	require.ErrorIs(t, s.Put(ctx, key("D:root:F:docs"), []byte("d"), isA), kv.ErrConditionFailed)

	got, err := s.Get(ctx, key("D:root:F:docs"))
	require.NoError(t, err)
	assert.Equal(t, []byte("c"), got)
}

func (suite *StoreTestSuite) testTransactionAtomicity(t *testing.T) {
	ctx := context.Background()
	s := suite.store(t)

	require.NoError(t, s.Put(ctx, key("L:taken"), []byte("x"), nil))

	err := s.TransactWrite(ctx, []kv.WriteOp{
		kv.Put(key("F:new"), []byte("folder"), nil),
		kv.Put(key("L:taken"), []byte("y"), kv.IfNotExists()),
	})
	require.ErrorIs(t, err, kv.ErrConditionFailed)
	cf, ok := kv.FailedCondition(err)
	require.True(t, ok)
	assert.Equal(t, 1, cf.Index)

	_, err = s.Get(ctx, key("F:new"))
	require.ErrorIs(t, err, kv.ErrNotFound, "failed transaction must not write anything")

	got, err := s.Get(ctx, key("L:taken"))
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), got)

	err = s.TransactWrite(ctx, []kv.WriteOp{
		kv.Put(key("F:new"), []byte("folder"), nil),
		kv.Delete(key("L:taken"), kv.IfExists()),
		kv.Check(key("L:absent"), kv.IfNotExists()),
	})
	require.NoError(t, err)

	_, err = s.Get(ctx, key("F:new"))
	require.NoError(t, err)
	_, err = s.Get(ctx, key("L:taken"))
	require.ErrorIs(t, err, kv.ErrNotFound)
	_, err = s.Get(ctx, key("L:absent"))
	require.ErrorIs(t, err, kv.ErrNotFound, "check ops do not write")
}

func (suite *StoreTestSuite) testTransactionLimits(t *testing.T) {
	ctx := context.Background()
	s := suite.store(t)

	require.ErrorIs(t, s.TransactWrite(ctx, nil), kv.ErrInvalidTransaction)

	ops := make([]kv.WriteOp, kv.MaxTransactItems+1)
	for i := range ops {
		ops[i] = kv.Put(key(fmt.Sprintf("L:%03d", i)), []byte("v"), nil)
	}
	require.ErrorIs(t, s.TransactWrite(ctx, ops), kv.ErrTooManyItems)
	require.NoError(t, s.TransactWrite(ctx, ops[:kv.MaxTransactItems]))

	dup := []kv.WriteOp{
		kv.Put(key("L:dup"), []byte("a"), nil),
		kv.Delete(key("L:dup"), nil),
	}
	require.ErrorIs(t, s.TransactWrite(ctx, dup), kv.ErrInvalidTransaction)
}

func seed(t *testing.T, s kv.Store, sorts ...string) {
	t.Helper()
	for _, sort := range sorts {
		require.NoError(t, s.Put(context.Background(), key(sort), []byte(sort), nil))
	}
}

func sortsOf(items []kv.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Key.Sort)
	}
	return out
}

func (suite *StoreTestSuite) testQueryPrefix(t *testing.T) {
	ctx := context.Background()
	s := suite.store(t)
	seed(t, s, "D:a:L:x", "D:a:F:y", "D:ab:L:z", "D:b:L:w", "L:1")
	require.NoError(t, s.Put(ctx, kv.Key{Partition: "tenant#other", Sort: "D:a:L:q"}, []byte("q"), nil))

	res, err := s.Query(ctx, kv.QueryInput{Partition: "tenant#space", Prefix: "D:a:"})
	require.NoError(t, err)
	assert.Equal(t, []string{"D:a:F:y", "D:a:L:x"}, sortsOf(res.Items))
	assert.Empty(t, res.NextCursor)
}

func (suite *StoreTestSuite) testQueryRange(t *testing.T) {
	ctx := context.Background()
	s := suite.store(t)
	seed(t, s, "2024-01-01#a", "2024-02-01#b", "2024-03-01#c", "2024-04-01#d")

	res, err := s.Query(ctx, kv.QueryInput{
		Partition: "tenant#space",
		Start:     "2024-02-01",
		End:       "2024-04-01",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-02-01#b", "2024-03-01#c"}, sortsOf(res.Items))
}

func (suite *StoreTestSuite) testQueryPagination(t *testing.T) {
	ctx := context.Background()
	s := suite.store(t)

	var want []string
	for i := 0; i < 7; i++ {
		sort := fmt.Sprintf("L:%02d", i)
		want = append(want, sort)
	}
	seed(t, s, want...)

	var got []string
	cursor := ""
	pages := 0
	for {
		res, err := s.Query(ctx, kv.QueryInput{Partition: "tenant#space", Prefix: "L:", Cursor: cursor, Limit: 3})
		require.NoError(t, err)
		got = append(got, sortsOf(res.Items)...)
		pages++
		if res.NextCursor == "" {
			break
		}
		cursor = res.NextCursor
	}
	assert.Equal(t, want, got)
	assert.Equal(t, 3, pages)

	_, err := s.Query(ctx, kv.QueryInput{Partition: "tenant#space", Cursor: "!!not-base64!!"})
	require.True(t, errors.Is(err, kv.ErrInvalidCursor))
}
