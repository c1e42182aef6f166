package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKV(t *testing.T) KV {
	t.Helper()
	kv, err := NewSQLiteKV(filepath.Join(t.TempDir(), "walker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return kv
}

func TestSQLiteKVStringGetSetDel(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()

	_, ok, err := kv.StringGet(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.StringSet(ctx, "k1", "v1", 0))
	v, ok, err := kv.StringGet(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v1", v)

	require.NoError(t, kv.StringSet(ctx, "k1", "v2", 0))
	v, _, _ = kv.StringGet(ctx, "k1")
	assert.Equal(t, "v2", v)

	require.NoError(t, kv.Del(ctx, "k1"))
	_, ok, _ = kv.StringGet(ctx, "k1")
	assert.False(t, ok)
}

func TestSQLiteKVStringTTLExpires(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()

	require.NoError(t, kv.StringSet(ctx, "ttl-key", "v", time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, ok, err := kv.StringGet(ctx, "ttl-key")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteKVSetOperations(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()

	require.NoError(t, kv.SetAdd(ctx, "s1", "a"))
	require.NoError(t, kv.SetAdd(ctx, "s1", "b"))
	require.NoError(t, kv.SetAdd(ctx, "s1", "a")) // idempotent

	n, err := kv.SetCard(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, kv.SetRemove(ctx, "s1", "a"))
	require.NoError(t, kv.SetRemove(ctx, "s1", "nonexistent")) // no-op, not an error

	members, err := kv.SetMembers(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, members)
}

func TestSQLiteKVListAppendRange(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()

	require.NoError(t, kv.ListAppend(ctx, "l1", "first", 0))
	require.NoError(t, kv.ListAppend(ctx, "l1", "second", 0))

	vals, err := kv.ListRange(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, vals)
}

func TestSQLiteKVHashSetGetAll(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()

	require.NoError(t, kv.HashSet(ctx, "h1", "field1", "v1", 0))
	require.NoError(t, kv.HashSet(ctx, "h1", "field2", "v2", 0))

	all, err := kv.HashGetAll(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"field1": "v1", "field2": "v2"}, all)
}
