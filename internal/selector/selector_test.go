package selector

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BryanOwens012/dogwalker/internal/dog"
	"github.com/BryanOwens012/dogwalker/internal/store"
)

func newTestCoordination(t *testing.T) *store.Coordination {
	t.Helper()
	kv, err := store.NewSQLiteKV(filepath.Join(t.TempDir(), "walker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return store.NewCoordination(kv, zap.NewNop())
}

func newTestRoster(t *testing.T, names ...string) *dog.Roster {
	t.Helper()
	dogs := make([]dog.Dog, len(names))
	for i, n := range names {
		dogs[i] = dog.Dog{Name: n, Email: n + "@example.com", Credential: "tok-" + n}
	}
	roster, err := dog.NewRoster(dogs)
	require.NoError(t, err)
	return roster
}

func TestSelectorSingleDogAlwaysSelected(t *testing.T) {
	roster := newTestRoster(t, "Rex")
	sel := New(roster, newTestCoordination(t), zap.NewNop())

	d := sel.Select(context.Background())
	assert.Equal(t, "Rex", d.Name)
}

func TestSelectorPicksLeastBusy(t *testing.T) {
	ctx := context.Background()
	coord := newTestCoordination(t)
	roster := newTestRoster(t, "Rex", "Fido")
	sel := New(roster, coord, zap.NewNop())

	require.NoError(t, coord.MarkBusy(ctx, "Rex", "task-1"))
	require.NoError(t, coord.MarkBusy(ctx, "Rex", "task-2"))

	d := sel.Select(ctx)
	assert.Equal(t, "Fido", d.Name)
}

func TestSelectorTiesBreakByRosterOrder(t *testing.T) {
	roster := newTestRoster(t, "Rex", "Fido")
	sel := New(roster, newTestCoordination(t), zap.NewNop())

	d := sel.Select(context.Background())
	assert.Equal(t, "Rex", d.Name)
}

func TestSelectorMarkBusyFreeRoundTrip(t *testing.T) {
	ctx := context.Background()
	coord := newTestCoordination(t)
	roster := newTestRoster(t, "Rex")
	sel := New(roster, coord, zap.NewNop())

	require.NoError(t, sel.MarkBusy(ctx, "Rex", "task-1"))
	assert.Equal(t, 1, coord.ActiveTaskCount(ctx, "Rex"))

	require.NoError(t, sel.MarkFree(ctx, "Rex", "task-1"))
	assert.Equal(t, 0, coord.ActiveTaskCount(ctx, "Rex"))
}

// erroringKV fails every SetCard call, simulating a coordination store that
// is unreachable for load queries while still satisfying the full KV
// interface.
type erroringKV struct{}

func (erroringKV) StringGet(ctx context.Context, key string) (string, bool, error) { return "", false, nil }
func (erroringKV) StringSet(ctx context.Context, key, value string, ttl time.Duration) error {
	return nil
}
func (erroringKV) Del(ctx context.Context, key string) error { return nil }
func (erroringKV) SetAdd(ctx context.Context, key, member string) error { return nil }
func (erroringKV) SetRemove(ctx context.Context, key, member string) error { return nil }
func (erroringKV) SetCard(ctx context.Context, key string) (int, error) {
	return 0, errors.New("store unreachable")
}
func (erroringKV) SetMembers(ctx context.Context, key string) ([]string, error) { return nil, nil }
func (erroringKV) ListAppend(ctx context.Context, key, value string, ttl time.Duration) error {
	return nil
}
func (erroringKV) ListRange(ctx context.Context, key string) ([]string, error) { return nil, nil }
func (erroringKV) HashSet(ctx context.Context, key, field, value string, ttl time.Duration) error {
	return nil
}
func (erroringKV) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	return nil, nil
}
func (erroringKV) Time(ctx context.Context) (time.Time, error) { return time.Time{}, nil }
func (erroringKV) Close() error                                { return nil }

func TestSelectorSelectFallsBackToRoundRobinOnStoreFailure(t *testing.T) {
	coord := store.NewCoordination(erroringKV{}, zap.NewNop())
	roster := newTestRoster(t, "Rex", "Fido", "Mochi")
	sel := New(roster, coord, zap.NewNop())

	var got []string
	for i := 0; i < 4; i++ {
		got = append(got, sel.Select(context.Background()).Name)
	}
	assert.Equal(t, []string{"Rex", "Fido", "Mochi", "Rex"}, got)
}

func TestSelectorNextRoundRobinCycles(t *testing.T) {
	roster := newTestRoster(t, "Rex", "Fido", "Mochi")
	sel := New(roster, newTestCoordination(t), zap.NewNop())

	var got []string
	for i := 0; i < 4; i++ {
		got = append(got, sel.NextRoundRobin().Name)
	}
	assert.Equal(t, []string{"Rex", "Fido", "Mochi", "Rex"}, got)
}
