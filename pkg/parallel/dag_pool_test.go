package parallel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDAGPool_RunsInDependencyOrder(t *testing.T) {
	deps := map[string][]string{
		"child":      {"parent"},
		"grandchild": {"child"},
		"parent":     nil,
	}

	var mu sync.Mutex
	var order []string

	pool := NewDAGPool(4, deps, func(ctx context.Context, id string) error {
		mu.Lock()
		order = append(order, id)
		mu.Unlock()
		return nil
	})

	err := pool.Run(context.Background(), []string{"grandchild"})
	require.NoError(t, err)

	index := map[string]int{}
	for i, id := range order {
		index[id] = i
	}
	assert.Less(t, index["parent"], index["child"])
	assert.Less(t, index["child"], index["grandchild"])
}

func TestDAGPool_IndependentBranchesBothRun(t *testing.T) {
	deps := map[string][]string{
		"a": nil,
		"b": nil,
	}

	var ran atomic.Int64
	pool := NewDAGPool(2, deps, func(ctx context.Context, id string) error {
		ran.Add(1)
		return nil
	})

	err := pool.Run(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), ran.Load())
}

func TestDAGPool_CycleDetected(t *testing.T) {
	deps := map[string][]string{
		"a": {"b"},
		"b": {"a"},
	}

	pool := NewDAGPool(2, deps, func(ctx context.Context, id string) error {
		return nil
	})

	err := pool.Run(context.Background(), []string{"a"})
	require.Error(t, err)
	var cycleErr *ErrCycleDetected
	assert.ErrorAs(t, err, &cycleErr)
}

func TestDAGPool_FailurePropagatesToDependents(t *testing.T) {
	deps := map[string][]string{
		"root":          nil,
		"dependent":     {"root"},
		"grandependent": {"dependent"},
		"unrelated":     nil,
	}

	boom := errors.New("boom")
	var mu sync.Mutex
	ran := map[string]bool{}

	pool := NewDAGPool(4, deps, func(ctx context.Context, id string) error {
		mu.Lock()
		ran[id] = true
		mu.Unlock()
		if id == "root" {
			return boom
		}
		return nil
	})

	err := pool.Run(context.Background(), []string{"grandependent", "unrelated"})
	assert.ErrorIs(t, err, boom)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, ran["root"])
	assert.True(t, ran["unrelated"])
	// dependent and grandependent are abandoned, not actually executed,
	// but still accounted for so Run terminates.
	assert.False(t, ran["dependent"])
	assert.False(t, ran["grandependent"])
}

func TestDAGPool_ConcurrencyCap(t *testing.T) {
	deps := map[string][]string{
		"a": nil, "b": nil, "c": nil, "d": nil,
	}

	var current, max atomic.Int64
	pool := NewDAGPool(2, deps, func(ctx context.Context, id string) error {
		n := current.Add(1)
		for {
			old := max.Load()
			if n <= old || max.CompareAndSwap(old, n) {
				break
			}
		}
		defer current.Add(-1)
		return nil
	})

	require.NoError(t, pool.Run(context.Background(), []string{"a", "b", "c", "d"}))
	assert.LessOrEqual(t, max.Load(), int64(2))
}
