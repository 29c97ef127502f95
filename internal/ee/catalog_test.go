package ee

import (
	"context"
	"errors"
	"testing"

	"github.com/fadodo/flood-mapper/internal/ee/expr"
	"github.com/fadodo/flood-mapper/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSizer struct {
	calls int
	size  int
	err   error
}

func (s *stubSizer) CollectionSize(_ context.Context, _ expr.Collection) (int, error) {
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	return s.size, nil
}

func TestCachedCatalog_HitAndMiss(t *testing.T) {
	stub := &stubSizer{size: 5}
	cached := NewCachedCatalog(stub, 10, observability.NewMetricsForTesting())
	coll := expr.Catalog("COPERNICUS/S1_GRD").FilterDate("2024-10-01", "2024-10-13")

	size, err := cached.CollectionSize(context.Background(), coll)
	require.NoError(t, err)
	assert.Equal(t, 5, size)
	assert.Equal(t, 1, stub.calls)

	// Same expression: served from cache.
	size, err = cached.CollectionSize(context.Background(), coll)
	require.NoError(t, err)
	assert.Equal(t, 5, size)
	assert.Equal(t, 1, stub.calls)

	// Different filters: distinct key.
	other := expr.Catalog("COPERNICUS/S1_GRD").FilterDate("2024-11-01", "2024-11-13")
	_, err = cached.CollectionSize(context.Background(), other)
	require.NoError(t, err)
	assert.Equal(t, 2, stub.calls)
}

func TestCachedCatalog_ErrorNotCached(t *testing.T) {
	stub := &stubSizer{err: errors.New("platform down")}
	cached := NewCachedCatalog(stub, 10, observability.NewMetricsForTesting())
	coll := expr.Catalog("COPERNICUS/S2_SR_HARMONIZED")

	_, err := cached.CollectionSize(context.Background(), coll)
	require.Error(t, err)

	stub.err = nil
	stub.size = 3
	size, err := cached.CollectionSize(context.Background(), coll)
	require.NoError(t, err)
	assert.Equal(t, 3, size)
	assert.Equal(t, 2, stub.calls, "failed lookups must not be cached")
}

func TestCachedCatalog_Eviction(t *testing.T) {
	stub := &stubSizer{size: 1}
	cached := NewCachedCatalog(stub, 2, observability.NewMetricsForTesting())

	a := expr.Catalog("a")
	b := expr.Catalog("b")
	c := expr.Catalog("c")

	for _, coll := range []expr.Collection{a, b, c} {
		_, err := cached.CollectionSize(context.Background(), coll)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, stub.calls)

	// "a" was least recently used and should have been evicted.
	_, err := cached.CollectionSize(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, 4, stub.calls)

	// "c" is still resident.
	_, err = cached.CollectionSize(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, 4, stub.calls)
}
