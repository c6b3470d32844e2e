package tshark

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogCacheStoreAndLookup(t *testing.T) {
	c := NewCatalogCache(5 * time.Minute)
	c.Store("tshark", "", testCatalog)

	got, ok := c.Lookup("tshark", "")
	require.True(t, ok)
	assert.Equal(t, testCatalog, got)
	assert.Equal(t, 1, c.Hits("tshark"))

	_, ok = c.Lookup("/opt/tshark", "")
	assert.False(t, ok, "other binary")
	_, ok = c.Lookup("tshark", "gtp.dissect_gtp_u:TRUE")
	assert.False(t, ok, "other preferences")
}

func TestCatalogCacheTTL(t *testing.T) {
	now := time.Unix(1700000000, 0)
	c := NewCatalogCache(time.Minute)
	c.now = func() time.Time { return now }
	c.Store("tshark", "", testCatalog)

	now = now.Add(59 * time.Second)
	_, ok := c.Lookup("tshark", "")
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok = c.Lookup("tshark", "")
	assert.False(t, ok)
}

func TestCatalogCacheDisabled(t *testing.T) {
	c := NewCatalogCache(0)
	c.Store("tshark", "", testCatalog)
	_, ok := c.Lookup("tshark", "")
	assert.False(t, ok)

	var nilCache *CatalogCache
	nilCache.Store("tshark", "", testCatalog)
	_, ok = nilCache.Lookup("tshark", "")
	assert.False(t, ok)
}

func TestCatalogCacheInvalidate(t *testing.T) {
	c := NewCatalogCache(time.Minute)
	c.Store("tshark", "", testCatalog)
	c.Invalidate("tshark")
	_, ok := c.Lookup("tshark", "")
	assert.False(t, ok)
}

func TestListFieldsUsesCatalogCache(t *testing.T) {
	cache := NewCatalogCache(time.Minute)
	e, r := newTestEngine(t, func([]string) fakeProc { return fakeProc{stdout: testCatalog} }, WithCatalogCache(cache))

	for i := 0; i < 3; i++ {
		got, err := e.ListFields(context.Background(), FieldQuery{Query: "ngap", Limit: 10})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	}
	assert.Len(t, r.calls, 1)
	assert.Equal(t, 2, cache.Hits("tshark"))
}

func TestCatalogFailureIsNotCached(t *testing.T) {
	cache := NewCatalogCache(time.Minute)
	fail := true
	e, r := newTestEngine(t, func([]string) fakeProc {
		if fail {
			return fakeProc{exit: 1, stderr: "bad"}
		}
		return fakeProc{stdout: testCatalog}
	}, WithCatalogCache(cache))

	_, err := e.ListFields(context.Background(), FieldQuery{Limit: 1})
	require.Error(t, err)
	fail = false
	_, err = e.ListFields(context.Background(), FieldQuery{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, r.calls, 2)
}
