package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/madeddie/mebooks/catalog"
)

func TestETagCachePutGet(t *testing.T) {
	c := NewETagCache(2, nil)
	res := catalog.NewResult()

	c.Put("https://x/a", "", res)
	assert.Equal(t, 0, c.Len())

	c.Put("https://x/a", `"v1"`, res)
	e, ok := c.Get("https://x/a")
	require.True(t, ok)
	assert.Equal(t, `"v1"`, e.ETag)
	assert.Same(t, res, e.Result)

	c.Remove("https://x/a")
	_, ok = c.Get("https://x/a")
	assert.False(t, ok)
}

func TestETagCacheEvictsOldest(t *testing.T) {
	c := NewETagCache(2, nil)
	c.Put("a", "1", catalog.NewResult())
	time.Sleep(time.Millisecond)
	c.Put("b", "1", catalog.NewResult())
	time.Sleep(time.Millisecond)
	c.Put("c", "1", catalog.NewResult())

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestPreviewCacheLoadsOnce(t *testing.T) {
	c := NewPreviewCache(10)
	var calls atomic.Int32
	loader := PreviewLoaderFunc(func(ctx context.Context, key string) (*catalog.Result, error) {
		calls.Add(1)
		r := catalog.NewResult()
		r.Books = []catalog.Book{{Title: key}}
		return r, nil
	})

	ctx := context.Background()
	first, err := c.Get(ctx, "https://x/lane", loader)
	require.NoError(t, err)
	second, err := c.Get(ctx, "https://x/lane", loader)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.EqualValues(t, 1, calls.Load())

	_, ok := c.Peek("https://x/lane")
	assert.True(t, ok)
	c.Invalidate("https://x/lane")
	_, ok = c.Peek("https://x/lane")
	assert.False(t, ok)
}

func TestPreviewCacheDoesNotCacheFailures(t *testing.T) {
	c := NewPreviewCache(10)
	boom := errors.New("boom")
	_, err := c.Get(context.Background(), "https://x/bad", func(ctx context.Context, key string) (*catalog.Result, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	_, ok := c.Peek("https://x/bad")
	assert.False(t, ok)
}
