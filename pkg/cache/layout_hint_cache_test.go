package cache

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestLayoutHintCacheImpl_Get(t *testing.T) {
	t.Run("Returns error if source is not found", func(t *testing.T) {
		lhc := getNewLayoutHintCacheImpl(t)
		_, err := lhc.Get("/var/log/app.log")
		assert.Equal(t, ErrKeyNotFound, err)
	})

	t.Run("Returns layout index if source is found", func(t *testing.T) {
		lhc := getNewLayoutHintCacheImpl(t)
		err := lhc.Put("/var/log/app.log", 3)
		assert.Nil(t, err)
		lhc.Wait()
		res, err := lhc.Get("/var/log/app.log")
		assert.Nil(t, err)
		assert.Equal(t, 3, res)
	})
}

func TestLayoutHintCacheImpl_Put(t *testing.T) {
	t.Run("Overwrites the hint for a source", func(t *testing.T) {
		lhc := getNewLayoutHintCacheImpl(t)
		assert.Nil(t, lhc.Put("/var/log/app.log", 1))
		lhc.Wait()
		assert.Nil(t, lhc.Put("/var/log/app.log", 4))
		lhc.Wait()
		res, err := lhc.Get("/var/log/app.log")
		assert.Nil(t, err)
		assert.Equal(t, 4, res)
	})

	t.Run("Keeps hints for different sources apart", func(t *testing.T) {
		lhc := getNewLayoutHintCacheImpl(t)
		assert.Nil(t, lhc.Put("/var/log/a.log", 0))
		assert.Nil(t, lhc.Put("/var/log/b.log", 2))
		lhc.Wait()
		a, err := lhc.Get("/var/log/a.log")
		assert.Nil(t, err)
		b, err := lhc.Get("/var/log/b.log")
		assert.Nil(t, err)
		assert.Equal(t, 0, a)
		assert.Equal(t, 2, b)
	})
}

func getNewLayoutHintCacheImpl(t *testing.T) *LayoutHintCacheImpl {
	lhc, err := NewDefaultLayoutHintCache(64)
	require.NoError(t, err)
	t.Cleanup(lhc.Close)
	return lhc
}
