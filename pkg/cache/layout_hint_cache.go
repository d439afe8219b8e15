package cache

import (
	"errors"
	"fmt"
	"github.com/dgraph-io/ristretto"
)

// LayoutHintCache remembers, per log source, which timestamp layout last
// parsed successfully so that it can be tried first on the next line.
// Eviction is based on ristretto's TinyLFU admission and sampled LFU policies,
// which keeps the cache bounded no matter how many sources are tailed.
type LayoutHintCache interface {
	Get(source string) (int, error)
	Put(source string, layoutIndex int) error
}

type LayoutHintCacheImpl struct {
	cache *ristretto.Cache
}

func NewLayoutHintCacheImpl(cache *ristretto.Cache) *LayoutHintCacheImpl {
	return &LayoutHintCacheImpl{cache: cache}
}

// NewDefaultLayoutHintCache sizes the cache for at most maxSources hints.
func NewDefaultLayoutHintCache(maxSources int64) (*LayoutHintCacheImpl, error) {
	if maxSources <= 0 {
		maxSources = 1
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxSources * 10,
		MaxCost:     maxSources,
		BufferItems: 64,
		// costs are counted in hints, not bytes
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create layout hint cache: %w", err)
	}
	return NewLayoutHintCacheImpl(cache), nil
}

func (lhc *LayoutHintCacheImpl) Get(source string) (int, error) {
	value, found := lhc.cache.Get(source)
	if !found {
		return 0, ErrKeyNotFound
	}
	typedValue, ok := value.(int)
	if !ok {
		return 0, fmt.Errorf("value not of expected type %T returned from cache when getting", value)
	}
	return typedValue, nil
}

func (lhc *LayoutHintCacheImpl) Put(source string, layoutIndex int) error {
	if current, err := lhc.Get(source); err == nil && current == layoutIndex {
		return nil
	}
	set := lhc.cache.Set(source, layoutIndex, 1)
	if !set {
		return ErrSetFailed
	}
	return nil
}

// Wait blocks until buffered writes are applied. Only needed when a caller
// must observe its own Put, as tests do.
func (lhc *LayoutHintCacheImpl) Wait() {
	lhc.cache.Wait()
}

func (lhc *LayoutHintCacheImpl) Close() {
	lhc.cache.Close()
}

var (
	ErrKeyNotFound = errors.New("key not found within the cache")
	ErrSetFailed   = errors.New("failed to set value in cache")
)
