package analyzer

import (
	"context"
	"sort"

	"github.com/clauselens/clauselens/internal/cache"
	"github.com/clauselens/clauselens/internal/types"
)

type cachedAdapter struct {
	Adapter
	store   *cache.Store
	version string
}

// WithCache wraps a with a result cache keyed by the adapter name, its
// version and the artifacts it reads. Failed runs are never cached.
func WithCache(a Adapter, store *cache.Store, version string) Adapter {
	if store == nil {
		return a
	}
	return &cachedAdapter{Adapter: a, store: store, version: version}
}

func (c *cachedAdapter) Run(ctx context.Context, in Input) ([]types.Finding, error) {
	key := c.key(in)
	if fs, ok := c.store.Get(key); ok {
		return fs, nil
	}
	fs, err := c.Adapter.Run(ctx, in)
	if err != nil {
		return nil, err
	}
	c.store.Put(key, c.Name(), fs)
	return fs, nil
}

func (c *cachedAdapter) key(in Input) string {
	parts := []string{c.Name(), c.version}
	ids := make([]string, 0, len(in.Sources))
	for _, s := range in.Sources {
		ids = append(ids, s.ArtifactID+"@"+s.Path)
	}
	sort.Strings(ids)
	parts = append(parts, ids...)
	opts := in.Options[c.Name()]
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+"="+opts[k])
	}
	return cache.Key(parts...)
}
