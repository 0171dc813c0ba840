package trace

import (
	"sync"

	"github.com/jaredpalmer/pytrace/internal/resolver"
	"github.com/jaredpalmer/pytrace/pkg/types"
)

// Cache holds the per-trace working state that is worth keeping between
// traces: file content, parsed import lists, the resolution memo, and the
// probed runtime snapshot. Pass one via Options.Cache to share it across
// traces of the same tree; all methods are safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	content map[string][]byte
	imports map[string][]types.ImportRecord
	memo    *resolver.Memo
	env     *types.RuntimeEnv
}

// NewCache creates an empty cache container.
func NewCache() *Cache {
	return &Cache{
		content: make(map[string][]byte),
		imports: make(map[string][]types.ImportRecord),
		memo:    resolver.NewMemo(),
	}
}

// Content returns cached file content.
func (c *Cache) Content(path string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.content[path]
	return data, ok
}

// PutContent stores file content.
func (c *Cache) PutContent(path string, data []byte) {
	c.mu.Lock()
	c.content[path] = data
	c.mu.Unlock()
}

// Imports returns a cached parsed-import list.
func (c *Cache) Imports(path string) ([]types.ImportRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	recs, ok := c.imports[path]
	return recs, ok
}

// PutImports stores a parsed-import list.
func (c *Cache) PutImports(path string, recs []types.ImportRecord) {
	c.mu.Lock()
	c.imports[path] = recs
	c.mu.Unlock()
}

// Memo exposes the shared resolution cache.
func (c *Cache) Memo() *resolver.Memo {
	return c.memo
}

// RuntimeEnv returns the cached runtime snapshot, if any.
func (c *Cache) RuntimeEnv() *types.RuntimeEnv {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.env
}

// SetRuntimeEnv stores the probed runtime snapshot.
func (c *Cache) SetRuntimeEnv(env *types.RuntimeEnv) {
	c.mu.Lock()
	c.env = env
	c.mu.Unlock()
}
