package discovery

import "path/filepath"

func (c *Cache[T]) isNegative(dir string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.negative[filepath.Clean(dir)]
	return ok
}
