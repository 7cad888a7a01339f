// Package cache provides a bounded LRU cache for device objects.
//
// Entries own resources that must be freed when they leave the cache, so
// every removal (eviction, Delete or Clear) passes the value to the release
// callback given to New:
//
//	groups := cache.New[key, *wgpu.BindGroup](64, func(_ key, bg *wgpu.BindGroup) {
//	    bg.Release()
//	})
//	bg, err := groups.GetOrCreate(k, create)
//
// Cache is safe for concurrent use.
package cache
