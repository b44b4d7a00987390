// Package cache provides a generic LRU cache for device objects that must be
// destroyed when they leave the cache.
//
//	views := cache.New[viewKey, device.ImageViewID](256, func(_ viewKey, id device.ImageViewID) {
//		dev.DestroyImageView(id)
//	})
//	id, err := views.GetOrCreate(key, func() (device.ImageViewID, error) {
//		return dev.CreateImageView(info)
//	})
//
// # Thread Safety
//
// Cache is safe for concurrent use and must not be copied after creation.
// The eviction callback runs under the cache lock when an insertion pushes
// the cache over its limit, so it must not call back into the cache.
package cache
