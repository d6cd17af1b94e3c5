// Package cache defines the disk-backed store that holds compiled bundle bytes
// under StoragePath/bundles/<type>/<digest>. The store exposes read/write
// primitives with safe semantics (temp file + rename) and surfaces file info
// (size, modtime). TTLPolicy turns a creation time and the pin status of a
// module set into an expiry, shared by the installation and bundle caches.
package cache
