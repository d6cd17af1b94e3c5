package bundletype

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

var globalRegistry = newRegistry()

type registry struct {
	mu    sync.RWMutex
	types map[string]Metadata
}

func newRegistry() *registry {
	return &registry{types: make(map[string]Metadata)}
}

// Register 将类型元数据加入全局注册表，重复键会返回错误。
func Register(meta Metadata) error {
	return globalRegistry.register(meta)
}

// MustRegister 在注册失败时 panic，适合 init() 中调用。
func MustRegister(meta Metadata) {
	if err := Register(meta); err != nil {
		panic(err)
	}
}

// Resolve 返回指定键的类型元数据。
func Resolve(key string) (Metadata, bool) {
	return globalRegistry.resolve(key)
}

// List 返回按键排序的类型元数据列表。
func List() []Metadata {
	return globalRegistry.list()
}

// Keys 返回所有已注册类型的键值。
func Keys() []string {
	items := List()
	result := make([]string, len(items))
	for i, meta := range items {
		result[i] = meta.Key
	}
	return result
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func (r *registry) register(meta Metadata) error {
	key := normalizeKey(meta.Key)
	if key == "" {
		return fmt.Errorf("bundle type key is required")
	}
	if meta.MimeType == "" {
		return fmt.Errorf("bundle type %s requires a mime type", key)
	}
	meta.Key = key

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.types[key]; exists {
		return fmt.Errorf("bundle type %s already registered", key)
	}
	r.types[key] = meta
	return nil
}

func (r *registry) resolve(key string) (Metadata, bool) {
	normalized := normalizeKey(key)
	if normalized == "" {
		return Metadata{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	meta, ok := r.types[normalized]
	return meta, ok
}

func (r *registry) list() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.types) == 0 {
		return nil
	}

	keys := make([]string, 0, len(r.types))
	for key := range r.types {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]Metadata, 0, len(keys))
	for _, key := range keys {
		result = append(result, r.types[key])
	}
	return result
}
