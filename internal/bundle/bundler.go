// Package bundle 维护编译产物缓存：同一 (类型, 模块集合, 构建参数) 只编译一次，
// 编译结果写入磁盘 Store，并按模块集合是否精确锁定决定有效期。
package bundle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/build-hub/build-hub/internal/bundletype"
	"github.com/build-hub/build-hub/internal/cache"
	"github.com/build-hub/build-hub/internal/installation"
	"github.com/build-hub/build-hub/internal/logging"
	"github.com/build-hub/build-hub/internal/metrics"
	"github.com/build-hub/build-hub/internal/moduleset"
	"github.com/build-hub/build-hub/internal/shrinkwrap"
)

const cacheName = "bundle"

// InstallationSource 提供就绪安装；installation.Manager 满足该接口。
type InstallationSource interface {
	GetOrCreate(ctx context.Context, set moduleset.Set, opts installation.Options) (*installation.Installation, error)
}

// Config 汇总 Bundler 的依赖。
type Config struct {
	Installations   InstallationSource
	Compiler        Compiler
	Store           cache.Store
	Policy          cache.TTLPolicy
	CompileTimeout  time.Duration
	EndpointVersion string
	Logger          *logrus.Logger
	Metrics         *metrics.Recorder
}

type entry struct {
	artifact *Artifact
	err      error
	done     chan struct{}
}

func (e *entry) ready() bool {
	select {
	case <-e.done:
		return e.err == nil
	default:
		return false
	}
}

// Bundler 是进程内唯一的 bundle 缓存。
type Bundler struct {
	cfg    Config
	logger *logrus.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// NewBundler 校验依赖并构造 Bundler。
func NewBundler(cfg Config) (*Bundler, error) {
	if cfg.Installations == nil {
		return nil, errors.New("installation source is required")
	}
	if cfg.Compiler == nil {
		return nil, errors.New("compiler is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("artifact store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Bundler{
		cfg:     cfg,
		logger:  logger,
		entries: make(map[string]*entry),
	}, nil
}

// GetBundle 返回请求对应的产物。命中未过期的缓存时直接返回；同一 key 正在编译时等待其结果；
// 否则在独立 goroutine 中安装并编译。ctx 只约束等待，编译会继续完成并写入缓存。
func (b *Bundler) GetBundle(ctx context.Context, req Request) (*Artifact, error) {
	meta, ok := bundletype.Resolve(req.Type)
	if !ok {
		return nil, fmt.Errorf("%s: %w", req.Type, ErrUnknownType)
	}
	if req.Modules.IsEmpty() {
		return nil, ErrNoModules
	}
	req.Type = meta.Key
	key := req.Key()

	b.mu.Lock()
	var stale *Artifact
	if e, ok := b.entries[key]; ok {
		if !e.ready() {
			b.mu.Unlock()
			b.cfg.Metrics.IncLookup(cacheName, metrics.LookupJoined)
			return b.wait(ctx, e)
		}
		a := e.artifact
		if !b.cfg.Policy.Expired(a.ExpiryTime) && !isOlder(a.CreatedTime, req.Options.NewerThan) {
			b.mu.Unlock()
			b.cfg.Metrics.IncLookup(cacheName, metrics.LookupHit)
			return a, nil
		}
		delete(b.entries, key)
		stale = a
	}
	e := &entry{done: make(chan struct{})}
	b.entries[key] = e
	b.mu.Unlock()

	if stale != nil {
		b.discard(stale)
	}
	b.cfg.Metrics.IncLookup(cacheName, metrics.LookupMiss)
	go b.build(key, meta, req, e)
	return b.wait(ctx, e)
}

func (b *Bundler) wait(ctx context.Context, e *entry) (*Artifact, error) {
	select {
	case <-e.done:
		return e.artifact, e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *Bundler) build(key string, meta bundletype.Metadata, req Request, e *entry) {
	started := time.Now()
	ctx := context.Background()
	if b.cfg.CompileTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.CompileTimeout)
		defer cancel()
	}

	artifact, err := b.compile(ctx, key, meta, req)
	b.cfg.Metrics.ObserveCompile(meta.Key, time.Since(started), err == nil)
	fields := logging.BundleFields("bundle_compile", meta.Key, key, false)

	b.mu.Lock()
	if err != nil {
		e.err = err
		if b.entries[key] == e {
			delete(b.entries, key)
		}
	} else {
		e.artifact = artifact
	}
	b.mu.Unlock()
	close(e.done)

	if err != nil {
		b.logger.WithFields(fields).WithError(err).Warn("bundle_compile_failed")
		return
	}
	b.logger.WithFields(fields).WithFields(logrus.Fields{
		"size":        artifact.Size,
		"exact":       artifact.Exact,
		"duration_ms": time.Since(started).Milliseconds(),
	}).Info("bundle_compiled")
}

func (b *Bundler) compile(ctx context.Context, key string, meta bundletype.Metadata, req Request) (*Artifact, error) {
	inst, err := b.cfg.Installations.GetOrCreate(ctx, req.Modules, req.Options.InstallOptions())
	if err != nil {
		return nil, err
	}
	defer inst.Release()

	out, err := b.cfg.Compiler.Compile(ctx, CompileRequest{
		Type:         meta.Key,
		Installation: inst,
		Modules:      req.Modules,
		Minify:       req.Options.Minify,
		BabelRuntime: req.Options.BabelRuntime,
		ExportName:   req.Options.ExportName,
	})
	if err != nil {
		return nil, NewCompileError(inst.SanitizeError(err).Error())
	}

	mimeType := out.MimeType
	if mimeType == "" {
		mimeType = meta.MimeType
	}
	now := b.cfg.Policy.Now()
	exact := req.Modules.IsExact()
	// 每次编译使用独立的存储位置，过期条目的删除不会波及同 key 的新产物。
	locator := cache.Locator{Namespace: meta.Key, Key: key + "#" + uuid.NewString()}
	stored, err := b.cfg.Store.Put(ctx, locator, bytes.NewReader(out.Content), cache.PutOptions{ModTime: now})
	if err != nil {
		return nil, fmt.Errorf("store bundle: %w", err)
	}

	return &Artifact{
		Key:         key,
		Type:        meta.Key,
		Modules:     req.Modules,
		MimeType:    mimeType,
		Size:        stored.SizeBytes,
		Exact:       exact,
		CreatedTime: now,
		ExpiryTime:  b.cfg.Policy.ExpiryFor(now, exact),
		ShrinkwrapURL: shrinkwrap.URL(meta.Key, inst.RequestedModules(), inst.ListResolvedModules(), shrinkwrap.URLOptions{
			EndpointVersion: b.cfg.EndpointVersion,
			BabelRuntime:    req.Options.BabelRuntime,
		}),
		locator: locator,
		store:   b.cfg.Store,
	}, nil
}

// EvictExpired 移除所有过期产物及其磁盘文件，返回移除数量。
func (b *Bundler) EvictExpired(ctx context.Context) int {
	b.mu.Lock()
	var expired []*Artifact
	for key, e := range b.entries {
		if !e.ready() || !b.cfg.Policy.Expired(e.artifact.ExpiryTime) {
			continue
		}
		expired = append(expired, e.artifact)
		delete(b.entries, key)
	}
	b.mu.Unlock()

	for _, a := range expired {
		b.discardWithContext(ctx, a)
	}
	b.cfg.Metrics.AddEvictions(cacheName, len(expired))
	if len(expired) > 0 {
		b.logger.WithFields(logrus.Fields{"action": "bundle_evict", "evicted": len(expired)}).Info("evicted expired bundles")
	}
	return len(expired)
}

// Summary 是诊断接口使用的条目快照。
type Summary struct {
	Key         string    `json:"key"`
	Type        string    `json:"type"`
	State       string    `json:"state"`
	Size        int64     `json:"size,omitempty"`
	Exact       bool      `json:"exact"`
	CreatedTime time.Time `json:"createdTime,omitempty"`
	ExpiryTime  time.Time `json:"expiryTime,omitempty"`
}

// Snapshot 按 key 排序返回当前缓存内容。
func (b *Bundler) Snapshot() []Summary {
	b.mu.Lock()
	out := make([]Summary, 0, len(b.entries))
	for key, e := range b.entries {
		s := Summary{Key: key, State: "compiling"}
		if e.ready() {
			a := e.artifact
			s.Type, s.State, s.Size, s.Exact = a.Type, "ready", a.Size, a.Exact
			s.CreatedTime, s.ExpiryTime = a.CreatedTime, a.ExpiryTime
		}
		out = append(out, s)
	}
	b.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (b *Bundler) discard(a *Artifact) {
	b.discardWithContext(context.Background(), a)
}

func (b *Bundler) discardWithContext(ctx context.Context, a *Artifact) {
	if err := b.cfg.Store.Remove(ctx, a.locator); err != nil && !errors.Is(err, cache.ErrNotFound) {
		b.logger.WithFields(logging.BundleFields("bundle_discard", a.Type, a.Key, false)).WithError(err).Warn("failed to remove bundle file")
	}
}

func isOlder(created, newerThan time.Time) bool {
	return !newerThan.IsZero() && created.Before(newerThan)
}
