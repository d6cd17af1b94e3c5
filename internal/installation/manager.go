// Package installation 维护模块集合的安装缓存：同一 key 的并发请求只触发一次安装，
// 安装在独立 goroutine 中运行，不受单个请求取消的影响。
package installation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/build-hub/build-hub/internal/cache"
	"github.com/build-hub/build-hub/internal/logging"
	"github.com/build-hub/build-hub/internal/metrics"
	"github.com/build-hub/build-hub/internal/moduleset"
)

const (
	cacheName     = "installation"
	installPrefix = "install-"
)

// Request 是交给 Installer 的输入。
type Request struct {
	Modules moduleset.Set
	// Locks 来自 shrinkwrap，非空时所有列出的包必须安装为指定版本。
	Locks moduleset.Set
}

// Installer 将模块集合（及其传递依赖）解析并下载到 targetDir/<name>，返回每个包的解析结果。
type Installer interface {
	Install(ctx context.Context, req Request, targetDir string) (map[string]moduleset.Resolved, error)
}

// Options 控制一次 GetOrCreate 的查找行为。
type Options struct {
	Locks moduleset.Set
	// NewerThan 非零时，早于该时间完成的就绪条目视为过时并重新安装。
	NewerThan time.Time
}

// Key 计算安装缓存 key；NewerThan 只影响新鲜度判断，不参与 key。
func Key(set moduleset.Set, opts Options) string {
	if opts.Locks.IsEmpty() {
		return set.Key()
	}
	return set.Key() + "#" + opts.Locks.Key()
}

// ManagerOptions 汇总 Manager 的依赖。
type ManagerOptions struct {
	BaseDir        string
	Installer      Installer
	Policy         cache.TTLPolicy
	InstallTimeout time.Duration
	Logger         *logrus.Logger
	Metrics        *metrics.Recorder
}

// Manager 是进程内唯一的安装缓存。
type Manager struct {
	baseDir        string
	installer      Installer
	policy         cache.TTLPolicy
	installTimeout time.Duration
	logger         *logrus.Logger
	metrics        *metrics.Recorder

	mu      sync.Mutex
	entries map[string]*Installation
}

// NewManager 创建安装根目录，并清理上次进程遗留的安装目录。
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.BaseDir == "" {
		return nil, errors.New("installation base dir is required")
	}
	if opts.Installer == nil {
		return nil, errors.New("installer is required")
	}
	base, err := filepath.Abs(opts.BaseDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	m := &Manager{
		baseDir:        base,
		installer:      opts.Installer,
		policy:         opts.Policy,
		installTimeout: opts.InstallTimeout,
		logger:         logger,
		metrics:        opts.Metrics,
		entries:        make(map[string]*Installation),
	}
	if n := m.purgeStale(); n > 0 {
		logger.WithFields(logrus.Fields{"action": "install_purge", "removed": n}).Info("removed stale installation directories")
	}
	return m, nil
}

// GetOrCreate 返回模块集合的就绪安装。命中时直接复用；安装进行中时等待同一结果；
// 否则发起新的安装。ctx 只限制调用方的等待时间，安装本身会继续完成并写入缓存。
func (m *Manager) GetOrCreate(ctx context.Context, set moduleset.Set, opts Options) (*Installation, error) {
	if set.IsEmpty() {
		return nil, ErrEmptyModuleSet
	}
	key := Key(set, opts)

	m.mu.Lock()
	var stale string
	if inst, ok := m.entries[key]; ok {
		switch inst.state {
		case StateReady:
			if !m.policy.Expired(inst.ExpiresAt) && !isOlder(inst.ReadyAt, opts.NewerThan) {
				inst.leases++
				m.mu.Unlock()
				m.metrics.IncLookup(cacheName, metrics.LookupHit)
				return inst, nil
			}
			stale = m.detachLocked(inst)
		case StateInstalling:
			m.mu.Unlock()
			m.metrics.IncLookup(cacheName, metrics.LookupJoined)
			return m.wait(ctx, inst)
		}
	}
	inst := &Installation{
		Key:       key,
		Modules:   set,
		Locks:     opts.Locks,
		Exact:     set.IsExact(),
		CreatedAt: m.policy.Now(),
		manager:   m,
		state:     StateInstalling,
		done:      make(chan struct{}),
	}
	m.entries[key] = inst
	m.mu.Unlock()

	m.removeDirs(stale)
	m.metrics.IncLookup(cacheName, metrics.LookupMiss)
	go m.install(inst)
	return m.wait(ctx, inst)
}

func (m *Manager) wait(ctx context.Context, inst *Installation) (*Installation, error) {
	select {
	case <-inst.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if inst.err != nil {
		return nil, inst.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if inst.reclaimed {
		return nil, newInstallationError(inst.Key, errors.New("installation was evicted before use"))
	}
	inst.leases++
	return inst, nil
}

func (m *Manager) install(inst *Installation) {
	started := time.Now()
	ctx := context.Background()
	if m.installTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.installTimeout)
		defer cancel()
	}
	fields := logging.InstallFields("install", inst.Key, inst.Exact)

	dir, err := os.MkdirTemp(m.baseDir, installPrefix+"*")
	var resolved map[string]moduleset.Resolved
	if err == nil {
		resolved, err = m.installer.Install(ctx, Request{Modules: inst.Modules, Locks: inst.Locks}, dir)
	}
	if err == nil {
		err = checkRequested(inst.Modules, resolved)
	}
	m.metrics.ObserveInstall(time.Since(started), err == nil)

	m.mu.Lock()
	if err != nil {
		inst.state = StateFailed
		inst.err = newInstallationError(inst.Key, err, dir, m.baseDir)
		if m.entries[inst.Key] == inst {
			delete(m.entries, inst.Key)
		}
		m.mu.Unlock()
		if dir != "" {
			m.removeDirs(dir)
		}
		m.logger.WithFields(fields).WithError(err).Warn("installation failed")
		close(inst.done)
		return
	}
	now := m.policy.Now()
	inst.RootPath = dir
	inst.resolved = resolved
	inst.ReadyAt = now
	inst.ExpiresAt = m.policy.ExpiryFor(now, inst.Exact)
	inst.state = StateReady
	m.mu.Unlock()

	m.logger.WithFields(fields).WithFields(logrus.Fields{
		"packages":    len(resolved),
		"duration_ms": time.Since(started).Milliseconds(),
	}).Info("installation ready")
	close(inst.done)
}

// EvictExpired 移除所有已过期的就绪条目，返回移除数量。安装中的条目不受影响；
// 仍被持有的目录等到最后一个租约归还时再删除。
func (m *Manager) EvictExpired() int {
	m.mu.Lock()
	var dirs []string
	evicted := 0
	for _, inst := range m.entries {
		if inst.state != StateReady || !m.policy.Expired(inst.ExpiresAt) {
			continue
		}
		if dir := m.detachLocked(inst); dir != "" {
			dirs = append(dirs, dir)
		}
		evicted++
	}
	m.mu.Unlock()

	m.removeDirs(dirs...)
	m.metrics.AddEvictions(cacheName, evicted)
	if evicted > 0 {
		m.logger.WithFields(logrus.Fields{"action": "install_evict", "evicted": evicted}).Info("evicted expired installations")
	}
	return evicted
}

// Summary 是诊断接口使用的条目快照。
type Summary struct {
	Key       string    `json:"key"`
	State     string    `json:"state"`
	Exact     bool      `json:"exact"`
	Leases    int       `json:"leases"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
	Packages  int       `json:"packages"`
}

// Snapshot 按 key 排序返回当前缓存内容。
func (m *Manager) Snapshot() []Summary {
	m.mu.Lock()
	out := make([]Summary, 0, len(m.entries))
	for _, inst := range m.entries {
		out = append(out, Summary{
			Key:       inst.Key,
			State:     inst.state.String(),
			Exact:     inst.Exact,
			Leases:    inst.leases,
			CreatedAt: inst.CreatedAt,
			ExpiresAt: inst.ExpiresAt,
			Packages:  len(inst.resolved),
		})
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Len 返回缓存条目数（包含安装中的条目）。
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Manager) detachLocked(inst *Installation) string {
	if m.entries[inst.Key] == inst {
		delete(m.entries, inst.Key)
	}
	inst.evicted = true
	return inst.reclaimLocked()
}

func (m *Manager) removeDirs(dirs ...string) {
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			m.logger.WithFields(logrus.Fields{"action": "install_cleanup", "dir": dir}).WithError(err).Warn("failed to remove installation directory")
		}
	}
}

func (m *Manager) purgeStale() int {
	entries, err := os.ReadDir(m.baseDir)
	if err != nil {
		return 0
	}
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), installPrefix) {
			continue
		}
		if os.RemoveAll(filepath.Join(m.baseDir, entry.Name())) == nil {
			removed++
		}
	}
	return removed
}

func checkRequested(set moduleset.Set, resolved map[string]moduleset.Resolved) error {
	var missing []string
	for _, name := range set.Names() {
		if _, ok := resolved[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("installer did not resolve %s", strings.Join(missing, ", "))
	}
	return nil
}

func isOlder(readyAt, newerThan time.Time) bool {
	return !newerThan.IsZero() && readyAt.Before(newerThan)
}
