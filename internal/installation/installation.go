package installation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/build-hub/build-hub/internal/moduleset"
)

// State 描述安装条目所处阶段。
type State int

const (
	StateInstalling State = iota
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInstalling:
		return "installing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrOutsideModule 表示请求的路径越过了模块目录。
var ErrOutsideModule = errors.New("path escapes module directory")

// Installation 是某个模块集合在磁盘上解析完成的依赖树。
// 通过 Manager.GetOrCreate 获得的实例持有一个租约，使用完毕后必须调用 Release。
type Installation struct {
	Key       string
	Modules   moduleset.Set
	Locks     moduleset.Set
	Exact     bool
	RootPath  string
	CreatedAt time.Time
	ReadyAt   time.Time
	ExpiresAt time.Time

	manager   *Manager
	state     State
	resolved  map[string]moduleset.Resolved
	err       error
	done      chan struct{}
	leases    int
	evicted   bool
	reclaimed bool
}

// ListResolvedModules 返回依赖树中每个包最终解析到的版本，包含传递依赖。
func (i *Installation) ListResolvedModules() map[string]moduleset.Resolved {
	out := make(map[string]moduleset.Resolved, len(i.resolved))
	for name, info := range i.resolved {
		out[name] = info
	}
	return out
}

// RequestedModules 仅返回调用方显式请求的模块。
func (i *Installation) RequestedModules() map[string]moduleset.Resolved {
	out := make(map[string]moduleset.Resolved, i.Modules.Len())
	for _, name := range i.Modules.Names() {
		if info, ok := i.resolved[name]; ok {
			out[name] = info
		}
	}
	return out
}

// ModuleDir 返回模块在安装目录中的位置。
func (i *Installation) ModuleDir(name string) string {
	return filepath.Join(i.RootPath, name)
}

// ManifestFor 读取指定模块的清单。
func (i *Installation) ManifestFor(name string) (Manifest, error) {
	if _, ok := i.resolved[name]; !ok {
		return Manifest{}, fmt.Errorf("module %q is not part of installation %s", name, i.Key)
	}
	return ReadManifest(i.ModuleDir(name))
}

// PathToFile 解析模块内的相对路径，拒绝任何越出模块目录的结果。
func (i *Installation) PathToFile(name, rel string) (string, error) {
	if _, ok := i.resolved[name]; !ok {
		return "", fmt.Errorf("module %q is not part of installation %s", name, i.Key)
	}
	base := i.ModuleDir(name)
	full := filepath.Join(base, filepath.FromSlash(rel))
	relToBase, err := filepath.Rel(base, full)
	if err != nil || relToBase == ".." || strings.HasPrefix(relToBase, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %w", rel, ErrOutsideModule)
	}
	return full, nil
}

// Exists 判断模块内的文件是否存在。
func (i *Installation) Exists(name, rel string) bool {
	full, err := i.PathToFile(name, rel)
	if err != nil {
		return false
	}
	_, err = os.Stat(full)
	return err == nil
}

// SanitizeError 去掉错误消息中的本地安装路径，错误链保持不变。
func (i *Installation) SanitizeError(err error) error {
	if err == nil {
		return nil
	}
	paths := []string{i.RootPath}
	if i.manager != nil {
		paths = append(paths, i.manager.baseDir)
	}
	return &sanitizedError{message: sanitizeMessage(err.Error(), paths...), err: err}
}

// Release 归还租约；条目已被驱逐且没有其他持有者时删除安装目录。
func (i *Installation) Release() {
	if i.manager == nil {
		return
	}
	m := i.manager
	m.mu.Lock()
	if i.leases > 0 {
		i.leases--
	}
	dir := i.reclaimLocked()
	m.mu.Unlock()
	m.removeDirs(dir)
}

func (i *Installation) reclaimLocked() string {
	if !i.evicted || i.leases > 0 || i.reclaimed {
		return ""
	}
	i.reclaimed = true
	return i.RootPath
}
