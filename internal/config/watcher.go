package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// defaultDebounce 合并编辑器保存时产生的连续事件。
const defaultDebounce = 500 * time.Millisecond

// ReloadFunc 在配置文件变更并重新加载成功后被调用。
type ReloadFunc func(*Config)

// Watcher 监听配置文件所在目录，文件写入/创建/重命名后重新执行 Load。
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	logger   *logrus.Logger
	onReload ReloadFunc
	debounce time.Duration
}

// NewWatcher 创建监听器；调用 Run 后才开始处理事件。
func NewWatcher(path string, logger *logrus.Logger, onReload ReloadFunc) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("无法解析配置路径: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监听失败: %w", err)
	}
	// 监听目录比监听文件本身更可靠：编辑器通常以 rename 方式保存。
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("监听配置目录失败: %w", err)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Watcher{
		path:     abs,
		watcher:  fw,
		logger:   logger,
		onReload: onReload,
		debounce: defaultDebounce,
	}, nil
}

// Run 阻塞处理文件事件，直到 ctx 结束。
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	var timer *time.Timer
	var fire <-chan time.Time
	name := filepath.Base(w.path)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithFields(logrus.Fields{"action": "config_watch", "path": w.path}).WithError(err).Warn("config_watch_error")
		}
	}
}

func (w *Watcher) reload() {
	fields := watchFields(w.path)
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.WithFields(fields).WithError(err).Warn("config_reload_failed")
		return
	}
	w.logger.WithFields(fields).Info("config_reloaded")
	if w.onReload != nil {
		w.onReload(cfg)
	}
}

func watchFields(path string) logrus.Fields {
	return logrus.Fields{
		"action":     "config_reload",
		"configPath": path,
	}
}
