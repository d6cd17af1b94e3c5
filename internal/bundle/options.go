package bundle

import (
	"fmt"
	"strings"
	"time"

	"github.com/build-hub/build-hub/internal/installation"
	"github.com/build-hub/build-hub/internal/moduleset"
)

// BuildOptions 是同一模块集合产出不同产物的全部构建参数。
type BuildOptions struct {
	BabelRuntime bool
	Minify       bool
	ExportName   string
	// NewerThan 非零时，早于该时间生成的缓存视为过时。它不参与缓存 key。
	NewerThan time.Time
	// VersionLocks 来自 shrinkwrap 参数，空集合表示未锁定。
	VersionLocks moduleset.Set
}

// Key 返回参与 bundle 缓存 key 的规范化字符串。
func (o BuildOptions) Key() string {
	parts := []string{
		fmt.Sprintf("babel=%t", o.BabelRuntime),
		fmt.Sprintf("minify=%t", o.Minify),
		"export=" + o.ExportName,
	}
	if !o.VersionLocks.IsEmpty() {
		parts = append(parts, "locks="+o.VersionLocks.Key())
	}
	return strings.Join(parts, ";")
}

// InstallOptions 提取安装缓存关心的部分。
func (o BuildOptions) InstallOptions() installation.Options {
	return installation.Options{
		Locks:     o.VersionLocks,
		NewerThan: o.NewerThan,
	}
}

// Request 描述一次 bundle 获取请求。
type Request struct {
	Type    string
	Modules moduleset.Set
	Options BuildOptions
}

// Key 计算 bundle 缓存 key：type|模块集合|构建参数。
func (r Request) Key() string {
	return r.Type + "|" + r.Modules.Key() + "|" + r.Options.Key()
}
