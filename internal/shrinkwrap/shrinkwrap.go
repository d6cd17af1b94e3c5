// Package shrinkwrap 将一次安装解析出的全部精确版本编码为可重放的查询串，
// 客户端据此可以在上游范围漂移后仍然请求到字节一致的构建结果。
package shrinkwrap

import (
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/build-hub/build-hub/internal/moduleset"
)

// Encode 按名称排序输出 `name@version`；OriginalSource 含路径分隔符时原样输出。
func Encode(resolved map[string]moduleset.Resolved, exclude map[string]struct{}) string {
	names := make([]string, 0, len(resolved))
	for name := range resolved {
		if _, skip := exclude[name]; skip {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, target(name, resolved[name]))
	}
	return strings.Join(parts, ",")
}

// Decode 是 Encode 的逆操作，结果集合一律视为精确锁定。
func Decode(raw string) (moduleset.Set, error) {
	set, err := moduleset.Parse([]string{raw})
	if err != nil {
		return moduleset.Set{}, err
	}
	return set.Pin(), nil
}

// URLOptions 控制 shrinkwrap URL 中附带的构建参数。
type URLOptions struct {
	EndpointVersion string
	BabelRuntime    bool
}

// URL 生成锁定当前安装的 bundle 地址：modules 为被请求模块的精确版本，
// shrinkwrap 为其余所有传递依赖。
func URL(bundleType string, requested, all map[string]moduleset.Resolved, opts URLOptions) string {
	version := opts.EndpointVersion
	if version == "" {
		version = "v2"
	}

	exclude := make(map[string]struct{}, len(requested))
	for name := range requested {
		exclude[name] = struct{}{}
	}

	query := url.Values{}
	query.Set("modules", Encode(requested, nil))
	query.Set("shrinkwrap", Encode(all, exclude))
	if !opts.BabelRuntime {
		query.Set("polyfills", "false")
	}

	return path.Join("/", version, "bundles", bundleType) + "?" + query.Encode()
}

func target(name string, info moduleset.Resolved) string {
	if strings.Contains(info.OriginalSource, "/") {
		return info.OriginalSource
	}
	return name + "@" + info.Version
}
