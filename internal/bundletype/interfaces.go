package bundletype

import (
	"path/filepath"
	"strings"
)

// Metadata 记录一种 bundle 类型的静态信息，供路由、编译与诊断端使用。
type Metadata struct {
	Key         string
	Description string
	MimeType    string
	// Extensions 是该类型从模块 main 列表中挑选源文件时认可的扩展名。
	Extensions []string
	// SupportsExport 表示产物会以 exportName 暴露全局命名空间。
	SupportsExport bool
}

// Matches 判断给定文件是否属于该 bundle 类型的源文件。
func (m Metadata) Matches(file string) bool {
	ext := strings.ToLower(filepath.Ext(file))
	for _, candidate := range m.Extensions {
		if ext == candidate {
			return true
		}
	}
	return false
}

// MimeTypeFor 返回类型对应的 MIME，未注册时退回 application/octet-stream。
func MimeTypeFor(key string) string {
	if meta, ok := Resolve(key); ok && meta.MimeType != "" {
		return meta.MimeType
	}
	return "application/octet-stream"
}
