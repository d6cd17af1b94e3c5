// Package js 注册脚本 bundle 类型，产物会以 exportName 暴露全局命名空间。
package js

import "github.com/build-hub/build-hub/internal/bundletype"

// Key 是 /v2/bundles/js 使用的类型键。
const Key = "js"

func init() {
	bundletype.MustRegister(bundletype.Metadata{
		Key:            Key,
		Description:    "Compiled script built from each module's JavaScript main files",
		MimeType:       "application/javascript",
		Extensions:     []string{".js"},
		SupportsExport: true,
	})
}
