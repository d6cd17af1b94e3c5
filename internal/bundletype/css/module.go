// Package css 注册样式 bundle 类型。
package css

import "github.com/build-hub/build-hub/internal/bundletype"

// Key 是 /v2/bundles/css 使用的类型键。
const Key = "css"

func init() {
	bundletype.MustRegister(bundletype.Metadata{
		Key:         Key,
		Description: "Compiled stylesheet built from each module's Sass/CSS main files",
		MimeType:    "text/css",
		Extensions:  []string{".css", ".scss"},
	})
}
