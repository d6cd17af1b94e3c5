// Package bundletype 聚合可构建的 bundle 类型（css、js），并提供统一的注册入口。
//
// 新增类型需要：
//   1. 在 internal/bundletype/<key>/ 目录下声明类型元数据；
//   2. 在 init() 中调用 MustRegister 注册；
//   3. 在 internal/config/bundletypes.go 中以空导入的方式启用。
//
// 路由层依赖本包判断 /v2/bundles/:type 是否合法，Bundler 依赖它推断产物的 MIME 类型。
package bundletype
