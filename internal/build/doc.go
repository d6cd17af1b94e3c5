// Package build 实现 /v2/bundles/:type 的构建与重定向协议：解析查询参数，在单次请求的
// 等待窗口内获取 bundle；窗口耗尽时以 307 重定向到自身并累加 redirects 计数，
// 累计等待超过上限后返回编译错误。构建本身在后台继续，后续请求直接命中缓存。
package build
