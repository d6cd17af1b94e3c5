// Package compiler 提供 bundle.Compiler 的两种参考实现：
// Shell 在进程内的 POSIX shell 解释器中运行配置好的编译脚本，stdout 即产物；
// Concat 直接拼接各模块清单中 main 字段列出的源文件，不依赖外部工具链。
package compiler
