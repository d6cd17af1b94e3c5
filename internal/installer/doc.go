// Package installer 提供 installation.Installer 的 git 实现：
// 通过注册中心或显式 source 找到仓库，按 semver 范围选择 tag，
// 将每个包检出到安装目录，并按 bower.json 的依赖广度优先展开。
package installer
