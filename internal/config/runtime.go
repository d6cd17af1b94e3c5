package config

import "strings"

// CompilerMode 描述某个 bundle 类型使用哪种编译后端。
type CompilerMode string

const (
	// CompilerShell 运行配置的编译命令。
	CompilerShell CompilerMode = "shell"
	// CompilerConcat 未配置命令时直接拼接源文件。
	CompilerConcat CompilerMode = "concat"
)

// CompilerRuntime 是某个 bundle 类型最终生效的编译设置。
type CompilerRuntime struct {
	Type    string
	Mode    CompilerMode
	Command string
}

// CompilerFor 返回 bundle 类型的编译设置：类型级覆盖优先，其次全局 CompileCommand。
func (c *Config) CompilerFor(bundleType string) CompilerRuntime {
	key := strings.ToLower(strings.TrimSpace(bundleType))
	command := strings.TrimSpace(c.Global.CompileCommand)
	for _, override := range c.Compilers {
		if override.Type == key && strings.TrimSpace(override.Command) != "" {
			command = strings.TrimSpace(override.Command)
			break
		}
	}
	if command == "" {
		return CompilerRuntime{Type: key, Mode: CompilerConcat}
	}
	return CompilerRuntime{Type: key, Mode: CompilerShell, Command: command}
}

// CompilerModes 返回每个类型的编译模式摘要，例如 css:shell。
func (c *Config) CompilerModes(types []string) []string {
	if len(types) == 0 {
		return nil
	}
	result := make([]string, len(types))
	for i, t := range types {
		result[i] = t + ":" + string(c.CompilerFor(t).Mode)
	}
	return result
}
