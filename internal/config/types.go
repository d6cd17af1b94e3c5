package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述全局运行时行为。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`
	StoragePath   string `mapstructure:"StoragePath"`

	// 安装与产物缓存的有效期；Exact 用于全部精确锁定的模块集合。
	InstallationTTL      Duration `mapstructure:"InstallationTTL"`
	InstallationTTLExact Duration `mapstructure:"InstallationTTLExact"`
	BundleTTL            Duration `mapstructure:"BundleTTL"`
	BundleTTLExact       Duration `mapstructure:"BundleTTLExact"`

	// BuildTimeout 是单次请求等待构建的时长，超时后 307 重定向；
	// MaxBuildDuration 是所有重定向累计允许的上限。
	BuildTimeout     Duration `mapstructure:"BuildTimeout"`
	MaxBuildDuration Duration `mapstructure:"MaxBuildDuration"`
	InstallTimeout   Duration `mapstructure:"InstallTimeout"`
	CompileTimeout   Duration `mapstructure:"CompileTimeout"`
	EvictionInterval Duration `mapstructure:"EvictionInterval"`

	DefaultExport  string `mapstructure:"DefaultExport"`
	CompileCommand string `mapstructure:"CompileCommand"`

	RegistryURL      string   `mapstructure:"RegistryURL"`
	RegistryCacheTTL Duration `mapstructure:"RegistryCacheTTL"`
	UpstreamTimeout  Duration `mapstructure:"UpstreamTimeout"`
	GitHubURL        string   `mapstructure:"GitHubURL"`
	GitHubUsername   string   `mapstructure:"GitHubUsername"`
	GitHubPassword   string   `mapstructure:"GitHubPassword"`
	CloneDepth       int      `mapstructure:"CloneDepth"`
}

// CompilerConfig 为单个 bundle 类型覆盖编译命令。
type CompilerConfig struct {
	Type    string `mapstructure:"Type"`
	Command string `mapstructure:"Command"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global    GlobalConfig     `mapstructure:",squash"`
	Compilers []CompilerConfig `mapstructure:"Compiler"`
}

// HasGitHubCredentials 表示是否配置了完整的 GitHub 凭证。
func (g GlobalConfig) HasGitHubCredentials() bool {
	return g.GitHubUsername != "" && g.GitHubPassword != ""
}

// AuthMode 输出 `credentialed` 或 `anonymous`，供日志字段使用。
func (g GlobalConfig) AuthMode() string {
	if g.HasGitHubCredentials() {
		return "credentialed"
	}
	return "anonymous"
}
