package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	defaultListenPort    = 9000
	defaultDefaultExport = "Origami"
	defaultRegistryURL   = "http://origami-bower-registry.ft.com"
)

// envBindings 将敏感字段映射到环境变量，避免写入配置文件。
var envBindings = map[string]string{
	"GitHubUsername": "GITHUB_USERNAME",
	"GitHubPassword": "GITHUB_PASSWORD",
	"RegistryURL":    "REGISTRY_URL",
}

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
// 配置文件所在目录与当前目录下的 .env 会先被载入环境变量（不覆盖已有值）。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	if err := loadDotEnv(path); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("绑定环境变量失败: %w", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

// InstallationPath 返回安装目录根路径。
func (g GlobalConfig) InstallationPath() string {
	return filepath.Join(g.StoragePath, "installations")
}

// BundlePath 返回编译产物目录根路径。
func (g GlobalConfig) BundlePath() string {
	return filepath.Join(g.StoragePath, "bundles")
}

func loadDotEnv(configPath string) error {
	candidates := []string{filepath.Join(filepath.Dir(configPath), ".env"), ".env"}
	seen := map[string]struct{}{}
	for _, candidate := range candidates {
		abs, err := filepath.Abs(candidate)
		if err != nil {
			continue
		}
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}
		if err := godotenv.Load(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("读取 .env 失败: %w", err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", defaultListenPort)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("InstallationTTL", "24h")
	v.SetDefault("InstallationTTLExact", "72h")
	v.SetDefault("BundleTTL", "24h")
	v.SetDefault("BundleTTLExact", "72h")
	v.SetDefault("BuildTimeout", "20s")
	v.SetDefault("MaxBuildDuration", "60s")
	v.SetDefault("InstallTimeout", "10m")
	v.SetDefault("CompileTimeout", "5m")
	v.SetDefault("EvictionInterval", "10m")
	v.SetDefault("DefaultExport", defaultDefaultExport)
	v.SetDefault("CompileCommand", "")
	v.SetDefault("RegistryURL", defaultRegistryURL)
	v.SetDefault("RegistryCacheTTL", "12h")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("GitHubURL", "https://github.com")
	v.SetDefault("CloneDepth", 1)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = defaultListenPort
	}
	if strings.TrimSpace(g.LogLevel) == "" {
		g.LogLevel = "info"
	}
	defaults := []struct {
		field *Duration
		value time.Duration
	}{
		{&g.InstallationTTL, 24 * time.Hour},
		{&g.InstallationTTLExact, 72 * time.Hour},
		{&g.BundleTTL, 24 * time.Hour},
		{&g.BundleTTLExact, 72 * time.Hour},
		{&g.BuildTimeout, 20 * time.Second},
		{&g.MaxBuildDuration, 60 * time.Second},
		{&g.InstallTimeout, 10 * time.Minute},
		{&g.CompileTimeout, 5 * time.Minute},
		{&g.EvictionInterval, 10 * time.Minute},
		{&g.RegistryCacheTTL, 12 * time.Hour},
		{&g.UpstreamTimeout, 30 * time.Second},
	}
	for _, d := range defaults {
		if d.field.DurationValue() == 0 {
			*d.field = Duration(d.value)
		}
	}
	g.RegistryURL = strings.TrimRight(strings.TrimSpace(g.RegistryURL), "/")
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
