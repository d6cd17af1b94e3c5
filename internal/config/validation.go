package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"github.com/build-hub/build-hub/internal/bundletype"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}

	positive := []struct {
		field string
		value Duration
	}{
		{"Global.InstallationTTL", g.InstallationTTL},
		{"Global.InstallationTTLExact", g.InstallationTTLExact},
		{"Global.BundleTTL", g.BundleTTL},
		{"Global.BundleTTLExact", g.BundleTTLExact},
		{"Global.BuildTimeout", g.BuildTimeout},
		{"Global.MaxBuildDuration", g.MaxBuildDuration},
		{"Global.InstallTimeout", g.InstallTimeout},
		{"Global.CompileTimeout", g.CompileTimeout},
		{"Global.EvictionInterval", g.EvictionInterval},
		{"Global.RegistryCacheTTL", g.RegistryCacheTTL},
		{"Global.UpstreamTimeout", g.UpstreamTimeout},
	}
	for _, item := range positive {
		if item.value.DurationValue() <= 0 {
			return newFieldError(item.field, "必须大于 0")
		}
	}
	if g.InstallationTTLExact < g.InstallationTTL {
		return newFieldError("Global.InstallationTTLExact", "不能小于 InstallationTTL")
	}
	if g.BundleTTLExact < g.BundleTTL {
		return newFieldError("Global.BundleTTLExact", "不能小于 BundleTTL")
	}
	if g.MaxBuildDuration < g.BuildTimeout {
		return newFieldError("Global.MaxBuildDuration", "不能小于 BuildTimeout")
	}
	if g.CloneDepth < 0 {
		return newFieldError("Global.CloneDepth", "不能为负数")
	}

	if g.RegistryURL != "" {
		if err := validateUpstream(g.RegistryURL); err != nil {
			return fmt.Errorf("Global.RegistryURL: %w", err)
		}
	}
	if g.GitHubURL != "" {
		if err := validateUpstream(g.GitHubURL); err != nil {
			return fmt.Errorf("Global.GitHubURL: %w", err)
		}
	}
	if (g.GitHubUsername == "") != (g.GitHubPassword == "") {
		return newFieldError("Global.GitHubUsername/GitHubPassword", "必须同时提供或同时留空")
	}
	if g.CompileCommand != "" {
		if err := validateScript(g.CompileCommand); err != nil {
			return fmt.Errorf("Global.CompileCommand: %w", err)
		}
	}

	seen := map[string]struct{}{}
	for i := range c.Compilers {
		compiler := &c.Compilers[i]
		normalized := strings.ToLower(strings.TrimSpace(compiler.Type))
		if normalized == "" {
			return newFieldError(compilerField("", "Type"), "不能为空")
		}
		if _, ok := bundletype.Resolve(normalized); !ok {
			return newFieldError(compilerField(normalized, "Type"), fmt.Sprintf("未注册的 bundle 类型，仅支持 %s", strings.Join(bundletype.Keys(), "|")))
		}
		if _, exists := seen[normalized]; exists {
			return newFieldError(compilerField(normalized, "Type"), "重复")
		}
		seen[normalized] = struct{}{}
		compiler.Type = normalized

		if strings.TrimSpace(compiler.Command) == "" {
			return newFieldError(compilerField(normalized, "Command"), "不能为空")
		}
		if err := validateScript(compiler.Command); err != nil {
			return fmt.Errorf("%s: %w", compilerField(normalized, "Command"), err)
		}
	}

	return nil
}

func validateUpstream(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("缺少 Host: %s", raw)
	}
	return nil
}

func validateScript(script string) error {
	if _, err := syntax.NewParser().Parse(strings.NewReader(script), "compile"); err != nil {
		return fmt.Errorf("编译命令语法错误: %w", err)
	}
	return nil
}
