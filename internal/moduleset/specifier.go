package moduleset

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// AnyRange 是未声明版本范围时使用的占位值。
const AnyRange = "*"

var (
	namePattern      = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
	ownerRepoPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*/[A-Za-z0-9._-]+$`)
)

// Specifier 描述一个被请求的前端模块：名称 + 版本范围，Source 非空时覆盖 registry 解析。
type Specifier struct {
	Name   string
	Range  string
	Source string
}

// ParseSpecifier 解析 `name`、`name@range` 或 `source@range` 三种写法。
func ParseSpecifier(raw string) (Specifier, error) {
	input := strings.TrimSpace(raw)
	if input == "" {
		return Specifier{}, newInvalidSpecifier(raw, "empty specifier")
	}
	if strings.ContainsAny(input, ", \t\r\n") {
		return Specifier{}, newInvalidSpecifier(raw, "unexpected separator")
	}

	target, rng := input, ""
	if idx := strings.LastIndex(input, "@"); idx >= 0 {
		// git@host:owner/repo 中的 @ 属于 source 本身，而不是版本分隔符。
		if candidate := input[idx+1:]; !strings.ContainsAny(candidate, "/:") {
			target, rng = input[:idx], candidate
			if rng == "" {
				return Specifier{}, newInvalidSpecifier(raw, "empty version range")
			}
		}
	}
	if rng == "" {
		rng = AnyRange
	}
	if target == "" {
		return Specifier{}, newInvalidSpecifier(raw, "missing module name")
	}

	if isSource(target) {
		name := sourceName(target)
		if !namePattern.MatchString(name) {
			return Specifier{}, newInvalidSpecifier(raw, "cannot derive module name from source")
		}
		return Specifier{Name: name, Range: rng, Source: target}, nil
	}
	if !namePattern.MatchString(target) {
		return Specifier{}, newInvalidSpecifier(raw, "invalid module name")
	}
	return Specifier{Name: target, Range: rng}, nil
}

// String 返回规范化写法，Specifier 的相等性完全由它决定。
func (s Specifier) String() string {
	if s.Source != "" {
		return s.Source + "@" + s.Range
	}
	return s.Name + "@" + s.Range
}

// IsExact 判断版本范围是否为精确版本（例如 1.2.3、v1.2.3、=1.2.3）。
func (s Specifier) IsExact() bool {
	return IsExactVersion(s.Range)
}

// IsExactVersion 对单个范围字符串做精确版本判断，供 shrinkwrap/installer 复用。
func IsExactVersion(rng string) bool {
	candidate := strings.TrimPrefix(strings.TrimSpace(rng), "=")
	candidate = strings.TrimPrefix(candidate, "v")
	if candidate == "" {
		return false
	}
	_, err := semver.StrictNewVersion(candidate)
	return err == nil
}

func isSource(target string) bool {
	if strings.Contains(target, "://") {
		parsed, err := url.Parse(target)
		return err == nil && parsed.Host != ""
	}
	if strings.HasPrefix(target, "git@") && strings.Contains(target, ":") {
		return true
	}
	return ownerRepoPattern.MatchString(target)
}

func sourceName(source string) string {
	trimmed := strings.TrimSuffix(strings.TrimRight(source, "/"), ".git")
	if idx := strings.LastIndexAny(trimmed, "/:"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	return trimmed
}
