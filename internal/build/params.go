package build

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/build-hub/build-hub/internal/bundle"
	"github.com/build-hub/build-hub/internal/moduleset"
	"github.com/build-hub/build-hub/internal/shrinkwrap"
)

// AutoInitModule 在未显式关闭时追加到每个请求。
const AutoInitModule = "o-autoinit@^1.0.0"

var moduleSeparator = regexp.MustCompile(`\s*,\s*`)

var newerThanLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC1123,
	time.RFC1123Z,
	time.RFC850,
	time.ANSIC,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Params 是解析后的 bundle 请求参数。
type Params struct {
	Modules moduleset.Set
	Options bundle.BuildOptions
	// Redirects 是已经发生的超时重定向次数；HasRedirects 表示查询中带有该参数（即使为 0）。
	Redirects    int
	HasRedirects bool
	// IgnoredNewerThan 记录无法解析而被忽略的 newerthan 原值。
	IgnoredNewerThan string
}

// Shrinkwrapped 表示请求带有版本锁定。
func (p Params) Shrinkwrapped() bool {
	return !p.Options.VersionLocks.IsEmpty()
}

// ParseParams 按查询参数构造 bundle 请求。modules 缺失或为空时返回 bundle.ErrNoModules。
func ParseParams(query url.Values, defaultExport string) (Params, error) {
	var params Params

	raw := strings.TrimSpace(query.Get("modules"))
	if raw == "" {
		return params, bundle.ErrNoModules
	}
	var inputs []string
	for _, piece := range moduleSeparator.Split(raw, -1) {
		if piece != "" {
			inputs = append(inputs, piece)
		}
	}
	if query.Get("autoinit") != "0" && !hasAutoInit(inputs) {
		inputs = append(inputs, AutoInitModule)
	}
	modules, err := moduleset.Parse(inputs)
	if err != nil {
		return params, err
	}
	if modules.IsEmpty() {
		return params, bundle.ErrNoModules
	}
	params.Modules = modules

	params.Options.BabelRuntime = !isFalseLike(query.Get("polyfills"))
	params.Options.Minify = query.Get("minify") != "none"
	if query.Has("export") {
		params.Options.ExportName = query.Get("export")
	} else {
		params.Options.ExportName = defaultExport
	}

	if value := strings.TrimSpace(query.Get("newerthan")); value != "" {
		if parsed, ok := parseNewerThan(value); ok {
			params.Options.NewerThan = parsed
		} else {
			params.IgnoredNewerThan = value
		}
	}

	if value := strings.TrimSpace(query.Get("shrinkwrap")); value != "" {
		locks, err := shrinkwrap.Decode(value)
		if err != nil {
			return params, err
		}
		params.Options.VersionLocks = locks
	}

	if raw := strings.TrimSpace(query.Get("redirects")); raw != "" {
		params.HasRedirects = true
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			params.Redirects = n
		}
	}

	return params, nil
}

func hasAutoInit(inputs []string) bool {
	for _, input := range inputs {
		if strings.HasPrefix(input, "o-autoinit") {
			return true
		}
	}
	return false
}

func isFalseLike(value string) bool {
	switch value {
	case "none", "0", "no", "false":
		return true
	default:
		return false
	}
}

func parseNewerThan(value string) (time.Time, bool) {
	for _, layout := range newerThanLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}
