package compiler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/build-hub/build-hub/internal/bundle"
	"github.com/build-hub/build-hub/internal/bundletype"
	"github.com/build-hub/build-hub/internal/installation"
)

// Concat 按依赖在前、请求模块在后的顺序拼接 main 文件。
type Concat struct{}

var _ bundle.Compiler = Concat{}

// Compile 实现 bundle.Compiler。
func (Concat) Compile(ctx context.Context, req bundle.CompileRequest) (bundle.Output, error) {
	meta, ok := bundletype.Resolve(req.Type)
	if !ok {
		return bundle.Output{}, fmt.Errorf("%s: %w", req.Type, bundle.ErrUnknownType)
	}
	inst := req.Installation

	var buf bytes.Buffer
	if meta.SupportsExport && req.ExportName != "" {
		fmt.Fprintf(&buf, "window[%q] = window[%q] || {};\n", req.ExportName, req.ExportName)
	}
	for _, name := range buildOrder(req) {
		if err := ctx.Err(); err != nil {
			return bundle.Output{}, err
		}
		manifest, err := inst.ManifestFor(name)
		if errors.Is(err, installation.ErrManifestNotFound) {
			// 没有清单的包不贡献任何文件。
			continue
		}
		if err != nil {
			return bundle.Output{}, fmt.Errorf("manifest %s: %w", name, err)
		}
		for _, file := range manifest.Main {
			if !meta.Matches(file) {
				continue
			}
			full, err := inst.PathToFile(name, file)
			if err != nil {
				return bundle.Output{}, err
			}
			content, err := os.ReadFile(full)
			if err != nil {
				return bundle.Output{}, fmt.Errorf("read %s/%s: %w", name, file, err)
			}
			if !req.Minify {
				fmt.Fprintf(&buf, "/* %s/%s */\n", name, strings.TrimPrefix(file, "./"))
			}
			buf.Write(content)
			if len(content) > 0 && content[len(content)-1] != '\n' {
				buf.WriteByte('\n')
			}
		}
	}

	out := buf.Bytes()
	if req.Minify {
		out = collapse(out)
	}
	return bundle.Output{Content: out}, nil
}

func buildOrder(req bundle.CompileRequest) []string {
	requested := req.Modules.Names()
	isRequested := make(map[string]struct{}, len(requested))
	for _, name := range requested {
		isRequested[name] = struct{}{}
	}
	var deps []string
	for name := range req.Installation.ListResolvedModules() {
		if _, ok := isRequested[name]; !ok {
			deps = append(deps, name)
		}
	}
	sort.Strings(deps)
	return append(deps, requested...)
}

// collapse 去掉每行首尾空白和空行。
func collapse(src []byte) []byte {
	lines := bytes.Split(src, []byte("\n"))
	out := make([][]byte, 0, len(lines))
	for _, line := range lines {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		out = append(out, line)
	}
	return bytes.Join(out, []byte("\n"))
}
