package bundle

import (
	"context"

	"github.com/build-hub/build-hub/internal/installation"
	"github.com/build-hub/build-hub/internal/moduleset"
)

// CompileRequest 是交给编译工具链的输入。
type CompileRequest struct {
	Type         string
	Installation *installation.Installation
	Modules      moduleset.Set
	Minify       bool
	BabelRuntime bool
	ExportName   string
}

// Output 是编译结果；MimeType 为空时由 bundle 类型推断。
type Output struct {
	Content  []byte
	MimeType string
}

// Compiler 将一个就绪安装编译为单个产物。
type Compiler interface {
	Compile(ctx context.Context, req CompileRequest) (Output, error)
}

// CompilerFunc 允许普通函数充当 Compiler。
type CompilerFunc func(ctx context.Context, req CompileRequest) (Output, error)

func (f CompilerFunc) Compile(ctx context.Context, req CompileRequest) (Output, error) {
	return f(ctx, req)
}
