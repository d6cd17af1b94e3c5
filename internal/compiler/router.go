package compiler

import (
	"context"
	"fmt"
	"strings"

	"github.com/build-hub/build-hub/internal/bundle"
)

// Router 按 bundle 类型分派到不同的 Compiler，未登记的类型使用 Fallback。
type Router struct {
	byType   map[string]bundle.Compiler
	fallback bundle.Compiler
}

var _ bundle.Compiler = (*Router)(nil)

// NewRouter 创建分派器；fallback 为空时使用 Concat。
func NewRouter(fallback bundle.Compiler) *Router {
	if fallback == nil {
		fallback = Concat{}
	}
	return &Router{byType: make(map[string]bundle.Compiler), fallback: fallback}
}

// Handle 为某个 bundle 类型登记 Compiler，重复登记会覆盖。
func (r *Router) Handle(bundleType string, c bundle.Compiler) {
	r.byType[normalize(bundleType)] = c
}

// Compile 实现 bundle.Compiler。
func (r *Router) Compile(ctx context.Context, req bundle.CompileRequest) (bundle.Output, error) {
	c, ok := r.byType[normalize(req.Type)]
	if !ok {
		c = r.fallback
	}
	if c == nil {
		return bundle.Output{}, fmt.Errorf("no compiler for bundle type %q", req.Type)
	}
	return c.Compile(ctx, req)
}

func normalize(bundleType string) string {
	return strings.ToLower(strings.TrimSpace(bundleType))
}
