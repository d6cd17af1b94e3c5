package bundle

import "errors"

var (
	// ErrUnknownType 表示 bundle 类型未注册。
	ErrUnknownType = errors.New("unknown bundle type")
	// ErrNoModules 表示请求没有任何模块。
	ErrNoModules = errors.New("no modules requested")
)

// MaxBuildTimeExceeded 是重定向预算耗尽时返回给客户端的消息。
const MaxBuildTimeExceeded = "Maximum allowable build time exceeded"

// CompileError 表示编译工具链失败或构建超出预算。Message 已去除本地路径，可直接返回给客户端。
type CompileError struct {
	Message string
}

// NewCompileError 构造 CompileError。
func NewCompileError(message string) *CompileError {
	return &CompileError{Message: message}
}

func (e *CompileError) Error() string {
	return e.Message
}
