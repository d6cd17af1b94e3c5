package moduleset

import "fmt"

// InvalidSpecifierError 表示某个模块字符串无法解析，属于客户端错误。
type InvalidSpecifierError struct {
	Input  string
	Reason string
}

func (e *InvalidSpecifierError) Error() string {
	return fmt.Sprintf("invalid module specifier %q: %s", e.Input, e.Reason)
}

func newInvalidSpecifier(input, reason string) error {
	return &InvalidSpecifierError{Input: input, Reason: reason}
}
