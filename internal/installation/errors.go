package installation

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyModuleSet 表示请求的模块集合为空，无需安装。
var ErrEmptyModuleSet = errors.New("module set is empty")

// InstallationError 表示包解析或下载失败；同一 key 的所有等待者都会收到同一个实例。
type InstallationError struct {
	Key string
	Err error

	message string
}

func newInstallationError(key string, err error, paths ...string) *InstallationError {
	return &InstallationError{
		Key:     key,
		Err:     err,
		message: sanitizeMessage(err.Error(), paths...),
	}
}

func (e *InstallationError) Error() string {
	msg := e.message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("installation of %s failed: %s", e.Key, msg)
}

func (e *InstallationError) Unwrap() error {
	return e.Err
}

// sanitizedError 保留原始错误链，只替换对外可见的消息。
type sanitizedError struct {
	message string
	err     error
}

func (e *sanitizedError) Error() string { return e.message }

func (e *sanitizedError) Unwrap() error { return e.err }

// sanitizeMessage 去掉本地文件系统路径，避免泄露到客户端。
func sanitizeMessage(msg string, paths ...string) string {
	for _, p := range paths {
		p = strings.TrimRight(p, "/")
		if p == "" {
			continue
		}
		msg = strings.ReplaceAll(msg, p+"/", "")
		msg = strings.ReplaceAll(msg, p, "")
	}
	return msg
}
