package compiler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/build-hub/build-hub/internal/bundle"
)

// maxStderr 限制错误消息中携带的 stderr 字节数。
const maxStderr = 4096

// Shell 在安装根目录下运行编译脚本；构建参数通过 BUILD_* 环境变量传入。
type Shell struct {
	script string
	logger *logrus.Logger
}

var _ bundle.Compiler = (*Shell)(nil)

// NewShell 在启动时校验脚本语法。
func NewShell(script string, logger *logrus.Logger) (*Shell, error) {
	if strings.TrimSpace(script) == "" {
		return nil, errors.New("compile command is empty")
	}
	if _, err := parse(script); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Shell{script: script, logger: logger}, nil
}

// Compile 实现 bundle.Compiler。
func (s *Shell) Compile(ctx context.Context, req bundle.CompileRequest) (bundle.Output, error) {
	prog, err := parse(s.script)
	if err != nil {
		return bundle.Output{}, err
	}

	var stdout, stderr bytes.Buffer
	runner, err := interp.New(
		interp.Dir(req.Installation.RootPath),
		interp.Env(expand.ListEnviron(BuildEnv(req)...)),
		interp.StdIO(nil, &stdout, &stderr),
	)
	if err != nil {
		return bundle.Output{}, fmt.Errorf("create interpreter: %w", err)
	}

	if err := runner.Run(ctx, prog); err != nil {
		var status interp.ExitStatus
		if errors.As(err, &status) {
			return bundle.Output{}, fmt.Errorf("compile command exited with status %d: %s", int(status), tail(stderr.String()))
		}
		return bundle.Output{}, fmt.Errorf("compile command: %w", err)
	}
	if stderr.Len() > 0 {
		s.logger.WithFields(logrus.Fields{
			"action":      "compile_stderr",
			"bundle_type": req.Type,
		}).Debug(tail(stderr.String()))
	}
	return bundle.Output{Content: stdout.Bytes()}, nil
}

// BuildEnv 返回编译脚本可见的环境：进程环境加上本次构建参数，后者优先。
func BuildEnv(req bundle.CompileRequest) []string {
	env := os.Environ()
	return append(env,
		"BUILD_TYPE="+req.Type,
		"BUILD_ROOT="+req.Installation.RootPath,
		"BUILD_MODULES="+strings.Join(req.Modules.Names(), " "),
		"BUILD_MINIFY="+strconv.FormatBool(req.Minify),
		"BUILD_BABEL_RUNTIME="+strconv.FormatBool(req.BabelRuntime),
		"BUILD_EXPORT="+req.ExportName,
	)
}

func parse(script string) (*syntax.File, error) {
	prog, err := syntax.NewParser().Parse(strings.NewReader(script), "compile")
	if err != nil {
		return nil, fmt.Errorf("parse compile command: %w", err)
	}
	return prog, nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxStderr {
		s = s[len(s)-maxStderr:]
	}
	return s
}
