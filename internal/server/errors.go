package server

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/build-hub/build-hub/internal/bundle"
	"github.com/build-hub/build-hub/internal/installation"
	"github.com/build-hub/build-hub/internal/moduleset"
)

// HTTPError 是错误映射后的响应内容，Message 已不含本地路径。
type HTTPError struct {
	Status  int
	Code    string
	Message string
}

// Classify 将处理链返回的 error 映射为状态码与错误码。
func Classify(err error) HTTPError {
	var (
		invalid  *moduleset.InvalidSpecifierError
		install  *installation.InstallationError
		compile  *bundle.CompileError
		fiberErr *fiber.Error
	)
	switch {
	case errors.As(err, &invalid):
		return HTTPError{Status: fiber.StatusBadRequest, Code: "invalid_module", Message: invalid.Error()}
	case errors.Is(err, bundle.ErrNoModules), errors.Is(err, installation.ErrEmptyModuleSet):
		return HTTPError{Status: fiber.StatusBadRequest, Code: "modules_required", Message: "at least one module is required"}
	case errors.Is(err, bundle.ErrUnknownType):
		return HTTPError{Status: fiber.StatusNotFound, Code: "bundle_type_unknown", Message: err.Error()}
	case errors.As(err, &install):
		return HTTPError{Status: fiber.StatusInternalServerError, Code: "installation_failed", Message: install.Error()}
	case errors.As(err, &compile):
		return HTTPError{Status: fiber.StatusInternalServerError, Code: "compile_error", Message: compile.Message}
	case errors.As(err, &fiberErr):
		return HTTPError{Status: fiberErr.Code, Code: "http_error", Message: fiberErr.Message}
	default:
		return HTTPError{Status: fiber.StatusInternalServerError, Code: "internal_error", Message: "internal server error"}
	}
}

// NewErrorHandler 返回 fiber 全局错误处理器：统一 JSON 结构并记录日志。
func NewErrorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		mapped := Classify(err)
		entry := logger.WithFields(logrus.Fields{
			"action":     "request_error",
			"path":       c.Path(),
			"status":     mapped.Status,
			"error_code": mapped.Code,
			"request_id": RequestID(c),
		}).WithError(err)
		if mapped.Status >= fiber.StatusInternalServerError {
			entry.Error("request failed")
		} else {
			entry.Warn("request rejected")
		}

		c.Set(fiber.HeaderCacheControl, "no-cache, no-store, must-revalidate")
		return c.Status(mapped.Status).JSON(fiber.Map{
			"error":   mapped.Code,
			"message": mapped.Message,
		})
	}
}
