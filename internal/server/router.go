package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/build-hub/build-hub/internal/bundletype"
)

// BundleHandler describes the component responsible for answering bundle
// requests. It allows injecting fake handlers during tests.
type BundleHandler interface {
	Handle(fiber.Ctx, *BundleRoute) error
}

// BundleHandlerFunc adapts a function to the BundleHandler interface.
type BundleHandlerFunc func(fiber.Ctx, *BundleRoute) error

// Handle makes BundleHandlerFunc satisfy BundleHandler.
func (f BundleHandlerFunc) Handle(c fiber.Ctx, route *BundleRoute) error {
	return f(c, route)
}

// BundleRoute carries the resolved bundle type for the current request.
type BundleRoute struct {
	Type bundletype.Metadata
}

// AppOptions controls how the Fiber application should behave on a specific port.
type AppOptions struct {
	Logger     *logrus.Logger
	Bundles    BundleHandler
	ListenPort int
}

const contextKeyRequestID = "_buildhub_request_id"

// BundlePath is the route serving compiled bundles.
const BundlePath = "/v2/bundles/:type"

// NewApp builds a Fiber application with request-id middleware, the bundle
// route and structured error handling.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Bundles == nil {
		return nil, errors.New("bundle handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		ErrorHandler:  NewErrorHandler(opts.Logger),
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())

	app.Add([]string{fiber.MethodGet, fiber.MethodHead}, BundlePath, func(c fiber.Ctx) error {
		key := strings.ToLower(strings.TrimSpace(c.Params("type")))
		meta, ok := bundletype.Resolve(key)
		if !ok {
			return renderTypeUnknown(c, opts.Logger, key)
		}
		return opts.Bundles.Handle(c, &BundleRoute{Type: meta})
	})

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID 并写入响应头。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

func renderTypeUnknown(c fiber.Ctx, logger *logrus.Logger, bundleType string) error {
	logger.WithFields(logrus.Fields{
		"action":      "bundle_type_lookup",
		"bundle_type": bundleType,
		"request_id":  RequestID(c),
	}).Warn("bundle type unknown")

	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "bundle_type_unknown",
	})
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

// IsDiagnosticsPath reports whether the path belongs to the /-/ diagnostics surface.
func IsDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
