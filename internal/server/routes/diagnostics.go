package routes

import (
	"context"
	"net/http"
	"sort"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/sirupsen/logrus"

	"github.com/build-hub/build-hub/internal/bundle"
	"github.com/build-hub/build-hub/internal/bundletype"
	"github.com/build-hub/build-hub/internal/installation"
	"github.com/build-hub/build-hub/internal/registry"
	"github.com/build-hub/build-hub/internal/server"
)

// InstallationSnapshotter 由 installation.Manager 实现。
type InstallationSnapshotter interface {
	Snapshot() []installation.Summary
}

// BundleSnapshotter 由 bundle.Bundler 实现。
type BundleSnapshotter interface {
	Snapshot() []bundle.Summary
}

// HostLister 由 registry.Client 实现。
type HostLister interface {
	Hosts(ctx context.Context) ([]registry.Host, error)
}

// Diagnostics 汇总 /-/ 诊断接口的数据源，为 nil 的字段对应的接口不会注册。
type Diagnostics struct {
	Installations InstallationSnapshotter
	Bundles       BundleSnapshotter
	Registry      HostLister
	Metrics       http.Handler
	Logger        *logrus.Logger
}

// RegisterDiagnosticRoutes 暴露 /-/ 诊断接口与 /__gtg 健康检查，供 SRE 查询缓存状态。
func RegisterDiagnosticRoutes(app *fiber.App, diag Diagnostics) {
	if app == nil {
		return
	}
	logger := diag.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	app.Get("/__gtg", func(c fiber.Ctx) error {
		c.Set(fiber.HeaderCacheControl, "no-cache, no-store, must-revalidate")
		return c.SendString("OK")
	})

	app.Get("/-/bundle-types", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"bundle_types": encodeBundleTypes(bundletype.List())})
	})

	if diag.Installations != nil {
		app.Get("/-/installations", func(c fiber.Ctx) error {
			items := diag.Installations.Snapshot()
			return c.JSON(fiber.Map{"count": len(items), "installations": items})
		})
	}

	if diag.Bundles != nil {
		app.Get("/-/bundles", func(c fiber.Ctx) error {
			items := diag.Bundles.Snapshot()
			return c.JSON(fiber.Map{"count": len(items), "bundles": items})
		})
	}

	if diag.Registry != nil {
		app.Get("/-/registry/hosts", func(c fiber.Ctx) error {
			hosts, err := diag.Registry.Hosts(c.Context())
			if err != nil {
				logger.WithFields(logrus.Fields{
					"action":     "registry_hosts",
					"request_id": server.RequestID(c),
				}).WithError(err).Warn("registry unavailable")
				return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "registry_unavailable"})
			}
			return c.JSON(fiber.Map{"hosts": hosts})
		})
	}

	if diag.Metrics != nil {
		app.Get("/-/metrics", adaptor.HTTPHandler(diag.Metrics))
	}
}

type bundleTypePayload struct {
	Key            string   `json:"key"`
	Description    string   `json:"description"`
	MimeType       string   `json:"mime_type"`
	Extensions     []string `json:"extensions"`
	SupportsExport bool     `json:"supports_export"`
}

func encodeBundleTypes(types []bundletype.Metadata) []bundleTypePayload {
	if len(types) == 0 {
		return nil
	}
	sort.Slice(types, func(i, j int) bool {
		return types[i].Key < types[j].Key
	})
	result := make([]bundleTypePayload, 0, len(types))
	for _, meta := range types {
		result = append(result, bundleTypePayload{
			Key:            meta.Key,
			Description:    meta.Description,
			MimeType:       meta.MimeType,
			Extensions:     append([]string(nil), meta.Extensions...),
			SupportsExport: meta.SupportsExport,
		})
	}
	return result
}
