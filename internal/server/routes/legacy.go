package routes

import "github.com/gofiber/fiber/v3"

// RegisterLegacyRoutes 为已下线的 v1 接口返回 410，提示客户端迁移到 /v2/bundles。
func RegisterLegacyRoutes(app *fiber.App) {
	if app == nil {
		return
	}
	gone := func(c fiber.Ctx) error {
		return c.Status(fiber.StatusGone).JSON(fiber.Map{
			"error":   "endpoint_deprecated",
			"message": "the v1 API has been removed, use /v2/bundles/:type",
		})
	}
	app.Get("/v1/modules/*", gone)
	app.Get("/v1/bundles/*", gone)
}
