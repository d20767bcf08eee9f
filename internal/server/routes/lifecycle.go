package routes

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/vidgrab/vidgrab-shell/internal/cache"
	"github.com/vidgrab/vidgrab-shell/internal/lifecycle"
)

// RegisterLifecycleRoutes 暴露注册状态与页面消息入口。
func RegisterLifecycleRoutes(app *fiber.App, controller *lifecycle.Controller) {
	if app == nil || controller == nil {
		return
	}

	app.Get("/-/lifecycle", func(c fiber.Ctx) error {
		return c.JSON(controller.Snapshot())
	})

	app.Post("/-/lifecycle/message", func(c fiber.Ctx) error {
		var msg lifecycle.Message
		if err := json.Unmarshal(c.Body(), &msg); err != nil {
			return writeError(c, fiber.StatusBadRequest, "invalid_message")
		}
		if err := controller.HandleMessage(c.Context(), msg); err != nil {
			switch {
			case errors.Is(err, lifecycle.ErrUnknownMessage):
				return writeError(c, fiber.StatusBadRequest, "unknown_message")
			case errors.Is(err, lifecycle.ErrNoWaiting):
				return writeError(c, fiber.StatusConflict, "no_waiting_instance")
			default:
				return writeError(c, fiber.StatusInternalServerError, "activation_failed")
			}
		}
		return c.JSON(controller.Snapshot())
	})
}

// RegisterCacheRoutes 暴露 /-/cache/generations，列出全部缓存代。
func RegisterCacheRoutes(app *fiber.App, manager *cache.Manager) {
	if app == nil || manager == nil {
		return
	}

	app.Get("/-/cache/generations", func(c fiber.Ctx) error {
		infos, err := manager.Describe(c.Context())
		if err != nil {
			return writeError(c, fiber.StatusInternalServerError, "cache_unavailable")
		}
		return c.JSON(fiber.Map{
			"current":     manager.Current(),
			"generations": infos,
		})
	})
}

func writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}
