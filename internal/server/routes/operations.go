package routes

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/vidgrab/vidgrab-shell/internal/backend"
)

type infoRequest struct {
	URL string `json:"url"`
}

type infoPayload struct {
	backend.Info
	DefaultFormat string `json:"default_format"`
}

// RegisterOperationRoutes 暴露页面的两个长操作：解析视频信息与触发下载。
// 两者都经由 Tracked 客户端执行，因此会在事件总线上发布进度。
func RegisterOperationRoutes(app *fiber.App, client *backend.Tracked, logger *logrus.Logger) {
	if app == nil || client == nil {
		return
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	app.Post("/-/info", func(c fiber.Ctx) error {
		var req infoRequest
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			return writeError(c, fiber.StatusBadRequest, "invalid_request")
		}
		videoURL := strings.TrimSpace(req.URL)
		if videoURL == "" {
			return writeError(c, fiber.StatusBadRequest, "url_required")
		}

		info, err := client.FetchInfo(c.Context(), videoURL)
		if err != nil {
			logger.WithFields(logrus.Fields{"action": "fetch_info", "url": videoURL}).
				WithError(err).Warn("fetch_info_failed")
			var apiErr *backend.APIError
			switch {
			case errors.As(err, &apiErr):
				return c.Status(apiErr.Status).JSON(fiber.Map{"error": apiErr.Message})
			case errors.Is(err, backend.ErrNoFormats):
				return writeError(c, fiber.StatusUnprocessableEntity, "no_formats")
			default:
				return writeError(c, fiber.StatusBadGateway, "backend_unreachable")
			}
		}
		return c.JSON(infoPayload{Info: info, DefaultFormat: backend.DefaultFormat(info)})
	})

	app.Get("/-/download", func(c fiber.Ctx) error {
		videoURL := strings.TrimSpace(c.Query("url"))
		formatID := strings.TrimSpace(c.Query("format"))
		if videoURL == "" || formatID == "" {
			return writeError(c, fiber.StatusBadRequest, "url_and_format_required")
		}
		link := client.StartDownload(c.Context(), videoURL, formatID)
		c.Set(fiber.HeaderLocation, link)
		return c.SendStatus(fiber.StatusFound)
	})
}
