package routes

import (
	"encoding/json"

	"github.com/gofiber/fiber/v3"

	"github.com/vidgrab/vidgrab-shell/internal/eventbus"
)

type progressPayload struct {
	Channel     string `json:"channel"`
	Subscribers int    `json:"subscribers"`
	eventbus.MeterState
}

type publishRequest struct {
	Signal string `json:"signal"`
}

// RegisterProgressRoutes 暴露进度条状态，并允许页面以 start/progress:n/end 发布信号。
func RegisterProgressRoutes(app *fiber.App, bus *eventbus.Bus, meter *eventbus.Meter) {
	if app == nil || bus == nil || meter == nil {
		return
	}

	state := func(c fiber.Ctx) error {
		return c.JSON(progressPayload{
			Channel:     bus.Channel(),
			Subscribers: bus.Subscribers(),
			MeterState:  meter.State(),
		})
	}

	app.Get("/-/progress", state)

	app.Post("/-/progress", func(c fiber.Ctx) error {
		var req publishRequest
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			return writeError(c, fiber.StatusBadRequest, "invalid_signal")
		}
		signal, err := eventbus.ParseSignal(req.Signal)
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "invalid_signal")
		}
		bus.Publish(signal)
		return state(c)
	})
}
