package eventbus

import "context"

// Reporter 在长操作内部上报进度。
type Reporter func(value int)

// Track 在 fn 前后分别发布 start 与 end，fn 可通过 Reporter 发布 progress。
// 无论 fn 成功与否都会发布 end。
func Track(ctx context.Context, bus *Bus, fn func(context.Context, Reporter) error) error {
	if bus == nil {
		return fn(ctx, func(int) {})
	}
	bus.Publish(Start())
	defer bus.Publish(End())
	return fn(ctx, func(value int) {
		bus.Publish(Progress(value))
	})
}
