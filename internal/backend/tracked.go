package backend

import (
	"context"
	"errors"

	"github.com/vidgrab/vidgrab-shell/internal/eventbus"
)

// ErrNoFormats 表示后端返回的元数据没有任何可下载格式。
var ErrNoFormats = errors.New("no formats available for this video")

// stagedClient 能在收到 /info 响应时单独通知，HTTPClient 实现该接口。
type stagedClient interface {
	fetchInfo(ctx context.Context, videoURL string, received func()) (Info, error)
}

// Tracked 在长操作前后向事件总线发布 start/progress/end。
type Tracked struct {
	Client
	bus *eventbus.Bus
}

// NewTracked 包装 client，bus 为 nil 时不发布任何信号。
func NewTracked(client Client, bus *eventbus.Bus) *Tracked {
	return &Tracked{Client: client, bus: bus}
}

// FetchInfo 发布 start → 20 → 50 → 80 → 100 → end。50 在收到后端响应时发布，
// 即使状态码表示失败；之后任一步失败都跳过后续进度，但仍发布 end。
func (t *Tracked) FetchInfo(ctx context.Context, videoURL string) (Info, error) {
	var info Info
	err := eventbus.Track(ctx, t.bus, func(ctx context.Context, report eventbus.Reporter) error {
		report(20)
		fetched, err := t.fetch(ctx, videoURL, func() { report(50) })
		if err != nil {
			return err
		}
		report(80)
		if len(fetched.Formats) == 0 {
			return ErrNoFormats
		}
		info = fetched
		report(100)
		return nil
	})
	return info, err
}

// fetch 对不支持分段通知的 Client 在成功返回后补发 received。
func (t *Tracked) fetch(ctx context.Context, videoURL string, received func()) (Info, error) {
	if staged, ok := t.Client.(stagedClient); ok {
		return staged.fetchInfo(ctx, videoURL, received)
	}
	info, err := t.Client.FetchInfo(ctx, videoURL)
	if err != nil {
		return Info{}, err
	}
	received()
	return info, nil
}

// StartDownload 返回下载地址并发布 start → 10 → 50 → 100 → end。
func (t *Tracked) StartDownload(ctx context.Context, videoURL, formatID string) string {
	var link string
	_ = eventbus.Track(ctx, t.bus, func(_ context.Context, report eventbus.Reporter) error {
		report(10)
		link = t.Client.DownloadLink(videoURL, formatID)
		report(50)
		report(100)
		return nil
	})
	return link
}

// DefaultFormat 返回默认选中的格式标识：优先 format_id，否则 quality-ext。
func DefaultFormat(info Info) string {
	if len(info.Formats) == 0 {
		return ""
	}
	first := info.Formats[0]
	if first.FormatID != "" {
		return first.FormatID
	}
	return first.Quality + "-" + first.Ext
}
