// Package backend is the client side of the remote extraction service: the
// metadata lookup (POST /info) and the download link builder
// (GET /download?url=&format=). Calls are not retried.
package backend

import (
	"context"
	"fmt"
)

// Format 是一个可下载格式。
type Format struct {
	Ext      string `json:"ext"`
	Quality  string `json:"quality,omitempty"`
	Size     string `json:"size,omitempty"`
	FormatID string `json:"format_id,omitempty"`
}

// Info 是 /info 的成功响应。
type Info struct {
	Title     string   `json:"title"`
	Thumbnail string   `json:"thumbnail"`
	Formats   []Format `json:"formats"`
}

// APIError 是后端以 {error} 返回的业务错误。
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend error (%d): %s", e.Status, e.Message)
}

// Client 描述后端提供的两个操作。
type Client interface {
	FetchInfo(ctx context.Context, videoURL string) (Info, error)
	DownloadLink(videoURL, formatID string) string
}
