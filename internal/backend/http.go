package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// maxErrorBody 限制读取错误响应的大小。
const maxErrorBody = 64 * 1024

// HTTPClient 通过 HTTP 调用后端。
type HTTPClient struct {
	base   *url.URL
	client *http.Client
}

// NewHTTPClient 以后端源站构建客户端。
func NewHTTPClient(baseURL string, client *http.Client) (*HTTPClient, error) {
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, errors.New("backend url must be absolute")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPClient{base: base, client: client}, nil
}

// FetchInfo 请求视频元数据。非 2xx 响应解析为 *APIError。
func (c *HTTPClient) FetchInfo(ctx context.Context, videoURL string) (Info, error) {
	return c.fetchInfo(ctx, videoURL, nil)
}

// fetchInfo 在收到响应头后（检查状态码与解码之前）回调 received。
func (c *HTTPClient) fetchInfo(ctx context.Context, videoURL string, received func()) (Info, error) {
	if strings.TrimSpace(videoURL) == "" {
		return Info{}, errors.New("video url required")
	}
	payload, err := json.Marshal(map[string]string{"url": videoURL})
	if err != nil {
		return Info{}, err
	}

	endpoint := c.base.JoinPath("info")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(payload))
	if err != nil {
		return Info{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Info{}, fmt.Errorf("fetch info: %w", err)
	}
	defer resp.Body.Close()
	if received != nil {
		received()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Info{}, decodeAPIError(resp)
	}

	var info Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return Info{}, fmt.Errorf("decode info: %w", err)
	}
	return info, nil
}

// DownloadLink 构建下载地址；页面通过导航触发下载而不是 fetch。
func (c *HTTPClient) DownloadLink(videoURL, formatID string) string {
	endpoint := c.base.JoinPath("download")
	query := url.Values{}
	query.Set("url", videoURL)
	query.Set("format", formatID)
	endpoint.RawQuery = query.Encode()
	return endpoint.String()
}

func decodeAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var payload struct {
		Error string `json:"error"`
	}
	message := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		message = payload.Error
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	return &APIError{Status: resp.StatusCode, Message: message}
}
