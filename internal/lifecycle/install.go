package lifecycle

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vidgrab/vidgrab-shell/internal/cache"
)

// populate 并发回源外壳资源并写入分区，返回成功写入的数量。
// 单个资源失败被吞掉；只有 ctx 取消会让整个步骤失败。
func (c *Controller) populate(ctx context.Context, partition *cache.Partition) (int, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.InstallConcurrency)

	var cached atomic.Int64
	for _, asset := range c.opts.ShellAssets {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := c.cacheShellAsset(gctx, partition, asset); err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				c.logger.WithFields(logrus.Fields{
					"action":     "install",
					"asset":      asset,
					"generation": partition.Generation(),
				}).WithError(err).Warn("shell_asset_failed")
				return nil
			}
			cached.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(cached.Load()), err
	}
	return int(cached.Load()), nil
}

func (c *Controller) cacheShellAsset(ctx context.Context, partition *cache.Partition, asset string) error {
	target, err := c.shellURL(asset)
	if err != nil {
		return fmt.Errorf("parse shell asset: %w", err)
	}
	req := c.newShellRequest(target)

	resp, err := c.opts.Fetcher.Fetch(ctx, req)
	if err != nil {
		return err
	}
	if resp.Status < 200 || resp.Status > 299 {
		_ = resp.Close()
		return fmt.Errorf("unexpected status %d", resp.Status)
	}
	snap, err := resp.Snapshot()
	if err != nil {
		return err
	}
	snap.StoredAt = c.now().UTC()
	return partition.Put(ctx, http.MethodGet, target.String(), snap)
}
