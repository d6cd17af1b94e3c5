package bundle

import (
	"context"
	"io"
	"math"
	"time"

	"github.com/build-hub/build-hub/internal/cache"
	"github.com/build-hub/build-hub/internal/moduleset"
)

// Artifact 是一次编译的不可变产物，正文保存在 cache.Store 中。
type Artifact struct {
	Key           string
	Type          string
	Modules       moduleset.Set
	MimeType      string
	Size          int64
	Exact         bool
	CreatedTime   time.Time
	ExpiryTime    time.Time
	ShrinkwrapURL string

	locator cache.Locator
	store   cache.Store
}

// Open 返回产物正文；调用方负责关闭。
func (a *Artifact) Open(ctx context.Context) (io.ReadSeekCloser, error) {
	res, err := a.store.Get(ctx, a.locator)
	if err != nil {
		return nil, err
	}
	return res.Reader, nil
}

// MaxAge 返回距过期剩余的整秒数（向上取整，最小为 0），用于 Cache-Control。
func (a *Artifact) MaxAge(now time.Time) int {
	remaining := a.ExpiryTime.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Seconds()))
}
