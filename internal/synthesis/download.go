package synthesis

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"imageforge/internal/domain"
)

// Artifact is one downloaded output image.
type Artifact struct {
	SourceURL string
	Index     int
	Data      []byte
}

// DownloadOutputs fetches every output URL concurrently. A single bad
// URL does not sink the batch; the call fails only when nothing could
// be fetched. Results come back ordered by output index.
func (c *Client) DownloadOutputs(ctx context.Context, urls []string, perDownload time.Duration) ([]Artifact, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: no outputs to download", domain.ErrProvider)
	}
	if perDownload <= 0 {
		perDownload = 30 * time.Second
	}

	var (
		mu        sync.Mutex
		artifacts []Artifact
		lastErr   error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, url := range urls {
		i, url := i, url
		g.Go(func() error {
			dctx, cancel := context.WithTimeout(gctx, perDownload)
			defer cancel()
			data, err := c.Download(dctx, url)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				lastErr = err
				return nil
			}
			artifacts = append(artifacts, Artifact{SourceURL: url, Index: i, Data: data})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(artifacts) == 0 {
		return nil, fmt.Errorf("%w: all %d output downloads failed: %v", domain.ErrProvider, len(urls), lastErr)
	}
	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].Index < artifacts[j].Index })
	return artifacts, nil
}
