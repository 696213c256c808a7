package locator

import (
	"context"
	"os"
	"strconv"
	"sync"

	"github.com/oriys/fetchengine/internal/bid"
	"github.com/oriys/fetchengine/internal/fetchmodel"
	"github.com/oriys/fetchengine/internal/kvs"
	"github.com/oriys/fetchengine/internal/sftppool"
)

// FileSFTPLocator is a fixed list of remote file paths, otherwise behaving
// like DirectorySFTPLocator: dedup by mtime, re-emitting a path whose mtime
// has advanced since it was last processed.
type FileSFTPLocator struct {
	ID    string
	Pool  *sftppool.Pool
	Paths []string

	cursors cursorStore
	mu      sync.Mutex
}

// NewFileSFTPLocator builds a locator over a fixed list of remote paths.
func NewFileSFTPLocator(id string, pool *sftppool.Pool, paths []string, store kvs.Store) *FileSFTPLocator {
	return &FileSFTPLocator{
		ID:      id,
		Pool:    pool,
		Paths:   paths,
		cursors: cursorStore{store: store, id: id},
	}
}

func (l *FileSFTPLocator) GetNextBundleRefs(_ fetchmodel.FetchRunContextProvider, needed int) ([]fetchmodel.BundleRef, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ctx := context.Background()

	refs := make([]fetchmodel.BundleRef, 0, needed)
	for _, p := range l.Paths {
		if needed > 0 && len(refs) >= needed {
			break
		}
		fi, err := l.Pool.Stat(ctx, p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		mtime := strconv.FormatInt(fi.ModTime().UnixNano(), 10)
		prev, have, err := l.cursors.processedValue(ctx, p)
		if err != nil {
			return nil, err
		}
		if have && prev >= mtime {
			continue
		}
		if _, inflight, err := l.cursors.processedValue(ctx, "inflight:"+p); err != nil {
			return nil, err
		} else if inflight {
			continue
		}
		if err := l.cursors.markProcessed(ctx, "inflight:"+p, mtime); err != nil {
			return nil, err
		}
		refs = append(refs, fetchmodel.BundleRef{
			BID:        bid.New(),
			PrimaryURL: p,
			Meta:       map[string]any{"path": p, "mtime": mtime},
		})
	}
	return refs, nil
}

func (l *FileSFTPLocator) HandleRequestProcessed(_ fetchmodel.FetchRunContextProvider, ref fetchmodel.BundleRef, _ fetchmodel.RequestMeta, ok bool) {
	if ok {
		return
	}
	p, _ := ref.Meta["path"].(string)
	_ = l.cursors.markError(context.Background(), p, errRequestFailed)
}

// OnBundleCompleteHook checkpoints the path's mtime as processed and clears
// its in-flight marker, atomically with bundle completion.
func (l *FileSFTPLocator) OnBundleCompleteHook(_ fetchmodel.FetchRunContextProvider, ref fetchmodel.BundleRef) {
	p, _ := ref.Meta["path"].(string)
	mtime, _ := ref.Meta["mtime"].(string)
	if p == "" {
		return
	}
	ctx := context.Background()
	_ = l.cursors.markProcessed(ctx, p, mtime)
	_ = l.cursors.store.Delete(ctx, l.cursors.key("processed", "inflight:"+p))
}
