package locator

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/oriys/fetchengine/internal/bid"
	"github.com/oriys/fetchengine/internal/fetchmodel"
	"github.com/oriys/fetchengine/internal/kvs"
	"github.com/oriys/fetchengine/internal/sftppool"
)

// DirectorySFTPLocator enumerates a remote directory, filtering names by a
// shell-style Pattern and an optional Filter, and emits one BundleRef per
// file. Dedup is keyed on filename + mtime under "processed:<name>"; a file
// whose mtime has advanced since it was last processed is re-emitted.
type DirectorySFTPLocator struct {
	ID      string
	Pool    *sftppool.Pool
	Dir     string
	Pattern string          // shell glob, e.g. "*.csv"; empty matches everything
	Filter  func(os.FileInfo) bool

	cursors cursorStore
	mu      sync.Mutex
}

// NewDirectorySFTPLocator builds a locator over dir, matching pattern.
func NewDirectorySFTPLocator(id string, pool *sftppool.Pool, dir, pattern string, store kvs.Store) *DirectorySFTPLocator {
	return &DirectorySFTPLocator{
		ID:      id,
		Pool:    pool,
		Dir:     dir,
		Pattern: pattern,
		cursors: cursorStore{store: store, id: id},
	}
}

func (l *DirectorySFTPLocator) candidates(ctx context.Context) ([]os.FileInfo, error) {
	entries, err := l.Pool.ListDir(ctx, l.Dir)
	if err != nil {
		return nil, err
	}
	out := make([]os.FileInfo, 0, len(entries))
	for _, fi := range entries {
		if fi.IsDir() {
			continue
		}
		if l.Pattern != "" {
			matched, err := filepath.Match(l.Pattern, fi.Name())
			if err != nil || !matched {
				continue
			}
		}
		if l.Filter != nil && !l.Filter(fi) {
			continue
		}
		out = append(out, fi)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModTime().After(out[j].ModTime()) })
	return out, nil
}

func (l *DirectorySFTPLocator) emit(ctx context.Context, infos []os.FileInfo, needed int) ([]fetchmodel.BundleRef, error) {
	refs := make([]fetchmodel.BundleRef, 0, needed)
	for _, fi := range infos {
		if needed > 0 && len(refs) >= needed {
			break
		}
		mtime := strconv.FormatInt(fi.ModTime().UnixNano(), 10)
		prev, have, err := l.cursors.processedValue(ctx, fi.Name())
		if err != nil {
			return nil, err
		}
		if have && prev >= mtime {
			continue
		}
		if _, inflight, err := l.cursors.processedValue(ctx, "inflight:"+fi.Name()); err != nil {
			return nil, err
		} else if inflight {
			continue
		}
		if err := l.cursors.markProcessed(ctx, "inflight:"+fi.Name(), mtime); err != nil {
			return nil, err
		}
		refs = append(refs, fetchmodel.BundleRef{
			BID:        bid.New(),
			PrimaryURL: path.Join(l.Dir, fi.Name()),
			Meta:       map[string]any{"name": fi.Name(), "mtime": mtime},
		})
	}
	return refs, nil
}

func (l *DirectorySFTPLocator) GetNextBundleRefs(_ fetchmodel.FetchRunContextProvider, needed int) ([]fetchmodel.BundleRef, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ctx := context.Background()
	infos, err := l.candidates(ctx)
	if err != nil {
		return nil, err
	}
	return l.emit(ctx, infos, needed)
}

func (l *DirectorySFTPLocator) HandleRequestProcessed(_ fetchmodel.FetchRunContextProvider, ref fetchmodel.BundleRef, _ fetchmodel.RequestMeta, ok bool) {
	if ok {
		return
	}
	name, _ := ref.Meta["name"].(string)
	_ = l.cursors.markError(context.Background(), name, errRequestFailed)
}

// OnBundleCompleteHook checkpoints the file's mtime as processed and clears
// its in-flight marker, atomically with bundle completion.
func (l *DirectorySFTPLocator) OnBundleCompleteHook(_ fetchmodel.FetchRunContextProvider, ref fetchmodel.BundleRef) {
	name, _ := ref.Meta["name"].(string)
	mtime, _ := ref.Meta["mtime"].(string)
	if name == "" {
		return
	}
	ctx := context.Background()
	_ = l.cursors.markProcessed(ctx, name, mtime)
	_ = l.cursors.store.Delete(ctx, l.cursors.key("processed", "inflight:"+name))
}
