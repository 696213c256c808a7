package loader

import (
	"context"
	"os"
	"path"
	"path/filepath"

	"github.com/oriys/fetchengine/internal/bundlestore"
	"github.com/oriys/fetchengine/internal/ferrors"
	"github.com/oriys/fetchengine/internal/fetchmodel"
	"github.com/oriys/fetchengine/internal/logging"
	"github.com/oriys/fetchengine/internal/sftppool"
)

// SFTPMode selects whether SFTPLoader treats a BundleRef's PrimaryURL as a
// single file to stream, or a directory whose entries are all bundled
// together as one completed bundle.
type SFTPMode int

const (
	SFTPModeFile SFTPMode = iota
	SFTPModeDirectory
)

// SFTPLoader streams one or more remote files into storage over a pooled
// SFTP connection.
type SFTPLoader struct {
	Pool    *sftppool.Pool
	Storage *bundlestore.Storage
	Recipe  fetchmodel.FetcherRecipe
	Mode    SFTPMode

	// EntryFilter, used only in SFTPModeDirectory, skips directory entries
	// for which it returns false. A nil filter accepts all regular files.
	EntryFilter func(os.FileInfo) bool
}

// SetRecipe assigns the recipe this loader belongs to; see HTTPLoader.SetRecipe.
func (l *SFTPLoader) SetRecipe(r fetchmodel.FetcherRecipe) { l.Recipe = r }

func (l *SFTPLoader) Load(ctx context.Context, runCtx fetchmodel.FetchRunContextProvider, _ fetchmodel.RequestMeta, ref fetchmodel.BundleRef) ([]fetchmodel.BundleRef, error) {
	if l.Mode == SFTPModeDirectory {
		return l.loadDirectory(ctx, runCtx, ref)
	}
	return l.loadFile(ctx, runCtx, ref)
}

func (l *SFTPLoader) loadFile(ctx context.Context, runCtx fetchmodel.FetchRunContextProvider, ref fetchmodel.BundleRef) ([]fetchmodel.BundleRef, error) {
	log := logging.ForBundle(runCtx.RunID(), string(ref.BID))
	info, err := l.Pool.Stat(ctx, ref.PrimaryURL)
	if err != nil {
		log.Warn("stat failed", "path", ref.PrimaryURL, "err", err)
		return nil, nil
	}

	bsc, err := l.Storage.StartBundle(ctx, runCtx, ref, l.Recipe)
	if err != nil {
		return nil, ferrors.New(ferrors.Storage, "loader", err)
	}

	if err := l.streamFile(ctx, bsc, ref.PrimaryURL, info); err != nil {
		bsc.Fail(err)
		log.Warn("failed to stream file", "path", ref.PrimaryURL, "err", err)
		return nil, nil
	}

	if err := bsc.Complete(ctx, map[string]any{"path": ref.PrimaryURL}); err != nil {
		return nil, ferrors.New(ferrors.Storage, "loader", err)
	}
	return []fetchmodel.BundleRef{bsc.Ref()}, nil
}

func (l *SFTPLoader) loadDirectory(ctx context.Context, runCtx fetchmodel.FetchRunContextProvider, ref fetchmodel.BundleRef) ([]fetchmodel.BundleRef, error) {
	log := logging.ForBundle(runCtx.RunID(), string(ref.BID))
	entries, err := l.Pool.ListDir(ctx, ref.PrimaryURL)
	if err != nil {
		log.Warn("listdir failed", "path", ref.PrimaryURL, "err", err)
		return nil, nil
	}

	bsc, err := l.Storage.StartBundle(ctx, runCtx, ref, l.Recipe)
	if err != nil {
		return nil, ferrors.New(ferrors.Storage, "loader", err)
	}

	stored := 0
	for _, info := range entries {
		if info.IsDir() {
			continue
		}
		if l.EntryFilter != nil && !l.EntryFilter(info) {
			continue
		}
		full := path.Join(ref.PrimaryURL, info.Name())
		if err := l.streamFile(ctx, bsc, full, info); err != nil {
			log.Warn("failed to stream directory entry", "path", full, "err", err)
			continue
		}
		stored++
	}

	if stored == 0 {
		bsc.Fail(nil)
		return nil, nil
	}

	if err := bsc.Complete(ctx, map[string]any{"dir": ref.PrimaryURL, "count": stored}); err != nil {
		return nil, ferrors.New(ferrors.Storage, "loader", err)
	}
	return []fetchmodel.BundleRef{bsc.Ref()}, nil
}

func (l *SFTPLoader) streamFile(ctx context.Context, bsc *bundlestore.BundleStorageContext, remotePath string, info os.FileInfo) error {
	stream, err := l.Pool.Open(ctx, remotePath)
	if err != nil {
		return err
	}
	defer stream.Close()

	meta := fetchmodel.ResourceMeta{
		URL:     remotePath,
		Headers: map[string]string{"mtime": info.ModTime().UTC().Format("2006-01-02T15:04:05Z")},
	}
	return bsc.AddResource(ctx, filepath.Base(remotePath), meta, stream)
}
