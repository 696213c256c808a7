// Package loader implements the concrete BundleLoader classes: an HTTP
// loader that streams a primary resource plus optionally discovered related
// resources, and an SFTP loader that streams a single file or a directory's
// contents as one bundle.
package loader

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/oriys/fetchengine/internal/bundlestore"
	"github.com/oriys/fetchengine/internal/ferrors"
	"github.com/oriys/fetchengine/internal/fetchmodel"
	"github.com/oriys/fetchengine/internal/httppool"
	"github.com/oriys/fetchengine/internal/logging"
)

// RelatedResource is one additional resource discovered in a primary
// response body (e.g. an image or stylesheet referenced from an HTML page).
type RelatedResource struct {
	Name string
	URL  string
}

// ErrorHandler decides whether a response should be processed (true) or
// discarded before bundle start (false).
type ErrorHandler func(url string, statusCode int) bool

func defaultErrorHandler(_ string, statusCode int) bool {
	if statusCode >= 500 || statusCode == http.StatusForbidden || statusCode == http.StatusNotFound {
		return false
	}
	return true
}

// HTTPLoader performs an HTTP GET for the bundle's primary URL, streams the
// response into storage, and optionally fetches related resources
// discovered in the body.
type HTTPLoader struct {
	Pool    *httppool.Pool
	Storage *bundlestore.Storage
	Recipe  fetchmodel.FetcherRecipe

	// DiscoverRelated, if set, inspects the primary response body and
	// returns additional resources to fetch and attach to the same bundle.
	DiscoverRelated func(body []byte, baseURL string) []RelatedResource

	// ErrorHandler overrides defaultErrorHandler when set.
	ErrorHandler ErrorHandler
}

// SetRecipe assigns the recipe a loader built by a registry factory belongs
// to, once every locator in it is known. Required because the recipe and
// its loader are mutually referential: the loader needs the recipe to run
// completion hooks, but the recipe isn't assembled until the loader exists.
func (l *HTTPLoader) SetRecipe(r fetchmodel.FetcherRecipe) { l.Recipe = r }

func (l *HTTPLoader) errorHandler() ErrorHandler {
	if l.ErrorHandler != nil {
		return l.ErrorHandler
	}
	return defaultErrorHandler
}

// Load performs the protocol operation and, on success, returns exactly one
// completed BundleRef. Any failure short of a Storage error is swallowed
// and reported as an empty result, per the documented contract: a failed
// load never raises.
func (l *HTTPLoader) Load(ctx context.Context, runCtx fetchmodel.FetchRunContextProvider, req fetchmodel.RequestMeta, ref fetchmodel.BundleRef) ([]fetchmodel.BundleRef, error) {
	log := logging.ForBundle(runCtx.RunID(), string(ref.BID))

	httpReq, err := http.NewRequest(http.MethodGet, ref.PrimaryURL, nil)
	if err != nil {
		log.Warn("malformed request URL", "url", ref.PrimaryURL, "err", err)
		return nil, nil
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.Referer != "" {
		httpReq.Header.Set("Referer", req.Referer)
	}

	resp, err := l.Pool.Request(ctx, httpReq)
	if err != nil {
		log.Warn("request failed", "url", ref.PrimaryURL, "err", err)
		return nil, nil
	}
	defer resp.Body.Close()

	if !l.errorHandler()(ref.PrimaryURL, resp.StatusCode) {
		log.Info("response discarded by error handler", "url", ref.PrimaryURL, "status", resp.StatusCode)
		return nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Warn("failed to read response body", "url", ref.PrimaryURL, "err", err)
		return nil, nil
	}

	bsc, err := l.Storage.StartBundle(ctx, runCtx, ref, l.Recipe)
	if err != nil {
		return nil, ferrors.New(ferrors.Storage, "loader", err)
	}

	primaryMeta := fetchmodel.ResourceMeta{URL: ref.PrimaryURL, Status: resp.StatusCode, ContentType: resp.Header.Get("Content-Type")}
	if err := bsc.AddResource(ctx, primaryResourceName(ref.PrimaryURL), primaryMeta, bytes.NewReader(body)); err != nil {
		bsc.Fail(err)
		log.Warn("failed to store primary resource", "url", ref.PrimaryURL, "err", err)
		return nil, nil
	}

	if l.DiscoverRelated != nil {
		for _, rel := range l.DiscoverRelated(body, ref.PrimaryURL) {
			l.fetchRelated(ctx, bsc, rel, log)
		}
	}

	if err := bsc.Complete(ctx, map[string]any{"primaryUrl": ref.PrimaryURL}); err != nil {
		return nil, ferrors.New(ferrors.Storage, "loader", err)
	}

	return []fetchmodel.BundleRef{bsc.Ref()}, nil
}

func (l *HTTPLoader) fetchRelated(ctx context.Context, bsc *bundlestore.BundleStorageContext, rel RelatedResource, log *slog.Logger) {
	relReq, err := http.NewRequest(http.MethodGet, rel.URL, nil)
	if err != nil {
		return
	}
	resp, err := l.Pool.Request(ctx, relReq)
	if err != nil {
		log.Warn("related resource fetch failed", "url", rel.URL, "err", err)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return
	}
	meta := fetchmodel.ResourceMeta{URL: rel.URL, Status: resp.StatusCode, ContentType: resp.Header.Get("Content-Type")}
	if err := bsc.AddResource(ctx, rel.Name, meta, bytes.NewReader(body)); err != nil {
		log.Warn("failed to store related resource", "url", rel.URL, "err", err)
	}
}

func primaryResourceName(url string) string {
	trimmed := strings.TrimRight(url, "/")
	name := path.Base(trimmed)
	if name == "" || name == "." || name == "/" {
		return "primary"
	}
	if qi := strings.IndexByte(name, '?'); qi >= 0 {
		name = name[:qi]
	}
	return name
}
