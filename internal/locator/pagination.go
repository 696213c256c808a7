package locator

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/oriys/fetchengine/internal/bid"
	"github.com/oriys/fetchengine/internal/ferrors"
	"github.com/oriys/fetchengine/internal/fetchmodel"
	"github.com/oriys/fetchengine/internal/httppool"
	"github.com/oriys/fetchengine/internal/kvs"
	"github.com/oriys/fetchengine/internal/retry"
)

// Page is one decoded page of a paginated listing query.
type Page struct {
	Items           []PageItem
	NextCursorToken string // empty means the server has no further page for this query
	TotalSeen       int    // running count of items seen within the current cursor token's query
}

// PageItem is one listed item the locator turns into a BundleRef.
type PageItem struct {
	URL  string
	Meta map[string]any
}

// RequestBuilder constructs the HTTP request for one page of a date-sliced,
// optionally narrowed query.
type RequestBuilder func(date time.Time, narrowingKey, cursorToken string) (*http.Request, error)

// ResponseParser decodes an HTTP response into a Page.
type ResponseParser func(resp *http.Response) (Page, error)

type paginationCursor struct {
	CurrentDate  string // YYYY-MM-DD
	CursorToken  string
	NarrowingKey string
	TotalSeen    int
	Pending      []PageItem
	Done         bool
}

const dateLayout = "2006-01-02"

// paginationLocator implements both forward (API pagination) and reverse
// (gap-filling) pagination; direction is +1 or -1 days.
type paginationLocator struct {
	id            string
	pool          *httppool.Pool
	buildRequest  RequestBuilder
	parseResponse ResponseParser
	narrowing     NarrowingStrategy
	policy        retry.Policy
	maxRecords    int
	direction     int
	dateStart     time.Time
	dateEnd       time.Time

	cursors cursorStore
	mu      sync.Mutex
}

// APIPaginationLocator walks dateStart..dateEnd forward, one day at a time,
// paginating each day's query via cursorToken and, when the source caps
// results below the day's true volume, subdividing via narrowing.
type APIPaginationLocator struct{ *paginationLocator }

// NewAPIPaginationLocator builds a forward pagination locator.
func NewAPIPaginationLocator(id string, pool *httppool.Pool, dateStart, dateEnd time.Time, maxRecords int, narrowing NarrowingStrategy, policy retry.Policy, build RequestBuilder, parse ResponseParser, store kvs.Store) *APIPaginationLocator {
	if narrowing == nil {
		narrowing = NoNarrowing{}
	}
	return &APIPaginationLocator{&paginationLocator{
		id: id, pool: pool, buildRequest: build, parseResponse: parse,
		narrowing: narrowing, policy: policy, maxRecords: maxRecords,
		direction: 1, dateStart: dateStart, dateEnd: dateEnd,
		cursors: cursorStore{store: store, id: id},
	}}
}

// ReversePaginationLocator walks dateEnd..dateStart backward, one day at a
// time; used for gap filling behind an already-running forward locator.
type ReversePaginationLocator struct{ *paginationLocator }

// NewReversePaginationLocator builds a backward pagination locator.
func NewReversePaginationLocator(id string, pool *httppool.Pool, dateStart, dateEnd time.Time, maxRecords int, narrowing NarrowingStrategy, policy retry.Policy, build RequestBuilder, parse ResponseParser, store kvs.Store) *ReversePaginationLocator {
	if narrowing == nil {
		narrowing = NoNarrowing{}
	}
	return &ReversePaginationLocator{&paginationLocator{
		id: id, pool: pool, buildRequest: build, parseResponse: parse,
		narrowing: narrowing, policy: policy, maxRecords: maxRecords,
		direction: -1, dateStart: dateStart, dateEnd: dateEnd,
		cursors: cursorStore{store: store, id: id},
	}}
}

func (l *paginationLocator) startDate() time.Time {
	if l.direction > 0 {
		return l.dateStart
	}
	return l.dateEnd
}

func (l *paginationLocator) pastEnd(d time.Time) bool {
	if l.direction > 0 {
		return d.After(l.dateEnd)
	}
	return d.Before(l.dateStart)
}

func (l *paginationLocator) nextDate(d time.Time) time.Time {
	return d.AddDate(0, 0, l.direction)
}

func (l *paginationLocator) loadCursor(ctx context.Context) (paginationCursor, error) {
	var cur paginationCursor
	if err := l.cursors.loadCursor(ctx, &cur); err != nil {
		return cur, err
	}
	if cur.CurrentDate == "" {
		cur.CurrentDate = l.startDate().Format(dateLayout)
		cur.NarrowingKey = l.narrowing.Initial()
	}
	return cur, nil
}

// fetchPage fetches and decodes the page for the current cursor position,
// retrying transient failures via the retry engine. After retries are
// exhausted the cursor is left untouched and ferrors.ErrLocatorStalled is
// surfaced to the caller.
func (l *paginationLocator) fetchPage(ctx context.Context, date time.Time, narrowingKey, cursorToken string) (Page, error) {
	return retry.DoValue(ctx, l.policy, func(ctx context.Context) (Page, error) {
		req, err := l.buildRequest(date, narrowingKey, cursorToken)
		if err != nil {
			return Page{}, err
		}
		resp, err := l.pool.Request(ctx, req)
		if err != nil {
			return Page{}, err
		}
		defer resp.Body.Close()
		return l.parseResponse(resp)
	})
}

// nextAvailable scans cur.Pending in order for the first item that is
// neither already processed nor currently in flight. Pending is not shrunk
// here — only onBundleCompleteHook removes an item, once its bundle has
// actually completed. An item that was emitted but never completed stays in
// Pending, but its persisted inflight guard keeps it from being emitted
// again, including after a restart.
func (l *paginationLocator) nextAvailable(ctx context.Context, cur *paginationCursor) (PageItem, bool, error) {
	for _, item := range cur.Pending {
		_, processed, err := l.cursors.processedValue(ctx, item.URL)
		if err != nil {
			return PageItem{}, false, err
		}
		if processed {
			continue
		}
		_, inflight, err := l.cursors.processedValue(ctx, "inflight:"+item.URL)
		if err != nil {
			return PageItem{}, false, err
		}
		if inflight {
			continue
		}
		return item, true, nil
	}
	return PageItem{}, false, nil
}

func itemMeta(item PageItem) map[string]any {
	meta := make(map[string]any, len(item.Meta)+1)
	for k, v := range item.Meta {
		meta[k] = v
	}
	meta["url"] = item.URL
	return meta
}

func (l *paginationLocator) getNextBundleRefs(_ fetchmodel.FetchRunContextProvider, needed int) ([]fetchmodel.BundleRef, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ctx := context.Background()

	cur, err := l.loadCursor(ctx)
	if err != nil {
		return nil, err
	}
	if cur.Done {
		return nil, nil
	}

	refs := make([]fetchmodel.BundleRef, 0, needed)
	dirty := false
	for needed <= 0 || len(refs) < needed {
		item, ok, err := l.nextAvailable(ctx, &cur)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Every item already in Pending (from this date or an earlier
			// one) is either processed or in flight. That never blocks
			// progress: fetch further pages/dates and append onto Pending,
			// since earlier in-flight items completing is not a
			// precondition for later ones being emitted.
			date, perr := time.Parse(dateLayout, cur.CurrentDate)
			if perr != nil {
				return nil, perr
			}
			if l.pastEnd(date) {
				cur.Done = true
				dirty = true
				break
			}

			page, err := l.fetchPage(ctx, date, cur.NarrowingKey, cur.CursorToken)
			if err != nil {
				return nil, ferrors.ErrLocatorStalled.WithField(l.id)
			}
			cur.Pending = append(cur.Pending, page.Items...)
			cur.TotalSeen += len(page.Items)
			dirty = true

			if page.NextCursorToken != "" && cur.TotalSeen < l.maxRecords {
				cur.CursorToken = page.NextCursorToken
			} else {
				nextKey, terminal := l.narrowing.Advance(cur.NarrowingKey)
				cur.NarrowingKey = nextKey
				cur.CursorToken = ""
				cur.TotalSeen = 0
				if terminal {
					cur.CurrentDate = l.nextDate(date).Format(dateLayout)
					cur.NarrowingKey = l.narrowing.Initial()
				}
			}
			continue // re-scan with the newly fetched (or still empty) Pending
		}

		if err := l.cursors.markProcessed(ctx, "inflight:"+item.URL, "1"); err != nil {
			return nil, err
		}
		refs = append(refs, fetchmodel.BundleRef{
			BID:        bid.New(),
			PrimaryURL: item.URL,
			Meta:       itemMeta(item),
		})
	}

	if dirty {
		if err := l.cursors.saveCursor(ctx, cur); err != nil {
			return nil, err
		}
	}
	return refs, nil
}

func (l *paginationLocator) handleRequestProcessed(_ fetchmodel.FetchRunContextProvider, ref fetchmodel.BundleRef, _ fetchmodel.RequestMeta, ok bool) {
	if ok {
		return
	}
	_ = l.cursors.markError(context.Background(), string(ref.BID), errRequestFailed)
}

// onBundleCompleteHook is the deferred checkpoint: only once a bundle has
// actually completed does its item get pruned from the persisted Pending
// list and recorded as processed, with its inflight guard cleared. This
// mirrors DirectorySFTPLocator/FileSFTPLocator's inflight-at-emission,
// processed-at-completion pattern — the workqueue itself performs no BID
// dedup (internal/workqueue.Queue has none), so this locator cannot rely on
// it to paper over a premature checkpoint.
func (l *paginationLocator) onBundleCompleteHook(_ fetchmodel.FetchRunContextProvider, ref fetchmodel.BundleRef) {
	url, _ := ref.Meta["url"].(string)
	if url == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	ctx := context.Background()

	var cur paginationCursor
	if err := l.cursors.loadCursor(ctx, &cur); err != nil {
		return
	}
	pruned := cur.Pending[:0]
	for _, item := range cur.Pending {
		if item.URL != url {
			pruned = append(pruned, item)
		}
	}
	cur.Pending = pruned
	_ = l.cursors.saveCursor(ctx, cur)
	_ = l.cursors.markProcessed(ctx, url, "1")
	_ = l.cursors.store.Delete(ctx, l.cursors.key("processed", "inflight:"+url))
}

func (l *APIPaginationLocator) GetNextBundleRefs(ctx fetchmodel.FetchRunContextProvider, needed int) ([]fetchmodel.BundleRef, error) {
	return l.paginationLocator.getNextBundleRefs(ctx, needed)
}
func (l *APIPaginationLocator) HandleRequestProcessed(ctx fetchmodel.FetchRunContextProvider, ref fetchmodel.BundleRef, req fetchmodel.RequestMeta, ok bool) {
	l.paginationLocator.handleRequestProcessed(ctx, ref, req, ok)
}
func (l *APIPaginationLocator) OnBundleCompleteHook(ctx fetchmodel.FetchRunContextProvider, ref fetchmodel.BundleRef) {
	l.paginationLocator.onBundleCompleteHook(ctx, ref)
}

func (l *ReversePaginationLocator) GetNextBundleRefs(ctx fetchmodel.FetchRunContextProvider, needed int) ([]fetchmodel.BundleRef, error) {
	return l.paginationLocator.getNextBundleRefs(ctx, needed)
}
func (l *ReversePaginationLocator) HandleRequestProcessed(ctx fetchmodel.FetchRunContextProvider, ref fetchmodel.BundleRef, req fetchmodel.RequestMeta, ok bool) {
	l.paginationLocator.handleRequestProcessed(ctx, ref, req, ok)
}
func (l *ReversePaginationLocator) OnBundleCompleteHook(ctx fetchmodel.FetchRunContextProvider, ref fetchmodel.BundleRef) {
	l.paginationLocator.onBundleCompleteHook(ctx, ref)
}

