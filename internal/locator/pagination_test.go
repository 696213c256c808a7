package locator

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/oriys/fetchengine/internal/httppool"
	"github.com/oriys/fetchengine/internal/kvs"
	"github.com/oriys/fetchengine/internal/retry"
)

type fakePage struct {
	Items []string `json:"items"`
	Next  string   `json:"next"`
}

func fakeAPIServer(t *testing.T, itemsPerDate map[string][]string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		date := r.URL.Query().Get("date")
		items := itemsPerDate[date]
		_ = json.NewEncoder(w).Encode(fakePage{Items: items})
	}))
}

func testPool(srv *httptest.Server) *httppool.Pool {
	return httppool.New(httppool.Config{PoolMaxSize: 2}, retry.Policy{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, ExponentialBase: 2}, nil)
}

func buildReq(srv *httptest.Server) RequestBuilder {
	return func(date time.Time, narrowingKey, cursorToken string) (*http.Request, error) {
		url := fmt.Sprintf("%s?date=%s", srv.URL, date.Format(dateLayout))
		return http.NewRequest(http.MethodGet, url, nil)
	}
}

func parseResp() ResponseParser {
	return func(resp *http.Response) (Page, error) {
		var fp fakePage
		if err := json.NewDecoder(resp.Body).Decode(&fp); err != nil {
			return Page{}, err
		}
		items := make([]PageItem, len(fp.Items))
		for i, it := range fp.Items {
			items[i] = PageItem{URL: it}
		}
		return Page{Items: items, NextCursorToken: fp.Next}, nil
	}
}

func TestAPIPaginationLocatorWalksDatesForward(t *testing.T) {
	srv := fakeAPIServer(t, map[string][]string{
		"2026-01-01": {"http://a1", "http://a2"},
		"2026-01-02": {"http://b1"},
	})
	defer srv.Close()

	store := kvs.NewMemoryStore()
	defer store.Close()

	start, _ := time.Parse(dateLayout, "2026-01-01")
	end, _ := time.Parse(dateLayout, "2026-01-02")
	l := NewAPIPaginationLocator("fwd", testPool(srv), start, end, 1000, nil,
		retry.Policy{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, ExponentialBase: 2},
		buildReq(srv), parseResp(), store)

	var all []string
	for i := 0; i < 10; i++ {
		refs, err := l.GetNextBundleRefs(nil, 2)
		if err != nil {
			t.Fatalf("GetNextBundleRefs returned error: %v", err)
		}
		if len(refs) == 0 {
			break
		}
		for _, r := range refs {
			all = append(all, r.PrimaryURL)
		}
	}
	if len(all) != 3 {
		t.Fatalf("got %d items, want 3: %v", len(all), all)
	}
}

func TestReversePaginationLocatorWalksDatesBackward(t *testing.T) {
	srv := fakeAPIServer(t, map[string][]string{
		"2026-01-01": {"http://a1"},
		"2026-01-02": {"http://b1"},
	})
	defer srv.Close()

	store := kvs.NewMemoryStore()
	defer store.Close()

	start, _ := time.Parse(dateLayout, "2026-01-01")
	end, _ := time.Parse(dateLayout, "2026-01-02")
	l := NewReversePaginationLocator("rev", testPool(srv), start, end, 1000, nil,
		retry.Policy{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, ExponentialBase: 2},
		buildReq(srv), parseResp(), store)

	refs, err := l.GetNextBundleRefs(nil, 1)
	if err != nil {
		t.Fatalf("GetNextBundleRefs returned error: %v", err)
	}
	if len(refs) != 1 || refs[0].PrimaryURL != "http://b1" {
		t.Fatalf("expected the later date to be visited first, got %+v", refs)
	}
}

func TestAPIPaginationLocatorTerminatesAfterDateEnd(t *testing.T) {
	srv := fakeAPIServer(t, map[string][]string{})
	defer srv.Close()

	store := kvs.NewMemoryStore()
	defer store.Close()

	start, _ := time.Parse(dateLayout, "2026-01-01")
	end, _ := time.Parse(dateLayout, "2026-01-01")
	l := NewAPIPaginationLocator("empty", testPool(srv), start, end, 1000, nil,
		retry.Policy{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, ExponentialBase: 2},
		buildReq(srv), parseResp(), store)

	refs, err := l.GetNextBundleRefs(nil, 5)
	if err != nil {
		t.Fatalf("GetNextBundleRefs returned error: %v", err)
	}
	if len(refs) != 0 {
		t.Fatalf("expected no items from an empty single-day range, got %+v", refs)
	}
	refs, err = l.GetNextBundleRefs(nil, 5)
	if err != nil {
		t.Fatalf("GetNextBundleRefs returned error: %v", err)
	}
	if len(refs) != 0 {
		t.Fatal("expected the locator to stay drained once Done")
	}
}
