package locator

import (
	"testing"

	"github.com/oriys/fetchengine/internal/fetchmodel"
	"github.com/oriys/fetchengine/internal/kvs"
)

func TestSingleURLLocatorEmitsInOrderAndTerminates(t *testing.T) {
	store := kvs.NewMemoryStore()
	defer store.Close()
	l := NewSingleURLLocator("single", []string{"http://a", "http://b", "http://c"}, store)

	refs, err := l.GetNextBundleRefs(nil, 2)
	if err != nil {
		t.Fatalf("GetNextBundleRefs returned error: %v", err)
	}
	if len(refs) != 2 || refs[0].PrimaryURL != "http://a" || refs[1].PrimaryURL != "http://b" {
		t.Fatalf("unexpected first batch: %+v", refs)
	}

	refs, err = l.GetNextBundleRefs(nil, 2)
	if err != nil {
		t.Fatalf("GetNextBundleRefs returned error: %v", err)
	}
	if len(refs) != 1 || refs[0].PrimaryURL != "http://c" {
		t.Fatalf("unexpected second batch: %+v", refs)
	}

	refs, err = l.GetNextBundleRefs(nil, 2)
	if err != nil {
		t.Fatalf("GetNextBundleRefs returned error: %v", err)
	}
	if len(refs) != 0 {
		t.Fatalf("expected no more refs once the list is exhausted, got %+v", refs)
	}
}

func TestSingleURLLocatorResumesFromPersistedCursor(t *testing.T) {
	store := kvs.NewMemoryStore()
	defer store.Close()

	l1 := NewSingleURLLocator("single", []string{"http://a", "http://b"}, store)
	if _, err := l1.GetNextBundleRefs(nil, 1); err != nil {
		t.Fatalf("GetNextBundleRefs returned error: %v", err)
	}

	l2 := NewSingleURLLocator("single", []string{"http://a", "http://b"}, store)
	refs, err := l2.GetNextBundleRefs(nil, 5)
	if err != nil {
		t.Fatalf("GetNextBundleRefs returned error: %v", err)
	}
	if len(refs) != 1 || refs[0].PrimaryURL != "http://b" {
		t.Fatalf("expected resumption at the second URL, got %+v", refs)
	}
}

func TestSingleURLLocatorHandleRequestProcessedRecordsFailure(t *testing.T) {
	store := kvs.NewMemoryStore()
	defer store.Close()
	l := NewSingleURLLocator("single", []string{"http://a"}, store)

	refs, _ := l.GetNextBundleRefs(nil, 1)
	l.HandleRequestProcessed(nil, refs[0], fetchmodel.RequestMeta{}, false)

	_, err := store.Get(nil, "locator:single:error:"+string(refs[0].BID))
	if err != nil {
		t.Fatalf("expected an error checkpoint to be recorded: %v", err)
	}
}
