// Package fetcher implements the scheduler that drives one fetch run: a
// producer goroutine polls every locator in a recipe round-robin, enqueueing
// the requests it emits onto a persistent workqueue.Queue, while a pool of
// worker goroutines drain the queue, invoke the recipe's loader, and report
// the outcome back to the originating locator.
package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oriys/fetchengine/internal/bid"
	"github.com/oriys/fetchengine/internal/ferrors"
	"github.com/oriys/fetchengine/internal/fetchmodel"
	"github.com/oriys/fetchengine/internal/kvs"
	"github.com/oriys/fetchengine/internal/logging"
	"github.com/oriys/fetchengine/internal/metrics"
	"github.com/oriys/fetchengine/internal/tracing"
	"github.com/oriys/fetchengine/internal/workqueue"
)

const (
	defaultConcurrency = 4
	producerBatchSize  = 16
	pollInterval       = 50 * time.Millisecond
	// quiescenceRounds is how many consecutive all-empty polls across every
	// locator the producer tolerates before declaring the run drained. The
	// Locator interface has no explicit "done" signal, so exhaustion is
	// inferred the same way a quiescence detector infers termination of any
	// polling source: by consecutive emptiness rather than a sentinel value.
	quiescenceRounds = 3
)

// Scheduler runs a FetchPlan to completion.
type Scheduler struct {
	Store    kvs.Store
	Notifier workqueue.Notifier
}

// New builds a Scheduler backed by store. notifier may be nil, in which case
// the queue falls back to pure polling.
func New(store kvs.Store, notifier workqueue.Notifier) *Scheduler {
	return &Scheduler{Store: store, Notifier: notifier}
}

// Run drives plan to completion: it fails fast if no KVS is configured,
// otherwise it spawns one producer and Concurrency workers and blocks until
// every locator is drained, the queue is empty, and every worker has
// returned (or ctx is cancelled).
func (s *Scheduler) Run(ctx context.Context, plan fetchmodel.FetchPlan) (fetchmodel.FetchResult, error) {
	if s.Store == nil {
		return fetchmodel.FetchResult{}, ferrors.New(ferrors.Configuration, "fetcher", fmt.Errorf("no KVS store configured"))
	}

	result := fetchmodel.FetchResult{StartedAt: time.Now()}
	runCtx := plan.Context

	ctx, span := tracing.StartRun(ctx, runCtx.RunID(), plan.Recipe.RecipeID)
	defer span.End()
	log := logging.OpWithTrace(tracing.GetTraceID(ctx), tracing.GetSpanID(ctx)).With("run_id", runCtx.RunID())

	locatorsByID := make(map[string]fetchmodel.Locator, len(plan.Recipe.Locators))
	for _, nl := range plan.Recipe.Locators {
		locatorsByID[nl.ID] = nl.Locator
	}

	queue := workqueue.NewQueue(s.Store, runCtx.RunID(), s.Notifier)
	defer queue.Close()

	concurrency := plan.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	var producerDone atomic.Bool
	var wg sync.WaitGroup
	var mu sync.Mutex

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer producerDone.Store(true)
		s.produce(ctx, plan, queue, log)
	}()

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.work(ctx, plan, queue, locatorsByID, &producerDone, &mu, &result, log, workerID)
		}(i)
	}

	wg.Wait()
	result.FinishedAt = time.Now()
	if len(result.Errors) > 0 {
		tracing.SetError(span, result.Errors[0])
	} else {
		tracing.SetOK(span)
	}
	return result, nil
}

// produce polls every locator round-robin until quiescenceRounds
// consecutive rounds across all locators return nothing, or ctx is done.
func (s *Scheduler) produce(ctx context.Context, plan fetchmodel.FetchPlan, queue *workqueue.Queue, log *slog.Logger) {
	emptyRounds := 0
	for emptyRounds < quiescenceRounds {
		select {
		case <-ctx.Done():
			return
		default:
		}

		gotAny := false
		for _, nl := range plan.Recipe.Locators {
			pollCtx, pollSpan := tracing.StartLocatorPoll(ctx, plan.Context.RunID(), nl.ID)
			pollLog := logging.OpWithTrace(tracing.GetTraceID(pollCtx), tracing.GetSpanID(pollCtx))

			refs, err := nl.Locator.GetNextBundleRefs(plan.Context, producerBatchSize)
			if err != nil {
				tracing.SetError(pollSpan, err)
				pollSpan.End()
				if kind, ok := ferrors.KindOf(err); ok && kind == ferrors.Retryable {
					metrics.Global().RecordLocatorStall(nl.ID)
				}
				pollLog.Warn("locator poll failed", "locator_id", nl.ID, "err", err)
				continue
			}
			tracing.SetOK(pollSpan)
			pollSpan.End()
			if len(refs) == 0 {
				continue
			}
			gotAny = true
			if err := s.enqueue(ctx, queue, nl.ID, refs); err != nil {
				pollLog.Warn("enqueue failed", "locator_id", nl.ID, "err", err)
			}
		}

		if gotAny {
			emptyRounds = 0
		} else {
			emptyRounds++
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
		}
	}
}

func (s *Scheduler) enqueue(ctx context.Context, queue *workqueue.Queue, locatorID string, refs []fetchmodel.BundleRef) error {
	bidKeys := make([]string, len(refs))
	items := make([]fetchmodel.RequestMeta, len(refs))
	for i, ref := range refs {
		bidKeys[i] = string(ref.BID)
		items[i] = fetchmodel.RequestMeta{
			URL: ref.PrimaryURL,
			Flags: map[string]any{
				"bid":       string(ref.BID),
				"locatorId": locatorID,
				"meta":      ref.Meta,
			},
		}
	}
	n, err := queue.Enqueue(ctx, bidKeys, items)
	if err == nil {
		metrics.Global().RecordEnqueue(n)
	}
	return err
}

// work drains the queue until the producer has finished and the queue is
// observed empty, or ctx is cancelled.
func (s *Scheduler) work(
	ctx context.Context,
	plan fetchmodel.FetchPlan,
	queue *workqueue.Queue,
	locatorsByID map[string]fetchmodel.Locator,
	producerDone *atomic.Bool,
	mu *sync.Mutex,
	result *fetchmodel.FetchResult,
	log *slog.Logger,
	workerID int,
) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		items, err := queue.Dequeue(ctx, 1)
		if err != nil {
			log.Warn("dequeue failed", "worker", workerID, "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}

		if len(items) == 0 {
			if producerDone.Load() {
				size, err := queue.Size(ctx)
				if err == nil && size == 0 {
					return
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}

		metrics.Global().RecordDequeue(len(items))
		for _, item := range items {
			s.process(ctx, plan, locatorsByID, item, mu, result, log)
		}
	}
}

func (s *Scheduler) process(
	ctx context.Context,
	plan fetchmodel.FetchPlan,
	locatorsByID map[string]fetchmodel.Locator,
	item workqueue.Item,
	mu *sync.Mutex,
	result *fetchmodel.FetchResult,
	log *slog.Logger,
) {
	locatorID, _ := item.Request.Flags["locatorId"].(string)
	bidStr, _ := item.Request.Flags["bid"].(string)
	meta, _ := item.Request.Flags["meta"].(map[string]any)

	ref := fetchmodel.BundleRef{BID: bid.BID(bidStr), PrimaryURL: item.Request.URL, Meta: meta}
	loc := locatorsByID[locatorID]

	bundleCtx, span := tracing.StartBundle(ctx, plan.Context.RunID(), bidStr)
	defer span.End()

	_, err := plan.Recipe.Loader.Load(bundleCtx, plan.Context, item.Request, ref)
	if err != nil {
		tracing.SetError(span, err)
	} else {
		tracing.SetOK(span)
	}

	mu.Lock()
	result.ProcessedCount++
	if err != nil {
		result.Errors = append(result.Errors, err)
	}
	mu.Unlock()

	if loc != nil {
		loc.HandleRequestProcessed(plan.Context, ref, item.Request, err == nil)
	} else {
		log.Warn("no locator found for dequeued item", "locator_id", locatorID, "bid", bidStr)
	}
}
