package pipeline

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/indicator-analyzer/internal/metrics"
)

// BatchResult summarizes one batch. Outcomes keep the input order; URLs not
// started before cancellation are absent.
type BatchResult struct {
	Processed int
	Succeeded int
	Failed    int
	Outcomes  []Outcome
}

type job struct {
	index int
	url   string
}

type result struct {
	index   int
	outcome Outcome
}

// RunBatch processes urls with at most concurrency identifiers in flight.
// Every worker shares the orchestrator's fetcher and analyzer and therefore
// their single rate limiter. A failing identifier never stops the batch.
func (o *Orchestrator) RunBatch(ctx context.Context, urls []string, concurrency int) BatchResult {
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > len(urls) {
		concurrency = max(len(urls), 1)
	}

	jobs := make(chan job)
	results := make(chan result, concurrency)

	var wg sync.WaitGroup
	for range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.runWorker(ctx, jobs, results)
		}()
	}

	go func() {
		defer close(jobs)
		for i, u := range urls {
			select {
			case <-ctx.Done():
				return
			case jobs <- job{index: i, url: u}:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	slots := make([]*Outcome, len(urls))
	var res BatchResult
	for r := range results {
		out := r.outcome
		slots[r.index] = &out
		res.Processed++
		if out.Succeeded() {
			res.Succeeded++
		} else {
			res.Failed++
		}
	}
	res.Outcomes = make([]Outcome, 0, res.Processed)
	for _, s := range slots {
		if s != nil {
			res.Outcomes = append(res.Outcomes, *s)
		}
	}

	o.logger.Info("batch finished",
		zap.Int("total", len(urls)),
		zap.Int("processed", res.Processed),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
	)
	return res
}

func (o *Orchestrator) runWorker(ctx context.Context, jobs <-chan job, results chan<- result) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	for j := range jobs {
		if ctx.Err() != nil {
			return
		}
		results <- result{index: j.index, outcome: o.Process(ctx, j.url)}
	}
}
