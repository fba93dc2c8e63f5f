package scanner

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// maxInFlightBatches caps concurrently dispatched batches regardless of how
// many the port list splits into.
const maxInFlightBatches = 100

// run dispatches every job and aggregates the results.
func (s *scan) run(ctx context.Context) (*ScanResult, error) {
	start := time.Now()
	res := &ScanResult{Target: s.cfg.Target, Config: s.cfg}
	total := len(s.cfg.Targets) * len(s.cfg.Ports)

	results := make(chan PortResult, min(total, 4096))
	aggregated := make(chan struct{})
	go func() {
		defer close(aggregated)
		s.aggregate(res, results, total, start)
	}()

	err := s.dispatch(ctx, results)
	close(results)
	<-aggregated

	s.finalize(res, time.Since(start))
	return res, err
}

// estimateBatches is the batch count if the size never changed.
func estimateBatches(targets, ports, size int) int {
	if size <= 0 {
		size = 1
	}
	return max(1, targets*((ports+size-1)/size))
}

// dispatch forms batches lazily, reading the adaptive size before each one,
// so a size change applies to every batch formed after it.
func (s *scan) dispatch(ctx context.Context, results chan<- PortResult) error {
	inflight := semaphore.NewWeighted(int64(min(
		estimateBatches(len(s.cfg.Targets), len(s.cfg.Ports), s.batcher.Size()),
		maxInFlightBatches)))
	threads := semaphore.NewWeighted(int64(s.cfg.Threads))
	g, gctx := errgroup.WithContext(ctx)

	id := 0
produce:
	for _, target := range s.cfg.Targets {
		ports := s.cfg.Ports
		for len(ports) > 0 {
			if err := inflight.Acquire(gctx, 1); err != nil {
				break produce
			}
			n := min(s.batcher.Size(), len(ports))
			b := ScanBatch{ID: id, Target: target, Jobs: make([]ScanJob, n)}
			for i, port := range ports[:n] {
				b.Jobs[i] = ScanJob{Target: target, Port: port, Technique: s.seq[0]}
			}
			ports = ports[n:]
			id++

			g.Go(func() error {
				defer inflight.Release(1)
				return s.runBatch(gctx, b, threads, results)
			})
		}
	}

	err := g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// runBatch probes every job of b, each on its own goroutine bounded by
// threads, and feeds the adaptive sizing once the batch is done.
func (s *scan) runBatch(ctx context.Context, b ScanBatch, threads *semaphore.Weighted, results chan<- PortResult) error {
	var (
		wg  sync.WaitGroup
		err error
	)
	for _, job := range b.Jobs {
		if err = threads.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer threads.Release(1)
			if pr, ok := s.execute(ctx, job); ok {
				results <- pr
			}
		}()
	}
	wg.Wait()

	if s.batcher.BatchDone() {
		size := s.batcher.Size()
		s.e.metrics.BatchSize(size)
		s.e.log.Debug("Batch size evaluated", "batch", b.ID, "size", size)
	}
	s.timeout.Evaluate()
	return err
}

// aggregate is the only writer of res until dispatch returns.
func (s *scan) aggregate(res *ScanResult, in <-chan PortResult, total int, start time.Time) {
	completed, open := 0, 0
	for pr := range in {
		res.add(pr)
		completed++
		if pr.State == Open {
			open++
		}
		s.e.metrics.PortState(pr.Technique.String(), string(pr.State))

		if s.cfg.Progress == nil {
			continue
		}
		p := Progress{Total: total, Completed: completed, Open: open, Elapsed: time.Since(start)}
		if secs := p.Elapsed.Seconds(); secs > 0 {
			p.Rate = float64(completed) / secs
		}
		s.cfg.Progress(p)
	}
}
