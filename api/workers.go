package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"strobe/scanner"
	"strobe/targets"
)

// Scanner runs one scan. *scanner.Engine satisfies it.
type Scanner interface {
	Scan(ctx context.Context, cfg scanner.ScanConfig) (*scanner.ScanResult, error)
}

// WorkerPool drains the task queue and runs each task through the engine.
type WorkerPool struct {
	store    TaskStore
	engine   Scanner
	defaults scanner.ScanConfig
	resolver targets.Resolver
	exclude  *targets.Exclusions
	log      *slog.Logger
	// retryDelay is how long a worker backs off after a store error.
	retryDelay time.Duration
}

// NewWorkerPool creates workers that start every scan from defaults.
// A nil resolver uses the system resolver.
func NewWorkerPool(store TaskStore, engine Scanner, defaults scanner.ScanConfig, resolver targets.Resolver, log *slog.Logger) *WorkerPool {
	return &WorkerPool{
		store:      store,
		engine:     engine,
		defaults:   defaults,
		resolver:   resolver,
		log:        log.With("component", "worker"),
		retryDelay: time.Second,
	}
}

// Exclude makes every task skip the addresses and ports in x.
func (p *WorkerPool) Exclude(x *targets.Exclusions) *WorkerPool {
	p.exclude = x
	return p
}

// Run starts n workers and blocks until ctx is cancelled and every worker
// has finished its current task.
func (p *WorkerPool) Run(ctx context.Context, n int) {
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.loop(ctx, p.log.With("worker", i))
		}()
	}
	wg.Wait()
}

func (p *WorkerPool) loop(ctx context.Context, log *slog.Logger) {
	for ctx.Err() == nil {
		taskID, err := p.store.PopFromQueue(ctx)
		switch {
		case err == nil:
			p.process(ctx, log, taskID)
		case errors.Is(err, ErrQueueEmpty), ctx.Err() != nil:
		default:
			log.Error("Worker failed to pop task", "error", err)
			sleepCtx(ctx, p.retryDelay)
		}
	}
}

func (p *WorkerPool) process(ctx context.Context, log *slog.Logger, taskID string) {
	log = log.With("task_id", taskID)

	task, err := p.store.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			log.Warn("Worker task disappeared")
			return
		}
		log.Error("Worker failed to load task", "error", err)
		return
	}

	now := time.Now().UTC()
	task.Status = StatusRunning
	task.StartedAt = &now
	task.Error = ""
	task.Result = nil
	task.CompletedAt = nil
	if err := p.store.UpdateTask(ctx, task); err != nil {
		log.Error("Worker failed to mark task running", "error", err)
		return
	}

	cfg, err := p.buildConfig(ctx, task)
	if err != nil {
		p.finish(log, task, nil, err)
		return
	}

	log.Info("Scan task started", "technique", cfg.Technique, "targets", len(cfg.Targets), "ports", len(cfg.Ports))
	res, err := p.engine.Scan(ctx, cfg)
	p.finish(log, task, res, err)
}

// buildConfig turns the stored request into an engine config.
func (p *WorkerPool) buildConfig(ctx context.Context, task *ScanTask) (scanner.ScanConfig, error) {
	cfg := p.defaults
	if task.Technique != "" {
		tech, err := scanner.ParseTechnique(task.Technique)
		if err != nil {
			return cfg, err
		}
		cfg.Technique = tech
	}
	if o := task.Options; o != nil {
		if o.Timing != "" {
			tm, err := scanner.ParseTiming(o.Timing)
			if err != nil {
				return cfg, err
			}
			tm.Apply(&cfg)
		}
		if o.Threads > 0 {
			cfg.Threads = o.Threads
		}
		if o.TimeoutMS > 0 {
			cfg.Timeout = time.Duration(o.TimeoutMS) * time.Millisecond
		}
		if o.RateLimit > 0 {
			cfg.RateLimit = o.RateLimit
		}
		if o.MaxRetries != nil {
			cfg.MaxRetries = *o.MaxRetries
		}
		if o.Fallback != nil {
			cfg.Fallback = *o.Fallback
		}
	}

	ports, err := targets.ParsePorts(task.Ports)
	if err != nil {
		return cfg, err
	}
	addrs, err := targets.Expand(ctx, task.Hosts, p.resolver)
	if err != nil {
		return cfg, err
	}
	if addrs = p.exclude.Addrs(addrs); len(addrs) == 0 {
		return cfg, errors.New("every target is excluded")
	}
	if ports = p.exclude.Ports(ports); len(ports) == 0 {
		return cfg, errors.New("every port is excluded")
	}
	cfg.Ports = ports
	cfg.Targets = addrs
	cfg.Target = targetLabel(task.Hosts)
	return cfg, nil
}

func targetLabel(hosts []string) string {
	switch len(hosts) {
	case 0:
		return ""
	case 1:
		return hosts[0]
	default:
		return fmt.Sprintf("%s (+%d more)", hosts[0], len(hosts)-1)
	}
}

// finish records the terminal state. It uses a fresh context so a task
// interrupted by shutdown is still marked failed.
func (p *WorkerPool) finish(log *slog.Logger, task *ScanTask, res *scanner.ScanResult, scanErr error) {
	now := time.Now().UTC()
	task.CompletedAt = &now
	task.Result = res
	if scanErr != nil {
		task.Status = StatusFailed
		task.Error = scanErr.Error()
		log.Error("Scan task failed", "error", scanErr)
	} else {
		task.Status = StatusCompleted
		log.Info("Scan task completed", "open", len(res.OpenPorts), "duration", res.Duration)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.store.UpdateTask(ctx, task); err != nil {
		log.Error("Worker failed to persist task", "status", task.Status, "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
