package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	metricTicksKey    = "metrics:dispatch:ticks"
	metricLastTickKey = "metrics:dispatch:last"
)

// Dispatcher polls for due schedules on a fixed cadence and fires them
// through the service. Each tick is bounded by batchSize and maxConcurrent
// so one slow engine call cannot stall unrelated schedules.
type Dispatcher struct {
	cron          *cron.Cron
	service       *Service
	deduper       Deduper
	metrics       *redis.Client
	logger        *zap.Logger
	tickSpec      string
	batchSize     int
	maxConcurrent int
}

func NewDispatcher(service *Service, deduper Deduper, metrics *redis.Client, logger *zap.Logger, tickSpec string, batchSize, maxConcurrent int) *Dispatcher {
	if batchSize <= 0 {
		batchSize = 100
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	return &Dispatcher{
		cron:          cron.New(cron.WithSeconds()),
		service:       service,
		deduper:       deduper,
		metrics:       metrics,
		logger:        logger,
		tickSpec:      tickSpec,
		batchSize:     batchSize,
		maxConcurrent: maxConcurrent,
	}
}

// Start registers the dispatch tick and starts the cron runner.
func (d *Dispatcher) Start() error {
	if _, err := d.cron.AddFunc(d.tickSpec, func() {
		d.logger.Debug("Running: dispatch tick")
		d.RunTick(context.Background())
	}); err != nil {
		return err
	}
	d.cron.Start()
	d.logger.Info("Dispatch loop started",
		zap.String("tick", d.tickSpec),
		zap.Int("batch_size", d.batchSize),
		zap.Int("max_concurrent", d.maxConcurrent))
	return nil
}

// Stop halts the tick and returns a context that is done once in-flight
// jobs finish.
func (d *Dispatcher) Stop() context.Context {
	return d.cron.Stop()
}

// RunTick scans for due schedules and dispatches them. It returns the number
// of occurrences actually fired; claims lost to another replica and dispatch
// failures do not count.
func (d *Dispatcher) RunTick(ctx context.Context) int {
	defer d.recoverFromPanic("dispatch tick")

	due, err := d.service.DueSchedules(d.batchSize)
	if err != nil {
		d.logger.Error("Due scan failed", zap.Error(err))
		return 0
	}
	if len(due) == 0 {
		return 0
	}

	var triggered int64
	var wg sync.WaitGroup
	sem := make(chan struct{}, d.maxConcurrent)

	for _, sched := range due {
		sched := sched
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			defer d.recoverFromPanic("dispatch " + sched.ID)

			fired, err := d.service.TriggerScheduled(ctx, sched, d.deduper)
			if err != nil {
				// already logged with schedule context by the service
				return
			}
			if fired {
				atomic.AddInt64(&triggered, 1)
			}
		}()
	}
	wg.Wait()

	d.recordTick(ctx, len(due), int(triggered))
	return int(triggered)
}

func (d *Dispatcher) recordTick(ctx context.Context, due, triggered int) {
	if d.metrics == nil {
		return
	}
	if err := d.metrics.Incr(ctx, metricTicksKey).Err(); err != nil {
		d.logger.Debug("Tick metric update failed", zap.Error(err))
		return
	}
	d.metrics.HSet(ctx, metricLastTickKey,
		"at", time.Now().UTC().Format(time.RFC3339),
		"due", due,
		"triggered", triggered,
	)
}

func (d *Dispatcher) recoverFromPanic(job string) {
	if r := recover(); r != nil {
		d.logger.Error("Dispatch job panicked", zap.String("job", job), zap.Any("error", r))
	}
}
