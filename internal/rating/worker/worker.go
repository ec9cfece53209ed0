// Package worker runs the rating pipeline on a fixed interval. Invoicing stays
// caller-driven; only rating of pending activities is automated.
package worker

import (
	"context"
	"time"

	"github.com/smallbiznis/logibill/internal/config"
	obsmetrics "github.com/smallbiznis/logibill/internal/observability/metrics"
	"github.com/smallbiznis/logibill/internal/ratelimit"
	ratingdomain "github.com/smallbiznis/logibill/internal/rating/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const jobName = "rating_run"

type Params struct {
	fx.In

	Config  config.Config
	Log     *zap.Logger
	Rating  ratingdomain.Service
	Limiter *ratelimit.Limiter        `optional:"true"`
	Metrics *obsmetrics.WorkerMetrics `optional:"true"`
}

type Worker struct {
	cfg     config.RatingWorkerConfig
	log     *zap.Logger
	rating  ratingdomain.Service
	limiter *ratelimit.Limiter
	metrics *obsmetrics.WorkerMetrics
}

func NewWorker(p Params) *Worker {
	cfg := p.Config.RatingWorker
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 2 * time.Minute
	}
	return &Worker{
		cfg:     cfg,
		log:     p.Log.Named("rating.worker"),
		rating:  p.Rating,
		limiter: p.Limiter,
		metrics: p.Metrics,
	}
}

func (w *Worker) Enabled() bool {
	return w.cfg.Enabled
}

func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil {
			w.log.Warn("rating run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce rates all pending activities under the cluster lock. It reports
// false when another instance holds the lock.
func (w *Worker) RunOnce(parentCtx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(parentCtx, w.cfg.RunTimeout)
	defer cancel()

	token, acquired, err := w.limiter.TryLockRatingRun(ctx, w.cfg.RunTimeout)
	if err != nil {
		return false, err
	}
	if !acquired {
		w.log.Debug("rating run skipped, lock held elsewhere")
		return false, nil
	}
	defer func() {
		if err := w.limiter.ReleaseRatingRun(context.Background(), token); err != nil {
			w.log.Warn("failed to release rating lock", zap.Error(err))
		}
	}()

	start := time.Now()
	w.metrics.IncJobRun(jobName)
	result, err := w.rating.Run(ctx, ratingdomain.RunRequest{})
	w.metrics.ObserveJobDuration(jobName, time.Since(start))
	w.metrics.AddProcessed(jobName, string(ratingdomain.OutcomeRated), result.Rated)
	w.metrics.AddProcessed(jobName, string(ratingdomain.OutcomeFailed), result.Failed)
	w.metrics.AddProcessed(jobName, string(ratingdomain.OutcomeSkipped), result.Skipped)
	if err != nil {
		w.metrics.IncJobError(jobName, err)
		return true, err
	}
	return true, nil
}

var Module = fx.Module("rating.worker",
	fx.Provide(NewWorker),
	fx.Invoke(runWorker),
)

func runWorker(lc fx.Lifecycle, worker *Worker) {
	if !worker.Enabled() {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go worker.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}
