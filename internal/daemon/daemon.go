// Package daemon runs passes on a cron schedule and serves a small status
// API next to it.
package daemon

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hnrobert/nssync/internal/lock"
	"github.com/hnrobert/nssync/internal/logger"
	"github.com/hnrobert/nssync/internal/pass"
)

type Config struct {
	Schedule   string
	ListenAddr string
}

// Runner is satisfied by *pass.Runner.
type Runner interface {
	Run(ctx context.Context) (pass.Result, error)
}

type Status struct {
	Running       bool      `json:"running"`
	Passes        int       `json:"passes"`
	Failures      int       `json:"failures"`
	LastPassID    string    `json:"last_pass_id,omitempty"`
	LastStarted   time.Time `json:"last_started,omitempty"`
	LastDuration  string    `json:"last_duration,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	LastPublished bool      `json:"last_published"`
	Users         int       `json:"users"`
	Groups        int       `json:"groups"`
	Digest        string    `json:"digest,omitempty"`
	LastSuccess   time.Time `json:"last_success,omitempty"`
}

type Daemon struct {
	cfg    Config
	runner Runner

	mu     sync.Mutex
	status Status
}

func New(cfg Config, runner Runner) *Daemon {
	return &Daemon{cfg: cfg, runner: runner}
}

func (d *Daemon) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// Trigger runs one pass and records its outcome. A pass already running in
// this or another process is reported as lock.ErrPassInProgress without
// counting as a failure.
func (d *Daemon) Trigger(ctx context.Context) (pass.Result, error) {
	d.mu.Lock()
	if d.status.Running {
		d.mu.Unlock()
		return pass.Result{}, lock.ErrPassInProgress
	}
	d.status.Running = true
	d.mu.Unlock()

	res, err := d.runner.Run(ctx)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.status.Running = false
	if errors.Is(err, lock.ErrPassInProgress) {
		return res, err
	}
	d.status.Passes++
	d.status.LastPassID = res.PassID
	d.status.LastStarted = res.StartedAt
	d.status.LastDuration = res.Duration.String()
	d.status.LastPublished = res.Published
	if err != nil {
		d.status.Failures++
		d.status.LastError = err.Error()
		return res, err
	}
	d.status.LastError = ""
	d.status.LastSuccess = res.StartedAt
	d.status.Users, d.status.Groups = res.Users, res.Groups
	d.status.Digest = res.Digest
	return res, nil
}

// Run starts the schedule and the status server, runs one pass right away,
// and blocks until ctx is cancelled and every pass it started has finished.
func (d *Daemon) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger{}),
		cron.SkipIfStillRunning(cronLogger{}),
	))
	if _, err := c.AddFunc(d.cfg.Schedule, func() { d.scheduled(ctx) }); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              d.cfg.ListenAddr,
		Handler:           d.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("status API listening on %s", d.cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	c.Start()
	logger.Info("scheduler started (%s)", d.cfg.Schedule)
	var initial sync.WaitGroup
	initial.Add(1)
	go func() {
		defer initial.Done()
		d.scheduled(ctx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errc:
	}

	<-c.Stop().Done()
	initial.Wait()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("status API shutdown: %v", err)
	}
	logger.Info("scheduler stopped")
	return runErr
}

func (d *Daemon) scheduled(ctx context.Context) {
	if _, err := d.Trigger(ctx); err != nil {
		if errors.Is(err, lock.ErrPassInProgress) {
			logger.Info("skipping scheduled pass: %v", err)
			return
		}
		logger.Error("scheduled pass failed: %v", err)
	}
}

type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Debug("cron: %s %v", msg, keysAndValues)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Error("cron: %s: %v %v", msg, err, keysAndValues)
}
