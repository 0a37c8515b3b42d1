// ABOUTME: Agent wires state, session, heartbeat, sync, rules and bridge together
// ABOUTME: Run drives the three independent tickers and the loopback bridge until cancelled

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/2389/ytwatch/internal/apiclient"
	"github.com/2389/ytwatch/internal/dedupe"
	"github.com/2389/ytwatch/internal/enforce"
)

// Agent is one monitored device's protocol runtime.
type Agent struct {
	cfg    *Config
	state  State
	api    *apiclient.Client
	logger *slog.Logger

	Session   *Session
	Heartbeat *Heartbeater
	Sync      *Syncer
	Rules     *RuleSync
	Engine    *enforce.Engine
	Board     *NoticeBoard
	Bridge    *Bridge

	bridgeServer *http.Server
}

// New builds an agent over state. The caller keeps ownership of state.
func New(cfg *Config, state State, logger *slog.Logger) (*Agent, error) {
	if logger == nil {
		logger = slog.Default()
	}
	policy, err := enforce.ParseAttemptPolicy(cfg.AttemptPolicy)
	if err != nil {
		return nil, err
	}

	api := apiclient.New(cfg.ServerURL,
		apiclient.WithTimeout(cfg.RequestTimeout),
		apiclient.WithCompression(cfg.CompressUploads),
		apiclient.WithUserAgent("ytwatch-agent"),
	)

	a := &Agent{cfg: cfg, state: state, api: api, logger: logger.With("component", "agent")}
	a.Session = NewSession(state, api, cfg.DeviceID, cfg.DeviceName, logger)
	a.Heartbeat = NewHeartbeater(a.Session, api, logger)
	a.Sync = NewSyncer(state, a.Session, api, cfg.BufferCap, logger)
	a.Board = NewNoticeBoard(logger)
	a.Engine = enforce.NewEngine(a.Board, &attemptReporter{session: a.Session, api: api},
		enforce.WithPolicy(policy), enforce.WithLogger(logger))
	a.Rules = NewRuleSync(a.Session, api, a.Engine, logger)
	a.Bridge = NewBridge(a.Engine, a.Rules, a.Sync, dedupe.New(cfg.DedupeWindow, 0), a.Board, logger)
	return a, nil
}

// API returns the REST client the agent uses.
func (a *Agent) API() *apiclient.Client {
	return a.api
}

// Run registers, starts every loop and blocks until ctx is cancelled or the
// bridge fails. A final flush is attempted on the way out.
func (a *Agent) Run(ctx context.Context) error {
	regCtx, regCancel := context.WithTimeout(ctx, a.opTimeout())
	if _, err := a.Session.Ensure(regCtx); err != nil {
		a.logger.Warn("initial registration failed, will retry on next heartbeat", "error", err)
	}
	regCancel()

	errCh := make(chan error, 1)
	if a.cfg.BridgeEnabled() {
		ln, err := net.Listen("tcp", a.cfg.BridgeAddr)
		if err != nil {
			return fmt.Errorf("listening on bridge address: %w", err)
		}
		a.bridgeServer = &http.Server{
			Handler:           a.Bridge.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("bridge listening", "addr", ln.Addr().String())
			if err := a.bridgeServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("bridge server: %w", err)
			}
		}()
	}

	loopCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	a.every(loopCtx, &wg, "heartbeat", a.cfg.HeartbeatInterval, true, a.Heartbeat.Tick)
	a.every(loopCtx, &wg, "sync", a.cfg.SyncInterval, false, func(ctx context.Context) error {
		_, err := a.Sync.Tick(ctx)
		if errors.Is(err, ErrSyncInProgress) {
			return nil
		}
		return err
	})
	a.every(loopCtx, &wg, "rules", a.cfg.RulesInterval, true, func(ctx context.Context) error {
		err := a.Rules.Refresh(ctx)
		a.Engine.Recheck(ctx)
		return err
	})

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("context canceled, shutting down")
	case runErr = <-errCh:
		a.logger.Error("bridge failed", "error", runErr)
	}

	cancel()
	wg.Wait()
	return errors.Join(runErr, a.shutdown())
}

// every runs fn on a ticker until ctx ends. Failures are logged and wait for
// the next tick.
func (a *Agent) every(ctx context.Context, wg *sync.WaitGroup, name string, interval time.Duration, immediate bool, fn func(context.Context) error) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		run := func() {
			callCtx, cancel := context.WithTimeout(ctx, a.opTimeout())
			defer cancel()
			if err := fn(callCtx); err != nil && ctx.Err() == nil {
				a.logger.Warn("task failed", "task", name, "error", err)
			}
		}
		if immediate {
			run()
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}

// opTimeout bounds one scheduled operation, which may make a registration
// call plus its own request; a flush may send several batches.
func (a *Agent) opTimeout() time.Duration {
	return 3 * a.cfg.RequestTimeout
}

func (a *Agent) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*a.cfg.RequestTimeout)
	defer cancel()

	var errs []error
	if a.bridgeServer != nil {
		if err := a.bridgeServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("bridge shutdown: %w", err))
		}
	}
	if n, err := a.Sync.Flush(ctx); err != nil {
		a.logger.Warn("final flush incomplete, entries stay buffered", "sent", n, "error", err)
	}
	return errors.Join(errs...)
}

// Status is a snapshot for the status command.
type Status struct {
	ServerURL string
	Identity  Identity
	Pending   int
}

// Status reads identity and buffer size from state without network calls.
func (a *Agent) Status(ctx context.Context) (Status, error) {
	id, err := a.state.Identity(ctx)
	if err != nil {
		return Status{}, err
	}
	pending, err := a.state.Len(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{ServerURL: a.api.BaseURL(), Identity: id, Pending: pending}, nil
}
