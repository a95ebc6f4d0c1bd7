package sync

import (
	"context"
	"errors"
	stdsync "sync"
	"time"

	"github.com/matheus3301/ims/internal/model"
	"github.com/matheus3301/ims/internal/status"
	"go.uber.org/zap"
)

// DefaultPollInterval is used when PollerConfig.Interval is not positive.
const DefaultPollInterval = time.Second

// PollerConfig tunes the background poller.
type PollerConfig struct {
	Interval time.Duration
	// FetchNewChats completes placeholder chats in the cycle that
	// registered them.
	FetchNewChats bool
}

// Poller periodically pulls the notification diff and applies it. It is the
// only background executor touching the mirror.
type Poller struct {
	engine  *Engine
	machine *status.Machine
	cfg     PollerConfig
	logger  *zap.Logger

	mu      stdsync.Mutex
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewPoller creates a poller for engine. machine may be nil.
func NewPoller(engine *Engine, machine *status.Machine, cfg PollerConfig, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	return &Poller{
		engine:  engine,
		machine: machine,
		cfg:     cfg,
		logger:  logger,
	}
}

// Start begins polling. Calling Start on a running or stopped poller does nothing.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped || p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.loop(ctx, p.done)
}

// Stop sets the stop flag, wakes a sleeping loop and blocks until the loop
// has exited. A cycle already in flight runs to completion first.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.stopped = true
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *Poller) stopping() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// loop sleeps on ctx and the ticker. Cycles run on a context Stop does not
// cancel, so a poll is never cut off mid-call.
func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	cycleCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ticker.C:
			if p.stopping() {
				return
			}
			p.cycle(cycleCtx)
		case <-ctx.Done():
			return
		}
	}
}

// cycle runs one poll. It does nothing while no user is logged in.
func (p *Poller) cycle(ctx context.Context) {
	if _, ok := p.engine.User(); !ok {
		return
	}
	diff, err := p.engine.Poll(ctx)
	if err != nil {
		if errors.Is(err, ErrNotLoggedIn) || errors.Is(err, ErrSessionChanged) {
			return
		}
		p.logger.Warn("poll failed", zap.Error(err))
		if errors.Is(err, model.ErrTransport) && p.machine != nil {
			p.machine.TransitionFrom(status.Ready, status.Degraded)
		}
		return
	}
	if p.machine != nil && p.machine.TransitionFrom(status.Degraded, status.Ready) {
		p.logger.Info("server reachable again")
	}
	if !p.cfg.FetchNewChats {
		return
	}
	// Placeholders left over from a failed attempt are retried too.
	if len(diff.NewChats) > 0 || len(p.engine.Chats().Placeholders()) > 0 {
		if err := p.engine.RefreshNewChats(ctx); err != nil {
			p.logger.Warn("completing new chats failed", zap.Error(err))
		}
	}
}
