package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "newsward/pkg/logx"
)

// Service drives the pipeline on a schedule. Schedule accepts either a
// plain Go duration ("10m") or a 5-field cron spec ("*/10 * * * *").
type Service struct {
	p        *Pipeline
	schedule string
	log      logx.Logger

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	cron    *cron.Cron
	cancel  context.CancelFunc
}

func NewService(p *Pipeline, schedule string, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{p: p, schedule: schedule, log: log}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.stopCh = make(chan struct{})

	if every, err := time.ParseDuration(s.schedule); err == nil {
		if every < time.Minute {
			cancel()
			return fmt.Errorf("schedule %q is below the 1m floor", s.schedule)
		}
		s.wg.Add(1)
		go s.tickLoop(runCtx, every)
	} else {
		c := cron.New()
		if _, err := c.AddFunc(s.schedule, func() { s.runOnce(runCtx) }); err != nil {
			cancel()
			return fmt.Errorf("schedule %q: %w", s.schedule, err)
		}
		s.cron = c
		c.Start()
	}

	s.started = true
	s.log.Info("pipeline scheduled", logx.String("schedule", s.schedule))
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	close(s.stopCh)
	if s.cancel != nil {
		s.cancel()
	}
	var cronDone <-chan struct{}
	if s.cron != nil {
		cronDone = s.cron.Stop().Done()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		if cronDone != nil {
			<-cronDone
		}
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// RunNow triggers a cycle outside the schedule (operator command).
func (s *Service) RunNow(ctx context.Context) (int, error) {
	return s.p.CollectAndPublish(ctx)
}

func (s *Service) tickLoop(ctx context.Context, every time.Duration) {
	defer s.wg.Done()

	// First cycle shortly after startup instead of a full interval
	// away.
	warmup := time.NewTimer(5 * time.Second)
	defer warmup.Stop()
	select {
	case <-ctx.Done():
		return
	case <-s.stopCh:
		return
	case <-warmup.C:
		s.runOnce(ctx)
	}

	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-t.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Service) runOnce(ctx context.Context) {
	if _, err := s.p.CollectAndPublish(ctx); err != nil {
		s.log.Error("cycle failed", logx.Err(err))
	}
}
