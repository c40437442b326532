package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/competency-import/internal/competency"
	"github.com/JonMunkholm/competency-import/internal/config"
	"github.com/JonMunkholm/competency-import/internal/logging"
)

// ErrRunNotFound is returned for unknown or evicted run ids.
var ErrRunNotFound = errors.New("import run not found")

// ErrRunCancelled is reported for runs stopped by Cancel.
var ErrRunCancelled = errors.New("import cancelled")

// ErrRunInProgress is returned when a finished result is required but the
// run is still processing.
var ErrRunInProgress = errors.New("import still processing")

// ErrImportsActive is returned for operations that need every run to be idle.
var ErrImportsActive = errors.New("imports in progress")

// Service defaults.
const (
	DefaultRunTimeout = 30 * time.Minute
	DefaultRetention  = 15 * time.Minute
)

// publishTimeout bounds a single progress publish.
const publishTimeout = 2 * time.Second

// ProgressPublisher mirrors progress outside the process.
type ProgressPublisher interface {
	Publish(ctx context.Context, p Progress) error
}

// ServiceOptions configures a Service.
type ServiceOptions struct {
	RunTimeout time.Duration
	// Retention is how long a finished run stays queryable.
	Retention time.Duration
	Limiter   *ImportLimiter
	// Publisher is optional.
	Publisher ProgressPublisher
}

// Service runs imports in the background and tracks them by id.
type Service struct {
	importer   *Importer
	limiter    *ImportLimiter
	publisher  ProgressPublisher
	runTimeout time.Duration
	retention  time.Duration

	mu   sync.RWMutex
	runs map[string]*activeRun
}

type activeRun struct {
	ID       string
	FileName string
	Cancel   context.CancelFunc
	Done     chan struct{}

	mu        sync.Mutex
	progress  Progress
	result    *ImportResult
	listeners []chan Progress
}

// ServiceOptionsFromConfig maps the import section of the configuration.
// Publisher is left for the caller.
func ServiceOptionsFromConfig(c config.ImportConfig) ServiceOptions {
	return ServiceOptions{
		RunTimeout: c.RunTimeout,
		Retention:  c.Retention,
		Limiter:    NewImportLimiter(c.MaxConcurrent, c.MaxWaitTime),
	}
}

// NewService creates a Service around importer.
func NewService(importer *Importer, opts ServiceOptions) *Service {
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = DefaultRunTimeout
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Limiter == nil {
		opts.Limiter = NewImportLimiter(0, 0)
	}
	return &Service{
		importer:   importer,
		limiter:    opts.Limiter,
		publisher:  opts.Publisher,
		runTimeout: opts.RunTimeout,
		retention:  opts.Retention,
		runs:       make(map[string]*activeRun),
	}
}

// Preview decodes and extracts in without writing anything.
func (s *Service) Preview(ctx context.Context, in Input) (*Preview, error) {
	return s.importer.Preview(ctx, in)
}

// Catalog lists the competency definitions.
func (s *Service) Catalog(ctx context.Context) ([]competency.Definition, error) {
	return s.importer.Catalog(ctx)
}

// StartImport waits for a free slot and starts processing in the background.
// It returns the run id immediately; use Subscribe or Result to follow it.
func (s *Service) StartImport(ctx context.Context, in Input) (string, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return "", err
	}

	id := uuid.NewString()
	// The run outlives the request but keeps its values for logging.
	runCtx, cancel := context.WithTimeout(logging.WithRun(context.WithoutCancel(ctx), id), s.runTimeout)

	run := &activeRun{
		ID:       id,
		FileName: in.FileName,
		Cancel:   cancel,
		Done:     make(chan struct{}),
		progress: Progress{RunID: id, FileName: in.FileName, Phase: PhaseUpload, Status: "Queued"},
	}

	s.mu.Lock()
	s.runs[id] = run
	s.mu.Unlock()

	go s.process(runCtx, run, in)
	return id, nil
}

func (s *Service) process(ctx context.Context, run *activeRun, in Input) {
	defer s.limiter.Release()
	defer run.Cancel()

	res, err := s.importer.Run(ctx, run.ID, in, func(p Progress) {
		run.update(p)
		s.publish(ctx, p)
	})
	if err != nil {
		logging.FromContext(ctx).Debug("run ended before processing records", "code", MapError(err).Code)
	}

	run.finish(res)
	s.cleanup(run.ID, s.retention)
}

func (s *Service) publish(ctx context.Context, p Progress) {
	if s.publisher == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(pctx, p); err != nil {
		logging.FromContext(ctx).Debug("publish progress failed", "error", err)
	}
}

func (s *Service) get(id string) (*activeRun, error) {
	s.mu.RLock()
	run, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, nil
}

// Subscribe returns a channel of progress updates for a run. The current
// snapshot is sent first; the channel is closed when the run completes.
func (s *Service) Subscribe(id string) (<-chan Progress, error) {
	run, err := s.get(id)
	if err != nil {
		return nil, err
	}

	ch := make(chan Progress, 16)
	run.mu.Lock()
	defer run.mu.Unlock()

	ch <- run.progress
	if run.result != nil {
		close(ch)
		return ch, nil
	}
	run.listeners = append(run.listeners, ch)
	return ch, nil
}

// Cancel stops a run between records. The run still completes with the
// records processed so far.
func (s *Service) Cancel(id string) error {
	run, err := s.get(id)
	if err != nil {
		return err
	}
	run.Cancel()
	return nil
}

// Progress returns the latest snapshot without blocking.
func (s *Service) Progress(id string) (Progress, error) {
	run, err := s.get(id)
	if err != nil {
		return Progress{}, err
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.progress, nil
}

// Result blocks until the run completes or ctx is done.
func (s *Service) Result(ctx context.Context, id string) (ImportResult, error) {
	run, err := s.get(id)
	if err != nil {
		return ImportResult{}, err
	}
	select {
	case <-run.Done:
	case <-ctx.Done():
		return ImportResult{}, ctx.Err()
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.result.Clone(), nil
}

// Finished returns the result of a completed run. ok is false while the run
// is still processing.
func (s *Service) Finished(id string) (res ImportResult, ok bool, err error) {
	run, err := s.get(id)
	if err != nil {
		return ImportResult{}, false, err
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	if run.result == nil {
		return ImportResult{}, false, nil
	}
	return run.result.Clone(), true, nil
}

// LimiterStatus reports slot usage.
func (s *Service) LimiterStatus() LimiterStatus {
	return s.limiter.Status()
}

// Shutdown cancels every run and waits for them to release their slots.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	for _, run := range s.runs {
		run.Cancel()
	}
	s.mu.RUnlock()
	return s.limiter.WaitForDrain(ctx)
}

// update stores p and sends it to listeners. Slow listeners miss updates.
func (run *activeRun) update(p Progress) {
	run.mu.Lock()
	defer run.mu.Unlock()

	run.progress = p
	for _, ch := range run.listeners {
		select {
		case ch <- p:
		default:
		}
	}
}

// finish records the result and closes listeners.
func (run *activeRun) finish(res ImportResult) {
	run.mu.Lock()
	res = res.Clone()
	run.result = &res
	for _, ch := range run.listeners {
		close(ch)
	}
	run.listeners = nil
	run.mu.Unlock()

	close(run.Done)
}

// cleanup removes the run from tracking after a delay.
func (s *Service) cleanup(id string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.runs, id)
		s.mu.Unlock()
	})
}
