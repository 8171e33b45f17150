package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"spectra/config"
	"spectra/types"
)

var commandContext = exec.CommandContext

// SupervisorState is the lifecycle of the supervised worker process.
type SupervisorState string

const (
	StateStopped  SupervisorState = "stopped"
	StateStarting SupervisorState = "starting"
	StateHealthy  SupervisorState = "healthy"
	StateCrashed  SupervisorState = "crashed"
)

// PortKiller terminates any process listening on port and returns the PIDs
// it signalled.
type PortKiller func(port int, logger *zap.Logger) ([]int, error)

// HealthProber asks the worker for its self-reported state.
type HealthProber interface {
	Health(ctx context.Context) (string, error)
}

// SupervisorOption customises a Supervisor.
type SupervisorOption func(*Supervisor)

// WithPortKiller replaces the stale-listener cleanup.
func WithPortKiller(k PortKiller) SupervisorOption {
	return func(s *Supervisor) { s.killPort = k }
}

// WithHealthProber replaces the HTTP health probe.
func WithHealthProber(p HealthProber) SupervisorOption {
	return func(s *Supervisor) { s.prober = p }
}

// WithEnv appends variables to the worker's environment.
func WithEnv(env ...string) SupervisorOption {
	return func(s *Supervisor) { s.env = append(s.env, env...) }
}

// Supervisor launches the worker, waits for it to report ready and
// relaunches it whenever it exits.
type Supervisor struct {
	cfg      config.Worker
	baseURL  string
	logger   *zap.Logger
	killPort PortKiller
	prober   HealthProber
	env      []string

	ready atomic.Bool

	mu        sync.Mutex
	state     SupervisorState
	pid       int
	restarts  int
	lastError string
	listeners []func(types.WorkerStatus)
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewSupervisor creates a supervisor for the worker described by cfg.
func NewSupervisor(cfg config.Worker, logger *zap.Logger, opts ...SupervisorOption) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Supervisor{
		cfg:      cfg,
		baseURL:  fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port),
		logger:   logger.Named("supervisor"),
		killPort: killPortListeners,
		state:    StateStopped,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.prober == nil {
		s.prober = NewWorkerClient(s.baseURL, nil, 0, 0, logger)
	}
	return s
}

// Ready reports whether the worker has answered a health probe with ready
// since it was last launched.
func (s *Supervisor) Ready() bool { return s.ready.Load() }

// State returns the current lifecycle state.
func (s *Supervisor) State() SupervisorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a snapshot for status endpoints.
func (s *Supervisor) Status() types.WorkerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Supervisor) statusLocked() types.WorkerStatus {
	return types.WorkerStatus{
		State:     string(s.state),
		Ready:     s.ready.Load(),
		PID:       s.pid,
		Restarts:  s.restarts,
		LastError: s.lastError,
	}
}

// OnStateChange registers fn to be called after every state transition.
func (s *Supervisor) OnStateChange(fn func(types.WorkerStatus)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Start launches the supervision loop. It returns immediately; the worker
// becomes ready asynchronously.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return errors.New("supervisor already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.run(runCtx)
	return nil
}

// Stop interrupts the worker and waits for the loop to exit.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Supervisor) run(ctx context.Context) {
	defer func() {
		s.ready.Store(false)
		s.setState(StateStopped, 0, "")
		close(s.done)
	}()

	for ctx.Err() == nil {
		if s.cfg.KillStale && s.killPort != nil {
			if pids, err := s.killPort(s.cfg.Port, s.logger); err != nil {
				s.logger.Warn("could not clear stale worker", zap.Int("port", s.cfg.Port), zap.Error(err))
			} else if len(pids) > 0 {
				s.logger.Info("killed stale worker", zap.Int("port", s.cfg.Port), zap.Ints("pids", pids))
			}
		}

		exitErr := s.launch(ctx)
		s.ready.Store(false)
		if ctx.Err() != nil {
			return
		}

		msg := "worker exited"
		if exitErr != nil {
			msg = exitErr.Error()
		}
		s.mu.Lock()
		s.restarts++
		restarts := s.restarts
		s.mu.Unlock()
		s.setState(StateCrashed, 0, msg)
		s.logger.Warn("worker crashed, restarting",
			zap.String("error", msg),
			zap.Int("restarts", restarts),
			zap.Duration("delay", s.cfg.RestartDelay()))
		// The back-off is part of starting.
		s.setState(StateStarting, 0, "")

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.RestartDelay()):
		}
	}
}

// launch runs one worker process until it exits or ctx ends.
func (s *Supervisor) launch(ctx context.Context) error {
	cmd := commandContext(ctx, s.cfg.Command, s.cfg.Args...)
	cmd.Dir = s.cfg.Dir
	cmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1")
	cmd.Env = append(cmd.Env, fmt.Sprintf("SPECTRA_WORKER_PORT=%d", s.cfg.Port))
	cmd.Env = append(cmd.Env, s.env...)
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = s.cfg.StopTimeout()

	workerLog := s.logger.Named("worker")
	stdout := &lineWriter{logger: workerLog, level: zapcore.InfoLevel}
	stderr := &lineWriter{logger: workerLog, level: zapcore.WarnLevel}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	s.setState(StateStarting, 0, "")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	pid := cmd.Process.Pid
	s.setState(StateStarting, pid, "")
	s.logger.Info("worker launched",
		zap.String("command", s.cfg.Command),
		zap.Strings("args", s.cfg.Args),
		zap.Int("pid", pid))

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	err := s.watch(ctx, pid, exited)
	stdout.Flush()
	stderr.Flush()
	return err
}

// slowProbeFactor stretches the health interval once the attempt bound is
// exceeded.
const slowProbeFactor = 10

// watch polls health until the worker is ready, then waits for it to exit.
// Past the attempt bound it keeps probing at a slower rate so a worker that
// finishes loading late still becomes healthy.
func (s *Supervisor) watch(ctx context.Context, pid int, exited <-chan error) error {
	ticker := time.NewTicker(s.cfg.HealthInterval())
	defer ticker.Stop()

	attempts := 0
	for {
		select {
		case err := <-exited:
			return err
		case <-ctx.Done():
			return <-exited
		case <-ticker.C:
			if s.ready.Load() {
				continue
			}
			attempts++
			status, err := s.prober.Health(ctx)
			if err == nil && status == WorkerHealthReady {
				s.ready.Store(true)
				s.setState(StateHealthy, pid, "")
				s.logger.Info("worker ready", zap.Int("pid", pid), zap.Int("attempts", attempts))
				continue
			}
			if err == nil && status == WorkerHealthError {
				s.logger.Error("worker reported a model load error", zap.Int("pid", pid))
			}
			if attempts == s.cfg.HealthAttempts {
				// Fatal for the worker only; the host keeps serving.
				reason := fmt.Sprintf("worker not healthy after %d attempts", attempts)
				s.setState(StateStarting, pid, reason)
				s.logger.Error("fatal: worker failed to become healthy",
					zap.Int("pid", pid),
					zap.Int("attempts", attempts),
					zap.String("last_status", status),
					zap.Error(err))
				ticker.Reset(s.cfg.HealthInterval() * slowProbeFactor)
			}
		}
	}
}

func (s *Supervisor) setState(state SupervisorState, pid int, lastError string) {
	s.mu.Lock()
	s.state = state
	s.pid = pid
	if lastError != "" {
		s.lastError = lastError
	}
	status := s.statusLocked()
	listeners := append([]func(types.WorkerStatus){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(status)
	}
}

// lineWriter forwards process output to the logger one line at a time.
type lineWriter struct {
	logger *zap.Logger
	level  zapcore.Level

	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Incomplete line; keep it for the next write.
			w.buf.Reset()
			w.buf.WriteString(line)
			break
		}
		w.emit(line)
	}
	return len(p), nil
}

// Flush logs any buffered partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
}

func (w *lineWriter) emit(line string) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return
	}
	if ce := w.logger.Check(w.level, line); ce != nil {
		ce.Write()
	}
}
