//go:build unix

/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package supervisor runs a fixed set of worker processes that report their
// liveness through shared counter pages.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/srediag/counterpage/internal/logger"
	"github.com/srediag/counterpage/pkg/state"
)

// Environment handed to worker processes.
const (
	EnvWorkerNr = "COUNTERPAGE_WORKER_NR"
	EnvPages    = "COUNTERPAGE_PAGES"
	EnvPageSize = "COUNTERPAGE_PAGE_SIZE"
	EnvSlotSize = "COUNTERPAGE_SLOT_SIZE"
)

// CommandFunc builds the command of worker nr. The supervisor adds the shared
// pages and the worker environment before starting it.
type CommandFunc func(nr int) *exec.Cmd

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Supervisor) { s.log = l }
}

// WithTracer sets the tracer spawns are recorded with.
func WithTracer(t trace.Tracer) Option {
	return func(s *Supervisor) { s.tracer = t }
}

// Supervisor keeps cfg.Workers worker processes running, replaces those that
// exit or miss their deadline, and drains them on shutdown.
type Supervisor struct {
	cfg     *Config
	mem     *state.Memory
	command CommandFunc
	log     *logger.Logger
	tracer  trace.Tracer
	pool    *ants.Pool
	events  *eventQueue

	mu       sync.Mutex
	children map[int]*exec.Cmd
}

// New returns a supervisor over mem, which must be preallocated for
// cfg.Workers workers.
func New(cfg *Config, mem *state.Memory, command CommandFunc, opts ...Option) (*Supervisor, error) {
	if err := VerifyConfig(cfg); err != nil {
		return nil, err
	}
	if state.PagesFor(mem.Config(), cfg.Workers) > mem.Pages() {
		return nil, fmt.Errorf("%w: %d workers need %d pages, have %d",
			state.ErrNotAllocated, cfg.Workers, state.PagesFor(mem.Config(), cfg.Workers), mem.Pages())
	}
	// one waiter per worker, plus slack for a replacement submitted before
	// the previous waiter returned to the pool
	pool, err := ants.NewPool(cfg.Workers + 1)
	if err != nil {
		return nil, fmt.Errorf("supervisor: waiter pool: %w", err)
	}
	s := &Supervisor{
		cfg:      cfg,
		mem:      mem,
		command:  command,
		log:      logger.New("supervisor", os.Stderr),
		tracer:   noop.NewTracerProvider().Tracer(""),
		pool:     pool,
		events:   newEventQueue(uint64(max(2*cfg.Workers, 16))),
		children: make(map[int]*exec.Cmd, cfg.Workers),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Spawn starts worker nr with the shared pages as fds 3 and up.
func (s *Supervisor) Spawn(ctx context.Context, nr int) (err error) {
	_, span := s.tracer.Start(ctx, "supervisor.spawn", trace.WithAttributes(attribute.Int("worker.nr", nr)))
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	ws, err := s.mem.WorkerState(nr)
	if err != nil {
		return err
	}
	// the child is not running yet, so the supervisor may write its slot
	if err := ws.SetReady(false); err != nil {
		return err
	}
	if err := ws.SetDeadline(state.Now() + s.cfg.timeoutSeconds()); err != nil {
		return err
	}

	files, err := s.mem.Files()
	if err != nil {
		return err
	}
	defer closeFiles(files)

	platform := s.mem.Config()
	cmd := s.command(nr)
	cmd.ExtraFiles = files
	cmd.Env = append(cmd.Environ(),
		EnvWorkerNr+"="+strconv.Itoa(nr),
		EnvPages+"="+strconv.Itoa(len(files)),
		EnvPageSize+"="+strconv.Itoa(platform.PageSize()),
		EnvSlotSize+"="+strconv.Itoa(platform.SlotSize()),
	)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("supervisor: starting worker %d: %w", nr, err)
	}
	pid := cmd.Process.Pid
	span.SetAttributes(attribute.Int("worker.pid", pid))

	s.mu.Lock()
	s.children[nr] = cmd
	s.mu.Unlock()

	if err := s.pool.Submit(func() {
		werr := cmd.Wait()
		if perr := s.events.put(exitEvent{nr: nr, pid: pid, err: werr}); perr != nil {
			s.log.Warnf("dropping exit of worker %d pid %d: %v", nr, pid, perr)
		}
	}); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		s.forget(nr, pid)
		return fmt.Errorf("supervisor: waiting on worker %d: %w", nr, err)
	}
	s.log.Infof("spawned worker %d pid %d", nr, pid)
	return nil
}

// Run spawns every worker and supervises them until ctx is done, then flags
// the shutdown and waits up to cfg.Timeout for workers to exit before
// killing them. Worker slots left empty by a failed spawn are retried every
// tick.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.pool.Release()
	defer s.events.dispose()

	for nr := 0; nr < s.cfg.Workers; nr++ {
		if err := s.Spawn(ctx, nr); err != nil {
			s.killAll()
			return err
		}
	}

	var drainBy time.Time
	for {
		if drainBy.IsZero() && ctx.Err() != nil {
			s.log.Infof("shutting down, draining %d workers", s.Running())
			if err := s.mem.ShutDown(); err != nil {
				s.killAll()
				return err
			}
			drainBy = time.Now().Add(s.cfg.Timeout)
		}
		if !drainBy.IsZero() {
			if s.Running() == 0 {
				return nil
			}
			if time.Now().After(drainBy) {
				s.log.Warnf("drain timeout, killing %d workers", s.Running())
				s.killAll()
			}
		}

		ev, err := s.events.poll(s.cfg.TickInterval)
		if errors.Is(err, errQueueTimeout) {
			if drainBy.IsZero() {
				s.killTimedOut()
				s.spawnMissing(ctx)
			}
			continue
		}
		if err != nil {
			s.killAll()
			return err
		}

		s.forget(ev.nr, ev.pid)
		if !drainBy.IsZero() {
			s.log.Debugf("worker %d pid %d exited: %v", ev.nr, ev.pid, ev.err)
			continue
		}
		s.log.Warnf("worker %d pid %d exited unexpectedly: %v", ev.nr, ev.pid, ev.err)
		s.spawnMissing(ctx)
	}
}

// spawnMissing starts every worker slot that has no process.
func (s *Supervisor) spawnMissing(ctx context.Context) {
	pids := s.Pids()
	for nr := 0; nr < s.cfg.Workers; nr++ {
		if _, ok := pids[nr]; ok {
			continue
		}
		if err := s.Spawn(ctx, nr); err != nil {
			s.log.Errorf("respawning worker %d: %v", nr, err)
		}
	}
}

func (s *Supervisor) killTimedOut() {
	now := state.Now()
	for nr, pid := range s.Pids() {
		ws, err := s.mem.WorkerState(nr)
		if err != nil {
			continue
		}
		deadline, err := ws.Deadline()
		if err != nil || deadline > now {
			continue
		}
		s.log.Warnf("worker %d pid %d missed its deadline, killing", nr, pid)
		s.kill(nr)
	}
}

func (s *Supervisor) kill(nr int) {
	s.mu.Lock()
	cmd := s.children[nr]
	s.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

func (s *Supervisor) killAll() {
	for nr := range s.Pids() {
		s.kill(nr)
	}
}

// forget drops nr if it still refers to pid; a replacement may already be
// registered.
func (s *Supervisor) forget(nr, pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cmd, ok := s.children[nr]; ok && cmd.Process.Pid == pid {
		delete(s.children, nr)
	}
}

// Running returns the number of live worker processes.
func (s *Supervisor) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.children)
}

// Pids maps worker numbers to process ids.
func (s *Supervisor) Pids() map[int]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	pids := make(map[int]int, len(s.children))
	for nr, cmd := range s.children {
		pids[nr] = cmd.Process.Pid
	}
	return pids
}

func closeFiles(files []*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
