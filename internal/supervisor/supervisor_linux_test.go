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

package supervisor

import (
	"context"
	"os"
	"os/exec"
	"os/signal"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/srediag/counterpage/internal/logger"
	"github.com/srediag/counterpage/pkg/shm"
	"github.com/srediag/counterpage/pkg/state"
)

const helperEnv = "COUNTERPAGE_TEST_WORKER"

// TestHelperWorker is the worker process started by the tests below.
func TestHelperWorker(t *testing.T) {
	mode := os.Getenv(helperEnv)
	if mode == "" {
		t.Skip("helper process")
	}
	nr, ok := WorkerNumber()
	if !ok {
		os.Exit(2)
	}
	if mode == "stall" {
		time.Sleep(time.Minute)
		os.Exit(0)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()
	cfg := testConfig()
	if err := RunWorker(ctx, cfg, nr, logger.New("worker", os.Stderr)); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}

func testConfig() *Config {
	return &Config{Workers: 2, Timeout: 2 * time.Second, TickInterval: 50 * time.Millisecond}
}

func helperCommand(mode string) CommandFunc {
	return func(int) *exec.Cmd {
		cmd := exec.Command(os.Args[0], "-test.run=^TestHelperWorker$")
		cmd.Env = append(os.Environ(), helperEnv+"="+mode)
		cmd.Stderr = os.Stderr
		return cmd
	}
}

type SupervisorTestSuite struct {
	suite.Suite
	mem *state.Memory
}

func (s *SupervisorTestSuite) SetupTest() {
	cfg, err := shm.NewPlatformConfig(4096, 64)
	s.Require().NoError(err)
	s.mem, err = state.New(cfg)
	s.Require().NoError(err)
	s.Require().NoError(s.mem.Preallocate(2))
}

func (s *SupervisorTestSuite) TearDownTest() {
	_ = s.mem.Close()
}

func (s *SupervisorTestSuite) start(cfg *Config, mode string) (*Supervisor, context.CancelFunc, <-chan error) {
	sup, err := New(cfg, s.mem, helperCommand(mode))
	s.Require().NoError(err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()
	return sup, cancel, done
}

func (s *SupervisorTestSuite) TestNewRequiresPages() {
	cfg := testConfig()
	cfg.Workers = 1000
	_, err := New(cfg, s.mem, helperCommand("run"))
	s.ErrorIs(err, state.ErrNotAllocated)

	cfg.Workers = 0
	_, err = New(cfg, s.mem, helperCommand("run"))
	s.Error(err)
}

func (s *SupervisorTestSuite) TestRunRespawnsAndDrains() {
	sup, cancel, done := s.start(testConfig(), "run")
	defer cancel()

	s.Eventually(func() bool {
		ready, err := s.mem.ReadyWorkers(2)
		return err == nil && ready == 2
	}, 10*time.Second, 20*time.Millisecond)

	live, err := s.mem.LiveWorkers(2, state.Now())
	s.Require().NoError(err)
	s.Equal(2, live)

	old := sup.Pids()[0]
	s.Require().NotZero(old)
	s.Require().NoError(syscall.Kill(old, syscall.SIGKILL))

	s.Eventually(func() bool {
		pid, ok := sup.Pids()[0]
		return ok && pid != old
	}, 10*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(10 * time.Second):
		s.FailNow("supervisor did not drain")
	}
	s.Zero(sup.Running())

	down, err := s.mem.ShuttingDown()
	s.Require().NoError(err)
	s.True(down)
	ready, err := s.mem.ReadyWorkers(2)
	s.Require().NoError(err)
	s.Zero(ready)
}

func (s *SupervisorTestSuite) TestKillsWorkerPastDeadline() {
	cfg := testConfig()
	cfg.Workers = 1
	cfg.Timeout = time.Second
	sup, cancel, done := s.start(cfg, "stall")

	var first int
	s.Eventually(func() bool {
		first = sup.Pids()[0]
		return first != 0
	}, 5*time.Second, 20*time.Millisecond)
	s.Eventually(func() bool {
		pid, ok := sup.Pids()[0]
		return ok && pid != first
	}, 10*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(10 * time.Second):
		s.FailNow("supervisor did not kill stalled worker")
	}
}

func (s *SupervisorTestSuite) TestRetriesFailedRespawn() {
	cfg := testConfig()
	cfg.Workers = 1
	var calls atomic.Int32
	run := helperCommand("run")
	sup, err := New(cfg, s.mem, func(nr int) *exec.Cmd {
		if calls.Add(1) == 2 {
			return exec.Command("/nonexistent/counterpage-worker")
		}
		return run(nr)
	})
	s.Require().NoError(err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	var first int
	s.Eventually(func() bool {
		first = sup.Pids()[0]
		return first != 0
	}, 5*time.Second, 20*time.Millisecond)
	s.Require().NoError(syscall.Kill(first, syscall.SIGKILL))

	s.Eventually(func() bool {
		pid, ok := sup.Pids()[0]
		return ok && pid != first
	}, 10*time.Second, 20*time.Millisecond)
	s.GreaterOrEqual(calls.Load(), int32(3))

	select {
	case err := <-done:
		s.FailNow("supervisor returned before cancellation", "err: %v", err)
	default:
	}

	cancel()
	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(10 * time.Second):
		s.FailNow("supervisor did not drain")
	}
}

func TestSupervisorTestSuite(t *testing.T) {
	if os.Getenv(helperEnv) != "" {
		t.Skip("helper process")
	}
	suite.Run(t, new(SupervisorTestSuite))
}

func TestWorkerNumber(t *testing.T) {
	t.Setenv(EnvWorkerNr, "3")
	nr, ok := WorkerNumber()
	assert.True(t, ok)
	assert.Equal(t, 3, nr)

	t.Setenv(EnvWorkerNr, "-1")
	_, ok = WorkerNumber()
	assert.False(t, ok)
}

func TestAttachFromEnvRejectsMissingSizing(t *testing.T) {
	t.Setenv(EnvPages, "1")
	t.Setenv(EnvPageSize, "")
	_, err := AttachFromEnv()
	require.Error(t, err)
}
