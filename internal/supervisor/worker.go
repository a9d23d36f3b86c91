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

package supervisor

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/srediag/counterpage/internal/logger"
	"github.com/srediag/counterpage/pkg/shm"
	"github.com/srediag/counterpage/pkg/state"
)

// firstPageFd is where ExtraFiles start in the child.
const firstPageFd = 3

// WorkerNumber reports whether the process was started as a worker, and
// which one.
func WorkerNumber() (int, bool) {
	v, ok := os.LookupEnv(EnvWorkerNr)
	if !ok {
		return 0, false
	}
	nr, err := strconv.Atoi(v)
	if err != nil || nr < 0 {
		return 0, false
	}
	return nr, true
}

// AttachFromEnv maps the pages handed over by the supervisor, using the
// platform sizing the supervisor laid them out with.
func AttachFromEnv() (*state.Memory, error) {
	pages, err := envInt(EnvPages)
	if err != nil {
		return nil, err
	}
	pageSize, err := envInt(EnvPageSize)
	if err != nil {
		return nil, err
	}
	slotSize, err := envInt(EnvSlotSize)
	if err != nil {
		return nil, err
	}
	platform, err := shm.NewPlatformConfig(pageSize, slotSize)
	if err != nil {
		return nil, err
	}

	files := make([]*os.File, pages)
	for i := range files {
		files[i] = os.NewFile(uintptr(firstPageFd+i), "counterpage-"+strconv.Itoa(i))
	}
	defer closeFiles(files)
	return state.Attach(platform, files)
}

func envInt(name string) (int, error) {
	n, err := strconv.Atoi(os.Getenv(name))
	if err != nil {
		return 0, fmt.Errorf("worker environment %s: %w", name, err)
	}
	return n, nil
}

// RunWorker marks worker nr ready and refreshes its deadline every tick until
// the shutdown slot is set or ctx is done.
func RunWorker(ctx context.Context, cfg *Config, nr int, log *logger.Logger) error {
	mem, err := AttachFromEnv()
	if err != nil {
		return err
	}
	defer mem.Close()

	ws, err := mem.WorkerState(nr)
	if err != nil {
		return err
	}
	if err := ws.SetDeadline(state.Now() + cfg.timeoutSeconds()); err != nil {
		return err
	}
	if err := ws.SetReady(true); err != nil {
		return err
	}
	log.Infof("worker %d ready", nr)

	ticker := time.NewTicker(cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ws.SetReady(false)
		case <-ticker.C:
		}
		down, err := mem.ShuttingDown()
		if err != nil {
			return err
		}
		if down {
			log.Infof("worker %d draining", nr)
			return ws.SetReady(false)
		}
		if err := ws.SetDeadline(state.Now() + cfg.timeoutSeconds()); err != nil {
			return err
		}
	}
}
