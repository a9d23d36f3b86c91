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
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	defaultWorkers      = 4
	defaultTimeout      = 20 * time.Second
	defaultTickInterval = time.Second
	defaultListenAddr   = "127.0.0.1:20000"
	maxWorkers          = 1 << 16
)

// Environment variables read by Config.ApplyEnv.
const (
	EnvWorkers    = "COUNTERPAGE_WORKERS"
	EnvTimeout    = "COUNTERPAGE_TIMEOUT"
	EnvTick       = "COUNTERPAGE_TICK"
	EnvListenAddr = "COUNTERPAGE_LISTEN"
)

// Config is the supervisor configuration.
type Config struct {
	// Workers is the number of worker processes kept running.
	Workers int
	// Timeout is how long a worker may go without refreshing its deadline
	// before it is killed, and how long a shutdown waits before killing.
	Timeout time.Duration
	// TickInterval is how often workers refresh their deadline and the
	// supervisor checks them.
	TickInterval time.Duration
	// ListenAddr serves metrics, health and pprof. Empty disables it.
	ListenAddr string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Workers:      defaultWorkers,
		Timeout:      defaultTimeout,
		TickInterval: defaultTickInterval,
		ListenAddr:   defaultListenAddr,
	}
}

// VerifyConfig checks c for values the supervisor cannot run with.
func VerifyConfig(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Workers < 1 || c.Workers > maxWorkers {
		return fmt.Errorf("workers must be in [1, %d], got %d", maxWorkers, c.Workers)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive, got %s", c.TickInterval)
	}
	if c.Timeout < time.Second {
		return fmt.Errorf("timeout must be at least 1s, got %s", c.Timeout)
	}
	if c.Timeout <= c.TickInterval {
		return fmt.Errorf("timeout %s must exceed tick interval %s", c.Timeout, c.TickInterval)
	}
	return nil
}

// ApplyEnv overrides fields from COUNTERPAGE_* environment variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvWorkers); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvWorkers, err)
		}
		c.Workers = n
	}
	if v := os.Getenv(EnvTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTimeout, err)
		}
		c.Timeout = d
	}
	if v := os.Getenv(EnvTick); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTick, err)
		}
		c.TickInterval = d
	}
	if v, ok := os.LookupEnv(EnvListenAddr); ok {
		c.ListenAddr = v
	}
	return nil
}

func (c *Config) timeoutSeconds() uint64 {
	return uint64(c.Timeout / time.Second)
}
