//go:build unix

// Command counterpage runs a supervisor that keeps a set of worker processes
// alive, tracking their readiness and deadlines in shared counter pages.
//
// The same binary is re-executed for every worker; workers find their number
// and the shared pages in their environment.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel"

	"github.com/srediag/counterpage/adapter"
	"github.com/srediag/counterpage/internal/logger"
	"github.com/srediag/counterpage/internal/supervisor"
	"github.com/srediag/counterpage/pkg/meminfo"
	"github.com/srediag/counterpage/pkg/shm"
	"github.com/srediag/counterpage/pkg/state"
	"github.com/srediag/counterpage/pkg/subreaper"
)

const name = "counterpage"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
		os.Exit(1)
	}
}

func run() error {
	cfg := supervisor.DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}

	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flags.IntVarP(&cfg.Workers, "workers", "w", cfg.Workers, "number of worker processes")
	flags.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "worker deadline and shutdown drain timeout")
	flags.DurationVar(&cfg.TickInterval, "tick", cfg.TickInterval, "deadline refresh and check interval")
	flags.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "metrics, health and pprof address, empty to disable")
	logLevel := flags.Int("log-level", logger.Level(), "log level, 0 (trace) to 5 (silent)")
	dump := flags.Bool("dump", false, "print the shared counters on exit, always on in debug mode")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	logger.SetLevel(*logLevel)
	if err := supervisor.VerifyConfig(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if nr, ok := supervisor.WorkerNumber(); ok {
		return supervisor.RunWorker(ctx, cfg, nr, logger.New(fmt.Sprintf("worker.%d", nr), os.Stderr))
	}
	return supervise(ctx, cfg, *dump || logger.DebugMode())
}

func supervise(ctx context.Context, cfg *supervisor.Config, dump bool) error {
	log := logger.New(name, os.Stderr)

	platform, err := shm.Platform()
	if err != nil {
		return err
	}
	log.Infof("page size %d, slot size %d, %d slots per page",
		platform.PageSize(), platform.SlotSize(), platform.Slots())

	if ok, err := subreaper.Enable(); err != nil {
		log.Warnf("enabling child subreaper: %v", err)
	} else if !ok {
		log.Infof("child subreaper not available")
	}

	mem, err := state.New(platform)
	if err != nil {
		return err
	}
	defer mem.Close()
	if err := mem.Preallocate(cfg.Workers); err != nil {
		return err
	}

	if _, err := adapter.RegisterOTel(otel.GetMeterProvider().Meter(name), mem, cfg.Workers, state.Now); err != nil {
		return err
	}

	exe, err := os.Executable()
	if err != nil {
		return err
	}
	sup, err := supervisor.New(cfg, mem, func(int) *exec.Cmd {
		cmd := exec.Command(exe, os.Args[1:]...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		return cmd
	}, supervisor.WithLogger(log), supervisor.WithTracer(otel.Tracer(name)))
	if err != nil {
		return err
	}

	if cfg.ListenAddr != "" {
		srv := &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           newMux(mem, cfg.Workers, log),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("http server: %v", err)
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
		log.Infof("listening on %s", cfg.ListenAddr)
	}

	if err := sup.Run(ctx); err != nil {
		return err
	}
	if dump {
		return mem.Dump(os.Stdout)
	}
	return nil
}

func newMux(mem *state.Memory, workers int, log *logger.Logger) *http.ServeMux {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		adapter.NewCollector(mem, workers, state.Now),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	health := adapter.NewHealthHandler(mem, workers, state.Now)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/live", health.LiveEndpoint)
	mux.HandleFunc("/ready", health.ReadyEndpoint)
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.HandleFunc("/debug/state", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err := mem.Dump(w); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	mux.HandleFunc("/debug/meminfo", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err := writeMemInfo(w, int32(os.Getpid())); err != nil {
			log.Warnf("meminfo: %v", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return mux
}

func writeMemInfo(w http.ResponseWriter, pid int32) error {
	parent, err := meminfo.Read(pid)
	if err != nil {
		return err
	}
	children, err := meminfo.Children(pid)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "pid:%d rss:%d pss:%d shared:%d\n", parent.PID, parent.RSS, parent.PSS, parent.Shared)
	for _, c := range children {
		fmt.Fprintf(w, "pid:%d rss:%d pss:%d shared:%d cow:%.2f\n",
			c.PID, c.RSS, c.PSS, c.Shared, c.CoWEfficiency(parent))
	}
	return nil
}
