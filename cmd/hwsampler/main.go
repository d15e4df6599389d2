package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"hwsampler/internal/codec"
	"hwsampler/internal/collector/gpu"
	"hwsampler/internal/collector/host"
	"hwsampler/internal/config"
	"hwsampler/internal/logger"
	"hwsampler/internal/metrics"
	"hwsampler/internal/sink"
)

// Set with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		config.Usage(os.Stdout)
		return 0
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "hwsampler:", err)
		config.Usage(os.Stderr)
		return 2
	}

	if cfg.ShowVersion {
		fmt.Println("hwsampler", version)
		return 0
	}

	appLog := logger.New(cfg).With("run_id", uuid.NewString())
	appLog.Info("hwsampler: starting...",
		"version", version,
		"interval", cfg.Interval(),
		"format", cfg.Format,
		"output", cfg.Output,
		"config_file", cfg.File,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hostSource, err := host.New(ctx, appLog)
	if err != nil {
		appLog.Error("host telemetry unavailable", "error", err)
		return 1
	}

	gpus, err := gpu.Open(ctx, cfg.GPU, appLog)
	if err != nil {
		if cfg.GPU.Required {
			appLog.Error("gpu telemetry unavailable", "backend", cfg.GPU.Backend, "error", err)
			return 1
		}
		appLog.Warn("gpu telemetry unavailable, sampling cpu and memory only", "error", err)
		gpus = gpu.NewCollector(appLog, config.BackendNone, nil, nil)
	}
	defer func() {
		if err := gpus.Close(); err != nil {
			appLog.Warn("gpu close failed", "error", err)
		}
	}()

	enc, err := codec.NewEncoder(cfg.Format)
	if err != nil {
		appLog.Error("codec", "error", err)
		return 1
	}

	out, ws, err := openSinks(cfg, enc, appLog)
	if err != nil {
		appLog.Error("sink", "error", err)
		return 1
	}

	sampler := metrics.NewSampler(hostSource, gpus, appLog)
	if cfg.Timestamp {
		sampler.WithClock(time.Now)
	}

	scheduler := metrics.NewScheduler(cfg.Interval(), appLog, sampler.Collect, metrics.Emitter(enc, out))
	scheduler.MaxCycles = uint64(cfg.Count)

	g, gCtx := errgroup.WithContext(ctx)

	// The websocket server stops with the sampling loop, including after --count.
	loopCtx, loopDone := context.WithCancel(gCtx)

	g.Go(func() error {
		defer loopDone()
		return scheduler.Run(gCtx)
	})

	if ws != nil {
		g.Go(func() error {
			return ws.ListenAndServe(loopCtx)
		})
	}

	code := 0
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		appLog.Error("hwsampler failed", "error", err)
		code = 1
	}

	if err := out.Close(); err != nil {
		appLog.Error("sink close failed", "error", err)
		code = 1
	}

	appLog.Info("hwsampler stopped gracefully.")
	return code
}

// openSinks builds the record destination: the output stream, plus the
// websocket stream when listening, behind an optional bounded queue.
func openSinks(cfg *config.Config, enc codec.Encoder, log logger.Logger) (sink.Sink, *sink.Websocket, error) {
	var sinks []sink.Sink

	if cfg.Output == config.StdoutOutput {
		if cfg.Compress {
			return nil, nil, errors.New("compress requires a file output")
		}
		if enc.Binary() && term.IsTerminal(int(os.Stdout.Fd())) {
			log.Warn("writing binary records to a terminal", "format", cfg.Format)
		}
		sinks = append(sinks, sink.NewWriter(os.Stdout))
	} else {
		w, err := sink.OpenFile(cfg.Output, cfg.Compress)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, w)
	}

	var ws *sink.Websocket
	if cfg.Listen != "" {
		ws = sink.NewWebsocket(cfg.Listen, enc.Binary(), log)
		sinks = append(sinks, ws)
	}

	out := sink.Tee(sinks...)
	if cfg.QueueSize > 0 {
		out = sink.NewQueue(out, cfg.QueueSize, log)
	}

	return out, ws, nil
}
