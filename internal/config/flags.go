package config

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"
)

type flags struct {
	set *pflag.FlagSet

	configFile   string
	pollInterval int64
	format       string
	output       string
	compress     bool
	listen       string
	queueSize    int
	count        int
	timestamp    bool
	gpuBackend   string
	gpuRequired  bool
	logLevel     string
	logFormat    string
	version      bool
}

func newFlagSet(f *flags) *pflag.FlagSet {
	d := Default()

	fs := pflag.NewFlagSet("hwsampler", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVarP(&f.configFile, "config", "c", "", "path to a YAML config file")
	fs.Int64VarP(&f.pollInterval, "poll-interval", "p", d.PollInterval, "poll interval in milliseconds")
	fs.StringVarP(&f.format, "format", "f", d.Format, "record format: json, cbor or text")
	fs.StringVarP(&f.output, "output", "o", d.Output, `output file, "-" for stdout`)
	fs.BoolVar(&f.compress, "compress", false, "zstd-compress file output")
	fs.StringVar(&f.listen, "listen", "", "serve the record stream over websocket on this address")
	fs.IntVar(&f.queueSize, "queue-size", 0, "records buffered between sampler and sink (0 = synchronous)")
	fs.IntVarP(&f.count, "count", "n", 0, "stop after this many snapshots (0 = run until stopped)")
	fs.BoolVar(&f.timestamp, "timestamp", false, "add a unix millisecond timestamp to each record")
	fs.StringVar(&f.gpuBackend, "gpu-backend", d.GPU.Backend, "gpu backend: auto, nvml, drm or none")
	fs.BoolVar(&f.gpuRequired, "gpu-required", false, "exit if no gpu driver is available")
	fs.StringVar(&f.logLevel, "log-level", d.LogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&f.logFormat, "log-format", d.LogFormat, "log format: text or json")
	fs.BoolVar(&f.version, "version", false, "print version and exit")

	return fs
}

func parseFlags(args []string) (*flags, error) {
	f := &flags{}
	f.set = newFlagSet(f)

	if err := f.set.Parse(args); err != nil {
		return nil, err
	}

	if rest := f.set.Args(); len(rest) > 0 {
		return nil, fmt.Errorf("config: unexpected argument: %s", rest[0])
	}

	return f, nil
}

// apply copies explicitly set flags over cfg.
func (f *flags) apply(cfg *Config) {
	changed := f.set.Changed

	if changed("poll-interval") {
		cfg.PollInterval = f.pollInterval
	}
	if changed("format") {
		cfg.Format = f.format
	}
	if changed("output") {
		cfg.Output = f.output
	}
	if changed("compress") {
		cfg.Compress = f.compress
	}
	if changed("listen") {
		cfg.Listen = f.listen
	}
	if changed("queue-size") {
		cfg.QueueSize = f.queueSize
	}
	if changed("timestamp") {
		cfg.Timestamp = f.timestamp
	}
	if changed("gpu-backend") {
		cfg.GPU.Backend = f.gpuBackend
	}
	if changed("gpu-required") {
		cfg.GPU.Required = f.gpuRequired
	}
	if changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if changed("log-format") {
		cfg.LogFormat = f.logFormat
	}

	cfg.Count = f.count
	cfg.ShowVersion = f.version
}

// Usage renders the flag help text.
func Usage(w io.Writer) {
	fs := newFlagSet(&flags{})
	fmt.Fprintf(w, "Usage: hwsampler [flags]\n\nSamples CPU, memory and GPU telemetry and writes one record per interval.\n\nFlags:\n")
	fmt.Fprint(w, fs.FlagUsages())
}
