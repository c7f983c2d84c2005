// Command statemachine loads a definition file and runs its event loop
// until interrupted. Flat, os.Args/flag-driven main, matching the
// teacher's examples/simple.go shape rather than a CLI framework.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"github.com/orkestr8/statemachine"
	"github.com/orkestr8/statemachine/eval"
	"github.com/orkestr8/statemachine/lang"
	"github.com/orkestr8/statemachine/lang/ast"
	"github.com/orkestr8/statemachine/log"
	"github.com/orkestr8/statemachine/metrics"
	"github.com/orkestr8/statemachine/runtime"
	"github.com/orkestr8/statemachine/timer"
	"github.com/orkestr8/statemachine/varserver"
)

func main() {
	var (
		verbose     = flag.Bool("v", false, "verbose logging")
		metricsAddr = flag.String("metrics-addr", "", "address to serve /metrics on (disabled if empty)")
		natsURL     = flag.String("nats-url", "", "NATS server URL for the variable server (in-memory adapter used if empty)")
		configPath  = flag.String("config", "", "optional YAML config file (verbose, metrics_addr, nats_url, seed)")
		dump        = flag.String("dump", "", "print the parsed definition as yaml or json and exit, without running it (\"yaml\" or \"json\")")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <definition-file>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() > 1 {
		flag.Usage()
		os.Exit(2)
	}
	// A missing positional filename is accepted, per spec: there is
	// simply nothing to parse, so the machine never starts.
	var defPath string
	if flag.NArg() == 1 {
		defPath = flag.Arg(0)
	}

	var cfg config
	if *configPath != "" {
		loaded, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		cfg = *loaded
	}
	if *verbose {
		cfg.Verbose = true
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *natsURL != "" {
		cfg.NATSURL = *natsURL
	}

	logger := log.Default(cfg.Verbose)

	if defPath == "" {
		logger.Info("no definition file given, nothing to parse")
		return
	}

	src, err := os.ReadFile(defPath)
	if err != nil {
		logger.Error("read definition file", "path", defPath, "err", err)
		os.Exit(1)
	}

	vs, err := buildVarServer(cfg)
	if err != nil {
		logger.Error("build variable server", "err", err)
		os.Exit(1)
	}
	if err := vs.Open(); err != nil {
		logger.Error("open variable server", "err", err)
		os.Exit(1)
	}
	defer vs.Close()

	def, syntaxErrs := lang.Parse(string(src), vs)
	for _, e := range syntaxErrs {
		logger.Error("syntax error", "line", e.Line, "message", e.Message)
	}
	if err := def.Validate(); err != nil {
		logger.Error("invalid definition", "err", err)
		os.Exit(1)
	}
	def.Verbose = cfg.Verbose

	if *dump != "" {
		if err := dumpDefinition(os.Stdout, *dump, def); err != nil {
			logger.Error("dump", "err", err)
			os.Exit(1)
		}
		return
	}

	timers := timer.NewManager()
	defer timers.Close()

	e := eval.New(vs, timers)
	e.Log = logger

	loop := runtime.New(def, timers, vs, e, logger)

	if cfg.MetricsAddr != "" {
		recorder := metrics.NewRecorder(prometheus.DefaultRegisterer, def.Name)
		recorder.Observe(loop, def)
		go serveMetrics(cfg.MetricsAddr, logger)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	signaled := make(chan struct{})
	go func() {
		<-sigc
		close(signaled)
		logger.Info("shutting down")
		loop.Stop()
	}()

	logger.Info("starting", "machine", def.Name, "description", def.Description)
	err = loop.Run()

	select {
	case <-signaled:
		// spec.md §6: SIGINT/SIGTERM shutdown still exits non-zero, to
		// distinguish "interrupted" from a clean, self-terminated run.
		os.Exit(1)
	default:
	}
	if err != nil {
		logger.Error("run", "err", err)
		os.Exit(1)
	}
}

func buildVarServer(cfg config) (varserver.Adapter, error) {
	if cfg.NATSURL != "" {
		return varserver.NewNATS(varserver.NATSConfig{URL: cfg.NATSURL}), nil
	}

	mem := varserver.NewMemory()
	for path, raw := range cfg.Seed {
		mem.Seed(path, seedValue(raw))
	}
	return mem, nil
}

// seedValue parses a config-file seed string as an int, then a float,
// falling back to string — there is no declared type to consult yet at
// this point, since seeding happens before the definition is parsed.
func seedValue(raw string) ast.Value {
	if n, err := strconv.ParseInt(raw, 0, 64); err == nil {
		return ast.Value{Kind: ast.KindInt, Int: n}
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return ast.Value{Kind: ast.KindFloat, Flt: f}
	}
	return ast.Value{Kind: ast.KindString, Str: raw}
}

// dumpDefinition writes def's diagnostic snapshot to w in the requested
// format, via Definition's MarshalYAML/MarshalJSON (types.go).
func dumpDefinition(w io.Writer, format string, def *statemachine.Definition) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(def)
	case "json":
		data, err := json.MarshalIndent(def, "", "  ")
		if err != nil {
			return err
		}
		_, err = w.Write(append(data, '\n'))
		return err
	default:
		return fmt.Errorf("unknown -dump format %q, want \"yaml\" or \"json\"", format)
	}
}

func serveMetrics(addr string, logger log.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server", "err", err)
	}
}
