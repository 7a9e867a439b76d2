// Command corvid is the CLI entry point: run/list/setup/build, matching
// spec.md §6, grounded on dokzlo13-lightd/cmd/lightd/main.go's flag
// parsing and logging setup style.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	builtinnet "github.com/corvidrt/corvid/internal/builtins/net"
	"github.com/corvidrt/corvid/internal/builtins/task"
	"github.com/corvidrt/corvid/internal/config"
	"github.com/corvidrt/corvid/internal/metrics"
	"github.com/corvidrt/corvid/internal/require"
	"github.com/corvidrt/corvid/internal/scheduler"
	"github.com/corvidrt/corvid/internal/standalone"
	"github.com/corvidrt/corvid/internal/vmport"
)

func main() {
	if exe, err := os.Executable(); err == nil {
		if payload, derr := standalone.Detect(exe); derr == nil {
			os.Exit(runSource(payload.Source, "<standalone>", os.Args[1:], &config.Config{}, nil))
		}
	}

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		os.Exit(cmdRun(os.Args[2:]))
	case "list":
		os.Exit(cmdList(os.Args[2:]))
	case "setup":
		os.Exit(cmdSetup(os.Args[2:]))
	case "build":
		os.Exit(cmdBuild(os.Args[2:]))
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: corvid <run|list|setup|build> [args...]")
}

func setupLogging(level string, useJSON bool) {
	zerolog.TimeFieldFormat = time.RFC3339
	if useJSON {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	}
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()
	return ctx, cancel
}

func readScript(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	log.Info().Str("addr", addr).Msg("serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("metrics server stopped")
	}
}

func setProcessArgs(L *lua.LState, args []string) {
	argsTable := L.NewTable()
	for _, a := range args {
		argsTable.Append(lua.LString(a))
	}
	processTable := L.NewTable()
	processTable.RawSetString("args", argsTable)
	L.SetGlobal("process", processTable)
}

// cmdRun implements `corvid run <script> [args...]`.
func cmdRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "corvid.yaml", "path to configuration file")
	logLevel := fs.String("log-level", "", "override log.level from configuration")
	logJSON := fs.Bool("log-json", false, "force JSON log output")
	metricsAddr := fs.String("metrics-addr", "", "address to serve Prometheus metrics on, e.g. :9090")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	level := cfg.Log.GetLevel()
	if *logLevel != "" {
		level = *logLevel
	}
	setupLogging(level, *logJSON || cfg.Log.UseJSON)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: corvid run <script> [args...]")
		return 1
	}
	scriptPath := fs.Arg(0)
	scriptArgs := fs.Args()[1:]

	source, err := readScript(scriptPath)
	if err != nil {
		log.Error().Err(err).Str("script", scriptPath).Msg("failed to read script")
		return 1
	}

	var m *metrics.Metrics
	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		m = metrics.New(reg)
		go serveMetrics(*metricsAddr, reg)
	}

	return runSource(source, scriptPath, scriptArgs, cfg, m)
}

// runSource builds a fresh VM/scheduler/resolver and runs source to
// completion, returning the process exit code.
func runSource(source []byte, displayPath string, args []string, cfg *config.Config, m *metrics.Metrics) int {
	L := lua.NewState()
	defer L.Close()
	if !cfg.JIT.IsEnabled() {
		// gopher-lua exposes no optimization-level knob to disable, so
		// jit.enabled is accepted but changes nothing beyond this log
		// line. The LUNE_LUAU_JIT environment variable is not read.
		log.Debug().Msg("jit.enabled=false has no effect under gopher-lua")
	}

	port := vmport.New(L)
	sched := scheduler.New(port, scheduler.Options{
		MaxBlockingWorkers:           cfg.Process.GetMaxBlockingWorkers(),
		Metrics:                      m,
		DisableCancellationSynthesis: !cfg.Cancellation.ShouldSynthesizeError(),
	})
	scheduler.NewFunctions(port).Install(L)

	cycleMode := require.CycleError
	if cfg.Require.GetCycleDetection() == "allow" {
		cycleMode = require.CycleAllow
	}
	builtins := map[string]require.Builtin{
		"task": task.New,
		"net":  builtinnet.New,
	}
	resolver := require.New(port, sched, cfg.Require.Aliases, builtins, cycleMode, m)
	if err := resolver.Install(L); err != nil {
		log.Error().Err(err).Msg("failed to install require")
		return 1
	}

	setProcessArgs(L, args)

	abs := displayPath
	if a, err := filepath.Abs(displayPath); err == nil {
		abs = a
	}
	mainFn, err := L.Load(bytes.NewReader(source), displayPath)
	if err != nil {
		log.Error().Err(err).Msg("failed to compile script")
		return 1
	}
	mainThread := port.NewCoroutine(mainFn)
	resolver.SetThreadSource(mainThread, abs)
	mainID := sched.PushFront(mainThread, nil)

	ctx, cancel := signalContext()
	defer cancel()

	if err := sched.Run(ctx); err != nil {
		log.Error().Err(err).Msg("scheduler run failed")
		return 1
	}

	if result, ok := sched.GetThreadResult(mainID); ok && result.Err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", displayPath, result.Err)
		return 1
	}

	if code, ok := sched.GetExitCode(); ok {
		return int(code)
	}
	return 0
}

// cmdList implements `corvid list`: scripts available in a nearby
// lune/ or .lune/ directory, checked relative to the working directory
// and the user's home directory.
func cmdList(args []string) int {
	setupLogging("info", false)

	home, _ := os.UserHomeDir()
	candidates := []string{"lune", ".lune"}
	if home != "" {
		candidates = append(candidates, filepath.Join(home, "lune"), filepath.Join(home, ".lune"))
	}

	found := false
	for _, dir := range candidates {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			name := e.Name()
			if hasScriptExt(name) {
				found = true
				fmt.Println(filepath.Join(dir, name))
			}
		}
	}
	if !found {
		fmt.Fprintln(os.Stderr, "no scripts found in lune/ or .lune/")
	}
	return 0
}

func hasScriptExt(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".lua" || ext == ".luau"
}

// cmdSetup implements `corvid setup`: writes editor type-definition
// stubs so scripts get IDE completion for the globals this runtime
// installs.
func cmdSetup(args []string) int {
	setupLogging("info", false)
	const typesFile = ".corvid.d.lua"
	content := `---@meta
---@class process
---@field args string[]
process = {}

function spawn(threadOrFn, ...) end
function defer(threadOrFn, ...) end
function cancel(thread) end
function resume(thread, ...) end
function wrap(fn) end
function exit(code) end
function require(path) end
`
	if err := os.WriteFile(typesFile, []byte(content), 0o644); err != nil {
		log.Error().Err(err).Msg("failed to write type definitions")
		return 1
	}
	log.Info().Str("file", typesFile).Msg("wrote editor type definitions")
	return 0
}

// cmdBuild implements `corvid build <script>`: appends the script's
// source to a copy of this runtime binary per the standalone format.
func cmdBuild(args []string) int {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	output := fs.String("output", "", "output path (default: <script> without its extension)")
	_ = fs.Parse(args)

	setupLogging("info", false)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: corvid build [-output path] <script>")
		return 1
	}
	scriptPath := fs.Arg(0)

	source, err := readScript(scriptPath)
	if err != nil {
		log.Error().Err(err).Str("script", scriptPath).Msg("failed to read script")
		return 1
	}

	outputPath := *output
	if outputPath == "" {
		outputPath = scriptPath[:len(scriptPath)-len(filepath.Ext(scriptPath))]
	}

	runtimePath, err := os.Executable()
	if err != nil {
		log.Error().Err(err).Msg("failed to locate running executable")
		return 1
	}

	if err := standalone.Build(runtimePath, outputPath, source, 1); err != nil {
		log.Error().Err(err).Msg("failed to build standalone binary")
		return 1
	}
	log.Info().Str("output", outputPath).Msg("built standalone binary")
	return 0
}
