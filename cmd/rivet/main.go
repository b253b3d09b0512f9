// Rivet CLI - runs a rivet resource with its control service.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/tkallio/rivet/audit"
	"github.com/tkallio/rivet/config"
	"github.com/tkallio/rivet/control"
	"github.com/tkallio/rivet/engine"
)

func main() {
	configPath := flag.String("config", "rivet.toml", "Runtime configuration file")
	programDir := flag.String("program", "", "Directory of .st source files to register")
	endpoint := flag.String("endpoint", "", "Control endpoint override (tcp://127.0.0.1:port or socket path)")
	auditPath := flag.String("audit", "", "Audit database path (disables auditing when empty)")
	cycleMs := flag.Int("cycle-ms", 10, "Cycle interval in milliseconds")
	verbose := flag.Bool("v", false, "Verbose output")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: rivet [options]\n\n")
		fmt.Fprintf(os.Stderr, "Starts the rivet runtime and its control/debug service.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	verbosity := 0
	if *verbose {
		verbosity = 1
	}
	commonlog.Configure(verbosity, nil)
	log := commonlog.GetLogger("rivet")

	settings, err := config.Load(*configPath)
	if err != nil {
		if os.IsNotExist(underlying(err)) {
			settings = config.Default()
			log.Infof("no %s, using defaults", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "rivet: %v\n", err)
			os.Exit(1)
		}
	}
	if *endpoint != "" {
		settings.Control.Endpoint = *endpoint
	}

	sources, meta := loadProgram(*programDir, log)

	storage := engine.NewStorage()
	if settings.Retain.Mode != config.RetainOff {
		retain, err := engine.LoadRetain(settings.Retain.Path)
		if err != nil {
			log.Errorf("retain load failed: %s", err.Error())
		} else {
			storage.Retain = retain
		}
	}
	live := engine.NewLiveStorage(storage)

	debug := engine.NewDebugController()
	loop := engine.NewLoop(live, debug, time.Duration(*cycleMs)*time.Millisecond,
		engine.WithRetain(settings.Retain),
		engine.WithWatchdog(settings.Watchdog),
	)

	var auditCh chan control.AuditEvent
	var sink *audit.Sink
	if *auditPath != "" {
		sink, auditCh, err = audit.Open(*auditPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "rivet: %v\n", err)
			os.Exit(1)
		}
		defer sink.Close()
	}

	state := control.NewControlState(loop, debug, meta, sources, live, settings, auditCh)

	// Runtime events from the loop land in the control event ring.
	loop.SetEventFunc(state.RecordEvent)

	loop.Start()
	defer loop.Stop()

	server := control.NewServer(state)
	if err := server.Listen(settings.Control.Endpoint); err != nil {
		fmt.Fprintf(os.Stderr, "rivet: %v\n", err)
		os.Exit(1)
	}
	defer server.Close()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")
}

// loadProgram registers .st files and builds statement metadata from
// a line scan. The real statement tables come from the compiler; the
// scan stands in when running without a compiled image.
func loadProgram(dir string, log commonlog.Logger) (*engine.SourceRegistry, *engine.Metadata) {
	meta := engine.NewMetadata()
	if dir == "" {
		return engine.NewSourceRegistry(nil, nil), meta
	}

	var paths, texts []string
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Errorf("cannot read program dir: %s", err.Error())
		return engine.NewSourceRegistry(nil, nil), meta
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".st") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			log.Errorf("cannot read %s: %s", path, err.Error())
			continue
		}
		paths = append(paths, path)
		texts = append(texts, string(data))
	}

	registry := engine.NewSourceRegistry(paths, texts)
	for _, f := range registry.Files() {
		meta.SetStatements(f.ID, scanStatements(f.Text))
	}
	log.Infof("registered %d source files", len(paths))
	return registry, meta
}

// scanStatements marks each line holding an assignment or statement
// terminator as a breakpoint-eligible location.
func scanStatements(text string) []engine.StmtLoc {
	var locs []engine.StmtLoc
	for i, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimLeft(line, " \t")
		if trimmed == "" || strings.HasPrefix(trimmed, "//") {
			continue
		}
		if strings.Contains(trimmed, ":=") || strings.HasSuffix(strings.TrimRight(trimmed, " \t"), ";") {
			locs = append(locs, engine.StmtLoc{
				Line:   i + 1,
				Column: len(line) - len(trimmed) + 1,
			})
		}
	}
	return locs
}

func underlying(err error) error {
	for {
		type unwrapper interface{ Unwrap() error }
		u, ok := err.(unwrapper)
		if !ok {
			return err
		}
		inner := u.Unwrap()
		if inner == nil {
			return err
		}
		err = inner
	}
}
