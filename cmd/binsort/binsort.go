package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/refuseworks/binsort"
	"github.com/refuseworks/binsort/internal/api"
	"github.com/refuseworks/binsort/internal/classify"
	"github.com/refuseworks/binsort/internal/config"
	"github.com/refuseworks/binsort/internal/db"
	"github.com/refuseworks/binsort/internal/decision"
	"github.com/refuseworks/binsort/internal/serialmux"
	"github.com/refuseworks/binsort/internal/station"
	"github.com/refuseworks/binsort/internal/statslog"
	"github.com/refuseworks/binsort/internal/version"
)

var (
	configPath    = flag.String("config", "", "Path to a station config JSON file")
	devMode       = flag.Bool("dev", false, "Run in dev mode: mock controller, scripted classifier, static files from disk")
	listen        = flag.String("listen", "", "Listen address (overrides config)")
	port          = flag.String("port", "", "Serial port for the sorter controller (overrides config; ignored in dev mode)")
	dbPath        = flag.String("db-path", "", "Path to the sqlite database (overrides config)")
	spoolDir      = flag.String("spool", "", "Camera capture spool directory (overrides config)")
	disableSerial = flag.Bool("disable-serial", false, "Run without a sorter controller (API and dashboard only)")
)

// devClassifier cycles through canned verdicts so images dropped in the spool
// get sorted without a model on the machine.
func devClassifier() classify.Classifier {
	c := classify.NewScriptedClassifier(
		classify.Verdict("Paper", 0.91),
		classify.Verdict("Plastic", 0.88),
		classify.Verdict("Metal", 0.95),
		classify.Verdict("Glass", 0.83),
		classify.Verdict("Trash", 0.67),
	)
	c.Loop = true
	return c
}

func main() {
	flag.Parse()

	log.Printf("binsort %s starting", version.String())

	// Load .env before resolving config so BINSORT_* overrides apply either way.
	_ = godotenv.Load()

	cfg := config.EmptyStationConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadStationConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}
	cfg.ApplyEnvOverrides()

	// Flags win over the config file and environment.
	if *listen != "" {
		cfg.Listen = listen
	}
	if *port != "" {
		cfg.SerialPort = port
	}
	if *dbPath != "" {
		cfg.DBPath = dbPath
	}
	if *spoolDir != "" {
		cfg.SpoolDir = spoolDir
	}

	// `binsort migrate up|down|status|version|force` manages the schema and exits.
	if args := flag.Args(); len(args) > 0 && args[0] == "migrate" {
		db.RunMigrateCommand(args[1:], cfg.GetDBPath())
		return
	}

	database, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	var classifier classify.Classifier
	if *devMode {
		classifier = devClassifier()
	} else {
		classifier, err = classify.NewPythonClassifier(
			cfg.GetPythonExec(), cfg.GetScriptPath(), cfg.GetModelPath(), cfg.GetClassifyTimeout())
		if err != nil {
			log.Fatalf("failed to create classifier: %v", err)
		}
	}

	var stationMux serialmux.SerialMuxInterface
	switch {
	case *disableSerial:
		stationMux = serialmux.NewDisabledSerialMux()
		log.Print("serial disabled; sorter result frames will be dropped")
	case *devMode:
		stationMux = serialmux.NewMockSerialMux([]byte(`{"arm":"home","firmware":"mock"}` + "\n"))
	default:
		opts, err := cfg.GetPortOptions().Normalize()
		if err != nil {
			log.Fatalf("invalid serial options: %v", err)
		}
		initial, err := serialmux.NewRealSerialMux(cfg.GetSerialPort(), opts)
		if err != nil {
			log.Fatalf("failed to open serial port: %v", err)
		}
		if err := initial.Initialize(); err != nil {
			log.Fatalf("failed to initialize controller: %v", err)
		}
		log.Printf("initialized controller on %s", cfg.GetSerialPort())

		// Wrap the mux in the manager so /api/serial/reload can swap the
		// port to a database configuration without restarting the daemon.
		snapshot := api.SerialConfigSnapshot{
			PortPath: cfg.GetSerialPort(),
			Source:   "config",
			Options:  opts,
		}
		factory := func(path string, opts serialmux.PortOptions) (serialmux.SerialMuxInterface, error) {
			return serialmux.NewRealSerialMux(path, opts)
		}
		stationMux = api.NewSerialPortManager(database, initial, snapshot, factory)
	}
	defer stationMux.Close()

	stats := statslog.New(nil, cfg.GetStatsPath(), nil)
	agg := decision.New(cfg.GetDecisionConfig(), nil)

	// Replay the CSV log so the running tally survives restarts.
	if counts, err := stats.Reload(); err != nil {
		log.Printf("failed to reload stats log: %v", err)
	} else if len(counts) > 0 {
		agg.SeedTally(counts)
		log.Printf("restored tally from %s (%d categories)", stats.Path(), len(counts))
	}

	st := station.New(stationMux, classifier, agg, stats, database, station.Config{
		SpoolDir:     cfg.GetSpoolDir(),
		ProcessedDir: cfg.GetProcessedDir(),
		PollInterval: cfg.GetPollInterval(),
	})

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the station routine: serial monitor, controller events, spool
	// scanning and decision handling
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := st.Run(ctx); err != nil {
			log.Printf("station error: %v", err)
		}
		log.Print("station routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		// create a new API server instance and mount the API handlers
		mux := api.NewServer(stationMux, database, agg, classifier, cfg.GetSpoolDir()).ServeMux()

		stationMux.AttachAdminRoutes(mux)
		database.AttachAdminRoutes(mux)

		// read static files from the embedded filesystem in production or from
		// the local ./static in dev for easier iteration without restarting the
		// server
		var staticHandler http.Handler
		if *devMode {
			staticHandler = http.StripPrefix("/static/", http.FileServer(http.Dir("./static")))
		} else {
			staticHandler = http.FileServer(http.FS(binsort.StaticFiles))
		}
		mux.Handle("/static/", staticHandler)
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/" {
				http.NotFound(w, r)
				return
			}
			http.Redirect(w, r, "/static/", http.StatusFound)
		})

		server := &http.Server{
			Addr:    cfg.GetListen(),
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		// Create a shutdown context with a shorter timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			// Force close the server if graceful shutdown fails
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
