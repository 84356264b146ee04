package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/depth-data/distance.report/internal/api"
	"github.com/depth-data/distance.report/internal/capture"
	"github.com/depth-data/distance.report/internal/config"
	"github.com/depth-data/distance.report/internal/db"
	"github.com/depth-data/distance.report/internal/measure"
	"github.com/depth-data/distance.report/internal/monitoring"
	"github.com/depth-data/distance.report/internal/mqtt"
	"github.com/depth-data/distance.report/internal/sampler"
)

var (
	devMode    = flag.Bool("dev", false, "Run with a simulated sensor")
	fixtures   = flag.String("fixtures", "", "Replay depth frames from a fixture file")
	listen     = flag.String("listen", ":8080", "Listen address")
	configPath = flag.String("config", "/etc/hps3d/points.conf", "Path to the points config file")
	dbFile     = flag.String("db", "distance_data.db", "Path to the sample database (empty disables history)")
	broker     = flag.String("broker", "tcp://localhost:1883", "MQTT broker URL (empty disables MQTT)")
	clientID   = flag.String("client-id", "hps3d-service", "MQTT client ID")
	interval   = flag.Duration("interval", measure.DefaultInterval, "Measurement interval")
	pidFile    = flag.String("pid", "", "Write the process ID to this file")
	once       = flag.Bool("once", false, "Run a single measurement pass, print it as JSON, and exit")
)

func newFrameSource() (capture.FrameSource, error) {
	if *fixtures != "" {
		return capture.LoadReplaySource(*fixtures)
	}
	if *devMode {
		return capture.NewSimulatedSource(time.Now().UnixNano()), nil
	}
	return nil, fmt.Errorf("no frame source: run with -dev or -fixtures")
}

func runOnce(ctx context.Context, engine *measure.Engine) error {
	if _, err := engine.RunOnce(ctx); err != nil {
		return err
	}
	doc := measure.BuildDocument(engine.Snapshot())
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func main() {
	flag.Parse()

	if *listen == "" && !*once {
		log.Fatal("Listen address is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	log.Printf("loaded %d measurement points from %s", len(cfg.Points), *configPath)

	source, err := newFrameSource()
	if err != nil {
		log.Fatalf("failed to create frame source: %v", err)
	}
	defer source.Close()

	debugLog := monitoring.NewDebugLog(cfg.DebugFile, cfg.Debug)
	defer debugLog.Close()

	smp := sampler.New(cfg.MinValidPixels)
	smp.DumpWindow = func(p sampler.Point, raw []uint16, validPixels int) {
		debugLog.DumpWindow(p.Name, raw, 2*p.HalfWidth+1, validPixels)
	}

	engine := measure.New(source, smp, cfg.Points)
	engine.Interval = *interval

	if *once {
		if err := runOnce(context.Background(), engine); err != nil {
			log.Fatalf("measurement failed: %v", err)
		}
		return
	}

	var history *db.DB
	if *dbFile != "" {
		history, err = db.NewDB(*dbFile)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer history.Close()
		log.Printf("recording samples to %s (run %s)", *dbFile, history.RunID())
	}

	if *pidFile != "" {
		if err := os.WriteFile(*pidFile, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
			log.Fatalf("failed to write pid file: %v", err)
		}
		defer os.Remove(*pidFile)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// measurement starts active; MQTT and HTTP can stop/start it later
	engine.Start()

	// run the capture/sample loop
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := engine.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("measurement loop error: %v", err)
		}
		log.Print("measurement loop terminated")
	}()

	// subscribe to snapshots and persist each pass
	if history != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, snaps := engine.Subscribe()
			defer engine.Unsubscribe(id)
			for {
				select {
				case snap := <-snaps:
					if err := history.RecordResults(snap.Timestamp, snap.Results); err != nil {
						log.Printf("failed to record samples: %v", err)
					}
				case <-ctx.Done():
					log.Printf("recorder routine terminated")
					return
				}
			}
		}()
	}

	var bridge *mqtt.Bridge
	if *broker != "" {
		bridge = mqtt.NewBridge(*broker, *clientID, engine)
		if err := bridge.Connect(); err != nil {
			// the paho client keeps retrying in the background
			log.Printf("MQTT connect failed, retrying in background: %v", err)
		}
		defer bridge.Close()

		wg.Add(1)
		go func() {
			defer wg.Done()
			bridge.Forward(ctx, engine)
			log.Printf("MQTT forwarder terminated")
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// nil *db.DB / *mqtt.Bridge must stay nil interfaces so the
		// server's optional-feature checks work
		var hist api.History
		if history != nil {
			hist = history
		}
		var brk api.BrokerStatus
		if bridge != nil {
			brk = bridge
		}
		apiMux := api.NewServer(engine, hist, brk).ServeMux()
		mux.Handle("/api/", http.StripPrefix("/api", apiMux))
		// the deployed fleet polls the unprefixed paths
		mux.Handle("/", apiMux)

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
