// Command sentryd is a minimal process entrypoint wiring config,
// pipeline, shared-memory IPC, and the swarm connection together.
// Frame acquisition, inference, and the HTTP facade are out of scope
// (spec §1's external collaborators) — this binary exists to exercise
// the in-scope packages end to end, not to be the engineering center
// of the repo.
//
// Grounded on cmd/silenus/main.go's flag/context/signal-driven
// shutdown shape.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asgard/sentry/internal/config"
	"github.com/asgard/sentry/internal/errs"
	"github.com/asgard/sentry/internal/ipc"
	"github.com/asgard/sentry/internal/observability"
	"github.com/asgard/sentry/internal/pipeline"
	"github.com/asgard/sentry/internal/swarm"
	"github.com/asgard/sentry/internal/tracker"
)

func main() {
	cameraID := flag.String("id", "cam001", "Camera ID")
	shmDir := flag.String("shm-dir", "/dev/shm/sentry", "Shared-memory backing directory")
	fifoDir := flag.String("fifo-dir", "/tmp/sentry", "Command/ack FIFO directory")
	statusPath := flag.String("status-path", "/tmp/sentry/status.json", "Status snapshot path")
	natsURL := flag.String("nats-url", "", "Swarm NATS URL (disabled if empty)")
	metricsAddr := flag.String("metrics-addr", ":9094", "Metrics server address")
	flag.Parse()

	log.Printf("Starting sentryd (camera %s)", *cameraID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, dir := range []string{*shmDir, *fifoDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("Failed to create %s: %v", dir, err)
		}
	}

	counters := &errs.Counters{}

	publisher, err := ipc.New(*shmDir, *fifoDir, *statusPath, counters)
	if err != nil {
		log.Fatalf("Failed to initialize IPC publisher: %v", err)
	}
	defer publisher.Close()

	var node *swarm.Node
	if *natsURL != "" {
		swarmCfg := swarm.DefaultConfig(*cameraID)
		swarmCfg.NATSURL = *natsURL
		node, err = swarm.Connect(swarmCfg)
		if err != nil {
			log.Printf("Swarm connection disabled: %v", err)
			node = nil
		} else {
			if err := node.Subscribe(swarm.SubjectTrackHandoff, swarm.SubjectEventPredicted, swarm.SubjectConsensus); err != nil {
				log.Printf("Swarm subscribe failed: %v", err)
			}
			defer node.Close()
		}
	}

	pl := pipeline.New(config.Default(), publisher, node, counters)

	go runCommandListener(publisher, pl)
	go runStatusSnapshot(ctx, *statusPath, pl, counters)

	detectionsCh := make(chan []tracker.Detection, 16)
	go pl.Run(ctx, detectionsCh, nowMs)

	metricsServer := startMetricsServer(*metricsAddr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down sentryd...")
	cancel()
	shutdownMetricsServer(metricsServer)
	time.Sleep(500 * time.Millisecond)
	log.Println("sentryd stopped")
}

func nowMs() uint64 {
	return uint64(time.Now().UnixMilli())
}

func runCommandListener(publisher *ipc.Publisher, pl *pipeline.Pipeline) {
	if err := publisher.ListenCommands(pl.HandleCommand); err != nil {
		log.Printf("Command listener stopped: %v", err)
	}
}

func runStatusSnapshot(ctx context.Context, path string, pl *pipeline.Pipeline, counters *errs.Counters) {
	const interval = 2 * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastFrames uint64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frames, activeTracks, activeTimelines := pl.Stats()
			eventsPredicted, interventions := pl.Counts()
			errCounters := make(map[string]int64)
			for kind, n := range counters.Snapshot() {
				errCounters[kind.String()] = n
			}

			neighbors := 0
			health := "disabled"
			if node := pl.SwarmNode(); node != nil {
				h := node.Health()
				neighbors = h.Neighbors
				health = "disconnected"
				if h.Connected {
					health = "connected"
				}
			}

			snap := ipc.StatusSnapshot{
				TimestampMs:        nowMs(),
				FramesHandled:      frames,
				FPS:                float64(frames-lastFrames) / interval.Seconds(),
				ActiveTracks:       activeTracks,
				DroppedFrames:      errCounters[errs.KindResourceExhausted.String()],
				ActiveTimelines:    activeTimelines,
				EventsPredicted:    eventsPredicted,
				InterventionsFound: interventions,
				SwarmNeighbors:     neighbors,
				NetworkHealth:      health,
				ErrorCounters:      errCounters,
			}
			lastFrames = frames
			if err := ipc.WriteStatus(path, snap); err != nil {
				log.Printf("Failed to write status snapshot: %v", err)
			}
		}
	}
}

func startMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Metrics server error: %v", err)
		}
	}()

	log.Printf("Metrics server listening on %s", addr)
	return server
}

func shutdownMetricsServer(server *http.Server) {
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Metrics server shutdown error: %v", err)
	}
}
