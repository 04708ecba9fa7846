// Command monitor runs the multi-camera PPE compliance pipeline: it
// ingests per-camera detection frames, tracks and smooths them, fuses
// cross-camera evidence on a fixed tick, records violation onsets, and
// serves pipeline state over HTTP.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sitewatch-data/compliance.report/internal/api"
	"github.com/sitewatch-data/compliance.report/internal/config"
	"github.com/sitewatch-data/compliance.report/internal/ppe"
	"github.com/sitewatch-data/compliance.report/internal/ppe/fuse"
	"github.com/sitewatch-data/compliance.report/internal/ppe/pipeline"
	"github.com/sitewatch-data/compliance.report/internal/ppe/tracks"
	"github.com/sitewatch-data/compliance.report/internal/storage/sqlite"
)

var (
	configPath = flag.String("config", "", "Path to tuning config JSON (defaults apply if empty)")
	listen     = flag.String("listen", ":8080", "Listen address for the status API")
	dbPath     = flag.String("db", "violations.db", "Path to the violations database")
	replayPath = flag.String("replay", "", "Replay detections from a JSONL file instead of live input")
)

// replayFrame is one line of a replay file: a single camera frame.
type replayFrame struct {
	Camera     int               `json:"camera"`
	At         time.Time         `json:"at"`
	Detections []replayDetection `json:"detections"`
}

type replayDetection struct {
	Box        [4]float64                   `json:"box"` // x1, y1, x2, y2
	Keypoints  [][3]float64                 `json:"keypoints,omitempty"`
	Items      map[string]replayItemReading `json:"items"`
	Appearance []float64                    `json:"appearance,omitempty"`
	Confidence float64                      `json:"confidence"`
}

type replayItemReading struct {
	Detected   bool    `json:"detected"`
	Confidence float64 `json:"confidence"`
}

func (d *replayDetection) toDetection(camera ppe.CameraID, at time.Time) ppe.Detection {
	det := ppe.Detection{
		Camera:    camera,
		FrameTime: at,
		Box: ppe.BoundingBox{
			X1: d.Box[0], Y1: d.Box[1],
			X2: d.Box[2], Y2: d.Box[3],
		},
		Appearance: d.Appearance,
		Confidence: d.Confidence,
	}
	for _, kp := range d.Keypoints {
		det.Keypoints = append(det.Keypoints, ppe.Keypoint{X: kp[0], Y: kp[1], Confidence: kp[2]})
	}
	if len(det.Keypoints) == 0 {
		// Replay files without pose data still need to pass input
		// validation; synthesize a box-center keypoint.
		det.Keypoints = []ppe.Keypoint{{X: det.Box.CenterX(), Y: det.Box.CenterY(), Confidence: 1}}
	}
	if len(d.Items) > 0 {
		det.Items = make(map[string]ppe.ItemReading, len(d.Items))
		for name, reading := range d.Items {
			det.Items[name] = ppe.ItemReading{Detected: reading.Detected, Confidence: reading.Confidence}
		}
	}
	return det
}

// replayFrames feeds a JSONL capture into the orchestrator, pacing frames
// by their recorded timestamps.
func replayFrames(ctx context.Context, path string, orch *pipeline.Orchestrator) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open replay file: %w", err)
	}
	defer f.Close()

	var prev time.Time
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var frame replayFrame
		if err := json.Unmarshal(line, &frame); err != nil {
			log.Printf("skipping malformed replay line: %v", err)
			continue
		}
		if !prev.IsZero() && frame.At.After(prev) {
			select {
			case <-time.After(frame.At.Sub(prev)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		prev = frame.At

		detections := make([]ppe.Detection, 0, len(frame.Detections))
		for i := range frame.Detections {
			detections = append(detections, frame.Detections[i].toDetection(ppe.CameraID(frame.Camera), frame.At))
		}
		if err := orch.Ingest(ppe.CameraID(frame.Camera), detections, time.Now()); err != nil {
			log.Printf("replay ingest: %v", err)
		}
	}
	return scanner.Err()
}

func buildOrchestrator(cfg *config.TuningConfig, sink pipeline.ViolationSink) (*pipeline.Orchestrator, error) {
	strategy, err := fuse.ParseStrategy(cfg.GetFusionStrategy(), cfg.GetCameraWeights(), cfg.GetDecisionThreshold())
	if err != nil {
		return nil, err
	}

	cameras := make([]pipeline.CameraConfig, 0, cfg.GetNumCameras())
	for cam := 0; cam < cfg.GetNumCameras(); cam++ {
		cameras = append(cameras, pipeline.CameraConfig{
			Camera: ppe.CameraID(cam),
			Tracker: tracks.Config{
				MaxAge:          cfg.GetMaxAge(),
				MinHits:         cfg.GetMinHits(),
				IoUThreshold:    cfg.GetIoUThreshold(),
				MaxHistory:      cfg.GetMaxHistory(),
				AppearanceAlpha: cfg.GetAppearanceAlpha(),
			},
			BufferSize:         cfg.GetBufferSize(),
			ViolationThreshold: cfg.GetViolationThreshold(),
			FrameWidth:         float64(cfg.GetFrameWidth()),
			FrameHeight:        float64(cfg.GetFrameHeight()),
			Zones:              cfg.GetZones(ppe.CameraID(cam)),
		})
	}

	return pipeline.NewOrchestrator(pipeline.Config{
		Cameras: cameras,
		Matcher: fuse.MatcherConfig{
			SpatialWeight:        cfg.GetSpatialWeight(),
			AppearanceWeight:     cfg.GetAppearanceWeight(),
			MaxDistanceThreshold: cfg.GetMaxDistanceThreshold(),
		},
		Strategy:      strategy,
		RequiredItems: cfg.GetRequiredItems(),
		TickInterval:  cfg.GetTickInterval(),
		TickTimeout:   cfg.GetTickTimeout(),
		Sink:          sink,
	})
}

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg := &config.TuningConfig{}
	if *configPath != "" {
		var err error
		cfg, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	store, err := sqlite.Open(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open violations database: %v", err)
	}
	defer store.Close()

	orch, err := buildOrchestrator(cfg, store)
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch.Start(ctx)
	defer orch.Stop()

	var wg sync.WaitGroup

	// drain and log published ticks
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case result := <-orch.Results():
				if result.Stats.Violations > 0 {
					log.Printf("tick %d: %d person(s), %d in violation, compliance %.1f%%",
						result.Tick, result.Stats.PersonsTracked,
						result.Stats.Violations, result.Stats.ComplianceRate)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	if *replayPath != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := replayFrames(ctx, *replayPath, orch); err != nil && err != context.Canceled {
				log.Printf("replay terminated: %v", err)
			}
		}()
	}

	// HTTP status server
	wg.Add(1)
	go func() {
		defer wg.Done()

		server := &http.Server{
			Addr:    *listen,
			Handler: api.NewServer(orch, store).ServeMux(),
		}

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("HTTP server shutdown: %v", err)
			}
		}()

		log.Printf("status API listening on %s", *listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server failed: %v", err)
		}
	}()

	wg.Wait()
}
