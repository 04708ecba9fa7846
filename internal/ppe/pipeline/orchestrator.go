package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sitewatch-data/compliance.report/internal/monitoring"
	"github.com/sitewatch-data/compliance.report/internal/ppe"
	"github.com/sitewatch-data/compliance.report/internal/ppe/fuse"
	"github.com/sitewatch-data/compliance.report/internal/ppe/tracks"
	"github.com/sitewatch-data/compliance.report/internal/timeutil"
)

// defaultFrameQueue is the per-camera frame buffer depth. A full queue
// drops the incoming frame rather than reordering or blocking the caller.
const defaultFrameQueue = 32

// ViolationEvent is the persisted record of a fused violation onset.
type ViolationEvent struct {
	ID              string          `json:"event_id"`
	OccurredAt      time.Time       `json:"occurred_at"`
	Members         []fuse.TrackRef `json:"members"`
	MissingItems    []string        `json:"missing_items"`
	MatchConfidence float64         `json:"match_confidence"`
}

// ViolationSink receives violation onsets for persistence or alerting.
// Implementations must not retain the event's slices past the call.
type ViolationSink interface {
	RecordViolation(ev ViolationEvent) error
}

// Stats aggregates one tick's headline numbers.
type Stats struct {
	PersonsTracked int     `json:"persons_tracked"`
	Violations     int     `json:"violations"`
	MatchedGroups  int     `json:"matched_groups"`
	CameraOnly     int     `json:"camera_only"`
	ComplianceRate float64 `json:"compliance_rate"`
}

// TickResult is the published output of one fusion tick. Once published it
// is never mutated; every slice and record inside is a fresh copy.
type TickResult struct {
	Tick             int64              `json:"tick"`
	Timestamp        time.Time          `json:"timestamp"`
	Records          []fuse.FusedRecord `json:"records"`
	CamerasReporting []ppe.CameraID     `json:"cameras_reporting"`
	CamerasMissing   []ppe.CameraID     `json:"cameras_missing,omitempty"`
	Stats            Stats              `json:"stats"`
}

// Config assembles the whole multi-camera pipeline.
type Config struct {
	Cameras       []CameraConfig
	Matcher       fuse.MatcherConfig
	Strategy      fuse.Strategy
	RequiredItems []string
	TickInterval  time.Duration
	TickTimeout   time.Duration
	Clock         timeutil.Clock // nil means the real clock
	Sink          ViolationSink  // optional
}

// frameBatch is one camera frame in flight to its worker.
type frameBatch struct {
	detections []ppe.Detection
	at         time.Time
}

// camSnapshot is one camera's reply at the tick barrier.
type camSnapshot struct {
	camera ppe.CameraID
	views  []fuse.PersonView
}

// cameraWorker runs one camera pipeline on its own goroutine. Frames are
// processed strictly in arrival order; snapshot requests drain any queued
// frames first so the reply reflects everything ingested before the tick.
type cameraWorker struct {
	pipeline *CameraPipeline
	frames   chan frameBatch
	snaps    chan chan camSnapshot

	// stallSnapshots, when non-nil, is waited on before answering a
	// snapshot request. Test hook for the barrier-timeout path.
	stallSnapshots chan struct{}
}

func (w *cameraWorker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch := <-w.frames:
			w.pipeline.ProcessFrame(batch.detections, batch.at)
		case reply := <-w.snaps:
		drain:
			for {
				select {
				case batch := <-w.frames:
					w.pipeline.ProcessFrame(batch.detections, batch.at)
				default:
					break drain
				}
			}
			if w.stallSnapshots != nil {
				select {
				case <-w.stallSnapshots:
				case <-ctx.Done():
					return
				}
			}
			reply <- camSnapshot{camera: w.pipeline.Camera(), views: w.pipeline.Snapshot()}
		}
	}
}

// Orchestrator drives the per-camera pipelines and the fusion tick loop.
// It publishes TickResults in strictly increasing tick order: the loop is
// single-threaded, so tick T is fully published before T+1 begins.
type Orchestrator struct {
	cfg     Config
	clock   timeutil.Clock
	matcher *fuse.Matcher
	workers map[ppe.CameraID]*cameraWorker

	out chan TickResult

	mu        sync.Mutex
	tick      int64
	latest    *TickResult
	violating map[string]bool // group key → violating at previous tick
	started   bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewOrchestrator validates the full configuration and assembles the
// pipelines. Any configuration error is fatal here, before anything runs.
func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if len(cfg.Cameras) == 0 {
		return nil, fmt.Errorf("%w: at least one camera required", ppe.ErrConfig)
	}
	if len(cfg.RequiredItems) == 0 {
		return nil, fmt.Errorf("%w: required protective item set is empty", ppe.ErrConfig)
	}
	if cfg.TickInterval <= 0 {
		return nil, fmt.Errorf("%w: tick_interval must be positive, got %v", ppe.ErrConfig, cfg.TickInterval)
	}
	if cfg.TickTimeout <= 0 || cfg.TickTimeout >= cfg.TickInterval {
		return nil, fmt.Errorf("%w: tick_timeout %v must be positive and below tick_interval %v",
			ppe.ErrConfig, cfg.TickTimeout, cfg.TickInterval)
	}
	matcher, err := fuse.NewMatcher(cfg.Matcher)
	if err != nil {
		return nil, err
	}

	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	workers := make(map[ppe.CameraID]*cameraWorker, len(cfg.Cameras))
	for _, camCfg := range cfg.Cameras {
		if _, dup := workers[camCfg.Camera]; dup {
			return nil, fmt.Errorf("%w: duplicate camera id %d", ppe.ErrConfig, camCfg.Camera)
		}
		p, err := NewCameraPipeline(camCfg, cfg.RequiredItems)
		if err != nil {
			return nil, fmt.Errorf("camera %d: %w", camCfg.Camera, err)
		}
		workers[camCfg.Camera] = &cameraWorker{
			pipeline: p,
			frames:   make(chan frameBatch, defaultFrameQueue),
			snaps:    make(chan chan camSnapshot),
		}
	}

	return &Orchestrator{
		cfg:       cfg,
		clock:     clock,
		matcher:   matcher,
		workers:   workers,
		out:       make(chan TickResult, 16),
		violating: make(map[string]bool),
	}, nil
}

// Start launches the camera workers and the fusion tick loop.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return
	}
	o.started = true
	ctx, o.cancel = context.WithCancel(ctx)
	o.done = make(chan struct{})
	o.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range o.workers {
		wg.Add(1)
		go func(w *cameraWorker) {
			defer wg.Done()
			w.run(ctx)
		}(w)
	}

	go func() {
		defer close(o.done)
		ticker := o.clock.NewTicker(o.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				wg.Wait()
				return
			case now := <-ticker.C():
				o.runTick(ctx, now)
			}
		}
	}()
}

// Stop cancels the workers and waits for the tick loop to exit.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	cancel, done := o.cancel, o.done
	o.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Ingest queues one camera frame for processing. Frames for a camera are
// processed strictly in the order ingested. A full queue drops the frame
// with a log line — dropping is preferred to blocking the detector or
// reordering.
func (o *Orchestrator) Ingest(camera ppe.CameraID, detections []ppe.Detection, at time.Time) error {
	w, ok := o.workers[camera]
	if !ok {
		return fmt.Errorf("%w: unknown camera id %d", ppe.ErrInput, camera)
	}
	select {
	case w.frames <- frameBatch{detections: detections, at: at}:
		return nil
	default:
		monitoring.Logf("[orchestrator] camera %d frame queue full, dropping frame at %v", camera, at)
		return nil
	}
}

// Results returns the ordered stream of published tick results.
func (o *Orchestrator) Results() <-chan TickResult {
	return o.out
}

// LatestTick returns a copy of the most recently published tick, or nil
// before the first tick.
func (o *Orchestrator) LatestTick() *TickResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.latest == nil {
		return nil
	}
	copied := *o.latest
	return &copied
}

// TrackSnapshots returns raw per-camera track state for display.
func (o *Orchestrator) TrackSnapshots() map[ppe.CameraID][]tracks.Track {
	out := make(map[ppe.CameraID][]tracks.Track, len(o.workers))
	for cam, w := range o.workers {
		out[cam] = w.pipeline.Tracks()
	}
	return out
}

// runTick gathers every camera's current snapshot at the barrier, bounded
// by the tick timeout, then matches, fuses, and publishes. Late cameras
// are marked non-reporting and the tick proceeds without them.
func (o *Orchestrator) runTick(ctx context.Context, now time.Time) {
	type pending struct {
		camera ppe.CameraID
		reply  chan camSnapshot
	}

	requests := make([]pending, 0, len(o.workers))
	for cam, w := range o.workers {
		reply := make(chan camSnapshot, 1)
		select {
		case w.snaps <- reply:
			requests = append(requests, pending{camera: cam, reply: reply})
		case <-ctx.Done():
			return
		}
	}

	// The timeout channel fires exactly once; once it has, the deadline is
	// expired for every remaining camera, so the rest of the barrier only
	// polls for replies that already arrived.
	timeout := o.clock.After(o.cfg.TickTimeout)
	timedOut := false
	var views []fuse.PersonView
	var reporting, missing []ppe.CameraID
	for _, req := range requests {
		if timedOut {
			select {
			case snap := <-req.reply:
				reporting = append(reporting, snap.camera)
				views = append(views, snap.views...)
			default:
				missing = append(missing, req.camera)
			}
			continue
		}
		select {
		case snap := <-req.reply:
			reporting = append(reporting, snap.camera)
			views = append(views, snap.views...)
		case <-timeout:
			timedOut = true
			missing = append(missing, req.camera)
		case <-ctx.Done():
			return
		}
	}
	if len(missing) > 0 {
		sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
		monitoring.Logf("[orchestrator] %v: proceeding without cameras %v", ppe.ErrTickTimeout, missing)
	}
	sort.Slice(reporting, func(i, j int) bool { return reporting[i] < reporting[j] })

	result := o.fuseTick(views, reporting, missing, now)

	o.mu.Lock()
	o.latest = &result
	o.mu.Unlock()

	select {
	case o.out <- result:
	default:
		monitoring.Logf("[orchestrator] result channel full, dropping tick %d", result.Tick)
	}
}

// fuseTick matches the tick's views into groups and fuses each one.
func (o *Orchestrator) fuseTick(views []fuse.PersonView, reporting, missing []ppe.CameraID, now time.Time) TickResult {
	byRef := make(map[fuse.TrackRef]fuse.PersonView, len(views))
	for _, v := range views {
		byRef[v.Ref()] = v
	}

	groups := o.matcher.Match(views)

	o.mu.Lock()
	o.tick++
	result := TickResult{
		Tick:             o.tick,
		Timestamp:        now,
		CamerasReporting: reporting,
		CamerasMissing:   missing,
	}
	o.mu.Unlock()

	nowViolating := make(map[string]bool, len(groups))
	for _, group := range groups {
		record := fuse.Fuse(group, byRef, o.cfg.RequiredItems, o.cfg.Strategy, now)
		result.Records = append(result.Records, record)

		key := groupKey(group)
		nowViolating[key] = record.Violation
		if record.Violation {
			result.Stats.Violations++
		}
		if group.CameraOnly {
			result.Stats.CameraOnly++
		} else {
			result.Stats.MatchedGroups++
		}
		o.notifyOnset(key, record, now)
	}
	result.Stats.PersonsTracked = len(groups)
	if len(groups) > 0 {
		result.Stats.ComplianceRate = float64(len(groups)-result.Stats.Violations) / float64(len(groups)) * 100
	} else {
		result.Stats.ComplianceRate = 100
	}

	o.mu.Lock()
	o.violating = nowViolating
	o.mu.Unlock()
	return result
}

// notifyOnset forwards a violation to the sink the first tick it appears
// for a group; sustained violations are not re-recorded every tick.
func (o *Orchestrator) notifyOnset(key string, record fuse.FusedRecord, now time.Time) {
	if o.cfg.Sink == nil || !record.Violation {
		return
	}
	o.mu.Lock()
	was := o.violating[key]
	o.mu.Unlock()
	if was {
		return
	}
	ev := ViolationEvent{
		ID:              uuid.NewString(),
		OccurredAt:      now,
		Members:         append([]fuse.TrackRef(nil), record.Group.Members...),
		MissingItems:    append([]string(nil), record.MissingItems...),
		MatchConfidence: record.Group.Confidence,
	}
	if err := o.cfg.Sink.RecordViolation(ev); err != nil {
		monitoring.Logf("[orchestrator] recording violation %s failed: %v", ev.ID, err)
	}
}

// groupKey is a stable identity for a matched group within consecutive
// ticks, built from its sorted member refs.
func groupKey(group fuse.MatchedGroup) string {
	var b strings.Builder
	for i, ref := range group.Members {
		if i > 0 {
			b.WriteByte('|')
		}
		fmt.Fprintf(&b, "%d:%d", ref.Camera, ref.TrackID)
	}
	return b.String()
}
