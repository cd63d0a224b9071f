package highlight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openstream/octane/internal/adapter/ai"
	"github.com/openstream/octane/internal/adapter/observability"
	"github.com/openstream/octane/internal/config"
	"github.com/openstream/octane/internal/domain"
	"github.com/openstream/octane/internal/highlight/signals"
)

// Job states, logged at every transition.
const (
	StateReceived     = "RECEIVED"
	StateLocked       = "LOCKED"
	StateProbing      = "PROBING"
	StateSignalPass1  = "SIGNAL_PASS_1"
	StateSignalPass2  = "SIGNAL_PASS_2"
	StateScoring      = "SCORING"
	StateConsolidated = "CONSOLIDATED"
	StateEmpty        = "EMPTY"
	StateExtracting   = "EXTRACTING"
	StateEnriching    = "ENRICHING"
	StateUploading    = "UPLOADING"
	StateComplete     = "COMPLETE"
	StateDegraded     = "DEGRADED"
	StateFailed       = "FAILED"
)

// Pipeline runs one highlight job end to end: lock, probe, two signal
// passes, score, consolidate, extract, title, upload, and emit the outcome
// event. One Pipeline serves the whole worker process; jobs run one at a
// time off the consumer loop.
type Pipeline struct {
	Locker  domain.Locker
	Blob    domain.BlobStore
	Bus     domain.Bus
	AI      domain.AIGateway
	Cleaner *ai.ResponseCleaner

	Resolver  PathResolver
	Tuning    config.HighlightConfig
	Detectors []signals.Detector

	// GovOverrides are resource limits from the process environment; they
	// win over any tuning file, per-job overrides included.
	GovOverrides config.GovernanceConfig

	CompleteTopic string
	DegradedTopic string
	FailedTopic   string
	TitleModel    string

	// LockHeartbeat is how often a running job pushes the lock expiry out,
	// so jobs longer than the TTL keep their lock.
	LockHeartbeat time.Duration

	tracer trace.Tracer
}

// NewPipeline wires a Pipeline with the default detector registry.
func NewPipeline(locker domain.Locker, blob domain.BlobStore, bus domain.Bus, gateway domain.AIGateway, resolver PathResolver, tuning config.HighlightConfig, cfg config.Config) *Pipeline {
	return &Pipeline{
		Locker:        locker,
		Blob:          blob,
		Bus:           bus,
		AI:            gateway,
		Cleaner:       ai.NewResponseCleaner(),
		Resolver:      resolver,
		Tuning:        tuning.ApplyGovernanceOverrides(cfg.GovernanceOverrides()),
		GovOverrides:  cfg.GovernanceOverrides(),
		Detectors:     signals.Registry(),
		CompleteTopic: cfg.HighlightCompleteTopic,
		DegradedTopic: cfg.HighlightDegradedTopic,
		FailedTopic:   cfg.HighlightFailedTopic,
		TitleModel:    cfg.SummaryModel,
		LockHeartbeat: cfg.LockTTL / 2,
		tracer:        otel.Tracer("highlight.pipeline"),
	}
}

// Handle processes one highlight request off the bus. A nil return commits
// the record: malformed payloads are dropped, lock contention is silently
// skipped, and terminal failures still commit after the FAILED event is
// emitted. Only infrastructure errors (lock backend down, shutdown mid-job)
// leave the record uncommitted for redelivery.
func (p *Pipeline) Handle(ctx context.Context, record *kgo.Record) error {
	var payload domain.HighlightJobPayload
	if err := json.Unmarshal(record.Value, &payload); err != nil {
		slog.Error("dropping malformed highlight request",
			slog.Int64("offset", record.Offset), slog.Any("error", err))
		return nil
	}
	if payload.VideoID == "" || payload.Proxy480pPath == "" {
		slog.Error("dropping highlight request with missing fields",
			slog.String("video_id", payload.VideoID))
		return nil
	}
	p.transition(payload.VideoID, StateReceived)

	acquired, err := p.Locker.Acquire(ctx, payload.VideoID)
	if err != nil {
		return fmt.Errorf("op=highlight.Handle: lock: %w", err)
	}
	if !acquired {
		// Another worker owns this video; commit and move on.
		return nil
	}
	p.transition(payload.VideoID, StateLocked)
	defer p.Locker.Release(context.WithoutCancel(ctx), payload.VideoID)

	// Heartbeat keeps the lock alive for jobs that outlive the base TTL.
	if p.LockHeartbeat > 0 {
		hbCtx, hbStop := context.WithCancel(ctx)
		defer hbStop()
		go func() {
			ticker := time.NewTicker(p.LockHeartbeat)
			defer ticker.Stop()
			for {
				select {
				case <-hbCtx.Done():
					return
				case <-ticker.C:
					if ok, hbErr := p.Locker.Extend(hbCtx, payload.VideoID, p.LockHeartbeat); hbErr != nil || !ok {
						slog.Warn("lock heartbeat failed",
							slog.String("video_id", payload.VideoID), slog.Any("error", hbErr))
					}
				}
			}
		}()
	}

	tuning := p.Tuning
	if payload.ConfigPath != "" {
		if loaded, cfgErr := config.LoadHighlightConfig(p.Resolver.Resolve(payload.ConfigPath)); cfgErr != nil {
			slog.Warn("per-job tuning rejected, using worker defaults", slog.Any("error", cfgErr))
		} else {
			tuning = loaded.ApplyGovernanceOverrides(p.GovOverrides)
		}
	}

	timeout := time.Duration(tuning.Governance.JobTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	event, runErr := p.run(jobCtx, payload, tuning, start)
	if runErr != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			// Shutdown mid-job: no outcome event, record stays uncommitted.
			return fmt.Errorf("op=highlight.Handle: cancelled: %w", runErr)
		}
		p.transition(payload.VideoID, StateFailed)
		observability.HighlightJobsTotal.WithLabelValues("failed").Inc()
		failEvent := domain.HighlightOutcomeEvent{
			VideoID:    payload.VideoID,
			DurationMs: time.Since(start).Milliseconds(),
			Warnings:   []string{},
			Error:      runErr.Error(),
		}
		slog.Error("highlight job failed",
			slog.String("video_id", payload.VideoID), slog.Any("error", runErr))
		p.publish(ctx, p.FailedTopic, payload.VideoID, failEvent)
		return nil
	}

	switch {
	case event.ClipCount == 0:
		p.transition(payload.VideoID, StateEmpty)
		observability.HighlightJobsTotal.WithLabelValues("empty").Inc()
		p.publish(ctx, p.CompleteTopic, payload.VideoID, event)
	case len(event.Warnings) == 0:
		p.transition(payload.VideoID, StateComplete)
		observability.HighlightJobsTotal.WithLabelValues("complete").Inc()
		p.publish(ctx, p.CompleteTopic, payload.VideoID, event)
	default:
		p.transition(payload.VideoID, StateDegraded)
		observability.HighlightJobsTotal.WithLabelValues("degraded").Inc()
		p.publish(ctx, p.DegradedTopic, payload.VideoID, event)
	}
	return nil
}

func (p *Pipeline) run(ctx context.Context, payload domain.HighlightJobPayload, tuning config.HighlightConfig, start time.Time) (domain.HighlightOutcomeEvent, error) {
	ctx, span := p.tracer.Start(ctx, "highlight.run",
		trace.WithAttributes(attribute.String("video_id", payload.VideoID)))
	defer span.End()

	warnings := []string{}
	event := domain.HighlightOutcomeEvent{VideoID: payload.VideoID, Warnings: warnings}

	governor := NewGovernor(tuning.Governance)
	ApplyNice(tuning.Governance.NicePriority)

	downloadDir, err := os.MkdirTemp("", "highlight_"+payload.VideoID+"_dl_")
	if err != nil {
		return event, fmt.Errorf("op=highlight.run: %w", err)
	}
	defer func() { _ = os.RemoveAll(downloadDir) }()

	if err := governor.WaitUntilSafe(ctx); err != nil {
		return event, err
	}

	proxyPath, err := p.localizeInput(ctx, payload.Proxy480pPath, filepath.Join(downloadDir, "proxy.mp4"))
	if err != nil {
		return event, fmt.Errorf("op=highlight.run: proxy: %w", err)
	}

	// The source video gives the extraction full quality; fall back to the
	// proxy when it cannot be fetched.
	sourcePath := proxyPath
	if payload.SourceVideoPath != "" {
		sp, srcErr := p.localizeInput(ctx, payload.SourceVideoPath, filepath.Join(downloadDir, "source.mp4"))
		if srcErr != nil {
			slog.Warn("source video unavailable, extracting from proxy",
				slog.String("video_id", payload.VideoID), slog.Any("error", srcErr))
		} else {
			sourcePath = sp
		}
	}

	p.transition(payload.VideoID, StateProbing)
	duration, err := ProbeDuration(ctx, proxyPath)
	if err != nil {
		return event, fmt.Errorf("op=highlight.run: %w", err)
	}
	if duration <= 0 {
		return event, fmt.Errorf("op=highlight.run: invalid video duration %g", duration)
	}

	vttPath := p.Resolver.FindVTT(ctx, payload.VideoID)
	event.VTTUsed = vttPath != ""

	in := signals.Input{
		ProxyPath: proxyPath,
		VTTPath:   vttPath,
		ChatPath:  p.Resolver.Resolve(payload.ChatPath),
		Duration:  duration,
	}

	// Pass 1: cheap detectors over the whole timeline. A detector failure
	// costs its signal, never the job.
	p.transition(payload.VideoID, StateSignalPass1)
	outputs := map[string]domain.SignalScores{}
	weights := map[string]float64{}
	for _, det := range p.Detectors {
		sigCfg := tuning.Signal(det.Name())
		if det.Expensive() || !sigCfg.Enabled {
			continue
		}
		if err := governor.WaitUntilSafe(ctx); err != nil {
			return event, err
		}
		weights[det.Name()] = sigCfg.Weight
		sigStart := time.Now()
		result, detErr := det.Detect(ctx, in, sigCfg)
		if detErr != nil {
			slog.Error("signal failed",
				slog.String("signal", det.Name()), slog.Any("error", detErr))
			continue
		}
		outputs[det.Name()] = result
		slog.Info("signal complete",
			slog.String("signal", det.Name()),
			slog.Duration("elapsed", time.Since(sigStart)))
	}

	// Candidate seconds for the expensive pass: everything scoring over 0.1
	// so far, padded ±5s.
	candidateSet := map[int]bool{}
	for sec, agg := range ComputeScores(outputs, weights, int(duration)) {
		if agg.Total >= 0.1 {
			for buf := sec - 5; buf < sec+6; buf++ {
				if buf >= 0 && buf < int(duration) {
					candidateSet[buf] = true
				}
			}
		}
	}

	p.transition(payload.VideoID, StateSignalPass2)
	for _, det := range p.Detectors {
		sigCfg := tuning.Signal(det.Name())
		if !det.Expensive() || !sigCfg.Enabled {
			continue
		}
		if err := governor.WaitUntilSafe(ctx); err != nil {
			return event, err
		}
		weights[det.Name()] = sigCfg.Weight
		targets := make([]int, 0, len(candidateSet))
		for sec := range candidateSet {
			targets = append(targets, sec)
		}
		sort.Ints(targets)
		targetIn := in
		targetIn.TargetSeconds = targets
		result, detErr := det.Detect(ctx, targetIn, sigCfg)
		if detErr != nil {
			slog.Error("signal failed",
				slog.String("signal", det.Name()), slog.Any("error", detErr))
			continue
		}
		outputs[det.Name()] = result
	}

	p.transition(payload.VideoID, StateScoring)
	aggregate := ComputeScores(outputs, weights, int(duration))
	qualified := QualifySeconds(aggregate, tuning.Scoring.QualificationThreshold)

	event.DurationMs = time.Since(start).Milliseconds()
	if len(qualified) == 0 {
		slog.Info("no qualifying seconds, zero clips", slog.String("video_id", payload.VideoID))
		return event, nil
	}

	clips := Consolidate(qualified, tuning.Scoring)
	p.transition(payload.VideoID, StateConsolidated)
	if len(clips) == 0 {
		event.DurationMs = time.Since(start).Milliseconds()
		return event, nil
	}

	if err := governor.WaitUntilSafe(ctx); err != nil {
		return event, err
	}
	tempDir, err := os.MkdirTemp("", "highlight_"+payload.VideoID+"_")
	if err != nil {
		return event, fmt.Errorf("op=highlight.run: %w", err)
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	p.transition(payload.VideoID, StateExtracting)
	extractor := Extractor{Cfg: tuning.Extraction}
	extracted := extractor.ExtractAll(ctx, sourcePath, clips, tempDir)
	if len(extracted) == 0 {
		return event, fmt.Errorf("op=highlight.run: no clips could be extracted")
	}
	if len(extracted) < len(clips) {
		warnings = append(warnings, fmt.Sprintf("extraction skipped %d of %d clips", len(clips)-len(extracted), len(clips)))
	}

	// Snapshot each detector's score at the clip peak; the titling prompt
	// and the manifest both use it.
	for i := range extracted {
		sigs := make(map[string]float64, len(outputs))
		for name, scores := range outputs {
			sigs[name] = scores[extracted[i].PeakSecond]
		}
		extracted[i].Signals = sigs
	}

	p.transition(payload.VideoID, StateEnriching)
	vttContent := ""
	if vttPath != "" {
		if b, readErr := os.ReadFile(vttPath); readErr == nil {
			vttContent = string(b)
		}
	}
	detectedText := map[int][]string{}
	for _, det := range p.Detectors {
		if tr, ok := det.(signals.TextReporter); ok {
			for sec, terms := range tr.DetectedText() {
				detectedText[sec] = append(detectedText[sec], terms...)
			}
		}
	}
	enricher := Enricher{AI: p.AI, Cleaner: p.Cleaner, Model: p.TitleModel}
	extracted, err = enricher.EnrichClips(ctx, extracted,
		payload.VideoTitle, payload.VideoDescription, payload.VideoCategory, vttContent, detectedText)
	if err != nil {
		warnings = append(warnings, "enrichment partial failure: "+err.Error())
	}

	p.transition(payload.VideoID, StateUploading)
	for i := range extracted {
		clipKey := fmt.Sprintf("highlights/%s/%s", payload.VideoID, filepath.Base(extracted[i].ClipPath))
		if url, upErr := p.Blob.Upload(ctx, clipKey, extracted[i].ClipPath); upErr != nil {
			warnings = append(warnings, fmt.Sprintf("clip %d upload failed: %v", extracted[i].Index, upErr))
		} else {
			extracted[i].ClipURL = url
		}
		if extracted[i].ThumbnailPath != "" {
			thumbKey := fmt.Sprintf("highlights/%s/%s", payload.VideoID, filepath.Base(extracted[i].ThumbnailPath))
			if url, upErr := p.Blob.Upload(ctx, thumbKey, extracted[i].ThumbnailPath); upErr != nil {
				warnings = append(warnings, fmt.Sprintf("thumbnail %d upload failed: %v", extracted[i].Index, upErr))
			} else {
				extracted[i].ThumbnailURL = url
			}
		}
		// Local paths are worker-temp only; keep them out of the manifest.
		extracted[i].ClipPath = ""
		extracted[i].ThumbnailPath = ""
	}

	manifest := domain.HighlightsManifest{VideoID: payload.VideoID, Clips: extracted}
	manifestBytes, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return event, fmt.Errorf("op=highlight.run: marshal manifest: %w", err)
	}
	manifestKey := fmt.Sprintf("highlights/%s/highlights.json", payload.VideoID)
	if _, err := p.Blob.UploadBytes(ctx, manifestKey, manifestBytes, "application/json"); err != nil {
		return event, fmt.Errorf("op=highlight.run: upload manifest: %w", err)
	}

	observability.HighlightClipsTotal.Add(float64(len(extracted)))

	event.ClipCount = len(extracted)
	event.HighlightsJSONPath = manifestKey
	event.Warnings = warnings
	event.DurationMs = time.Since(start).Milliseconds()

	slog.Info("highlight job finished",
		slog.String("video_id", payload.VideoID),
		slog.Int("clips", len(extracted)),
		slog.Int("warnings", len(warnings)),
		slog.Int64("duration_ms", event.DurationMs))
	return event, nil
}

// localizeInput resolves a payload path to something ffmpeg can open,
// downloading through the resolver when it is a storage key.
func (p *Pipeline) localizeInput(ctx context.Context, storagePath, downloadPath string) (string, error) {
	resolved := p.Resolver.Resolve(storagePath)
	if IsURL(resolved) || fileExists(resolved) {
		return resolved, nil
	}
	if err := p.Resolver.Fetch(ctx, storagePath, downloadPath); err != nil {
		return "", err
	}
	return downloadPath, nil
}

func (p *Pipeline) publish(ctx context.Context, topic, videoID string, event domain.HighlightOutcomeEvent) {
	if err := p.Bus.Publish(context.WithoutCancel(ctx), topic, videoID, event); err != nil {
		slog.Error("outcome event publish failed",
			slog.String("topic", topic),
			slog.String("video_id", videoID),
			slog.Any("error", err))
	}
}

func (p *Pipeline) transition(videoID, state string) {
	slog.Info("highlight state",
		slog.String("video_id", videoID), slog.String("state", state))
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
