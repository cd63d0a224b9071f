package highlight

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/openstream/octane/internal/config"
	"github.com/openstream/octane/internal/domain"
)

type fakeLocker struct {
	acquired bool
	err      error
	acquires []string
	releases []string
	extends  []string
}

func (l *fakeLocker) Acquire(_ domain.Context, videoID string) (bool, error) {
	l.acquires = append(l.acquires, videoID)
	return l.acquired, l.err
}
func (l *fakeLocker) Release(_ domain.Context, videoID string) {
	l.releases = append(l.releases, videoID)
}
func (l *fakeLocker) Extend(_ domain.Context, videoID string, _ time.Duration) (bool, error) {
	l.extends = append(l.extends, videoID)
	return true, nil
}

type fakeBlob struct{}

func (fakeBlob) Upload(domain.Context, string, string) (string, error) { return "", nil }
func (fakeBlob) UploadBytes(domain.Context, string, []byte, string) (string, error) {
	return "", nil
}
func (fakeBlob) Download(domain.Context, string, string) error {
	return errors.New("object not found")
}

type fakeOutcomeBus struct {
	topics []string
	keys   []string
	events []domain.HighlightOutcomeEvent
}

func (b *fakeOutcomeBus) Publish(_ domain.Context, topic, key string, value any) error {
	b.topics = append(b.topics, topic)
	b.keys = append(b.keys, key)
	if ev, ok := value.(domain.HighlightOutcomeEvent); ok {
		b.events = append(b.events, ev)
	}
	return nil
}

type noopGateway struct{}

func (noopGateway) Embed(domain.Context, []string) ([][]float32, error) { return nil, nil }
func (noopGateway) Chat(domain.Context, string, string, string) (string, error) {
	return "{}", nil
}
func (noopGateway) Rerank(domain.Context, string, []domain.RerankDoc) ([]domain.RerankResult, error) {
	return nil, nil
}
func (noopGateway) AnalyzeQuery(domain.Context, string) (domain.QueryAnalysis, error) {
	return domain.QueryAnalysis{}, nil
}

func testTuning() config.HighlightConfig {
	t := config.DefaultHighlightConfig()
	// Limits high enough that the governor never throttles the test run.
	t.Governance.MaxCPUPercent = 101
	t.Governance.MaxMemoryMB = 1 << 20
	t.Governance.JobTimeout = 60
	return t
}

func newTestPipeline(locker *fakeLocker, bus *fakeOutcomeBus) *Pipeline {
	blob := fakeBlob{}
	cfg := config.Config{
		HighlightCompleteTopic: "video.highlights.complete",
		HighlightDegradedTopic: "video.highlights.degraded",
		HighlightFailedTopic:   "video.highlights.failed",
		SummaryModel:           "fast",
		LockTTL:                time.Minute,
	}
	return NewPipeline(locker, blob, bus, noopGateway{}, PathResolver{Blob: blob}, testTuning(), cfg)
}

func TestNewPipeline_EnvGovernanceLimitsWin(t *testing.T) {
	cfg := config.Config{
		MaxCPUPercent: 45,
		MaxMemoryMB:   512,
		JobTimeout:    600,
		LockTTL:       time.Minute,
	}
	blob := fakeBlob{}
	p := NewPipeline(&fakeLocker{}, blob, &fakeOutcomeBus{}, noopGateway{},
		PathResolver{Blob: blob}, config.DefaultHighlightConfig(), cfg)

	require.Equal(t, 45.0, p.Tuning.Governance.MaxCPUPercent)
	require.Equal(t, 512.0, p.Tuning.Governance.MaxMemoryMB)
	require.Equal(t, 600, p.Tuning.Governance.JobTimeout)
	require.Equal(t, cfg.GovernanceOverrides(), p.GovOverrides,
		"overrides also apply to per-job tuning files")

	// Without the env set, the tuning file's numbers stand.
	p = NewPipeline(&fakeLocker{}, blob, &fakeOutcomeBus{}, noopGateway{},
		PathResolver{Blob: blob}, config.DefaultHighlightConfig(), config.Config{LockTTL: time.Minute})
	require.Equal(t, 60.0, p.Tuning.Governance.MaxCPUPercent)
	require.Equal(t, 1800, p.Tuning.Governance.JobTimeout)
}

func record(value []byte) *kgo.Record {
	return &kgo.Record{Topic: "video.highlights.request", Value: value}
}

func TestHandle_DropsMalformedPayload(t *testing.T) {
	locker := &fakeLocker{acquired: true}
	bus := &fakeOutcomeBus{}
	p := newTestPipeline(locker, bus)

	err := p.Handle(context.Background(), record([]byte("{broken")))
	require.NoError(t, err, "malformed requests commit, redelivery cannot fix them")
	require.Empty(t, locker.acquires)
	require.Empty(t, bus.topics)
}

func TestHandle_DropsPayloadWithMissingFields(t *testing.T) {
	locker := &fakeLocker{acquired: true}
	bus := &fakeOutcomeBus{}
	p := newTestPipeline(locker, bus)

	body, _ := json.Marshal(domain.HighlightJobPayload{VideoID: "vid-1"})
	err := p.Handle(context.Background(), record(body))
	require.NoError(t, err)
	require.Empty(t, locker.acquires)
}

func TestHandle_LockContentionSkips(t *testing.T) {
	locker := &fakeLocker{acquired: false}
	bus := &fakeOutcomeBus{}
	p := newTestPipeline(locker, bus)

	body, _ := json.Marshal(domain.HighlightJobPayload{
		VideoID: "vid-1", Proxy480pPath: "/media/proxy.mp4",
	})
	err := p.Handle(context.Background(), record(body))
	require.NoError(t, err, "another worker owns the job; commit and move on")
	require.Equal(t, []string{"vid-1"}, locker.acquires)
	require.Empty(t, locker.releases)
	require.Empty(t, bus.topics)
}

func TestHandle_LockBackendErrorLeavesRecordUncommitted(t *testing.T) {
	locker := &fakeLocker{err: errors.New("redis down")}
	bus := &fakeOutcomeBus{}
	p := newTestPipeline(locker, bus)

	body, _ := json.Marshal(domain.HighlightJobPayload{
		VideoID: "vid-1", Proxy480pPath: "/media/proxy.mp4",
	})
	err := p.Handle(context.Background(), record(body))
	require.Error(t, err, "infrastructure failures must trigger redelivery")
}

func TestHandle_UnfetchableProxyEmitsFailedOutcome(t *testing.T) {
	locker := &fakeLocker{acquired: true}
	bus := &fakeOutcomeBus{}
	p := newTestPipeline(locker, bus)

	body, _ := json.Marshal(domain.HighlightJobPayload{
		VideoID: "vid-1", Proxy480pPath: "/nonexistent/proxy.mp4",
	})
	err := p.Handle(context.Background(), record(body))
	require.NoError(t, err, "terminal failures still commit after the event")

	require.Equal(t, []string{"video.highlights.failed"}, bus.topics)
	require.Equal(t, []string{"vid-1"}, bus.keys)
	require.Len(t, bus.events, 1)
	ev := bus.events[0]
	require.Equal(t, "vid-1", ev.VideoID)
	require.NotEmpty(t, ev.Error)
	require.Zero(t, ev.ClipCount)

	require.Equal(t, []string{"vid-1"}, locker.releases, "the lock is released on failure")
}
