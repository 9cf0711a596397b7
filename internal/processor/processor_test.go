package processor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kb5jfs/pmud/internal/freqrocof"
	"github.com/kb5jfs/pmud/internal/pmutime"
	"github.com/kb5jfs/pmud/internal/sdft"
	"github.com/kb5jfs/pmud/internal/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource feeds a fixed slice of samples one at a time, then reports
// ErrSourceExhausted, mirroring a FileSource replay.
type fakeSource struct {
	samples []pmutime.Sample
	pos     int
}

func (f *fakeSource) Read(ctx context.Context) ([]pmutime.Sample, error) {
	if f.pos >= len(f.samples) {
		return nil, source.ErrSourceExhausted
	}
	s := f.samples[f.pos]
	f.pos++
	return []pmutime.Sample{s}, nil
}

func (f *fakeSource) Close() error { return nil }

// fakeSink records every (Sample, Estimation) pair it is handed, in order.
type fakeSink struct {
	mu       sync.Mutex
	samples  []pmutime.Sample
	estimate []pmutime.Estimation
}

func (f *fakeSink) Publish(sample pmutime.Sample, estimation pmutime.Estimation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, sample)
	f.estimate = append(f.estimate, estimation)
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.samples)
}

// fakeServer is a RestartableServer whose Run blocks until Stop is called,
// standing in for pmuserver.Server in replace_phasor_server() tests.
type fakeServer struct {
	fakeSink
	stop chan struct{}
	once sync.Once
}

func newFakeServer() *fakeServer {
	return &fakeServer{stop: make(chan struct{})}
}

func (f *fakeServer) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.stop:
		return nil
	}
}

func (f *fakeServer) Stop() {
	f.once.Do(func() { close(f.stop) })
}

func newTestProcessor(t *testing.T, samples []pmutime.Sample) (*Processor, *fakeSource) {
	t.Helper()
	sdftEstimator, err := sdft.New(1200, 50)
	require.NoError(t, err)
	src := &fakeSource{samples: samples}
	return New(src, sdftEstimator, freqrocof.New()), src
}

func sampleAt(seq uint64, tsUs int64) pmutime.Sample {
	return pmutime.Sample{
		Seq:       seq,
		Channels:  [pmutime.NumSignals]uint16{100, 100, 100, 10, 10, 10},
		Timestamp: tsUs,
		TimeDelta: 833,
	}
}

func TestRunPublishesEachSampleToSink(t *testing.T) {
	samples := []pmutime.Sample{sampleAt(1, 1000), sampleAt(2, 1833), sampleAt(3, 2666)}
	p, _ := newTestProcessor(t, samples)

	sink := &fakeSink{}
	p.SetSink(sink)

	err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, sink.count())
	assert.Equal(t, samples[2], sink.samples[2])
}

func TestRunStopsOnSourceExhausted(t *testing.T) {
	p, _ := newTestProcessor(t, []pmutime.Sample{sampleAt(1, 1000)})
	err := p.Run(context.Background())
	assert.NoError(t, err)
}

func TestRunReturnsContextError(t *testing.T) {
	p, _ := newTestProcessor(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIngestShiftsSampleStore(t *testing.T) {
	p, _ := newTestProcessor(t, nil)

	for i := 0; i < sampleStoreSize+5; i++ {
		p.ingest(sampleAt(uint64(i), int64(i)*833))
	}

	store := p.CurrentSampleStore()
	assert.Equal(t, uint64(sampleStoreSize+4), store[sampleStoreSize-1].Seq)
	assert.Equal(t, uint64(5), store[0].Seq)

	last, est := p.GetCurrent()
	assert.Equal(t, uint64(sampleStoreSize+4), last.Seq)
	assert.NotNil(t, est.Phasors)
}

func TestIngestPublishesUnderNoLockContention(t *testing.T) {
	p, _ := newTestProcessor(t, nil)
	sink := &fakeSink{}
	p.SetSink(sink)

	p.ingest(sampleAt(1, 1000))
	p.ingest(sampleAt(2, 1833))

	require.Equal(t, 2, sink.count())
	assert.Equal(t, p.CurrentEstimation(), sink.estimate[1])
}

func TestStopEndsRunLoop(t *testing.T) {
	src := &infiniteSource{}
	sdftEstimator, err := sdft.New(1200, 50)
	require.NoError(t, err)
	p := New(src, sdftEstimator, freqrocof.New())

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	p.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after Stop()")
	}
}

// infiniteSource always returns one sample and never exhausts, so a test
// can rely on Stop()'s keepRunning flag, rather than exhaustion, to end Run.
type infiniteSource struct {
	seq uint64
}

func (s *infiniteSource) Read(ctx context.Context) ([]pmutime.Sample, error) {
	s.seq++
	return []pmutime.Sample{sampleAt(s.seq, int64(s.seq)*833)}, nil
}

func (s *infiniteSource) Close() error { return nil }

func TestStartPhasorServerInstallsSinkAndRuns(t *testing.T) {
	p, _ := newTestProcessor(t, nil)
	srv := newFakeServer()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p.StartPhasorServer(ctx, srv)
	p.ingest(sampleAt(1, 1000))

	require.Eventually(t, func() bool { return srv.count() == 1 }, time.Second, 5*time.Millisecond)

	srv.Stop()
}

func TestReplacePhasorServerStopsJoinsAndStartsNext(t *testing.T) {
	p, _ := newTestProcessor(t, nil)
	first := newFakeServer()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p.StartPhasorServer(ctx, first)
	p.ingest(sampleAt(1, 1000))
	require.Eventually(t, func() bool { return first.count() == 1 }, time.Second, 5*time.Millisecond)

	second := newFakeServer()
	p.ReplacePhasorServer(ctx, second)

	select {
	case <-first.stop:
	default:
		t.Fatal("ReplacePhasorServer did not stop the previous server")
	}

	p.ingest(sampleAt(2, 1833))
	require.Eventually(t, func() bool { return second.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, first.count())

	second.Stop()
}

func TestReplacePhasorServerWithNoPriorSink(t *testing.T) {
	p, _ := newTestProcessor(t, nil)
	srv := newFakeServer()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.NotPanics(t, func() { p.ReplacePhasorServer(ctx, srv) })
	srv.Stop()
}

func TestRunWithNilSinkDoesNotPanic(t *testing.T) {
	samples := []pmutime.Sample{sampleAt(1, 1000)}
	p, _ := newTestProcessor(t, samples)
	assert.NotPanics(t, func() {
		err := p.Run(context.Background())
		assert.NoError(t, err)
	})
}
