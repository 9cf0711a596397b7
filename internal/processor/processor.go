// Package processor implements the Data Processor (spec.md §4.6): the
// dedicated acquisition goroutine that owns the authoritative sample
// store and latest estimation, feeding both the sliding DFT and
// frequency/ROCOF estimators on every incoming Sample.
//
// This mirrors the teacher's worker-goroutine-plus-owned-mutex idiom
// (src/tq.go's queue-processing goroutine guarding its queue with a single
// mutex) generalized from a packet queue to a fixed-length sample window.
package processor

import (
	"context"
	"errors"
	"sync"

	"github.com/kb5jfs/pmud/internal/freqrocof"
	"github.com/kb5jfs/pmud/internal/pmulog"
	"github.com/kb5jfs/pmud/internal/pmutime"
	"github.com/kb5jfs/pmud/internal/sdft"
	"github.com/kb5jfs/pmud/internal/source"
)

// sampleStoreSize is the fixed length of the recent-sample ring the
// processor exposes for display/diagnostics.
const sampleStoreSize = 32

var log = pmulog.For("processor")

// Sink receives the latest (Sample, Estimation) pair after each update, in
// order. The pair is copied under the processor's lock and Publish is called
// after that lock is released — satisfied by the phasor server's latch.
type Sink interface {
	Publish(sample pmutime.Sample, estimation pmutime.Estimation)
}

// RestartableServer is the lifecycle subset of the phasor server that
// replace_phasor_server() (spec.md §4.6) needs: a Sink that can also be
// stopped and run. pmuserver.Server satisfies this without the processor
// package importing pmuserver.
type RestartableServer interface {
	Sink
	Run(ctx context.Context) error
	Stop()
}

// Processor runs the acquisition/DSP loop: read from a Source, update the
// estimators, and publish the result to a Sink.
type Processor struct {
	src  source.Source
	sdft *sdft.Estimator
	freq *freqrocof.Estimator

	mu          sync.Mutex
	sampleStore [sampleStoreSize]pmutime.Sample
	estimation  pmutime.Estimation
	keepRunning bool

	sinkMu sync.RWMutex
	sink   Sink

	serverMu   sync.Mutex
	serverDone chan struct{}
}

// New builds a Processor reading from src and estimating with the given
// sliding-DFT and frequency/ROCOF estimators.
func New(src source.Source, sdftEstimator *sdft.Estimator, freqEstimator *freqrocof.Estimator) *Processor {
	return &Processor{
		src:  src,
		sdft: sdftEstimator,
		freq: freqEstimator,
	}
}

// SetSink installs (or replaces) the component the processor publishes
// each update to. Safe to call concurrently with Run.
func (p *Processor) SetSink(sink Sink) {
	p.sinkMu.Lock()
	defer p.sinkMu.Unlock()
	p.sink = sink
}

// StartPhasorServer installs srv as the sink and runs it in its own
// goroutine until ctx is cancelled or srv.Stop is called.
func (p *Processor) StartPhasorServer(ctx context.Context, srv RestartableServer) {
	p.SetSink(srv)

	done := make(chan struct{})
	p.serverMu.Lock()
	p.serverDone = done
	p.serverMu.Unlock()

	go func() {
		defer close(done)
		if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
			log.Errorf("phasor server exited: %v", err)
		}
	}()
}

// ReplacePhasorServer implements replace_phasor_server() (spec.md §4.6):
// it stops the currently running server, joins its goroutine, and starts
// next in its place as the new sink. Used when network settings change and
// the server must rebind to a new address.
func (p *Processor) ReplacePhasorServer(ctx context.Context, next RestartableServer) {
	p.sinkMu.RLock()
	prev, _ := p.sink.(RestartableServer)
	p.sinkMu.RUnlock()

	if prev != nil {
		prev.Stop()
	}

	p.serverMu.Lock()
	done := p.serverDone
	p.serverMu.Unlock()
	if done != nil {
		<-done
	}

	log.Infof("replacing phasor server")
	p.StartPhasorServer(ctx, next)
}

// Run blocks, reading from the source and updating estimator state until
// ctx is cancelled or Stop is called. Errors from the source are logged
// and the loop continues, except ErrSourceExhausted which ends Run.
func (p *Processor) Run(ctx context.Context) error {
	p.mu.Lock()
	p.keepRunning = true
	p.mu.Unlock()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		p.mu.Lock()
		running := p.keepRunning
		p.mu.Unlock()
		if !running {
			return nil
		}

		samples, err := p.src.Read(ctx)
		if err != nil {
			if errors.Is(err, source.ErrSourceExhausted) {
				log.Infof("source exhausted, stopping acquisition loop")
				return nil
			}
			log.Warnf("source read error: %v", err)
			continue
		}

		for _, s := range samples {
			p.ingest(s)
		}
	}
}

// ingest applies one sample under the processor's mutex: shifts the
// sample store, updates both estimators, and publishes the resulting
// (Sample, Estimation) pair to the sink.
func (p *Processor) ingest(s pmutime.Sample) {
	p.mu.Lock()

	copy(p.sampleStore[:sampleStoreSize-1], p.sampleStore[1:])
	p.sampleStore[sampleStoreSize-1] = s

	p.sdft.Update(s)
	p.freq.Update(s)

	p.estimation = pmutime.Estimation{
		Phasors:      p.sdft.Phasors(),
		Frequencies:  p.freq.Frequencies(),
		Rocofs:       p.freq.Rocofs(),
		SamplingRate: p.freq.SamplingRate(),
	}
	sample, estimation := s, p.estimation

	p.mu.Unlock()

	p.sinkMu.RLock()
	sink := p.sink
	p.sinkMu.RUnlock()
	if sink != nil {
		sink.Publish(sample, estimation)
	}
}

// Stop cooperatively ends Run after its current iteration.
func (p *Processor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keepRunning = false
}

// CurrentEstimation returns a copy of the latest Estimation.
func (p *Processor) CurrentEstimation() pmutime.Estimation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.estimation
}

// CurrentSampleStore returns a copy of the 32-entry recent-sample ring.
func (p *Processor) CurrentSampleStore() [sampleStoreSize]pmutime.Sample {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sampleStore
}

// GetCurrent copies out both the latest sample and estimation atomically.
func (p *Processor) GetCurrent() (pmutime.Sample, pmutime.Estimation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sampleStore[sampleStoreSize-1], p.estimation
}
