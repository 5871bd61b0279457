package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/LerianStudio/lib-failover/failover/circuitbreaker"
	"github.com/LerianStudio/lib-failover/failover/log"
)

var (
	// ErrInvalidProbeInterval indicates the probe interval must be positive.
	ErrInvalidProbeInterval = errors.New("health: probe interval must be positive")
	// ErrInvalidProbeTimeout indicates the probe timeout must be positive.
	ErrInvalidProbeTimeout = errors.New("health: probe timeout must be positive")
)

// Prober runs the monitor's full report on a ticker and caches the latest
// result so readiness queries stay cheap. An immediate check can be
// requested out of band, e.g. when a circuit breaker opens.
type Prober struct {
	monitor        *Monitor
	interval       time.Duration
	probeTimeout   time.Duration
	logger         log.Logger
	stopChan       chan struct{}
	immediateCheck chan struct{}
	wg             sync.WaitGroup

	mu         sync.RWMutex
	lastReport Report
	hasReport  bool
}

// NewProber creates a prober over monitor.
// interval: how often to run the full report.
// probeTimeout: context deadline for each report run.
func NewProber(monitor *Monitor, interval, probeTimeout time.Duration, logger log.Logger) (*Prober, error) {
	if interval <= 0 {
		return nil, ErrInvalidProbeInterval
	}

	if probeTimeout <= 0 {
		return nil, ErrInvalidProbeTimeout
	}

	if logger == nil {
		logger = &log.NopLogger{}
	}

	return &Prober{
		monitor:        monitor,
		interval:       interval,
		probeTimeout:   probeTimeout,
		logger:         logger,
		stopChan:       make(chan struct{}),
		immediateCheck: make(chan struct{}, 1),
	}, nil
}

// Start begins the probe loop. The first report runs on the first tick;
// call RequestCheck after Start to prime the cache sooner.
func (p *Prober) Start() {
	p.wg.Add(1)

	go p.loop()

	p.logger.Log(context.Background(), log.LevelInfo, "health prober started",
		log.Duration("interval", p.interval))
}

// Stop gracefully stops the probe loop.
func (p *Prober) Stop() {
	close(p.stopChan)
	p.wg.Wait()
	p.logger.Log(context.Background(), log.LevelInfo, "health prober stopped")
}

// RequestCheck schedules a report run outside the ticker cadence. The
// request is dropped if one is already pending.
func (p *Prober) RequestCheck() {
	select {
	case p.immediateCheck <- struct{}{}:
	default:
	}
}

// OnStateChange implements circuitbreaker.StateChangeListener. Register the
// prober on a router's breaker manager to refresh the cached report as soon
// as a breaker opens, instead of waiting for the next tick.
func (p *Prober) OnStateChange(providerName string, _ circuitbreaker.State, to circuitbreaker.State) {
	if to != circuitbreaker.StateOpen {
		return
	}

	p.logger.Log(context.Background(), log.LevelInfo, "breaker opened, refreshing health report",
		log.String("provider", providerName))
	p.RequestCheck()
}

// LastReport returns the most recent cached report. ok is false until the
// first report completes.
func (p *Prober) LastReport() (report Report, ok bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.lastReport, p.hasReport
}

func (p *Prober) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.runReport()
		case <-p.immediateCheck:
			p.runReport()
		case <-p.stopChan:
			return
		}
	}
}

func (p *Prober) runReport() {
	ctx, cancel := context.WithTimeout(context.Background(), p.probeTimeout)
	defer cancel()

	report := p.monitor.CheckReport(ctx)

	p.mu.Lock()
	p.lastReport = report
	p.hasReport = true
	p.mu.Unlock()

	if report.Cache.Probe.State != StateHealthy || report.DataStore.Probe.State != StateHealthy {
		p.logger.Log(ctx, log.LevelWarn, "health probe not fully healthy",
			log.String("cache", string(report.Cache.Probe.State)),
			log.String("datastore", string(report.DataStore.Probe.State)),
		)
	}
}
