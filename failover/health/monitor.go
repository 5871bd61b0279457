package health

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/LerianStudio/lib-failover/failover/cache"
	"github.com/LerianStudio/lib-failover/failover/datastore"
	"github.com/LerianStudio/lib-failover/failover/log"
	"github.com/LerianStudio/lib-failover/failover/provider"
	"go.mongodb.org/mongo-driver/bson"
	"go.opentelemetry.io/otel"
)

// State classifies the outcome of a synthetic probe.
type State string

const (
	// StateHealthy means the probe round trip completed with the expected value.
	StateHealthy State = "healthy"
	// StateDegraded means the round trip completed but read back an
	// unexpected value.
	StateDegraded State = "degraded"
	// StateUnhealthy means an error or timeout occurred during the round trip.
	StateUnhealthy State = "unhealthy"
)

// Status is the result of one synthetic probe.
type Status struct {
	State    State             `json:"state"`
	Latency  time.Duration     `json:"latency"`
	Provider provider.Provider `json:"provider"`
	Err      string            `json:"error,omitempty"`
}

// Report combines breaker snapshots and probe results for both routers.
type Report struct {
	Cache     RouterReport `json:"cache"`
	DataStore RouterReport `json:"datastore"`
	CheckedAt time.Time    `json:"checkedAt"`
}

// RouterReport is one router's slice of a Report.
type RouterReport struct {
	Snapshot provider.Snapshot `json:"snapshot"`
	Probe    Status            `json:"probe"`
}

// probeDocument is the synthetic record written during a datastore probe.
type probeDocument struct {
	ID    string `bson:"_id"`
	Nonce string `bson:"nonce"`
}

const (
	probeCollection = "health_probes"
	probeKeyPrefix  = "failover:health:probe:"
	probeTTL        = 30 * time.Second
)

// Monitor observes a cache router and a datastore router. Either router may
// be nil, in which case its report carries an empty snapshot and an
// unhealthy probe.
type Monitor struct {
	cache     *cache.Router
	datastore *datastore.Router
	probes    *datastore.Repository[probeDocument]
	logger    log.Logger
}

// NewMonitor builds a monitor over the given routers.
func NewMonitor(cacheRouter *cache.Router, datastoreRouter *datastore.Router, logger log.Logger) *Monitor {
	if logger == nil {
		logger = &log.NopLogger{}
	}

	m := &Monitor{
		cache:     cacheRouter,
		datastore: datastoreRouter,
		logger:    logger,
	}

	if datastoreRouter != nil {
		m.probes = datastore.NewRepository[probeDocument](datastoreRouter, probeCollection)
	}

	return m
}

// Snapshot reports the breaker view of both routers without touching any
// provider.
func (m *Monitor) Snapshot() (cacheSnap, datastoreSnap provider.Snapshot) {
	if m.cache != nil {
		cacheSnap = m.cache.Snapshot()
	}

	if m.datastore != nil {
		datastoreSnap = m.datastore.Snapshot()
	}

	return cacheSnap, datastoreSnap
}

// ProbeCache writes a nonce through the cache router, reads it back and
// deletes it. The probe exercises whichever provider the router currently
// selects, so a healthy result after failover reflects the secondary.
func (m *Monitor) ProbeCache(ctx context.Context) Status {
	if m.cache == nil {
		return Status{State: StateUnhealthy, Provider: provider.None, Err: "cache router not configured"}
	}

	start := time.Now()
	key := probeKeyPrefix + randomNonce()
	nonce := randomNonce()

	status := func() Status {
		if err := m.cache.Set(ctx, key, nonce, probeTTL); err != nil {
			return Status{State: StateUnhealthy, Err: err.Error()}
		}

		readBack, err := m.cache.Get(ctx, key)
		if err != nil {
			return Status{State: StateUnhealthy, Err: err.Error()}
		}

		if _, err := m.cache.Del(ctx, key); err != nil {
			m.logger.Log(ctx, log.LevelWarn, "cache probe cleanup failed", log.Err(err))
		}

		if got, ok := readBack.(string); !ok || got != nonce {
			return Status{State: StateDegraded, Err: fmt.Sprintf("probe read back %v, want %s", readBack, nonce)}
		}

		return Status{State: StateHealthy}
	}()

	status.Latency = time.Since(start)
	status.Provider = m.cache.Snapshot().ActiveProvider

	return status
}

// ProbeDataStore inserts a synthetic document, reads it back and deletes it.
func (m *Monitor) ProbeDataStore(ctx context.Context) Status {
	if m.datastore == nil {
		return Status{State: StateUnhealthy, Provider: provider.None, Err: "datastore router not configured"}
	}

	start := time.Now()
	doc := probeDocument{ID: randomNonce(), Nonce: randomNonce()}

	status := func() Status {
		if _, err := m.probes.InsertOne(ctx, &doc); err != nil {
			return Status{State: StateUnhealthy, Err: err.Error()}
		}

		readBack, err := m.probes.FindOne(ctx, bson.M{"_id": doc.ID})
		if err != nil {
			return Status{State: StateUnhealthy, Err: err.Error()}
		}

		if _, err := m.probes.DeleteOne(ctx, bson.M{"_id": doc.ID}); err != nil {
			m.logger.Log(ctx, log.LevelWarn, "datastore probe cleanup failed", log.Err(err))
		}

		if readBack.Nonce != doc.Nonce {
			return Status{State: StateDegraded, Err: fmt.Sprintf("probe read back %s, want %s", readBack.Nonce, doc.Nonce)}
		}

		return Status{State: StateHealthy}
	}()

	status.Latency = time.Since(start)
	status.Provider = m.datastore.Snapshot().ActiveProvider

	return status
}

// CheckReport runs both probes and assembles a full report. It is the
// expensive path behind a readiness endpoint; the prober caches its result.
func (m *Monitor) CheckReport(ctx context.Context) Report {
	tracer := otel.Tracer("health")

	ctx, span := tracer.Start(ctx, "health.report")
	defer span.End()

	report := Report{CheckedAt: time.Now()}

	cacheSnap, datastoreSnap := m.Snapshot()
	report.Cache = RouterReport{Snapshot: cacheSnap, Probe: m.ProbeCache(ctx)}
	report.DataStore = RouterReport{Snapshot: datastoreSnap, Probe: m.ProbeDataStore(ctx)}

	return report
}

func randomNonce() string {
	return fmt.Sprintf("%d-%04d", time.Now().UnixNano(), rand.Intn(10000))
}
