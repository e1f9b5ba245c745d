// Package metrics exposes the engine's runtime counters and gauges
// (§2.2 domain stack: pool occupancy, queue depth, cull SHA counters) via
// promauto-registered collectors, ready to be served from an HTTP handler
// registered against the default prometheus registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ctfile/ctengine/internal/opqueue"
	"github.com/ctfile/ctengine/internal/trans"
)

var (
	poolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ctengine_trans_pool_size",
		Help: "configured capacity of the transaction pool",
	})

	poolInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ctengine_trans_pool_in_use",
		Help: "transactions currently acquired from the pool",
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ctengine_queue_depth",
		Help: "operations currently queued, including the running one",
	})

	cullShasMarked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ctengine_cull_shas_marked_total",
		Help: "SHA digests marked live during cull sweeps",
	})

	cullGeneration = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ctengine_cull_generation",
		Help: "most recently committed cull generation",
	})

	opsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ctengine_operations_failed_total",
		Help: "operations that terminated the queue via Fatal, by machine tag",
	}, []string{"machine"})
)

// ObservePool samples a trans.Pool's occupancy into the pool gauges. The
// engine samples after every reply it handles and cmd/ctengine once more on
// session close, since the pool itself has no subscriber hook beyond OnFree.
func ObservePool(p *trans.Pool) {
	size, inUse := p.Stats()
	poolSize.Set(float64(size))
	poolInUse.Set(float64(inUse))
}

// ObserveQueue samples an opqueue.Queue's depth into the queue gauge.
func ObserveQueue(q *opqueue.Queue) {
	queueDepth.Set(float64(q.Len()))
}

// CullShaMarked increments the live-SHA counter by n. The cull driver calls
// it with 1 for each digest newly inserted into a sweep's live-SHA set.
func CullShaMarked(n int) {
	cullShasMarked.Add(float64(n))
}

// SetCullGeneration records the generation a cull sweep just committed.
func SetCullGeneration(generation int64) {
	cullGeneration.Set(float64(generation))
}

// OperationFailed increments the failure counter for the given machine tag.
// The engine calls it when a reply's dispatch or Complete callback fails,
// just before marking the queue dying with Queue.Fatal.
func OperationFailed(m trans.Machine) {
	opsFailed.WithLabelValues(m.String()).Inc()
}
