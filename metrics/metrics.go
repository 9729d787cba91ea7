// Package metrics exposes the engine's operational counters in Prometheus
// text exposition format. All collectors are registered in init and served
// at /metrics when an address is configured.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gridpilot/logger"
)

var (
	mtxTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "grid_ticks_total",
			Help: "Price ticks evaluated",
		},
	)

	mtxOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grid_orders_submitted_total",
			Help: "Grid entry orders submitted",
		},
		[]string{"direction"},
	)

	mtxOrderFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grid_order_failures_total",
			Help: "Entry submissions that failed and will retry",
		},
		[]string{"direction"},
	)

	mtxModifies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grid_order_modifies_total",
			Help: "Target-sync modify requests issued",
		},
		[]string{"direction"},
	)

	mtxBaskets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grid_baskets_closed_total",
			Help: "Baskets torn down after going flat",
		},
		[]string{"direction"},
	)

	mtxOpenOrders = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "grid_open_orders",
			Help: "Venue-reported open orders per direction",
		},
		[]string{"direction"},
	)
)

func init() {
	prometheus.MustRegister(
		mtxTicks,
		mtxOrders,
		mtxOrderFailures,
		mtxModifies,
		mtxBaskets,
		mtxOpenOrders,
	)
}

func TickProcessed()                  { mtxTicks.Inc() }
func OrderSubmitted(direction string) { mtxOrders.WithLabelValues(direction).Inc() }
func OrderFailed(direction string)    { mtxOrderFailures.WithLabelValues(direction).Inc() }
func OrderModified(direction string)  { mtxModifies.WithLabelValues(direction).Inc() }
func BasketClosed(direction string)   { mtxBaskets.WithLabelValues(direction).Inc() }

func SetOpenOrders(direction string, n int) {
	mtxOpenOrders.WithLabelValues(direction).Set(float64(n))
}

// Serve starts the metrics endpoint in the background. Empty addr disables it.
func Serve(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		logger.Infof("metrics listening on %s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Errorf("metrics server: %v", err)
		}
	}()
}
