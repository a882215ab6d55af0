package poold

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks the pool operations served by the daemon.
type Metrics struct {
	deposits     prometheus.Counter
	redemptions  prometheus.Counter
	withdrawals  prometheus.Counter
	originations prometheus.Counter
	repayments   prometheus.Counter
	expirations  prometheus.Counter
	liquidations prometheus.Counter
	notesBought  prometheus.Counter
	requestError *prometheus.CounterVec
	poolValue    *prometheus.GaugeVec
}

var (
	metricsOnce     sync.Once
	metricsRegistry *Metrics
)

// PoolMetrics returns the process-wide metrics registry.
func PoolMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsRegistry = &Metrics{
			deposits: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "pool_deposits_total",
				Help: "Count of accepted deposits.",
			}),
			redemptions: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "pool_redemptions_total",
				Help: "Count of accepted redemption requests.",
			}),
			withdrawals: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "pool_withdrawals_total",
				Help: "Count of settled withdrawals paid out.",
			}),
			originations: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "pool_loans_originated_total",
				Help: "Count of loans originated.",
			}),
			repayments: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "pool_loans_repaid_total",
				Help: "Count of loans settled at full repayment.",
			}),
			expirations: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "pool_loans_expired_total",
				Help: "Count of loans handed to the liquidator.",
			}),
			liquidations: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "pool_collateral_liquidated_total",
				Help: "Count of liquidation proceeds processed.",
			}),
			notesBought: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "pool_notes_purchased_total",
				Help: "Count of third-party notes bought into the pool.",
			}),
			requestError: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "pool_request_errors_total",
				Help: "Count of failed requests by operation.",
			}, []string{"operation"}),
			poolValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "pool_tranche_value",
				Help: "Current value (available plus lent) per tranche depth.",
			}, []string{"depth"}),
		}
		prometheus.MustRegister(
			metricsRegistry.deposits,
			metricsRegistry.redemptions,
			metricsRegistry.withdrawals,
			metricsRegistry.originations,
			metricsRegistry.repayments,
			metricsRegistry.expirations,
			metricsRegistry.liquidations,
			metricsRegistry.notesBought,
			metricsRegistry.requestError,
			metricsRegistry.poolValue,
		)
	})
	return metricsRegistry
}

// ObserveError records a failed request for the operation.
func (m *Metrics) ObserveError(operation string) {
	if m == nil {
		return
	}
	m.requestError.WithLabelValues(operation).Inc()
}

// SetTrancheValue publishes a tranche's current value.
func (m *Metrics) SetTrancheValue(depth string, value float64) {
	if m == nil {
		return
	}
	m.poolValue.WithLabelValues(depth).Set(value)
}
