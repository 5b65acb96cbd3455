package metrics

import "github.com/prometheus/client_golang/prometheus"

// FlowMetrics exposes counters/histograms for the booking and payment flows.
type FlowMetrics struct {
	slotFetches    *prometheus.CounterVec
	bookingCommits *prometheus.CounterVec
	otpConfirms    *prometheus.CounterVec
	otpExpiries    prometheus.Counter
	backendLatency *prometheus.HistogramVec
}

func NewFlowMetrics(reg prometheus.Registerer) *FlowMetrics {
	m := &FlowMetrics{
		slotFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "patientflow",
			Subsystem: "schedule",
			Name:      "slot_fetches_total",
			Help:      "Total slot availability fetches",
		}, []string{"flow", "status"}),
		bookingCommits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "patientflow",
			Subsystem: "schedule",
			Name:      "booking_commits_total",
			Help:      "Total booking/reschedule commit attempts",
		}, []string{"flow", "outcome"}),
		otpConfirms: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "patientflow",
			Subsystem: "payment",
			Name:      "otp_confirms_total",
			Help:      "Total OTP confirm attempts",
		}, []string{"outcome"}),
		otpExpiries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "patientflow",
			Subsystem: "payment",
			Name:      "otp_expiries_total",
			Help:      "Total OTP challenges that expired before capture",
		}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "patientflow",
			Subsystem: "backend",
			Name:      "call_latency_seconds",
			Help:      "Latency of clinical backend calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.slotFetches, m.bookingCommits, m.otpConfirms, m.otpExpiries, m.backendLatency)
	return m
}

func (m *FlowMetrics) ObserveSlotFetch(flow, status string) {
	if m == nil {
		return
	}
	m.slotFetches.WithLabelValues(flow, status).Inc()
}

func (m *FlowMetrics) ObserveCommit(flow, outcome string) {
	if m == nil {
		return
	}
	m.bookingCommits.WithLabelValues(flow, outcome).Inc()
}

func (m *FlowMetrics) ObserveOTPConfirm(outcome string) {
	if m == nil {
		return
	}
	m.otpConfirms.WithLabelValues(outcome).Inc()
}

func (m *FlowMetrics) ObserveOTPExpiry() {
	if m == nil {
		return
	}
	m.otpExpiries.Inc()
}

func (m *FlowMetrics) ObserveBackendLatency(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.backendLatency.WithLabelValues(operation).Observe(seconds)
}
