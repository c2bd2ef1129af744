package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_api_requests_total", Help: "API requests"},
		[]string{"endpoint", "status"},
	)
	Sends = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_send_total", Help: "Send outcomes"},
		[]string{"result", "classification"},
	)
	SendLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "dispatch_send_latency_seconds", Help: "Provider send latency"},
	)
	SendRetries = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dispatch_send_retries_total", Help: "Transient send retries"},
	)
	CampaignTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_campaign_transitions_total", Help: "Campaign status transitions"},
		[]string{"to"},
	)
	Claims = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_claims_total", Help: "Scheduler claim results"},
		[]string{"result"},
	)
	ActiveRunners = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "dispatch_active_runners", Help: "Campaign runners currently active"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(APIRequests, Sends, SendLatency, SendRetries, CampaignTransitions, Claims, ActiveRunners)
}
