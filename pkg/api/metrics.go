package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	metricConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "devmate",
		Name:      "ws_connections_active",
		Help:      "Open WebSocket connections across all project rooms.",
	})
	metricMessages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "devmate",
		Name:      "chat_messages_total",
		Help:      "Chat messages relayed through the hub.",
	})
	metricTreeUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "devmate",
		Name:      "file_tree_updates_total",
		Help:      "Whole-tree persistence operations.",
	})
	metricRunStarts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "devmate",
		Name:      "preview_runs_total",
		Help:      "Preview launch attempts.",
	})
)

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}
