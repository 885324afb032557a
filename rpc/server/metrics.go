package server

import (
	"fmt"
	"github.com/ValentinKolb/mKV/rpc/common"
	"github.com/VictoriaMetrics/metrics"
	"net/http"
)

var (
	setCommands         = metrics.GetOrCreateCounter(`mkv_commands_total{type="set"}`)
	getCommands         = metrics.GetOrCreateCounter(`mkv_commands_total{type="get"}`)
	unsupportedCommands = metrics.GetOrCreateCounter(`mkv_commands_total{type="unsupported"}`)
	decodeErrors        = metrics.GetOrCreateCounter(`mkv_decode_errors_total`)
	commandDuration     = metrics.GetOrCreateHistogram(`mkv_command_duration_seconds`)
)

// countCommand increments the command counter for the given message type
func countCommand(t common.MessageType) {
	switch {
	case !t.IsSupported():
		unsupportedCommands.Inc()
	case t == common.MsgTKVSet:
		setCommands.Inc()
	default:
		getCommands.Inc()
	}
}

// MetricsHandler returns a handler that writes all server metrics in Prometheus text format
func MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		metrics.WritePrometheus(w, true)
	})
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		_, _ = fmt.Fprintln(w, "mkv metrics are served at /metrics")
	})
	return mux
}
