package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// WriteFile dumps the current value of every registered metric to filename in
// the Prometheus text format, for node_exporter's textfile collector.
func WriteFile(filename string) error {
	return prometheus.WriteToTextfile(filename, prometheus.DefaultGatherer)
}
