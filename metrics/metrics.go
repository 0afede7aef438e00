// Package metrics exposes certification results as Prometheus gauges so a
// run can be scraped through the node exporter textfile collector.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"machinerun.io/storcert/ddt"
	"machinerun.io/storcert/mpath"
)

// Metrics holds all Prometheus metrics of one run.
type Metrics struct {
	registry *prometheus.Registry

	DDTBlocks       *prometheus.GaugeVec
	DDTElapsed      *prometheus.GaugeVec
	DDTSectorErrors *prometheus.GaugeVec
	DDTEstimate     *prometheus.GaugeVec
	Paths           *prometheus.GaugeVec
	CheckStatus     *prometheus.GaugeVec
	Checkpoints     *prometheus.GaugeVec
}

// New creates the metrics in a registry of their own.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		DDTBlocks: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "storcert_ddt_blocks",
				Help: "Blocks processed by the disk data test",
			},
			[]string{"device", "phase"},
		),
		DDTElapsed: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "storcert_ddt_elapsed_seconds",
				Help: "Time taken by a disk data test phase",
			},
			[]string{"device", "phase"},
		),
		DDTSectorErrors: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "storcert_ddt_sector_errors",
				Help: "Sectors that failed verification",
			},
			[]string{"device"},
		),
		DDTEstimate: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "storcert_ddt_estimate_seconds",
				Help: "Estimated time for a full disk data test",
			},
			[]string{"device"},
		),
		Paths: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "storcert_mpath_paths",
				Help: "Multipath paths by device mapper status",
			},
			[]string{"scsi_id", "dm_status"},
		),
		CheckStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "storcert_check_status",
				Help: "Check result (0=failed, 1=passed)",
			},
			[]string{"check"},
		),
		Checkpoints: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "storcert_checkpoints",
				Help: "Checkpoints reached by a check",
			},
			[]string{"check"},
		),
	}

	m.registry.MustRegister(
		m.DDTBlocks,
		m.DDTElapsed,
		m.DDTSectorErrors,
		m.DDTEstimate,
		m.Paths,
		m.CheckStatus,
		m.Checkpoints,
	)

	return m
}

// ObserveDDT records a disk data test result.
func (m *Metrics) ObserveDDT(device string, r ddt.Result) {
	m.DDTBlocks.WithLabelValues(device, "write").Set(float64(r.WriteBlocks))
	m.DDTBlocks.WithLabelValues(device, "verify").Set(float64(r.VerifyBlocks))
	m.DDTElapsed.WithLabelValues(device, "write").Set(r.WriteElapsed)
	m.DDTElapsed.WithLabelValues(device, "verify").Set(r.VerifyElapsed)
	m.DDTSectorErrors.WithLabelValues(device).Set(float64(r.SectorErrors))

	if secs, err := r.Estimate(); err == nil {
		m.DDTEstimate.WithLabelValues(device).Set(secs)
	}
}

// ObservePaths records path counts per dm status for scsiID. Counts from
// a previous observation of the same scsiID are replaced.
func (m *Metrics) ObservePaths(scsiID string, paths []mpath.PathStatus) {
	m.Paths.DeletePartialMatch(prometheus.Labels{"scsi_id": scsiID})

	for _, p := range paths {
		m.Paths.WithLabelValues(scsiID, p.DMStatus).Inc()
	}
}

// ObserveCheck records the outcome of a named check.
func (m *Metrics) ObserveCheck(check string, passed bool, checkpoints int) {
	status := 0.0
	if passed {
		status = 1
	}

	m.CheckStatus.WithLabelValues(check).Set(status)
	m.Checkpoints.WithLabelValues(check).Set(float64(checkpoints))
}

// WriteTextfile writes all metrics to path in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

// Reset clears all metrics
func (m *Metrics) Reset() {
	m.DDTBlocks.Reset()
	m.DDTElapsed.Reset()
	m.DDTSectorErrors.Reset()
	m.DDTEstimate.Reset()
	m.Paths.Reset()
	m.CheckStatus.Reset()
	m.Checkpoints.Reset()
}
