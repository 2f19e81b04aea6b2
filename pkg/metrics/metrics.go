// Package metrics counts batch results on a private Prometheus registry
// that is written out as a node-exporter textfile at the end of a run.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for one batch run.
type Metrics struct {
	registry *prometheus.Registry

	PatientsProcessed prometheus.Counter
	PatientFailures   prometheus.Counter
	SeriesOutcomes    *prometheus.CounterVec
	DefaceResults     *prometheus.CounterVec
	PatientDuration   prometheus.Histogram
}

// New creates a Metrics instance with all batch metrics registered on a
// fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		PatientsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "dcmreface_patients_processed_total",
			Help: "Total number of patient folders processed",
		}),
		PatientFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "dcmreface_patient_failures_total",
			Help: "Total number of patients whose processing was aborted by an error",
		}),
		SeriesOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dcmreface_series_outcomes_total",
			Help: "Series resolved, by outcome kind and whether the volume was rescued",
		}, []string{"kind", "rescued"}),
		DefaceResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dcmreface_deface_results_total",
			Help: "Defacing attempts by terminal state",
		}, []string{"state"}),
		PatientDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dcmreface_patient_duration_seconds",
			Help:    "Wall time spent on one patient",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// IncrementPatient records a processed patient.
func (m *Metrics) IncrementPatient() {
	m.PatientsProcessed.Inc()
}

// IncrementPatientFailure records a patient aborted by an error.
func (m *Metrics) IncrementPatientFailure() {
	m.PatientFailures.Inc()
}

// ObserveSeries records one series outcome.
func (m *Metrics) ObserveSeries(kind string, rescued bool) {
	r := "false"
	if rescued {
		r = "true"
	}
	m.SeriesOutcomes.WithLabelValues(kind, r).Inc()
}

// ObserveDeface records one defacing attempt.
func (m *Metrics) ObserveDeface(state string) {
	m.DefaceResults.WithLabelValues(state).Inc()
}

// ObservePatientDuration records the time spent on a patient.
// Call with time.Now() at the start of the patient.
func (m *Metrics) ObservePatientDuration(start time.Time) {
	m.PatientDuration.Observe(time.Since(start).Seconds())
}

// WriteTextfile writes the current values in the text exposition format,
// atomically replacing path.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
