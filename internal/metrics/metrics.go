package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "dogs"

// Collector is a prometheus.Collector for the prediction pipeline.
type Collector struct {
	tasksEnqueued     *prometheus.CounterVec
	tasksProcessed    *prometheus.CounterVec
	inferenceDuration *prometheus.HistogramVec
	uploads           prometheus.Counter
}

// NewCollector returns a Collector. A nil *Collector is valid and records nothing.
func NewCollector() *Collector {
	return &Collector{
		tasksEnqueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "tasks_enqueued_total",
				Help:      "The number of prediction tasks handed to the queue.",
			}, []string{"type"},
		),
		tasksProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "tasks_processed_total",
				Help:      "The number of prediction tasks the worker finished, by outcome.",
			}, []string{"type", "outcome"},
		),
		inferenceDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "inference_seconds",
				Help:      "Time spent classifying one image.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			}, []string{"device"},
		),
		uploads: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "uploads_total",
				Help:      "The number of images stored.",
			},
		),
	}
}

func (c *Collector) TaskEnqueued(taskType string) {
	if c == nil {
		return
	}
	c.tasksEnqueued.WithLabelValues(taskType).Inc()
}

func (c *Collector) TaskProcessed(taskType string, err error) {
	if c == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	c.tasksProcessed.WithLabelValues(taskType, outcome).Inc()
}

func (c *Collector) ObserveInference(device string, seconds float64) {
	if c == nil {
		return
	}
	c.inferenceDuration.WithLabelValues(device).Observe(seconds)
}

func (c *Collector) Uploaded() {
	if c == nil {
		return
	}
	c.uploads.Inc()
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.tasksEnqueued.Describe(ch)
	c.tasksProcessed.Describe(ch)
	c.inferenceDuration.Describe(ch)
	c.uploads.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.tasksEnqueued.Collect(ch)
	c.tasksProcessed.Collect(ch)
	c.inferenceDuration.Collect(ch)
	c.uploads.Collect(ch)
}
