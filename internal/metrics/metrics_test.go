package metrics

import (
	"errors"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector(t *testing.T) {
	c := qt.New(t)
	col := NewCollector()

	reg := prometheus.NewPedanticRegistry()
	c.Assert(reg.Register(col), qt.IsNil)

	col.TaskEnqueued("images:predict")
	col.TaskEnqueued("images:predict")
	col.TaskProcessed("images:predict", nil)
	col.TaskProcessed("images:predict", errors.New("boom"))
	col.ObserveInference("cpu", 0.2)
	col.Uploaded()

	c.Assert(testutil.ToFloat64(col.tasksEnqueued.WithLabelValues("images:predict")), qt.Equals, float64(2))
	c.Assert(testutil.ToFloat64(col.tasksProcessed.WithLabelValues("images:predict", "success")), qt.Equals, float64(1))
	c.Assert(testutil.ToFloat64(col.tasksProcessed.WithLabelValues("images:predict", "failure")), qt.Equals, float64(1))
	c.Assert(testutil.ToFloat64(col.uploads), qt.Equals, float64(1))

	n, err := testutil.GatherAndCount(reg, "dogs_inference_seconds")
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, 1)
}
