package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSetFormStatus(t *testing.T) {
	SetFormStatus("acme.test", "Contact", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(FormWorking.WithLabelValues("acme.test", "Contact")))

	SetFormStatus("acme.test", "Contact", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(FormWorking.WithLabelValues("acme.test", "Contact")))
}

func TestCountersAccumulate(t *testing.T) {
	before := testutil.ToFloat64(StageFailures.WithLabelValues("fetch"))
	StageFailures.WithLabelValues("fetch").Inc()
	StageFailures.WithLabelValues("fetch").Inc()
	assert.Equal(t, before+2, testutil.ToFloat64(StageFailures.WithLabelValues("fetch")))

	before = testutil.ToFloat64(NotifyAttempts.WithLabelValues(OutcomeDeadLetter))
	NotifyAttempts.WithLabelValues(OutcomeDeadLetter).Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(NotifyAttempts.WithLabelValues(OutcomeDeadLetter)))
}
