package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"lumi/internal/domain"
)

func TestObserveCommandSplitsByResult(t *testing.T) {
	ok := CommandsTotal.WithLabelValues(string(domain.CommandReboot), "success")
	failed := CommandsTotal.WithLabelValues(string(domain.CommandReboot), "failure")
	okBefore := testutil.ToFloat64(ok)
	failedBefore := testutil.ToFloat64(failed)

	ObserveCommand(domain.CommandReboot, nil)
	ObserveCommand(domain.CommandReboot, errors.New("boom"))
	ObserveCommand(domain.CommandReboot, errors.New("boom"))

	assert.Equal(t, okBefore+1, testutil.ToFloat64(ok))
	assert.Equal(t, failedBefore+2, testutil.ToFloat64(failed))
}

func TestObserveStreamMessage(t *testing.T) {
	c := StreamMessagesTotal.WithLabelValues(string(domain.StreamGeneratedText), "discarded")
	before := testutil.ToFloat64(c)

	ObserveStreamMessage(domain.StreamGeneratedText, "discarded")

	assert.Equal(t, before+1, testutil.ToFloat64(c))
}
