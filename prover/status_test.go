package prover

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransitionTable(t *testing.T) {
	all := []ProvingTaskStatus{
		StatusWaitingForDependencies, StatusPending, StatusProvingInProgress,
		StatusCompleted, StatusFailed,
	}

	// Failed is reachable from everywhere, dependencies or not
	for _, from := range all {
		assert.True(t, transitionAllowed(from, 0, StatusFailed), "%s -> failed", from)
		assert.True(t, transitionAllowed(from, 3, StatusFailed), "%s -> failed with deps", from)
	}

	// waiting can only become pending once its set drains
	assert.True(t, transitionAllowed(StatusWaitingForDependencies, 0, StatusPending))
	assert.False(t, transitionAllowed(StatusWaitingForDependencies, 1, StatusPending))

	for _, from := range all {
		for _, to := range all {
			if to == StatusFailed {
				continue
			}
			legal := (from == StatusWaitingForDependencies && to == StatusPending) ||
				(from == StatusPending && to == StatusProvingInProgress) ||
				(from == StatusProvingInProgress && to == StatusCompleted)
			assert.Equal(t, legal, transitionAllowed(from, 0, to), "%s -> %s", from, to)
		}
	}
}

func TestProofContextEncoding(t *testing.T) {
	span := BtcBlockspanContext(100, 164)
	batch := L2BatchContext(3, 64, 127)
	checkpoint := CheckpointContext(3)

	// per-kind encodings cannot collide even with shared field values
	assert.NotEqual(t, span.Bytes(), batch.Bytes())
	assert.NotEqual(t, batch.Bytes(), checkpoint.Bytes())
	assert.Equal(t, span.Bytes(), BtcBlockspanContext(100, 164).Bytes())
	assert.NotEqual(t, span.Bytes(), BtcBlockspanContext(100, 165).Bytes())

	assert.Equal(t, "btcspan(100..164)", span.String())
	assert.Equal(t, "l2batch(epoch 3, 64..127)", batch.String())
	assert.Equal(t, "checkpoint(epoch 3)", checkpoint.String())
}
