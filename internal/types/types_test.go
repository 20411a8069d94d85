package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarginCallStatusActive(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status MarginCallStatus
		want   bool
	}{
		{MarginCallStatusPending, true},
		{MarginCallStatusNotified, true},
		{MarginCallStatusEscalated, true},
		{MarginCallStatusResolved, false},
		{MarginCallStatus("garbage"), false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(string(tt.status), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.status.Active())
		})
	}
}

func TestForcedClosure(t *testing.T) {
	t.Parallel()

	assert.True(t, ClosureReasonMarginCall.ForcedClosure())
	assert.True(t, ClosureReasonLiquidation.ForcedClosure())
	assert.False(t, ClosureReasonManualUser.ForcedClosure())
	assert.False(t, ClosureReasonStopLoss.ForcedClosure())
	assert.False(t, ClosureReasonAdminForced.ForcedClosure())
}
