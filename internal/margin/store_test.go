package margin

import (
	"testing"

	"lv-cfd/internal/types"

	"github.com/stretchr/testify/assert"
)

// The single-active-event queries must match every live status and never a
// resolved one.
func TestActiveStatusSet(t *testing.T) {
	t.Parallel()

	got := activeStatusSet()

	assert.ElementsMatch(t, []string{"pending", "notified", "escalated"}, got)
	assert.NotContains(t, got, string(types.MarginCallStatusResolved))
}
