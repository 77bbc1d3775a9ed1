package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wolfeidau/leaguesync/internal/backend"
)

func TestFilterExpr(t *testing.T) {
	assert.Equal(t, "", filterExpr(nil))
	assert.Equal(t, "owner_id=eq.u1", filterExpr(&backend.Filter{Column: "owner_id", Value: "u1"}))
}
