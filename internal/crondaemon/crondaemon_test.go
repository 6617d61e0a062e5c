package crondaemon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsDueMatchesExactMinute(t *testing.T) {
	at := time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC)
	due, err := IsDue("30 9 * * *", at)
	require.NoError(t, err)
	assert.True(t, due)

	due, err = IsDue("31 9 * * *", at)
	require.NoError(t, err)
	assert.False(t, due)
}

func TestIsDueInvalidExpression(t *testing.T) {
	_, err := IsDue("not a cron expr", time.Now())
	assert.Error(t, err)
}

func TestDueSchedulesFiltersAndSkipsInvalid(t *testing.T) {
	at := time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC)
	schedules := []Schedule{
		{Name: "match", Expr: "30 9 * * *"},
		{Name: "no-match", Expr: "0 0 * * *"},
		{Name: "broken", Expr: "garbage"},
	}

	due := DueSchedules(schedules, at)
	require.Len(t, due, 1)
	assert.Equal(t, "match", due[0].Name)
}
