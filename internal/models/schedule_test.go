package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadLocationIsResolvedOnce(t *testing.T) {
	first, err := loadLocation("Europe/Berlin")
	require.NoError(t, err)
	second, err := loadLocation("Europe/Berlin")
	require.NoError(t, err)
	assert.Same(t, first, second)

	_, err = loadLocation("Mars/Olympus_Mons")
	require.Error(t, err)
	v, ok := locations.Load("Mars/Olympus_Mons")
	require.True(t, ok)
	assert.Nil(t, v.(*time.Location))
	_, err = loadLocation("Mars/Olympus_Mons")
	assert.Error(t, err)
}

func TestWorkingHoursUnknownTimezone(t *testing.T) {
	w := WorkingHours{Timezone: "Mars/Olympus_Mons", Start: "00:00", End: "23:59"}
	assert.Error(t, w.Validate())
	assert.False(t, w.Contains(time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)))
}
