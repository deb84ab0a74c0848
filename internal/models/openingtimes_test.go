package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func weekOf(entry []string) OpeningTimes {
	week := make(OpeningTimes, 7)
	for i := range week {
		week[i] = []string{}
	}
	week[0] = entry
	return week
}

func TestOpeningTimesValidate(t *testing.T) {
	assert.NoError(t, weekOf([]string{}).Validate())
	assert.NoError(t, weekOf([]string{"09:00", "17:30"}).Validate())
	// The zero-to-zero sentinel means open around the clock.
	assert.NoError(t, weekOf([]string{"00:00", "00:00"}).Validate())

	assert.Error(t, OpeningTimes{}.Validate())
	assert.Error(t, OpeningTimes{{}, {}, {}}.Validate())
	assert.Error(t, weekOf([]string{"09:00"}).Validate())
	assert.Error(t, weekOf([]string{"9:00", "17:00"}).Validate())
	assert.Error(t, weekOf([]string{"09:00", "24:00"}).Validate())
	assert.Error(t, weekOf([]string{"17:00", "09:00"}).Validate())
	assert.Error(t, weekOf([]string{"09:00", "09:00"}).Validate())
}

func TestOpeningTimesScanRoundTrip(t *testing.T) {
	source := weekOf([]string{"08:00", "20:00"})
	value, err := source.Value()
	require.NoError(t, err)

	var scanned OpeningTimes
	require.NoError(t, scanned.Scan(value))
	assert.Equal(t, source, scanned)

	var null OpeningTimes
	require.NoError(t, null.Scan(nil))
	assert.Nil(t, null)
}

func TestOpeningTimesNilValue(t *testing.T) {
	var ot OpeningTimes
	value, err := ot.Value()
	require.NoError(t, err)
	assert.Nil(t, value)
}
