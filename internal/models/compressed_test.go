package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func flagPtr(b bool) *bool { return &b }

func TestCompressLoo(t *testing.T) {
	gh := "gcpuuz2gs"
	loo := Loo{
		ID:         "abcdefabcdefabcdefabcdef",
		Geohash:    &gh,
		Accessible: flagPtr(true),
		BabyChange: flagPtr(false),
		Radar:      flagPtr(true),
		AllGender:  flagPtr(true),
		// NoPayment and Automatic left null: nulls collapse to unset bits.
	}

	c := CompressLoo(loo)
	assert.Equal(t, loo.ID, c.ID)
	assert.Equal(t, gh, c.Geohash)
	assert.Equal(t, BitAccessible|BitRadar|BitAllGender, c.Filter)
}

func TestCompressLooWithoutGeohash(t *testing.T) {
	c := CompressLoo(Loo{ID: "abcdefabcdefabcdefabcdef"})
	assert.Empty(t, c.Geohash)
	assert.Zero(t, c.Filter)
}

func TestDecodeFilterRoundTrip(t *testing.T) {
	mask := BitBabyChange | BitNoPayment | BitAutomatic
	decoded := DecodeFilter(mask)
	assert.Equal(t, DecodedFilter{
		BabyChange: true,
		NoPayment:  true,
		Automatic:  true,
	}, decoded)

	assert.Equal(t, DecodedFilter{}, DecodeFilter(0))
}

func TestBitPositionsAreStable(t *testing.T) {
	assert.Equal(t, 1, BitAccessible)
	assert.Equal(t, 2, BitBabyChange)
	assert.Equal(t, 4, BitRadar)
	assert.Equal(t, 8, BitNoPayment)
	assert.Equal(t, 16, BitAllGender)
	assert.Equal(t, 32, BitAutomatic)
}
