package models

// Bit positions of the compressed feature mask. The order is a wire contract:
// decoders rely on it, so treat any extension as a format revision. Null and
// false collapse to an unset bit; the encoding is intentionally lossy.
const (
	BitAccessible = 1 << iota
	BitBabyChange
	BitRadar
	BitNoPayment
	BitAllGender
	BitAutomatic
)

// CompressedLoo is the (id, geohash, bitmask) tuple used for bulk map rendering.
type CompressedLoo struct {
	ID      string `db:"id" json:"id"`
	Geohash string `db:"geohash" json:"geohash"`
	Filter  int    `db:"-" json:"filter"`
}

// CompressLoo projects a record into its compressed form.
func CompressLoo(l Loo) CompressedLoo {
	c := CompressedLoo{ID: l.ID}
	if l.Geohash != nil {
		c.Geohash = *l.Geohash
	}
	c.Filter = compressFlags(l.Accessible, l.BabyChange, l.Radar, l.NoPayment, l.AllGender, l.Automatic)
	return c
}

// DecodedFilter is the bitmask expanded back into its boolean flags.
type DecodedFilter struct {
	Accessible bool `json:"accessible"`
	BabyChange bool `json:"babyChange"`
	Radar      bool `json:"radar"`
	NoPayment  bool `json:"noPayment"`
	AllGender  bool `json:"allGender"`
	Automatic  bool `json:"automatic"`
}

// DecodeFilter expands a compressed bitmask.
func DecodeFilter(mask int) DecodedFilter {
	return DecodedFilter{
		Accessible: mask&BitAccessible != 0,
		BabyChange: mask&BitBabyChange != 0,
		Radar:      mask&BitRadar != 0,
		NoPayment:  mask&BitNoPayment != 0,
		AllGender:  mask&BitAllGender != 0,
		Automatic:  mask&BitAutomatic != 0,
	}
}

func compressFlags(flags ...*bool) int {
	mask := 0
	for i, flag := range flags {
		if flag != nil && *flag {
			mask |= 1 << i
		}
	}
	return mask
}

// LooUpdates is the incremental-sync payload: records changed since a
// timestamp, split into active upserts and inactive deletions.
type LooUpdates struct {
	Upserted []CompressedLoo `json:"upserted"`
	Deleted  []string        `json:"deleted"`
}
