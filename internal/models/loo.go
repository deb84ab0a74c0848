package models

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"

	"github.com/lib/pq"
)

var looIDPattern = regexp.MustCompile(`^[0-9a-f]{24}$`)

// NewLooID produces a 24-character lowercase hex identifier from 12 random bytes.
func NewLooID() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("read random bytes: %v", err))
	}
	return hex.EncodeToString(buf)
}

// ValidateLooID checks the canonical id shape.
func ValidateLooID(id string) error {
	if !looIDPattern.MatchString(id) {
		return fmt.Errorf("id must be 24 lowercase hex characters, got %q", id)
	}
	return nil
}

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate bounds-checks the coordinate.
func (p Point) Validate() error {
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("latitude %v out of range [-90, 90]", p.Lat)
	}
	if p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("longitude %v out of range [-180, 180]", p.Lng)
	}
	return nil
}

// Area is a named administrative region a loo can belong to.
type Area struct {
	ID   string `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
	Type string `db:"type" json:"type"`
}

// Loo is the current state of one facility record.
type Loo struct {
	ID           string         `db:"id" json:"id"`
	Name         *string        `db:"name" json:"name"`
	Lat          *float64       `db:"lat" json:"-"`
	Lng          *float64       `db:"lng" json:"-"`
	Location     *Point         `db:"-" json:"location"`
	Geohash      *string        `db:"geohash" json:"geohash"`
	AreaID       *string        `db:"area_id" json:"-"`
	AreaName     *string        `db:"area_name" json:"-"`
	AreaType     *string        `db:"area_type" json:"-"`
	Area         *Area          `db:"-" json:"area,omitempty"`
	Contributors pq.StringArray `db:"contributors" json:"contributors"`

	Active     *bool `db:"active" json:"active"`
	Accessible *bool `db:"accessible" json:"accessible"`
	AllGender  *bool `db:"all_gender" json:"allGender"`
	Attended   *bool `db:"attended" json:"attended"`
	Automatic  *bool `db:"automatic" json:"automatic"`
	BabyChange *bool `db:"baby_change" json:"babyChange"`
	Children   *bool `db:"children" json:"children"`
	Men        *bool `db:"men" json:"men"`
	Women      *bool `db:"women" json:"women"`
	UrinalOnly *bool `db:"urinal_only" json:"urinalOnly"`
	NoPayment  *bool `db:"no_payment" json:"noPayment"`
	Radar      *bool `db:"radar" json:"radar"`

	Notes          *string       `db:"notes" json:"notes"`
	PaymentDetails *string       `db:"payment_details" json:"paymentDetails"`
	RemovalReason  *string       `db:"removal_reason" json:"removalReason"`
	OpeningTimes   *OpeningTimes `db:"opening_times" json:"openingTimes"`

	VerifiedAt *time.Time `db:"verified_at" json:"verifiedAt"`
	CreatedAt  time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updatedAt"`
}

// Hydrate derives the nested location and area views from scanned columns.
func (l *Loo) Hydrate() {
	if l.Lat != nil && l.Lng != nil {
		l.Location = &Point{Lat: *l.Lat, Lng: *l.Lng}
	} else {
		l.Location = nil
	}
	if l.AreaID != nil {
		area := Area{ID: *l.AreaID}
		if l.AreaName != nil {
			area.Name = *l.AreaName
		}
		if l.AreaType != nil {
			area.Type = *l.AreaType
		}
		l.Area = &area
	} else {
		l.Area = nil
	}
}

// LooWithDistance annotates a loo with its distance in meters from a query point.
type LooWithDistance struct {
	Loo
	Distance float64 `db:"distance" json:"distance"`
}

// LooSummary is the trimmed shape used by list-heavy map endpoints.
type LooSummary struct {
	ID         string     `db:"id" json:"id"`
	Name       *string    `db:"name" json:"name"`
	Geohash    *string    `db:"geohash" json:"geohash"`
	Active     *bool      `db:"active" json:"active"`
	Accessible *bool      `db:"accessible" json:"accessible"`
	NoPayment  *bool      `db:"no_payment" json:"noPayment"`
	BabyChange *bool      `db:"baby_change" json:"babyChange"`
	AllGender  *bool      `db:"all_gender" json:"allGender"`
	Radar      *bool      `db:"radar" json:"radar"`
	Automatic  *bool      `db:"automatic" json:"automatic"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updatedAt"`
	VerifiedAt *time.Time `db:"verified_at" json:"verifiedAt"`
}

// LooMutation is a partial update. Fields absent from the payload are left
// untouched; explicit nulls clear the stored value.
type LooMutation struct {
	Name           Opt[string]       `json:"name"`
	Location       Opt[Point]        `json:"location"`
	AreaID         Opt[string]       `json:"areaId"`
	Active         Opt[bool]         `json:"active"`
	Accessible     Opt[bool]         `json:"accessible"`
	AllGender      Opt[bool]         `json:"allGender"`
	Attended       Opt[bool]         `json:"attended"`
	Automatic      Opt[bool]         `json:"automatic"`
	BabyChange     Opt[bool]         `json:"babyChange"`
	Children       Opt[bool]         `json:"children"`
	Men            Opt[bool]         `json:"men"`
	Women          Opt[bool]         `json:"women"`
	UrinalOnly     Opt[bool]         `json:"urinalOnly"`
	NoPayment      Opt[bool]         `json:"noPayment"`
	Radar          Opt[bool]         `json:"radar"`
	Notes          Opt[string]       `json:"notes"`
	PaymentDetails Opt[string]       `json:"paymentDetails"`
	RemovalReason  Opt[string]       `json:"removalReason"`
	OpeningTimes   Opt[OpeningTimes] `json:"openingTimes"`
	VerifiedAt     Opt[time.Time]    `json:"verifiedAt"`
}

// Validate rejects malformed coordinates and opening times before any store access.
func (m LooMutation) Validate() error {
	if loc, ok := m.Location.Value(); ok {
		if err := loc.Validate(); err != nil {
			return err
		}
	}
	if ot, ok := m.OpeningTimes.Value(); ok {
		if err := ot.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Pagination captures page metadata for list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
