package models

import (
	"encoding/json"
	"time"
)

// AnonymousContributor is reported when a version carries no attribution.
const AnonymousContributor = "Anonymous"

// Version is one append-only audit log row. Record is the snapshot after the
// mutation; OldRecord the snapshot before it, null for the first version. The
// log has no foreign-key column: versions are matched on the id embedded in
// the snapshot itself.
type Version struct {
	ID        int64           `db:"id"`
	Record    json.RawMessage `db:"record"`
	OldRecord json.RawMessage `db:"old_record"`
	CreatedAt time.Time       `db:"created_at"`
}

// FieldChange is one entry of a report diff.
type FieldChange struct {
	Previous interface{} `json:"previous"`
	Current  interface{} `json:"current"`
}

// Report is the derived, read-facing view of one version transition. Reports
// are recomputed from the version log on every read and never persisted.
type Report struct {
	ID             string                 `json:"id"`
	Contributor    *string                `json:"contributor"`
	CreatedAt      time.Time              `json:"createdAt"`
	VerifiedAt     *time.Time             `json:"verifiedAt"`
	Diff           map[string]FieldChange `json:"diff"`
	IsSystemReport bool                   `json:"isSystemReport"`

	// Record carries the full field snapshot at this version when the caller
	// asks for the hydrated shape.
	Record map[string]interface{} `json:"record,omitempty"`
}
