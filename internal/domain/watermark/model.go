package watermark

import (
	"time"
)

// Cursor is the high-water mark for one polled source. Exactly one row exists
// per source, seeded at migration time; only the source's poller advances it.
type Cursor struct {
	SourceID          string    `db:"source_id" json:"source_id"`
	LastSeenTimestamp time.Time `db:"last_seen_at" json:"last_seen_at"`
	LastSeenID        int64     `db:"last_seen_id" json:"last_seen_id"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// Before reports whether the cursor is strictly behind the given position,
// comparing by timestamp first and row id second. Advancing is only legal
// when Before is true; this is the in-memory twin of the repository's
// compare-and-set predicate.
func (c Cursor) Before(ts time.Time, id int64) bool {
	if c.LastSeenTimestamp.Before(ts) {
		return true
	}
	if c.LastSeenTimestamp.Equal(ts) {
		return c.LastSeenID < id
	}
	return false
}
