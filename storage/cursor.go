package storage

import "time"

// Cursor identifies a row's position in the canonical ordering: primary key
// created_at DESC, tiebreaker id ASC (original spec §4.1).
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// AfterPredicate reports whether candidate is strictly newer than cursor:
// created_at > cursor.created_at, or equal and id < cursor.id (original spec
// §4.1, "after_id means 'strictly newer than cursor row'").
func AfterPredicate(candidate Cursor, cursor Cursor) bool {
	if candidate.CreatedAt.After(cursor.CreatedAt) {
		return true
	}
	return candidate.CreatedAt.Equal(cursor.CreatedAt) && candidate.ID < cursor.ID
}

// BeforePredicate reports whether candidate is strictly older than cursor:
// the mirror of AfterPredicate.
func BeforePredicate(candidate Cursor, cursor Cursor) bool {
	if candidate.CreatedAt.Before(cursor.CreatedAt) {
		return true
	}
	return candidate.CreatedAt.Equal(cursor.CreatedAt) && candidate.ID > cursor.ID
}
