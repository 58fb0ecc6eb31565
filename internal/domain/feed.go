package domain

// FeedID identifies a remote publisher's stream within a room.
// Zero is reserved for "absent".
type FeedID int64

// Feed describes a remote publisher as reported by room events.
type Feed struct {
	ID      FeedID `json:"id"`
	Display string `json:"display"`
}

// Valid reports whether the descriptor identifies a subscribable feed.
func (f Feed) Valid() bool { return f.ID != 0 && f.Display != "" }
