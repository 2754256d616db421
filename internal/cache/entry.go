package cache

import "time"

// Entry is one persisted fetch result. Value always holds the last value
// produced by a successful fetch; failed regenerations never touch it.
//
// A zero FreshUntil means the entry stays fresh until explicitly invalidated
// (force-cache). A non-zero FreshUntil in the past marks the entry stale:
// stale entries are retained and served while a background regeneration runs.
type Entry struct {
	Key        Key       `json:"key"`
	Value      []byte    `json:"value"`
	Tags       []string  `json:"tags,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	FreshUntil time.Time `json:"freshUntil,omitzero"`
}

// Fresh reports whether the entry may be served without scheduling a
// regeneration at the given instant.
func (e Entry) Fresh(now time.Time) bool {
	if e.FreshUntil.IsZero() {
		return true
	}
	return now.Before(e.FreshUntil)
}

func cloneEntry(in Entry) Entry {
	out := Entry{
		Key:        in.Key,
		CreatedAt:  in.CreatedAt,
		FreshUntil: in.FreshUntil,
	}
	if in.Value != nil {
		out.Value = make([]byte, len(in.Value))
		copy(out.Value, in.Value)
	}
	if len(in.Tags) > 0 {
		out.Tags = make([]string, len(in.Tags))
		copy(out.Tags, in.Tags)
	}
	return out
}
