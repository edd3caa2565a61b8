// Package activity provides the activity store interface and implementations
// for the change history of templates and rules.
package activity

import "time"

// QueryOptions controls filtering and pagination for entity history queries.
type QueryOptions struct {
	Since      *time.Time
	Until      *time.Time
	Categories []string // "template", "rule"
	EventTypes []string
	Limit      int    // default 100, max 500
	Cursor     string // RFC3339Nano occurred_at of the last entry seen
}

// DefaultQueryOptions returns QueryOptions with sensible defaults.
func DefaultQueryOptions() QueryOptions {
	return QueryOptions{Limit: 100}
}

func (o QueryOptions) limit() int {
	if o.Limit <= 0 || o.Limit > 500 {
		return 100
	}
	return o.Limit
}

func (o QueryOptions) cursor() (time.Time, bool) {
	if o.Cursor == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, o.Cursor)
	return t, err == nil
}
