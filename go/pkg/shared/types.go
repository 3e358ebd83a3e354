package shared

import "time"

// PostEvent mirrors the classified-post schema emitted by the upstream
// ingestion/classification pipeline. Topics arrive normalized (case-folded,
// trimmed); the engine performs no normalization of its own.
type PostEvent struct {
	PostID     string   `json:"post_id,omitempty"`
	Platform   string   `json:"platform"`
	EventTS    int64    `json:"event_ts"` // nanoseconds epoch, post time (not arrival)
	Topics     []string `json:"topics"`
	Sentiment  float64  `json:"sentiment_score"` // [-1, 1]
	Engagement int64    `json:"engagement"`      // likes + shares + comments
}

func (p PostEvent) EventTime() time.Time {
	return time.Unix(0, p.EventTS)
}
