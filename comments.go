package bouncer

import "time"

// Comment statuses as reported by the Talk graph.
const (
	StatusNone           = "NONE"
	StatusNew            = "NEW"
	StatusPremod         = "PREMOD"
	StatusSystemWithheld = "SYSTEM_WITHHELD"
	StatusAccepted       = "ACCEPTED"
	StatusRejected       = "REJECTED"
)

// Comment is a comment fetched from a Talk installation.
// Comments are transient: fetched per event, never persisted locally.
type Comment struct {
	ID        string    `json:"id"`
	Body      string    `json:"body"`
	Status    string    `json:"status"`
	Asset     Asset     `json:"asset"`
	Author    Author    `json:"user"`
	CreatedAt time.Time `json:"created_at"`
}

// Asset is the page a comment was posted on.
type Asset struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Author is the Talk user who wrote a comment.
type Author struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}
