package bouncer

import "context"

// UserStore is a persistent store for Users.
type UserStore interface {
	ByID(context.Context, string) (*User, error)
	ByIDs(context.Context, []string) ([]*User, error)
	Add(context.Context, *User) error
	Count(context.Context) (int64, error)
}

// User is a Slack-identified moderator. The core reads only the users
// referenced by a Configuration's AddedBy, for their access tokens.
type User struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AccessToken string `json:"-"`
	TeamID      string `json:"team_id"`
}
