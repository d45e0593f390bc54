package bouncer

import "context"

// TeamStore is a persistent store for Teams.
type TeamStore interface {
	ByID(context.Context, string) (*Team, error)
	Add(context.Context, *Team) error
	SetDisabled(ctx context.Context, id string, disabled bool) error
	Count(context.Context) (int64, error)
}

// Team is a Slack workspace. A disabled team suppresses all relay and
// callback activity for its installations.
type Team struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Domain      string `json:"domain"`
	AccessToken string `json:"-"`
	Disabled    bool   `json:"disabled"`
}
