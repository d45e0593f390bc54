package bouncer

import "context"

// ConfigType is the moderation queue a configuration subscribes to.
type ConfigType string

const (
	ConfigTypeNew      ConfigType = "NEW"
	ConfigTypeReported ConfigType = "REPORTED"
	ConfigTypePremod   ConfigType = "PREMOD"
)

// ConfigurationStore is a persistent store for Configurations.
type ConfigurationStore interface {
	// ByInstallation returns the non-disabled configurations for an installation.
	ByInstallation(ctx context.Context, installationID string) ([]*Configuration, error)

	// ByTeamChannel finds the configuration bound to a channel in a team,
	// disabled or not.
	ByTeamChannel(ctx context.Context, teamID, channelID string) (*Configuration, error)

	Add(context.Context, *Configuration) error
	Count(context.Context) (int64, error)
}

// Configuration binds one Installation and one Slack channel to a moderation
// queue. Relayed messages for the configuration are posted with the access
// token of the user who created it (AddedBy).
type Configuration struct {
	ID             string     `json:"id"`
	TeamID         string     `json:"team_id"`
	InstallationID string     `json:"installation_id"`
	Channel        string     `json:"channel"`
	ChannelID      string     `json:"channel_id"`
	Type           ConfigType `json:"type"`
	AddedBy        string     `json:"added_by"`
	Disabled       bool       `json:"disabled"`
}
