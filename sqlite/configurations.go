package sqlite

import (
	"context"
	"database/sql"

	"github.com/bobg/sqlutil"
	"github.com/pkg/errors"

	"bouncer"
)

type configurationStore struct {
	db *sql.DB
}

var _ bouncer.ConfigurationStore = configurationStore{}

func (s configurationStore) ByInstallation(ctx context.Context, installationID string) ([]*bouncer.Configuration, error) {
	const q = `
		SELECT id, team_id, channel, channel_id, type, added_by
			FROM configurations
			WHERE installation_id = $1 AND NOT disabled
			ORDER BY id
	`
	var result []*bouncer.Configuration
	err := sqlutil.ForQueryRows(ctx, s.db, q, installationID, func(id, teamID, channel, channelID, typ, addedBy string) {
		result = append(result, &bouncer.Configuration{
			ID:             id,
			TeamID:         teamID,
			InstallationID: installationID,
			Channel:        channel,
			ChannelID:      channelID,
			Type:           bouncer.ConfigType(typ),
			AddedBy:        addedBy,
		})
	})
	return result, errors.Wrap(err, "querying configurations")
}

func (s configurationStore) ByTeamChannel(ctx context.Context, teamID, channelID string) (*bouncer.Configuration, error) {
	const q = `
		SELECT id, installation_id, channel, type, added_by, disabled
			FROM configurations
			WHERE team_id = $1 AND channel_id = $2
			ORDER BY id
			LIMIT 1
	`
	result := &bouncer.Configuration{
		TeamID:    teamID,
		ChannelID: channelID,
	}
	err := sqlutil.QueryRowContext(ctx, s.db, q, teamID, channelID).Scan(
		&result.ID,
		&result.InstallationID,
		&result.Channel,
		&result.Type,
		&result.AddedBy,
		&result.Disabled,
	)
	if errors.Is(err, sql.ErrNoRows) {
		err = bouncer.ErrNotFound
	}
	return result, err
}

func (s configurationStore) Add(ctx context.Context, conf *bouncer.Configuration) error {
	const q = `INSERT INTO configurations (id, team_id, installation_id, channel, channel_id, type, added_by, disabled) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := s.db.ExecContext(ctx, q, conf.ID, conf.TeamID, conf.InstallationID, conf.Channel, conf.ChannelID, conf.Type, conf.AddedBy, conf.Disabled)
	return errors.Wrap(err, "inserting configuration row")
}

func (s configurationStore) Count(ctx context.Context) (int64, error) {
	const q = `SELECT COUNT(*) FROM configurations`
	var count int64
	err := sqlutil.QueryRowContext(ctx, s.db, q).Scan(&count)
	return count, err
}
