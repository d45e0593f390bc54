package pg

import (
	"context"
	"database/sql"

	"github.com/bobg/sqlutil"
	"github.com/pkg/errors"

	"bouncer"
)

type installationStore struct {
	db *sql.DB
}

var _ bouncer.InstallationStore = installationStore{}

func (s installationStore) ByID(ctx context.Context, id string) (*bouncer.Installation, error) {
	const q = `SELECT name, root_url, access_token, talk_version, team_id, disabled FROM installations WHERE id = $1`
	result := &bouncer.Installation{
		ID: id,
	}
	err := sqlutil.QueryRowContext(ctx, s.db, q, id).Scan(
		&result.Name,
		&result.RootURL,
		&result.AccessToken,
		&result.TalkVersion,
		&result.TeamID,
		&result.Disabled,
	)
	if errors.Is(err, sql.ErrNoRows) {
		err = bouncer.ErrNotFound
	}
	return result, err
}

func (s installationStore) Add(ctx context.Context, inst *bouncer.Installation) error {
	const q = `INSERT INTO installations (id, name, root_url, access_token, talk_version, team_id, disabled) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.db.ExecContext(ctx, q, inst.ID, inst.Name, inst.RootURL, inst.AccessToken, inst.TalkVersion, inst.TeamID, inst.Disabled)
	return errors.Wrap(err, "inserting installation row")
}

func (s installationStore) SetDisabled(ctx context.Context, id string, disabled bool) error {
	const q = `UPDATE installations SET disabled = $1 WHERE id = $2`
	res, err := s.db.ExecContext(ctx, q, disabled, id)
	if err != nil {
		return errors.Wrap(err, "updating installation row")
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "counting affected rows")
	}
	if aff == 0 {
		return bouncer.ErrNotFound
	}
	return nil
}

func (s installationStore) Count(ctx context.Context) (int64, error) {
	const q = `SELECT COUNT(*) FROM installations`
	var count int64
	err := sqlutil.QueryRowContext(ctx, s.db, q).Scan(&count)
	return count, err
}
