package sqlite

import (
	"context"
	"database/sql"

	"github.com/bobg/sqlutil"
	"github.com/pkg/errors"

	"bouncer"
)

type teamStore struct {
	db *sql.DB
}

var _ bouncer.TeamStore = teamStore{}

func (s teamStore) ByID(ctx context.Context, id string) (*bouncer.Team, error) {
	const q = `SELECT name, domain, access_token, disabled FROM teams WHERE id = $1`
	result := &bouncer.Team{
		ID: id,
	}
	err := sqlutil.QueryRowContext(ctx, s.db, q, id).Scan(
		&result.Name,
		&result.Domain,
		&result.AccessToken,
		&result.Disabled,
	)
	if errors.Is(err, sql.ErrNoRows) {
		err = bouncer.ErrNotFound
	}
	return result, err
}

func (s teamStore) Add(ctx context.Context, team *bouncer.Team) error {
	const q = `INSERT INTO teams (id, name, domain, access_token, disabled) VALUES ($1, $2, $3, $4, $5)`
	_, err := s.db.ExecContext(ctx, q, team.ID, team.Name, team.Domain, team.AccessToken, team.Disabled)
	return errors.Wrap(err, "inserting team row")
}

func (s teamStore) SetDisabled(ctx context.Context, id string, disabled bool) error {
	const q = `UPDATE teams SET disabled = $1 WHERE id = $2`
	res, err := s.db.ExecContext(ctx, q, disabled, id)
	if err != nil {
		return errors.Wrap(err, "updating team row")
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

func (s teamStore) Count(ctx context.Context) (int64, error) {
	const q = `SELECT COUNT(*) FROM teams`
	var count int64
	err := sqlutil.QueryRowContext(ctx, s.db, q).Scan(&count)
	return count, err
}
