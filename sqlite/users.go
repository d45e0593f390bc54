package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/bobg/sqlutil"
	"github.com/pkg/errors"

	"bouncer"
)

type userStore struct {
	db *sql.DB
}

var _ bouncer.UserStore = userStore{}

func (s userStore) ByID(ctx context.Context, id string) (*bouncer.User, error) {
	const q = `SELECT name, access_token, team_id FROM users WHERE id = $1`
	result := &bouncer.User{
		ID: id,
	}
	err := sqlutil.QueryRowContext(ctx, s.db, q, id).Scan(
		&result.Name,
		&result.AccessToken,
		&result.TeamID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		err = bouncer.ErrNotFound
	}
	return result, err
}

func (s userStore) ByIDs(ctx context.Context, ids []string) ([]*bouncer.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, 0, len(ids))
	args := make([]any, 0, len(ids)+1)
	for i, id := range ids {
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
		args = append(args, id)
	}
	q := fmt.Sprintf(`SELECT id, name, access_token, team_id FROM users WHERE id IN (%s)`, strings.Join(placeholders, ", "))

	var result []*bouncer.User
	args = append(args, func(id, name, accessToken, teamID string) {
		result = append(result, &bouncer.User{
			ID:          id,
			Name:        name,
			AccessToken: accessToken,
			TeamID:      teamID,
		})
	})
	err := sqlutil.ForQueryRows(ctx, s.db, q, args...)
	return result, errors.Wrap(err, "querying users")
}

func (s userStore) Add(ctx context.Context, user *bouncer.User) error {
	const q = `INSERT INTO users (id, name, access_token, team_id) VALUES ($1, $2, $3, $4)`
	_, err := s.db.ExecContext(ctx, q, user.ID, user.Name, user.AccessToken, user.TeamID)
	return errors.Wrap(err, "inserting user row")
}

func (s userStore) Count(ctx context.Context) (int64, error) {
	const q = `SELECT COUNT(*) FROM users`
	var count int64
	err := sqlutil.QueryRowContext(ctx, s.db, q).Scan(&count)
	return count, err
}
