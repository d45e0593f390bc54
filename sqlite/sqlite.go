// Package sqlite implements the bouncer stores on Sqlite3.
package sqlite

import (
	"context"
	"database/sql"
	"embed"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"

	"bouncer"
)

//go:embed migrations/*.sql
var migrations embed.FS

func Open(ctx context.Context, conn string) (Stores, error) {
	db, err := sql.Open("sqlite3", conn)
	if err != nil {
		return Stores{}, errors.Wrapf(err, "opening %s", conn)
	}

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return Stores{}, errors.Wrap(err, "setting migration dialect")
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return Stores{}, errors.Wrap(err, "running migrations")
	}

	return Stores{
		Installations:  installationStore{db: db},
		Teams:          teamStore{db: db},
		Configurations: configurationStore{db: db},
		Users:          userStore{db: db},
		db:             db,
	}, nil
}

type Stores struct {
	Installations  bouncer.InstallationStore
	Teams          bouncer.TeamStore
	Configurations bouncer.ConfigurationStore
	Users          bouncer.UserStore

	db *sql.DB
}

func (s Stores) Close() error {
	return s.db.Close()
}
