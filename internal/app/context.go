// Package app wires a workspace directory into a ready engine and picks the
// collaborator that item mutations go through.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"weekplan/internal/calendar"
	"weekplan/internal/config"
	"weekplan/internal/db"
	"weekplan/internal/domain"
	"weekplan/internal/engine"
	"weekplan/internal/log"
	"weekplan/internal/migrate"
	"weekplan/internal/schedule"
	weekplansdk "weekplan/sdk/go"
)

type Workspace struct {
	Dir    string
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
}

// Open ensures the workspace exists, migrates its database and loads
// weekplan.yml, falling back to the defaults when the file is absent.
func Open(dir string) (*Workspace, error) {
	if _, err := db.EnsureWorkspace(dir); err != nil {
		return nil, err
	}
	cfg, err := config.LoadOptional(dir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	e := engine.New(conn, cfg)
	e.Bus = &calendar.Events{}
	e.Warn = func(de *domain.DataError) {
		log.Warn("skipping item", "id", de.ItemID, "field", de.Field, "reason", de.Reason)
	}
	return &Workspace{Dir: dir, DB: conn, Config: cfg, Engine: e}, nil
}

func (w *Workspace) Close() error {
	return w.DB.Close()
}

// Collaborator returns remote bound to kind when set, else the local engine.
func (w *Workspace) Collaborator(kind domain.Kind, actorID string, remote *weekplansdk.Client) schedule.Collaborator {
	if remote != nil {
		return remote.Collaborator(kind)
	}
	return engine.Local{Engine: w.Engine, Kind: kind, ActorID: actorID}
}

// Syncer returns a store of kind filled from its collaborator.
func (w *Workspace) Syncer(ctx context.Context, kind domain.Kind, actorID string, remote *weekplansdk.Client) (*schedule.Syncer, error) {
	s := schedule.NewSyncer(w.Engine.NewStore(kind), w.Collaborator(kind, actorID, remote))
	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}
	return s, nil
}
