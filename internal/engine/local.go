package engine

import (
	"context"

	"weekplan/internal/domain"
	"weekplan/internal/repo"
	"weekplan/internal/schedule"
)

// Local adapts the engine to schedule.Collaborator for one kind, so the CLI
// drives a local workspace and a remote server through the same Syncer.
type Local struct {
	Engine  Engine
	Kind    domain.Kind
	ActorID string
}

var _ schedule.Collaborator = Local{}

func (l Local) FetchAll(ctx context.Context) ([]domain.Item, error) {
	return l.Engine.ListItems(ctx, repo.ItemFilter{Kind: l.Kind})
}

func (l Local) Create(ctx context.Context, it domain.Item) (domain.Item, error) {
	opts := OptionsFromItem(it, l.ActorID)
	opts.Kind = l.Kind
	return l.Engine.CreateItem(ctx, opts)
}

func (l Local) Replace(ctx context.Context, id string, it domain.Item) (domain.Item, error) {
	opts := OptionsFromItem(it, l.ActorID)
	opts.Kind = l.Kind
	opts.ID = id
	return l.Engine.ReplaceItem(ctx, opts)
}

func (l Local) Delete(ctx context.Context, id string) error {
	return l.Engine.DeleteItem(ctx, l.Kind, id, l.ActorID)
}
