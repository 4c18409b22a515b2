package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"stageboard/internal/domain"
	"stageboard/internal/events"
)

// ProductOptions are parameters for creating or updating a catalog product.
type ProductOptions struct {
	ID          string
	Nom         string
	PrixVente   string
	Image       string
	Stock       *int
	AlerteStock *int
	ActorID     string
}

func (e Engine) CreateProduct(ctx context.Context, opts ProductOptions) (domain.Product, error) {
	if opts.Nom == "" {
		return domain.Product{}, errors.New("nom is required")
	}
	p := domain.Product{
		ID:        opts.ID,
		Nom:       opts.Nom,
		PrixVente: ParsePrice(opts.PrixVente),
		Image:     opts.Image,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if opts.Stock != nil {
		p.Stock = *opts.Stock
	}
	if opts.AlerteStock != nil {
		p.AlerteStock = *opts.AlerteStock
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProduct(ctx, tx, p); err != nil {
		return p, err
	}
	if err := e.Events.Append(ctx, tx, "product.created", "product", p.ID, opts.ActorID, events.EventPayload{"nom": p.Nom}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}

func (e Engine) UpdateProduct(ctx context.Context, opts ProductOptions) (domain.Product, error) {
	p, err := e.Repo.GetProduct(ctx, opts.ID)
	if err != nil {
		return p, err
	}
	if opts.Nom != "" {
		p.Nom = opts.Nom
	}
	if opts.PrixVente != "" {
		p.PrixVente = ParsePrice(opts.PrixVente)
	}
	if opts.Image != "" {
		p.Image = opts.Image
	}
	if opts.Stock != nil {
		p.Stock = *opts.Stock
	}
	if opts.AlerteStock != nil {
		p.AlerteStock = *opts.AlerteStock
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateProduct(ctx, tx, p); err != nil {
		return p, err
	}
	if err := e.Events.Append(ctx, tx, "product.updated", "product", p.ID, opts.ActorID, events.EventPayload{"nom": p.Nom}); err != nil {
		return p, err
	}
	if err := tx.Commit(); err != nil {
		return p, err
	}
	return p, nil
}

func (e Engine) DeleteProduct(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteProduct(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "product.deleted", "product", id, actorID, events.EventPayload{}); err != nil {
		return err
	}
	return tx.Commit()
}
