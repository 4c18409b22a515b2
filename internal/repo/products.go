package repo

import (
	"context"
	"database/sql"

	"stageboard/internal/domain"
)

func (r Repo) InsertProduct(ctx context.Context, tx *sql.Tx, p domain.Product) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO products(id, nom, prix_vente, image, stock, alerte_stock, created_at) VALUES (?,?,?,?,?,?,?)`,
		p.ID, p.Nom, p.PrixVente, p.Image, p.Stock, p.AlerteStock, p.CreatedAt)
	return err
}

func (r Repo) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id, nom, prix_vente, image, stock, alerte_stock, created_at FROM products WHERE id=?`, id)
	var p domain.Product
	err := row.Scan(&p.ID, &p.Nom, &p.PrixVente, &p.Image, &p.Stock, &p.AlerteStock, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return r.queryProducts(ctx, `SELECT id, nom, prix_vente, image, stock, alerte_stock, created_at FROM products ORDER BY nom ASC`)
}

// ListLowStock returns products at or below their alert threshold.
func (r Repo) ListLowStock(ctx context.Context) ([]domain.Product, error) {
	return r.queryProducts(ctx, `SELECT id, nom, prix_vente, image, stock, alerte_stock, created_at FROM products WHERE stock<=alerte_stock ORDER BY stock ASC`)
}

// ProductMap indexes all products by id for commission lookups.
func (r Repo) ProductMap(ctx context.Context) (map[string]domain.Product, error) {
	products, err := r.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	m := make(map[string]domain.Product, len(products))
	for _, p := range products {
		m[p.ID] = p
	}
	return m, nil
}

func (r Repo) UpdateProduct(ctx context.Context, tx *sql.Tx, p domain.Product) error {
	res, err := tx.ExecContext(ctx, `UPDATE products SET nom=?, prix_vente=?, image=?, stock=?, alerte_stock=? WHERE id=?`,
		p.Nom, p.PrixVente, p.Image, p.Stock, p.AlerteStock, p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteProduct(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM products WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) queryProducts(ctx context.Context, query string, args ...any) ([]domain.Product, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var products []domain.Product
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Nom, &p.PrixVente, &p.Image, &p.Stock, &p.AlerteStock, &p.CreatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}
