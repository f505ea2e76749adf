package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mamadbah2/producao/internal/domain/models"
	"github.com/mamadbah2/producao/internal/repository"
)

func (s *Store) GetItem(ctx context.Context, id string) (*models.Item, error) {
	var item models.Item
	if err := s.getPayload(ctx, "item "+id, &item, `SELECT payload FROM items WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SaveItem(ctx context.Context, item models.Item) error {
	payload, err := encode(item)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, payload) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET payload = excluded.payload`, item.ID, payload); err != nil {
		return fmt.Errorf("save item %s: %w", item.ID, err)
	}
	return nil
}

// ListLinkedIngredients returns the principal ingredient first.
func (s *Store) ListLinkedIngredients(ctx context.Context, itemID string) ([]models.LinkedIngredient, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM linked_ingredients
		WHERE item_id = ?
		ORDER BY principal DESC, id`, itemID)
	if err != nil {
		return nil, fmt.Errorf("list linked ingredients of %s: %w", itemID, err)
	}
	return scanPayloads[models.LinkedIngredient](rows)
}

func (s *Store) SaveLinkedIngredient(ctx context.Context, link models.LinkedIngredient) error {
	payload, err := encode(link)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO linked_ingredients (id, item_id, principal, payload) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			item_id = excluded.item_id,
			principal = excluded.principal,
			payload = excluded.payload`,
		link.ID, link.ItemID, link.Principal, payload); err != nil {
		return fmt.Errorf("save linked ingredient %s: %w", link.ID, err)
	}
	return nil
}

func (s *Store) GetIngredient(ctx context.Context, id string) (*models.Ingredient, error) {
	return getIngredient(ctx, s.db, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getIngredient(ctx context.Context, q queryer, id string) (*models.Ingredient, error) {
	var (
		ing   models.Ingredient
		unit  string
		stock string
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, organization_id, name, unit, stock FROM ingredients WHERE id = ?`, id,
	).Scan(&ing.ID, &ing.OrganizationID, &ing.Name, &unit, &stock)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ingredient %s: %w", id, repository.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read ingredient %s: %w", id, err)
	}
	ing.Unit = models.Unit(unit)
	if ing.Stock, err = decimal.NewFromString(stock); err != nil {
		return nil, fmt.Errorf("decode stock of ingredient %s: %w", id, err)
	}
	return &ing, nil
}

func (s *Store) SaveIngredient(ctx context.Context, ing models.Ingredient) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO ingredients (id, organization_id, name, unit, stock) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			organization_id = excluded.organization_id,
			name = excluded.name,
			unit = excluded.unit,
			stock = excluded.stock`,
		ing.ID, ing.OrganizationID, ing.Name, ing.Unit, ing.Stock.String()); err != nil {
		return fmt.Errorf("save ingredient %s: %w", ing.ID, err)
	}
	return nil
}

// AdjustStock reads and rewrites the stock inside one transaction. Stock is
// kept as decimal text, so the arithmetic happens here rather than in SQL.
func (s *Store) AdjustStock(ctx context.Context, ingredientID string, delta decimal.Decimal) (before, after decimal.Decimal, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("begin stock adjustment: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	ing, err := getIngredient(ctx, tx, ingredientID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	before = ing.Stock
	after = before.Add(delta)

	if _, err = tx.ExecContext(ctx, `UPDATE ingredients SET stock = ? WHERE id = ?`, after.String(), ingredientID); err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("update stock of %s: %w", ingredientID, err)
	}
	if err = tx.Commit(); err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("commit stock adjustment of %s: %w", ingredientID, err)
	}
	return before, after, nil
}

func (s *Store) AppendMovement(ctx context.Context, mv models.StockMovement) error {
	payload, err := encode(mv)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_movements (id, organization_id, ingredient_id, record_id, created_at, payload)
		VALUES (?, ?, ?, ?, ?, ?)`,
		mv.ID, mv.OrganizationID, mv.IngredientID, mv.RecordID, mv.CreatedAt.UnixNano(), payload); err != nil {
		return fmt.Errorf("append stock movement %s: %w", mv.ID, err)
	}
	return nil
}

func (s *Store) ListMovements(ctx context.Context, filter repository.MovementFilter) ([]models.StockMovement, error) {
	var (
		conds []string
		args  []any
	)
	if filter.OrganizationID != "" {
		conds = append(conds, "organization_id = ?")
		args = append(args, filter.OrganizationID)
	}
	if filter.IngredientID != "" {
		conds = append(conds, "ingredient_id = ?")
		args = append(args, filter.IngredientID)
	}
	if filter.RecordID != "" {
		conds = append(conds, "record_id = ?")
		args = append(args, filter.RecordID)
	}
	query := `SELECT payload FROM stock_movements`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at, rowid"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list stock movements: %w", err)
	}
	return scanPayloads[models.StockMovement](rows)
}
