package repo

import (
	"context"
	"database/sql"

	"github.com/Arthur-Ziegler/tatake-backend/internal/domain"
)

func (r Repo) InsertItemTx(ctx context.Context, tx *sql.Tx, it domain.RewardItem) error {
	active := 0
	if it.IsActive {
		active = 1
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO reward_items(id,name,description,points_value,is_active,created_at) VALUES (?,?,?,?,?,?)`,
		it.ID, it.Name, nullable(it.Description), it.PointsValue, active, it.CreatedAt)
	return err
}

func scanItem(row rowScanner) (domain.RewardItem, error) {
	var it domain.RewardItem
	var desc sql.NullString
	var active int
	err := row.Scan(&it.ID, &it.Name, &desc, &it.PointsValue, &active, &it.CreatedAt)
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	if err != nil {
		return it, err
	}
	if desc.Valid {
		it.Description = desc.String
	}
	it.IsActive = active != 0
	return it, nil
}

func (r Repo) GetItem(ctx context.Context, id string) (domain.RewardItem, error) {
	return scanItem(r.DB.QueryRowContext(ctx, `SELECT id,name,description,points_value,is_active,created_at FROM reward_items WHERE id=?`, id))
}

func (r Repo) GetItemTx(ctx context.Context, tx *sql.Tx, id string) (domain.RewardItem, error) {
	return scanItem(tx.QueryRowContext(ctx, `SELECT id,name,description,points_value,is_active,created_at FROM reward_items WHERE id=?`, id))
}

func (r Repo) ListItems(ctx context.Context, activeOnly bool) ([]domain.RewardItem, error) {
	query := `SELECT id,name,description,points_value,is_active,created_at FROM reward_items`
	if activeOnly {
		query += ` WHERE is_active=1`
	}
	query += ` ORDER BY created_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectItems(rows)
}

// ListActiveItemsTx reads the lottery-eligible catalog inside the caller's
// transaction.
func (r Repo) ListActiveItemsTx(ctx context.Context, tx *sql.Tx) ([]domain.RewardItem, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id,name,description,points_value,is_active,created_at FROM reward_items WHERE is_active=1 ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectItems(rows)
}

func collectItems(rows *sql.Rows) ([]domain.RewardItem, error) {
	var res []domain.RewardItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

func (r Repo) SetItemActiveTx(ctx context.Context, tx *sql.Tx, id string, active bool) error {
	v := 0
	if active {
		v = 1
	}
	res, err := tx.ExecContext(ctx, `UPDATE reward_items SET is_active=? WHERE id=?`, v, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertRecipeTx(ctx context.Context, tx *sql.Tx, rec domain.Recipe) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO recipes(id,name,output_item_id,output_quantity,created_at) VALUES (?,?,?,?,?)`,
		rec.ID, rec.Name, rec.OutputItemID, rec.OutputQuantity, rec.CreatedAt)
	if err != nil {
		return err
	}
	for _, in := range rec.Inputs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO recipe_inputs(recipe_id,item_id,quantity) VALUES (?,?,?)`,
			rec.ID, in.ItemID, in.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetRecipe(ctx context.Context, id string) (domain.Recipe, error) {
	var rec domain.Recipe
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,output_item_id,output_quantity,created_at FROM recipes WHERE id=?`, id).
		Scan(&rec.ID, &rec.Name, &rec.OutputItemID, &rec.OutputQuantity, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	rec.Inputs, err = r.recipeInputs(ctx, id)
	return rec, err
}

func (r Repo) GetRecipeTx(ctx context.Context, tx *sql.Tx, id string) (domain.Recipe, error) {
	var rec domain.Recipe
	err := tx.QueryRowContext(ctx, `SELECT id,name,output_item_id,output_quantity,created_at FROM recipes WHERE id=?`, id).
		Scan(&rec.ID, &rec.Name, &rec.OutputItemID, &rec.OutputQuantity, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	rows, err := tx.QueryContext(ctx, `SELECT item_id, quantity FROM recipe_inputs WHERE recipe_id=? ORDER BY item_id`, id)
	if err != nil {
		return rec, err
	}
	defer rows.Close()
	for rows.Next() {
		var in domain.RecipeInput
		if err := rows.Scan(&in.ItemID, &in.Quantity); err != nil {
			return rec, err
		}
		rec.Inputs = append(rec.Inputs, in)
	}
	return rec, rows.Err()
}

func (r Repo) recipeInputs(ctx context.Context, recipeID string) ([]domain.RecipeInput, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT item_id, quantity FROM recipe_inputs WHERE recipe_id=? ORDER BY item_id`, recipeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RecipeInput
	for rows.Next() {
		var in domain.RecipeInput
		if err := rows.Scan(&in.ItemID, &in.Quantity); err != nil {
			return nil, err
		}
		res = append(res, in)
	}
	return res, rows.Err()
}

func (r Repo) ListRecipes(ctx context.Context) ([]domain.Recipe, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,output_item_id,output_quantity,created_at FROM recipes ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Recipe
	for rows.Next() {
		var rec domain.Recipe
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.OutputItemID, &rec.OutputQuantity, &rec.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		inputs, err := r.recipeInputs(ctx, res[i].ID)
		if err != nil {
			return nil, err
		}
		res[i].Inputs = inputs
	}
	return res, nil
}
