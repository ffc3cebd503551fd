package repo

import (
	"context"
	"database/sql"

	"github.com/Arthur-Ziegler/tatake-backend/internal/domain"
)

// InsertSelectionTx writes the selection header and its task entries. The
// UNIQUE(user_id,date) index on the header is the arbiter for concurrent
// selections; callers translate the violation via IsUniqueViolation.
func (r Repo) InsertSelectionTx(ctx context.Context, tx *sql.Tx, sel domain.Top3Selection) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO top3_selections(id,user_id,date,created_at) VALUES (?,?,?,?)`,
		sel.ID, sel.UserID, sel.Date, sel.CreatedAt); err != nil {
		return err
	}
	for _, e := range sel.Tasks {
		if _, err := tx.ExecContext(ctx, `INSERT INTO top3_selection_tasks(selection_id,task_id,position) VALUES (?,?,?)`,
			sel.ID, e.TaskID, e.Position); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetSelection(ctx context.Context, userID, date string) (domain.Top3Selection, error) {
	var sel domain.Top3Selection
	err := r.DB.QueryRowContext(ctx, `SELECT id,user_id,date,created_at FROM top3_selections WHERE user_id=? AND date=?`, userID, date).
		Scan(&sel.ID, &sel.UserID, &sel.Date, &sel.CreatedAt)
	if err == sql.ErrNoRows {
		return sel, ErrNotFound
	}
	if err != nil {
		return sel, err
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT task_id, position FROM top3_selection_tasks WHERE selection_id=? ORDER BY position ASC`, sel.ID)
	if err != nil {
		return sel, err
	}
	defer rows.Close()
	for rows.Next() {
		var e domain.Top3Entry
		if err := rows.Scan(&e.TaskID, &e.Position); err != nil {
			return sel, err
		}
		sel.Tasks = append(sel.Tasks, e)
	}
	return sel, rows.Err()
}

func (r Repo) SelectionExistsTx(ctx context.Context, tx *sql.Tx, userID, date string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM top3_selections WHERE user_id=? AND date=? LIMIT 1`, userID, date).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// IsInTop3Tx reports whether the task is part of the user's selection for the
// given date.
func (r Repo) IsInTop3Tx(ctx context.Context, tx *sql.Tx, userID, taskID, date string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `
SELECT 1 FROM top3_selection_tasks st
JOIN top3_selections s ON s.id=st.selection_id
WHERE s.user_id=? AND s.date=? AND st.task_id=? LIMIT 1`, userID, date, taskID).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}
