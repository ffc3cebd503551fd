package repo

import (
	"context"
	"database/sql"
	"strings"

	"github.com/Arthur-Ziegler/tatake-backend/internal/domain"
)

// Ledger source types. Transactions are append-only: rows are never updated
// or deleted, and balances are always aggregated from history.
const (
	SourceTaskReward         = "task_reward"
	SourceTop3Cost           = "top3_cost"
	SourceLotteryConsolation = "lottery_consolation"
	SourceLotteryReward      = "lottery_reward"
	SourceRecipeInput        = "recipe_input"
	SourceRecipeOutput       = "recipe_output"
)

func (r Repo) AppendPointsTx(ctx context.Context, tx *sql.Tx, pt domain.PointsTransaction) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO points_transactions(id,user_id,amount,source_type,source_id,created_at) VALUES (?,?,?,?,?,?)`,
		pt.ID, pt.UserID, pt.Amount, pt.SourceType, nullableStringPtr(pt.SourceID), pt.CreatedAt)
	return err
}

func (r Repo) PointsBalance(ctx context.Context, userID string) (int, error) {
	var balance int
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount),0) FROM points_transactions WHERE user_id=?`, userID).Scan(&balance)
	return balance, err
}

// PointsBalanceTx aggregates inside the caller's transaction so a spend
// decision and its write see the same ledger state.
func (r Repo) PointsBalanceTx(ctx context.Context, tx *sql.Tx, userID string) (int, error) {
	var balance int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount),0) FROM points_transactions WHERE user_id=?`, userID).Scan(&balance)
	return balance, err
}

type HistoryFilters struct {
	UserID          string
	SourceType      string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) PointsHistory(ctx context.Context, f HistoryFilters) ([]domain.PointsTransaction, error) {
	clauses := []string{"user_id=?"}
	args := []any{f.UserID}
	if f.SourceType != "" {
		clauses = append(clauses, "source_type=?")
		args = append(args, f.SourceType)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT id,user_id,amount,source_type,source_id,created_at FROM points_transactions WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PointsTransaction
	for rows.Next() {
		var pt domain.PointsTransaction
		var sourceID sql.NullString
		if err := rows.Scan(&pt.ID, &pt.UserID, &pt.Amount, &pt.SourceType, &sourceID, &pt.CreatedAt); err != nil {
			return nil, err
		}
		if sourceID.Valid {
			pt.SourceID = &sourceID.String
		}
		res = append(res, pt)
	}
	return res, rows.Err()
}

func (r Repo) AppendRewardTx(ctx context.Context, tx *sql.Tx, rt domain.RewardTransaction) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO reward_transactions(id,user_id,item_id,quantity,source_type,source_id,transaction_group,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		rt.ID, rt.UserID, rt.ItemID, rt.Quantity, rt.SourceType, nullableStringPtr(rt.SourceID),
		nullableStringPtr(rt.TransactionGroup), rt.CreatedAt)
	return err
}

func (r Repo) RewardBalanceTx(ctx context.Context, tx *sql.Tx, userID, itemID string) (int, error) {
	var balance int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(SUM(quantity),0) FROM reward_transactions WHERE user_id=? AND item_id=?`, userID, itemID).Scan(&balance)
	return balance, err
}

func (r Repo) RewardBalance(ctx context.Context, userID, itemID string) (int, error) {
	var balance int
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(SUM(quantity),0) FROM reward_transactions WHERE user_id=? AND item_id=?`, userID, itemID).Scan(&balance)
	return balance, err
}

// RewardHoldings returns per-item balances for a user, skipping items that
// net out to zero.
func (r Repo) RewardHoldings(ctx context.Context, userID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT item_id, SUM(quantity) FROM reward_transactions WHERE user_id=? GROUP BY item_id HAVING SUM(quantity) != 0`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var itemID string
		var qty int
		if err := rows.Scan(&itemID, &qty); err != nil {
			return nil, err
		}
		res[itemID] = qty
	}
	return res, rows.Err()
}

func (r Repo) RewardHistory(ctx context.Context, f HistoryFilters) ([]domain.RewardTransaction, error) {
	clauses := []string{"user_id=?"}
	args := []any{f.UserID}
	if f.SourceType != "" {
		clauses = append(clauses, "source_type=?")
		args = append(args, f.SourceType)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT id,user_id,item_id,quantity,source_type,source_id,transaction_group,created_at FROM reward_transactions WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRewardTransactions(rows)
}

// GroupTransactions returns every reward transaction sharing one transaction
// group, oldest first, so a craft can be audited as one logical operation.
func (r Repo) GroupTransactions(ctx context.Context, group string) ([]domain.RewardTransaction, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,user_id,item_id,quantity,source_type,source_id,transaction_group,created_at FROM reward_transactions WHERE transaction_group=? ORDER BY created_at ASC, id ASC`, group)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRewardTransactions(rows)
}

func scanRewardTransactions(rows *sql.Rows) ([]domain.RewardTransaction, error) {
	var res []domain.RewardTransaction
	for rows.Next() {
		var rt domain.RewardTransaction
		var sourceID, group sql.NullString
		if err := rows.Scan(&rt.ID, &rt.UserID, &rt.ItemID, &rt.Quantity, &rt.SourceType, &sourceID, &group, &rt.CreatedAt); err != nil {
			return nil, err
		}
		if sourceID.Valid {
			rt.SourceID = &sourceID.String
		}
		if group.Valid {
			rt.TransactionGroup = &group.String
		}
		res = append(res, rt)
	}
	return res, rows.Err()
}
