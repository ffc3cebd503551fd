package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Arthur-Ziegler/tatake-backend/internal/domain"
	"github.com/Arthur-Ziegler/tatake-backend/internal/events"
	"github.com/Arthur-Ziegler/tatake-backend/internal/repo"
)

// Top3Result is a charged, committed daily selection.
type Top3Result struct {
	Selection domain.Top3Selection
	Charged   int
}

// SetTop3 charges the configured cost and records the user's selection for
// the given date. One selection per user per day; a unique index on
// (user_id, date) arbitrates concurrent attempts and the loser's charge is
// rolled back with its transaction.
func (e Engine) SetTop3(ctx context.Context, userID, date string, taskIDs []string) (Top3Result, error) {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return Top3Result{}, ValidationError{Field: "date", Reason: "must be YYYY-MM-DD"}
	}
	if len(taskIDs) < 1 || len(taskIDs) > 3 {
		return Top3Result{}, ValidationError{Field: "task_ids", Reason: "must list 1-3 tasks"}
	}
	seen := make(map[string]bool, len(taskIDs))
	for _, id := range taskIDs {
		if seen[id] {
			return Top3Result{}, ValidationError{Field: "task_ids", Reason: "duplicate task " + id}
		}
		seen[id] = true
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return Top3Result{}, err
	}
	defer tx.Rollback()

	now := e.nowString()
	if err := e.Repo.EnsureUser(ctx, tx, userID, now); err != nil {
		return Top3Result{}, err
	}
	for _, id := range taskIDs {
		if _, err := e.getOwnedTaskTx(ctx, tx, id, userID); err != nil {
			return Top3Result{}, err
		}
	}
	exists, err := e.Repo.SelectionExistsTx(ctx, tx, userID, date)
	if err != nil {
		return Top3Result{}, err
	}
	if exists {
		return Top3Result{}, AlreadySetError{UserID: userID, Date: date}
	}

	cost := e.Config.Rewards.Top3Cost
	balance, err := e.Repo.PointsBalanceTx(ctx, tx, userID)
	if err != nil {
		return Top3Result{}, err
	}
	if balance < cost {
		return Top3Result{}, InsufficientBalanceError{Balance: balance, Required: cost}
	}

	sel := domain.Top3Selection{
		ID:        uuid.New().String(),
		UserID:    userID,
		Date:      date,
		CreatedAt: now,
	}
	for i, id := range taskIDs {
		sel.Tasks = append(sel.Tasks, domain.Top3Entry{TaskID: id, Position: i + 1})
	}
	if err := e.Repo.AppendPointsTx(ctx, tx, domain.PointsTransaction{
		ID:         uuid.New().String(),
		UserID:     userID,
		Amount:     -cost,
		SourceType: repo.SourceTop3Cost,
		SourceID:   &sel.ID,
		CreatedAt:  now,
	}); err != nil {
		return Top3Result{}, err
	}
	if err := e.Repo.InsertSelectionTx(ctx, tx, sel); err != nil {
		if repo.IsUniqueViolation(err) {
			return Top3Result{}, AlreadySetError{UserID: userID, Date: date}
		}
		return Top3Result{}, err
	}
	if err := e.Events.Append(ctx, tx, "top3.set", userID, "top3_selection", sel.ID, events.EventPayload{
		"date":  date,
		"tasks": taskIDs,
	}); err != nil {
		return Top3Result{}, err
	}
	if err := tx.Commit(); err != nil {
		return Top3Result{}, err
	}
	return Top3Result{Selection: sel, Charged: cost}, nil
}

// GetTop3 returns the user's selection for a date, or ErrNotFound.
func (e Engine) GetTop3(ctx context.Context, userID, date string) (domain.Top3Selection, error) {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return domain.Top3Selection{}, ValidationError{Field: "date", Reason: "must be YYYY-MM-DD"}
	}
	return e.Repo.GetSelection(ctx, userID, date)
}
