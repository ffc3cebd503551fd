package engine

import (
	"context"

	"github.com/google/uuid"

	"github.com/Arthur-Ziegler/tatake-backend/internal/domain"
	"github.com/Arthur-Ziegler/tatake-backend/internal/events"
	"github.com/Arthur-Ziegler/tatake-backend/internal/repo"
)

// CraftResult records the ledger rows a successful craft appended, all
// sharing one transaction group.
type CraftResult struct {
	Consumed         []domain.RewardTransaction `json:"consumed"`
	Produced         domain.RewardTransaction   `json:"produced"`
	TransactionGroup string                     `json:"transaction_group"`
}

// Craft consumes a recipe's inputs and produces its output atomically. Every
// input is checked before any write so an insufficient craft reports all
// shortages at once and leaves the ledger untouched.
func (e Engine) Craft(ctx context.Context, userID, recipeID string) (CraftResult, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return CraftResult{}, err
	}
	defer tx.Rollback()

	rec, err := e.Repo.GetRecipeTx(ctx, tx, recipeID)
	if err != nil {
		return CraftResult{}, err
	}

	var shortages []MaterialShortage
	for _, in := range rec.Inputs {
		held, err := e.Repo.RewardBalanceTx(ctx, tx, userID, in.ItemID)
		if err != nil {
			return CraftResult{}, err
		}
		if held < in.Quantity {
			shortages = append(shortages, MaterialShortage{
				ItemID:   in.ItemID,
				Required: in.Quantity,
				Held:     held,
			})
		}
	}
	if len(shortages) > 0 {
		return CraftResult{}, InsufficientMaterialsError{Shortages: shortages}
	}

	now := e.nowString()
	group := uuid.New().String()
	result := CraftResult{TransactionGroup: group}
	for _, in := range rec.Inputs {
		consume := domain.RewardTransaction{
			ID:               uuid.New().String(),
			UserID:           userID,
			ItemID:           in.ItemID,
			Quantity:         -in.Quantity,
			SourceType:       repo.SourceRecipeInput,
			SourceID:         &rec.ID,
			TransactionGroup: &group,
			CreatedAt:        now,
		}
		if err := e.Repo.AppendRewardTx(ctx, tx, consume); err != nil {
			return CraftResult{}, err
		}
		result.Consumed = append(result.Consumed, consume)
	}
	produce := domain.RewardTransaction{
		ID:               uuid.New().String(),
		UserID:           userID,
		ItemID:           rec.OutputItemID,
		Quantity:         rec.OutputQuantity,
		SourceType:       repo.SourceRecipeOutput,
		SourceID:         &rec.ID,
		TransactionGroup: &group,
		CreatedAt:        now,
	}
	if err := e.Repo.AppendRewardTx(ctx, tx, produce); err != nil {
		return CraftResult{}, err
	}
	result.Produced = produce

	if err := e.Events.Append(ctx, tx, "recipe.crafted", userID, "recipe", rec.ID, events.EventPayload{
		"transaction_group": group,
		"output_item_id":    rec.OutputItemID,
	}); err != nil {
		return CraftResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return CraftResult{}, err
	}
	return result, nil
}
