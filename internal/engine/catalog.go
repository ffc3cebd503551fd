package engine

import (
	"context"

	"github.com/google/uuid"

	"github.com/Arthur-Ziegler/tatake-backend/internal/domain"
	"github.com/Arthur-Ziegler/tatake-backend/internal/events"
)

// ItemCreateOptions are parameters for adding a reward item to the catalog.
type ItemCreateOptions struct {
	Name        string
	Description string
	PointsValue int
	IsActive    bool
}

func (e Engine) CreateItem(ctx context.Context, opts ItemCreateOptions) (domain.RewardItem, error) {
	if opts.Name == "" {
		return domain.RewardItem{}, ValidationError{Field: "name", Reason: "required"}
	}
	if opts.PointsValue < 0 {
		return domain.RewardItem{}, ValidationError{Field: "points_value", Reason: "must not be negative"}
	}
	it := domain.RewardItem{
		ID:          uuid.New().String(),
		Name:        opts.Name,
		Description: opts.Description,
		PointsValue: opts.PointsValue,
		IsActive:    opts.IsActive,
		CreatedAt:   e.nowString(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.RewardItem{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertItemTx(ctx, tx, it); err != nil {
		return domain.RewardItem{}, err
	}
	if err := e.Events.Append(ctx, tx, "item.created", "", "item", it.ID, events.EventPayload{"name": it.Name}); err != nil {
		return domain.RewardItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.RewardItem{}, err
	}
	return it, nil
}

// SetItemActive toggles whether an item is eligible for lottery draws.
// Existing holdings are never affected.
func (e Engine) SetItemActive(ctx context.Context, itemID string, active bool) (domain.RewardItem, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.RewardItem{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.SetItemActiveTx(ctx, tx, itemID, active); err != nil {
		return domain.RewardItem{}, err
	}
	it, err := e.Repo.GetItemTx(ctx, tx, itemID)
	if err != nil {
		return domain.RewardItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.RewardItem{}, err
	}
	return it, nil
}

// RecipeCreateOptions are parameters for registering a crafting recipe.
type RecipeCreateOptions struct {
	Name           string
	Inputs         []domain.RecipeInput
	OutputItemID   string
	OutputQuantity int
}

func (e Engine) CreateRecipe(ctx context.Context, opts RecipeCreateOptions) (domain.Recipe, error) {
	if opts.Name == "" {
		return domain.Recipe{}, ValidationError{Field: "name", Reason: "required"}
	}
	if len(opts.Inputs) == 0 {
		return domain.Recipe{}, ValidationError{Field: "inputs", Reason: "at least one input required"}
	}
	if opts.OutputQuantity < 1 {
		return domain.Recipe{}, ValidationError{Field: "output_quantity", Reason: "must be positive"}
	}
	seen := make(map[string]bool, len(opts.Inputs))
	for _, in := range opts.Inputs {
		if in.Quantity < 1 {
			return domain.Recipe{}, ValidationError{Field: "inputs", Reason: "quantities must be positive"}
		}
		if seen[in.ItemID] {
			return domain.Recipe{}, ValidationError{Field: "inputs", Reason: "duplicate input item " + in.ItemID}
		}
		seen[in.ItemID] = true
	}

	rec := domain.Recipe{
		ID:             uuid.New().String(),
		Name:           opts.Name,
		Inputs:         opts.Inputs,
		OutputItemID:   opts.OutputItemID,
		OutputQuantity: opts.OutputQuantity,
		CreatedAt:      e.nowString(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Recipe{}, err
	}
	defer tx.Rollback()
	// Referenced items must exist; inactive items remain valid materials.
	for _, in := range opts.Inputs {
		if _, err := e.Repo.GetItemTx(ctx, tx, in.ItemID); err != nil {
			return domain.Recipe{}, err
		}
	}
	if _, err := e.Repo.GetItemTx(ctx, tx, opts.OutputItemID); err != nil {
		return domain.Recipe{}, err
	}
	if err := e.Repo.InsertRecipeTx(ctx, tx, rec); err != nil {
		return domain.Recipe{}, err
	}
	if err := e.Events.Append(ctx, tx, "recipe.created", "", "recipe", rec.ID, events.EventPayload{"name": rec.Name}); err != nil {
		return domain.Recipe{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Recipe{}, err
	}
	return rec, nil
}
