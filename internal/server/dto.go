package server

import (
	"encoding/json"

	"github.com/Arthur-Ziegler/tatake-backend/internal/domain"
	"github.com/Arthur-Ziegler/tatake-backend/internal/engine"
)

// Request payloads

type CreateTaskRequest struct {
	ID          *string `json:"id,omitempty"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Priority    *int    `json:"priority,omitempty"`
	ParentID    *string `json:"parent_id,omitempty"`
}

type UpdateTaskRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Priority    *int    `json:"priority,omitempty"`
	Status      *string `json:"status,omitempty" enum:"pending,in_progress,cancelled"`
	ParentID    *string `json:"parent_id,omitempty"`
}

type SetTop3Request struct {
	Date    string   `json:"date" example:"2026-02-14"`
	TaskIDs []string `json:"task_ids" minItems:"1" maxItems:"3"`
}

type CreateItemRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	PointsValue int     `json:"points_value"`
	IsActive    *bool   `json:"is_active,omitempty"`
}

type CreateRecipeRequest struct {
	Name           string               `json:"name"`
	Inputs         []domain.RecipeInput `json:"inputs" minItems:"1"`
	OutputItemID   string               `json:"output_item_id"`
	OutputQuantity int                  `json:"output_quantity"`
}

type DevLoginRequest struct {
	UserID string `json:"user_id"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Response payloads

type TaskResponse struct {
	ID                   string   `json:"id"`
	UserID               string   `json:"user_id"`
	Title                string   `json:"title"`
	Description          string   `json:"description,omitempty"`
	Status               string   `json:"status" enum:"pending,in_progress,completed,cancelled,deleted"`
	Priority             *int     `json:"priority,omitempty"`
	ParentID             *string  `json:"parent_id,omitempty"`
	Level                int      `json:"level"`
	Path                 []string `json:"path"`
	CompletionPercentage float64  `json:"completion_percentage"`
	FirstRewardClaimedAt *string  `json:"first_reward_claimed_at,omitempty" format:"date-time"`
	CreatedAt            string   `json:"created_at" format:"date-time"`
	UpdatedAt            string   `json:"updated_at" format:"date-time"`
	CompletedAt          *string  `json:"completed_at,omitempty" format:"date-time"`
}

type CompleteTaskResponse struct {
	Task   TaskResponse         `json:"task"`
	Reward engine.RewardOutcome `json:"reward"`
}

type DeleteTaskResponse struct {
	Deleted int `json:"deleted"`
}

type BalanceResponse struct {
	UserID  string `json:"user_id"`
	Balance int    `json:"balance"`
}

type PointsTransactionResponse struct {
	ID         string  `json:"id"`
	Amount     int     `json:"amount"`
	SourceType string  `json:"source_type"`
	SourceID   *string `json:"source_id,omitempty"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}

type RewardTransactionResponse struct {
	ID               string  `json:"id"`
	ItemID           string  `json:"item_id"`
	Quantity         int     `json:"quantity"`
	SourceType       string  `json:"source_type"`
	SourceID         *string `json:"source_id,omitempty"`
	TransactionGroup *string `json:"transaction_group,omitempty"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
}

type HoldingResponse struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

type Top3Response struct {
	ID      string             `json:"id"`
	UserID  string             `json:"user_id"`
	Date    string             `json:"date"`
	Tasks   []domain.Top3Entry `json:"tasks"`
	Charged int                `json:"charged,omitempty"`
}

type CraftResponse struct {
	TransactionGroup string                      `json:"transaction_group"`
	Consumed         []RewardTransactionResponse `json:"consumed"`
	Produced         RewardTransactionResponse   `json:"produced"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	UserID     string         `json:"user_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	Payload    map[string]any `json:"payload"`
}

type MeResponse struct {
	UserID string `json:"user_id"`
	Source string `json:"source"`
}

type paginatedTasks struct {
	Items      []TaskResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type paginatedPoints struct {
	Items      []PointsTransactionResponse `json:"items"`
	NextCursor string                      `json:"next_cursor,omitempty"`
}

type paginatedRewards struct {
	Items      []RewardTransactionResponse `json:"items"`
	NextCursor string                      `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:                   t.ID,
		UserID:               t.UserID,
		Title:                t.Title,
		Description:          t.Description,
		Status:               t.Status,
		Priority:             t.Priority,
		ParentID:             t.ParentID,
		Level:                t.Level,
		Path:                 nonNilSlice(t.Path),
		CompletionPercentage: t.CompletionPercentage,
		FirstRewardClaimedAt: t.FirstRewardClaimedAt,
		CreatedAt:            t.CreatedAt,
		UpdatedAt:            t.UpdatedAt,
		CompletedAt:          t.CompletedAt,
	}
}

func mapTasks(items []domain.Task) []TaskResponse {
	res := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		res = append(res, taskResponse(t))
	}
	return res
}

func pointsTxResponse(pt domain.PointsTransaction) PointsTransactionResponse {
	return PointsTransactionResponse{
		ID:         pt.ID,
		Amount:     pt.Amount,
		SourceType: pt.SourceType,
		SourceID:   pt.SourceID,
		CreatedAt:  pt.CreatedAt,
	}
}

func rewardTxResponse(rt domain.RewardTransaction) RewardTransactionResponse {
	return RewardTransactionResponse{
		ID:               rt.ID,
		ItemID:           rt.ItemID,
		Quantity:         rt.Quantity,
		SourceType:       rt.SourceType,
		SourceID:         rt.SourceID,
		TransactionGroup: rt.TransactionGroup,
		CreatedAt:        rt.CreatedAt,
	}
}

func top3Response(sel domain.Top3Selection, charged int) Top3Response {
	return Top3Response{
		ID:      sel.ID,
		UserID:  sel.UserID,
		Date:    sel.Date,
		Tasks:   nonNilSlice(sel.Tasks),
		Charged: charged,
	}
}

func craftResponse(res engine.CraftResult) CraftResponse {
	out := CraftResponse{
		TransactionGroup: res.TransactionGroup,
		Produced:         rewardTxResponse(res.Produced),
		Consumed:         []RewardTransactionResponse{},
	}
	for _, c := range res.Consumed {
		out.Consumed = append(out.Consumed, rewardTxResponse(c))
	}
	return out
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		UserID:     e.UserID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
