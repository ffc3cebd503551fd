package domain

type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Task struct {
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

type PointsTransaction struct {
	ID         string  `json:"id"`
	UserID     string  `json:"user_id"`
	Amount     int     `json:"amount"`
	SourceType string  `json:"source_type"`
	SourceID   *string `json:"source_id,omitempty"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}

type RewardTransaction struct {
	ID               string  `json:"id"`
	UserID           string  `json:"user_id"`
	ItemID           string  `json:"item_id"`
	Quantity         int     `json:"quantity"`
	SourceType       string  `json:"source_type"`
	SourceID         *string `json:"source_id,omitempty"`
	TransactionGroup *string `json:"transaction_group,omitempty"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
}

type RewardItem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	PointsValue int    `json:"points_value"`
	IsActive    bool   `json:"is_active"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type RecipeInput struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

type Recipe struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Inputs         []RecipeInput `json:"inputs"`
	OutputItemID   string        `json:"output_item_id"`
	OutputQuantity int           `json:"output_quantity"`
	CreatedAt      string        `json:"created_at" format:"date-time"`
}

type Top3Entry struct {
	TaskID   string `json:"task_id"`
	Position int    `json:"position"`
}

type Top3Selection struct {
	ID        string      `json:"id"`
	UserID    string      `json:"user_id"`
	Date      string      `json:"date"`
	Tasks     []Top3Entry `json:"tasks"`
	CreatedAt string      `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	UserID     string `json:"user_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
