package engine

import (
	"context"
	"database/sql"
	"math/rand"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/Arthur-Ziegler/tatake-backend/internal/config"
	"github.com/Arthur-Ziegler/tatake-backend/internal/domain"
	"github.com/Arthur-Ziegler/tatake-backend/internal/events"
	"github.com/Arthur-Ziegler/tatake-backend/internal/repo"
)

// Task status values.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
	StatusDeleted    = "deleted"
)

// Engine is the business core: task tree, ledgers, reward issuance, Top3
// scheduling and crafting. Every check-then-write sequence runs in one
// database transaction.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
	Rand   *rand.Rand
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
		Rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) today() string {
	return e.now().UTC().Format("2006-01-02")
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// getOwnedTaskTx loads a live task and hides other users' tasks behind
// ErrNotFound.
func (e Engine) getOwnedTaskTx(ctx context.Context, tx *sql.Tx, taskID, userID string) (domain.Task, error) {
	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return t, err
	}
	if t.UserID != userID || t.Status == StatusDeleted {
		return t, repo.ErrNotFound
	}
	return t, nil
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID          string
	UserID      string
	Title       string
	Description string
	Priority    *int
	ParentID    string
}

func validateTitle(title string) error {
	n := utf8.RuneCountInString(title)
	if n < 1 || n > 100 {
		return ValidationError{Field: "title", Reason: "must be 1-100 characters"}
	}
	return nil
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.UserID == "" {
		return domain.Task{}, ValidationError{Field: "user_id", Reason: "required"}
	}
	if err := validateTitle(opts.Title); err != nil {
		return domain.Task{}, err
	}
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.nowString()
	t := domain.Task{
		ID:          id,
		UserID:      opts.UserID,
		Title:       opts.Title,
		Description: opts.Description,
		Status:      StatusPending,
		Priority:    opts.Priority,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.EnsureUser(ctx, tx, opts.UserID, now); err != nil {
		return domain.Task{}, err
	}
	if opts.ParentID != "" {
		parent, err := e.getOwnedTaskTx(ctx, tx, opts.ParentID, opts.UserID)
		if err != nil {
			return domain.Task{}, err
		}
		t.ParentID = &parent.ID
		t.Path = repo.SplitPath(repo.ChildPath(parent))
		t.Level = len(t.Path)
	}
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	// A new pending leaf dilutes every ancestor's completion percentage.
	if t.ParentID != nil {
		if err := e.recomputeCompletionTx(ctx, tx, *t.ParentID); err != nil {
			return domain.Task{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "task.created", t.UserID, "task", t.ID, events.EventPayload{"title": t.Title}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// TaskUpdateOptions encapsulates allowed updates. SetParent moves the task:
// nil leaves the parent untouched, a pointer to "" detaches to root.
type TaskUpdateOptions struct {
	ID          string
	UserID      string
	Title       *string
	Description *string
	Priority    *int
	Status      *string
	SetParent   *string
}

func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.getOwnedTaskTx(ctx, tx, opts.ID, opts.UserID)
	if err != nil {
		return domain.Task{}, err
	}
	oldParent := t.ParentID
	statusChanged := false
	reparented := false

	if opts.Title != nil {
		if err := validateTitle(*opts.Title); err != nil {
			return t, err
		}
		t.Title = *opts.Title
	}
	if opts.Description != nil {
		t.Description = *opts.Description
	}
	if opts.Priority != nil {
		t.Priority = opts.Priority
	}
	if opts.Status != nil && *opts.Status != t.Status {
		switch *opts.Status {
		case StatusPending, StatusInProgress, StatusCancelled:
		case StatusCompleted:
			return t, ValidationError{Field: "status", Reason: "use the complete operation"}
		default:
			return t, ValidationError{Field: "status", Reason: "must be pending, in_progress or cancelled"}
		}
		t.Status = *opts.Status
		if t.Status != StatusCompleted {
			t.CompletedAt = nil
		}
		statusChanged = true
	}
	if opts.SetParent != nil {
		moved, err := e.reparentTx(ctx, tx, t, *opts.SetParent)
		if err != nil {
			return t, err
		}
		t = moved
		reparented = true
	}
	t.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if statusChanged || reparented {
		if err := e.recomputeCompletionTx(ctx, tx, t.ID); err != nil {
			return t, err
		}
	}
	if reparented && oldParent != nil {
		if err := e.recomputeCompletionTx(ctx, tx, *oldParent); err != nil {
			return t, err
		}
	}
	evtType := "task.updated"
	if reparented {
		evtType = "task.reparented"
	}
	if err := e.Events.Append(ctx, tx, evtType, t.UserID, "task", t.ID, events.EventPayload{"status": t.Status}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return e.Repo.GetTask(ctx, t.ID)
}

// reparentTx rewires the task under newParentID ("" detaches to root) and
// rewrites level/path for the task and its whole subtree. The cycle check
// runs before any write.
func (e Engine) reparentTx(ctx context.Context, tx *sql.Tx, t domain.Task, newParentID string) (domain.Task, error) {
	var newPath []string
	if newParentID == "" {
		t.ParentID = nil
	} else {
		if newParentID == t.ID {
			return t, CycleError{TaskID: t.ID, NewParentID: newParentID}
		}
		parent, err := e.getOwnedTaskTx(ctx, tx, newParentID, t.UserID)
		if err != nil {
			return t, err
		}
		for _, anc := range parent.Path {
			if anc == t.ID {
				return t, CycleError{TaskID: t.ID, NewParentID: newParentID}
			}
		}
		t.ParentID = &parent.ID
		newPath = repo.SplitPath(repo.ChildPath(parent))
	}
	oldDepth := len(t.Path)
	subtree, err := e.Repo.SubtreeTx(ctx, tx, t)
	if err != nil {
		return t, err
	}
	t.Path = newPath
	t.Level = len(newPath)
	now := e.nowString()
	for _, d := range subtree {
		// Ancestors above the moved task are swapped for the new prefix;
		// the tail below it is preserved.
		d.Path = append(append([]string{}, newPath...), d.Path[oldDepth:]...)
		d.Level = len(d.Path)
		d.UpdatedAt = now
		if err := e.Repo.UpdateTask(ctx, tx, d); err != nil {
			return t, err
		}
	}
	return t, nil
}

// SoftDeleteTask marks the task and every descendant deleted in one bulk
// update and returns the number of affected tasks.
func (e Engine) SoftDeleteTask(ctx context.Context, taskID, userID string) (int, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	t, err := e.getOwnedTaskTx(ctx, tx, taskID, userID)
	if err != nil {
		return 0, err
	}
	subtree, err := e.Repo.SubtreeTx(ctx, tx, t)
	if err != nil {
		return 0, err
	}
	ids := make([]string, 0, len(subtree)+1)
	ids = append(ids, t.ID)
	for _, d := range subtree {
		ids = append(ids, d.ID)
	}
	count, err := e.Repo.BulkSetStatusTx(ctx, tx, ids, StatusDeleted, e.nowString())
	if err != nil {
		return 0, err
	}
	if t.ParentID != nil {
		if err := e.recomputeCompletionTx(ctx, tx, *t.ParentID); err != nil {
			return 0, err
		}
	}
	if err := e.Events.Append(ctx, tx, "task.deleted", t.UserID, "task", t.ID, events.EventPayload{"affected": count}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

// recomputeCompletionTx recomputes completion_percentage for the task and
// every ancestor up to the root. A node with live children scores by its
// completed leaf share; a leaf scores by its own status.
func (e Engine) recomputeCompletionTx(ctx context.Context, tx *sql.Tx, taskID string) error {
	start, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return err
	}
	chain := make([]string, 0, len(start.Path)+1)
	chain = append(chain, start.ID)
	for i := len(start.Path) - 1; i >= 0; i-- {
		chain = append(chain, start.Path[i])
	}
	for _, id := range chain {
		node, err := e.Repo.GetTaskTx(ctx, tx, id)
		if err != nil {
			return err
		}
		total, completed, err := e.Repo.LeafStatsTx(ctx, tx, repo.ChildPath(node))
		if err != nil {
			return err
		}
		var pct float64
		if total == 0 {
			if node.Status == StatusCompleted {
				pct = 100.0
			}
		} else {
			pct = 100.0 * float64(completed) / float64(total)
		}
		if err := e.Repo.SetCompletionTx(ctx, tx, id, pct); err != nil {
			return err
		}
	}
	return nil
}

// RewardOutcome describes what, if anything, a completion issued.
type RewardOutcome struct {
	Type           string `json:"type" enum:"points,item,none"`
	Points         int    `json:"points,omitempty"`
	ItemID         string `json:"item_id,omitempty"`
	Quantity       int    `json:"quantity,omitempty"`
	AlreadyClaimed bool   `json:"already_claimed,omitempty"`
}

// CompleteResult combines the completed task with its reward outcome.
type CompleteResult struct {
	Task    domain.Task
	Outcome RewardOutcome
}

// CompleteTask marks the task completed and issues its first-time reward.
// The claim stamp is the anti-replay sentinel: the UPDATE that sets it only
// wins when it is still null, so of two concurrent completions exactly one
// reaches a ledger write.
func (e Engine) CompleteTask(ctx context.Context, taskID, userID string) (CompleteResult, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return CompleteResult{}, err
	}
	defer tx.Rollback()

	t, err := e.getOwnedTaskTx(ctx, tx, taskID, userID)
	if err != nil {
		return CompleteResult{}, err
	}
	now := e.nowString()
	claimed, err := e.Repo.ClaimFirstReward(ctx, tx, t.ID, now)
	if err != nil {
		return CompleteResult{}, err
	}
	var outcome RewardOutcome
	if !claimed {
		// Reward was issued on an earlier completion. Settle the status and
		// percentages but leave both ledgers untouched.
		outcome = RewardOutcome{Type: "none", AlreadyClaimed: true}
		if t.Status != StatusCompleted {
			t.Status = StatusCompleted
			t.CompletedAt = &now
			t.UpdatedAt = now
			if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
				return CompleteResult{}, err
			}
		}
	} else {
		outcome, err = e.issueRewardTx(ctx, tx, t)
		if err != nil {
			return CompleteResult{}, err
		}
	}
	if err := e.recomputeCompletionTx(ctx, tx, t.ID); err != nil {
		return CompleteResult{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.completed", t.UserID, "task", t.ID, events.EventPayload{
		"reward_type":     outcome.Type,
		"already_claimed": outcome.AlreadyClaimed,
	}); err != nil {
		return CompleteResult{}, err
	}
	final, err := e.Repo.GetTaskTx(ctx, tx, t.ID)
	if err != nil {
		return CompleteResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return CompleteResult{}, err
	}
	return CompleteResult{Task: final, Outcome: outcome}, nil
}

// issueRewardTx runs the first-claim branch: a fixed grant for ordinary
// tasks, the lottery for tasks in today's Top3.
func (e Engine) issueRewardTx(ctx context.Context, tx *sql.Tx, t domain.Task) (RewardOutcome, error) {
	now := e.nowString()
	inTop3, err := e.Repo.IsInTop3Tx(ctx, tx, t.UserID, t.ID, e.today())
	if err != nil {
		return RewardOutcome{}, err
	}
	if !inTop3 {
		amount := e.Config.Rewards.TaskCompletionPoints
		if err := e.Repo.AppendPointsTx(ctx, tx, domain.PointsTransaction{
			ID:         uuid.New().String(),
			UserID:     t.UserID,
			Amount:     amount,
			SourceType: repo.SourceTaskReward,
			SourceID:   optionalString(t.ID),
			CreatedAt:  now,
		}); err != nil {
			return RewardOutcome{}, err
		}
		return RewardOutcome{Type: OutcomePoints, Points: amount}, nil
	}

	drawn, err := Draw(e.lotteryTable(), e.Rand)
	if err != nil {
		return RewardOutcome{}, err
	}
	if drawn == OutcomeItem {
		items, err := e.Repo.ListActiveItemsTx(ctx, tx)
		if err != nil {
			return RewardOutcome{}, err
		}
		if len(items) == 0 {
			// No active catalog: fall back to the points side.
			drawn = OutcomePoints
		} else {
			item := items[e.Rand.Intn(len(items))]
			if err := e.Repo.AppendRewardTx(ctx, tx, domain.RewardTransaction{
				ID:         uuid.New().String(),
				UserID:     t.UserID,
				ItemID:     item.ID,
				Quantity:   1,
				SourceType: repo.SourceLotteryReward,
				SourceID:   optionalString(t.ID),
				CreatedAt:  now,
			}); err != nil {
				return RewardOutcome{}, err
			}
			if err := e.Events.Append(ctx, tx, "reward.issued", t.UserID, "item", item.ID, events.EventPayload{"task_id": t.ID}); err != nil {
				return RewardOutcome{}, err
			}
			return RewardOutcome{Type: OutcomeItem, ItemID: item.ID, Quantity: 1}, nil
		}
	}
	amount := e.Config.Rewards.ConsolationPoints
	if err := e.Repo.AppendPointsTx(ctx, tx, domain.PointsTransaction{
		ID:         uuid.New().String(),
		UserID:     t.UserID,
		Amount:     amount,
		SourceType: repo.SourceLotteryConsolation,
		SourceID:   optionalString(t.ID),
		CreatedAt:  now,
	}); err != nil {
		return RewardOutcome{}, err
	}
	return RewardOutcome{Type: OutcomePoints, Points: amount}, nil
}

// UncompleteTask reverts a completed task to pending. Issued rewards are
// never clawed back and the claim stamp stays set, so re-completing the task
// is a no-reward no-op.
func (e Engine) UncompleteTask(ctx context.Context, taskID, userID string) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.getOwnedTaskTx(ctx, tx, taskID, userID)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Status != StatusCompleted {
		return t, ValidationError{Field: "status", Reason: "task is not completed"}
	}
	t.Status = StatusPending
	t.CompletedAt = nil
	t.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.recomputeCompletionTx(ctx, tx, t.ID); err != nil {
		return t, err
	}
	if err := e.Events.Append(ctx, tx, "task.uncompleted", t.UserID, "task", t.ID, events.EventPayload{}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return t, nil
}

// GetTask returns a live task owned by the user.
func (e Engine) GetTask(ctx context.Context, taskID, userID string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return t, err
	}
	if t.UserID != userID || t.Status == StatusDeleted {
		return t, repo.ErrNotFound
	}
	return t, nil
}
