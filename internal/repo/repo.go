package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/Arthur-Ziegler/tatake-backend/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// IsUniqueViolation reports whether err is a SQLite uniqueness-constraint
// failure. The driver exposes no typed error for this, so match the message.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

// JoinPath encodes an ancestor id list as the stored path column value.
func JoinPath(ids []string) string {
	return strings.Join(ids, "/")
}

// SplitPath decodes a stored path column value into the ancestor id list.
func SplitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// ChildPath returns the path value of a direct child of the given task.
func ChildPath(parent domain.Task) string {
	if len(parent.Path) == 0 {
		return parent.ID
	}
	return JoinPath(parent.Path) + "/" + parent.ID
}

func (r Repo) EnsureUser(ctx context.Context, tx *sql.Tx, userID, now string) error {
	if userID == "" {
		return errors.New("user_id required")
	}
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO users(id, created_at) VALUES (?,?)`, userID, now)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	var name sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id, display_name, created_at FROM users WHERE id=?`, id).
		Scan(&u.ID, &name, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if name.Valid {
		u.DisplayName = name.String
	}
	return u, err
}

const taskColumns = `id,user_id,title,description,status,priority,parent_id,level,path,completion_percentage,first_reward_claimed_at,created_at,updated_at,completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var description, parentID, claimedAt, completedAt sql.NullString
	var priority sql.NullInt64
	var path string
	err := row.Scan(&t.ID, &t.UserID, &t.Title, &description, &t.Status, &priority, &parentID,
		&t.Level, &path, &t.CompletionPercentage, &claimedAt, &t.CreatedAt, &t.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Path = SplitPath(path)
	if description.Valid {
		t.Description = description.String
	}
	if parentID.Valid {
		t.ParentID = &parentID.String
	}
	if priority.Valid {
		p := int(priority.Int64)
		t.Priority = &p
	}
	if claimedAt.Valid {
		t.FirstRewardClaimedAt = &claimedAt.String
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.UserID, t.Title, nullable(t.Description), t.Status, nullableIntPtr(t.Priority),
		nullableStringPtr(t.ParentID), t.Level, JoinPath(t.Path), t.CompletionPercentage,
		nullableStringPtr(t.FirstRewardClaimedAt), t.CreatedAt, t.UpdatedAt, nullableStringPtr(t.CompletedAt))
	return err
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?, description=?, status=?, priority=?, parent_id=?, level=?, path=?, completion_percentage=?, first_reward_claimed_at=?, updated_at=?, completed_at=? WHERE id=?`,
		t.Title, nullable(t.Description), t.Status, nullableIntPtr(t.Priority), nullableStringPtr(t.ParentID),
		t.Level, JoinPath(t.Path), t.CompletionPercentage, nullableStringPtr(t.FirstRewardClaimedAt),
		t.UpdatedAt, nullableStringPtr(t.CompletedAt), t.ID)
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

type TaskFilters struct {
	UserID          string
	Status          string
	Parent          string
	IncludeDeleted  bool
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.UserID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	} else if !f.IncludeDeleted {
		clauses = append(clauses, "status != 'deleted'")
	}
	if f.Parent != "" {
		clauses = append(clauses, "parent_id=?")
		args = append(args, f.Parent)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// SubtreeTx returns all live descendants of the task, nearest first.
func (r Repo) SubtreeTx(ctx context.Context, tx *sql.Tx, t domain.Task) ([]domain.Task, error) {
	prefix := ChildPath(t)
	rows, err := tx.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE (path = ? OR path LIKE ?) AND status != 'deleted' ORDER BY level ASC, created_at ASC`,
		prefix, prefix+"/%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		d, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) HasChildrenTx(ctx context.Context, tx *sql.Tx, taskID string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE parent_id=? AND status != 'deleted' LIMIT 1`, taskID).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// BulkSetStatusTx marks every given task with the status in one statement and
// returns the number of rows touched.
func (r Repo) BulkSetStatusTx(ctx context.Context, tx *sql.Tx, ids []string, status, now string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := []any{status, now}
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET status=?, updated_at=? WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ClaimFirstReward stamps first_reward_claimed_at if and only if it is still
// unset. The boolean result decides the winner of concurrent completions.
func (r Repo) ClaimFirstReward(ctx context.Context, tx *sql.Tx, taskID, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET first_reward_claimed_at=?, status='completed', completed_at=?, updated_at=? WHERE id=? AND first_reward_claimed_at IS NULL`,
		now, now, now, taskID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// LeafStatsTx counts the live leaf descendants under a subtree prefix and how
// many of them are completed.
func (r Repo) LeafStatsTx(ctx context.Context, tx *sql.Tx, prefix string) (total, completed int, err error) {
	err = tx.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(CASE WHEN t.status='completed' THEN 1 ELSE 0 END), 0)
FROM tasks t
WHERE (t.path = ? OR t.path LIKE ?)
  AND t.status != 'deleted'
  AND NOT EXISTS (SELECT 1 FROM tasks c WHERE c.parent_id=t.id AND c.status != 'deleted')`,
		prefix, prefix+"/%").Scan(&total, &completed)
	return total, completed, err
}

func (r Repo) SetCompletionTx(ctx context.Context, tx *sql.Tx, taskID string, pct float64) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET completion_percentage=? WHERE id=?`, pct, taskID)
	return err
}

func (r Repo) LatestEvents(ctx context.Context, limit int, cursor int64, userID, evtType string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if userID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, userID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	args = append(args, limit)
	query := `SELECT id,ts,type,user_id,entity_kind,entity_id,payload_json FROM events WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY id DESC LIMIT ?`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var userID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &userID, &e.EntityKind, &entityID, &payload); err != nil {
			return nil, err
		}
		if userID.Valid {
			e.UserID = userID.String
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
