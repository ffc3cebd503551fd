package engine_test

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Arthur-Ziegler/tatake-backend/internal/config"
	"github.com/Arthur-Ziegler/tatake-backend/internal/db"
	"github.com/Arthur-Ziegler/tatake-backend/internal/domain"
	"github.com/Arthur-Ziegler/tatake-backend/internal/engine"
	"github.com/Arthur-Ziegler/tatake-backend/internal/migrate"
	"github.com/Arthur-Ziegler/tatake-backend/internal/repo"
)

const testUser = "user-1"

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2026, 2, 14, 9, 0, 0, 0, time.UTC) }
	eng.Rand = rand.New(rand.NewSource(1))
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func mustCreateTask(t *testing.T, env testEnv, title, parentID string) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		UserID:   testUser,
		Title:    title,
		ParentID: parentID,
	})
	if err != nil {
		t.Fatalf("create task %q: %v", title, err)
	}
	return task
}

func grantPoints(t *testing.T, env testEnv, userID string, amount int) {
	t.Helper()
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	now := time.Now().UTC().Format(time.RFC3339)
	if err := env.Engine.Repo.EnsureUser(env.Ctx, tx, userID, now); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	if err := env.Engine.Repo.AppendPointsTx(env.Ctx, tx, domain.PointsTransaction{
		ID:         uuid.New().String(),
		UserID:     userID,
		Amount:     amount,
		SourceType: repo.SourceTaskReward,
		CreatedAt:  now,
	}); err != nil {
		t.Fatalf("append points: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func grantItem(t *testing.T, env testEnv, userID, itemID string, quantity int) {
	t.Helper()
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	now := time.Now().UTC().Format(time.RFC3339)
	if err := env.Engine.Repo.EnsureUser(env.Ctx, tx, userID, now); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	if err := env.Engine.Repo.AppendRewardTx(env.Ctx, tx, domain.RewardTransaction{
		ID:         uuid.New().String(),
		UserID:     userID,
		ItemID:     itemID,
		Quantity:   quantity,
		SourceType: repo.SourceLotteryReward,
		CreatedAt:  now,
	}); err != nil {
		t.Fatalf("append reward: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func balance(t *testing.T, env testEnv, userID string) int {
	t.Helper()
	b, err := env.Engine.Repo.PointsBalance(env.Ctx, userID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return b
}

func TestCompleteTaskPaysOnce(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env, "write report", "")

	res, err := env.Engine.CompleteTask(env.Ctx, task.ID, testUser)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.Outcome.Type != engine.OutcomePoints || res.Outcome.Points != 10 {
		t.Fatalf("want 10 points, got %+v", res.Outcome)
	}
	if res.Task.Status != engine.StatusCompleted {
		t.Fatalf("status = %s", res.Task.Status)
	}
	if res.Task.FirstRewardClaimedAt == nil {
		t.Fatal("claim stamp not set")
	}
	if got := balance(t, env, testUser); got != 10 {
		t.Fatalf("balance = %d, want 10", got)
	}

	// A second completion settles state but never touches the ledger.
	res, err = env.Engine.CompleteTask(env.Ctx, task.ID, testUser)
	if err != nil {
		t.Fatalf("re-complete: %v", err)
	}
	if !res.Outcome.AlreadyClaimed {
		t.Fatalf("want already_claimed, got %+v", res.Outcome)
	}
	if got := balance(t, env, testUser); got != 10 {
		t.Fatalf("balance after replay = %d, want 10", got)
	}
}

func TestConcurrentCompleteClaimsOnce(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env, "contested", "")

	const workers = 10
	outcomes := make([]engine.RewardOutcome, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := env.Engine.CompleteTask(env.Ctx, task.ID, testUser)
			if err != nil {
				errs[i] = err
				return
			}
			outcomes[i] = res.Outcome
		}(i)
	}
	wg.Wait()

	rewarded := 0
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if !outcomes[i].AlreadyClaimed {
			rewarded++
		}
	}
	if rewarded != 1 {
		t.Fatalf("rewarded %d workers, want exactly 1", rewarded)
	}
	if got := balance(t, env, testUser); got != 10 {
		t.Fatalf("balance = %d, want 10", got)
	}
	settled, err := env.Engine.GetTask(env.Ctx, task.ID, testUser)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if settled.FirstRewardClaimedAt == nil {
		t.Fatal("claim stamp not set")
	}
	if settled.Status != engine.StatusCompleted {
		t.Fatalf("status = %s", settled.Status)
	}
}

func TestUncompleteKeepsRewardAndClaim(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env, "read chapter", "")
	if _, err := env.Engine.CompleteTask(env.Ctx, task.ID, testUser); err != nil {
		t.Fatalf("complete: %v", err)
	}

	reverted, err := env.Engine.UncompleteTask(env.Ctx, task.ID, testUser)
	if err != nil {
		t.Fatalf("uncomplete: %v", err)
	}
	if reverted.Status != engine.StatusPending || reverted.CompletedAt != nil {
		t.Fatalf("revert state: %+v", reverted)
	}
	if reverted.FirstRewardClaimedAt == nil {
		t.Fatal("claim stamp must survive uncomplete")
	}
	if got := balance(t, env, testUser); got != 10 {
		t.Fatalf("balance after uncomplete = %d, want 10", got)
	}

	// Complete again: status flips back but no second payout.
	res, err := env.Engine.CompleteTask(env.Ctx, task.ID, testUser)
	if err != nil {
		t.Fatalf("re-complete: %v", err)
	}
	if !res.Outcome.AlreadyClaimed {
		t.Fatalf("want already_claimed, got %+v", res.Outcome)
	}
	if got := balance(t, env, testUser); got != 10 {
		t.Fatalf("final balance = %d, want 10", got)
	}
}

func TestCompletionPercentagePropagates(t *testing.T) {
	env := newTestEnv(t)
	root := mustCreateTask(t, env, "project", "")
	mid := mustCreateTask(t, env, "phase", root.ID)
	leaf1 := mustCreateTask(t, env, "step one", mid.ID)
	leaf2 := mustCreateTask(t, env, "step two", mid.ID)

	if _, err := env.Engine.CompleteTask(env.Ctx, leaf1.ID, testUser); err != nil {
		t.Fatalf("complete leaf1: %v", err)
	}
	got, err := env.Engine.GetTask(env.Ctx, mid.ID, testUser)
	if err != nil {
		t.Fatal(err)
	}
	if got.CompletionPercentage != 50 {
		t.Fatalf("mid = %.1f%%, want 50", got.CompletionPercentage)
	}
	got, err = env.Engine.GetTask(env.Ctx, root.ID, testUser)
	if err != nil {
		t.Fatal(err)
	}
	if got.CompletionPercentage != 50 {
		t.Fatalf("root = %.1f%%, want 50", got.CompletionPercentage)
	}

	if _, err := env.Engine.CompleteTask(env.Ctx, leaf2.ID, testUser); err != nil {
		t.Fatalf("complete leaf2: %v", err)
	}
	got, err = env.Engine.GetTask(env.Ctx, root.ID, testUser)
	if err != nil {
		t.Fatal(err)
	}
	if got.CompletionPercentage != 100 {
		t.Fatalf("root = %.1f%%, want 100", got.CompletionPercentage)
	}
}

func TestNewLeafDilutesCompletion(t *testing.T) {
	env := newTestEnv(t)
	root := mustCreateTask(t, env, "root", "")
	leaf := mustCreateTask(t, env, "leaf", root.ID)
	if _, err := env.Engine.CompleteTask(env.Ctx, leaf.ID, testUser); err != nil {
		t.Fatal(err)
	}
	got, _ := env.Engine.GetTask(env.Ctx, root.ID, testUser)
	if got.CompletionPercentage != 100 {
		t.Fatalf("root = %.1f%%, want 100", got.CompletionPercentage)
	}

	mustCreateTask(t, env, "another leaf", root.ID)
	got, _ = env.Engine.GetTask(env.Ctx, root.ID, testUser)
	if got.CompletionPercentage != 50 {
		t.Fatalf("root after new leaf = %.1f%%, want 50", got.CompletionPercentage)
	}
}

func TestReparentCycleRejected(t *testing.T) {
	env := newTestEnv(t)
	a := mustCreateTask(t, env, "a", "")
	b := mustCreateTask(t, env, "b", a.ID)
	c := mustCreateTask(t, env, "c", b.ID)

	parent := c.ID
	_, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{
		ID:        a.ID,
		UserID:    testUser,
		SetParent: &parent,
	})
	var ce engine.CycleError
	if !errors.As(err, &ce) {
		t.Fatalf("want CycleError, got %v", err)
	}

	// Self-parenting is the degenerate cycle.
	self := a.ID
	_, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{
		ID:        a.ID,
		UserID:    testUser,
		SetParent: &self,
	})
	if !errors.As(err, &ce) {
		t.Fatalf("want CycleError for self, got %v", err)
	}

	// The rejected move left the tree untouched.
	got, _ := env.Engine.GetTask(env.Ctx, c.ID, testUser)
	if got.Level != 2 || len(got.Path) != 2 || got.Path[0] != a.ID || got.Path[1] != b.ID {
		t.Fatalf("tree changed after rejected move: %+v", got)
	}
}

func TestReparentRewritesSubtree(t *testing.T) {
	env := newTestEnv(t)
	oldRoot := mustCreateTask(t, env, "old root", "")
	moved := mustCreateTask(t, env, "moved", oldRoot.ID)
	grandchild := mustCreateTask(t, env, "grandchild", moved.ID)
	newRoot := mustCreateTask(t, env, "new root", "")

	parent := newRoot.ID
	got, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{
		ID:        moved.ID,
		UserID:    testUser,
		SetParent: &parent,
	})
	if err != nil {
		t.Fatalf("reparent: %v", err)
	}
	if got.ParentID == nil || *got.ParentID != newRoot.ID {
		t.Fatalf("parent = %v", got.ParentID)
	}
	if got.Level != 1 || len(got.Path) != 1 || got.Path[0] != newRoot.ID {
		t.Fatalf("moved path = %v level = %d", got.Path, got.Level)
	}

	gc, _ := env.Engine.GetTask(env.Ctx, grandchild.ID, testUser)
	if gc.Level != 2 || len(gc.Path) != 2 || gc.Path[0] != newRoot.ID || gc.Path[1] != moved.ID {
		t.Fatalf("grandchild path = %v level = %d", gc.Path, gc.Level)
	}
}

func TestSoftDeleteSubtree(t *testing.T) {
	env := newTestEnv(t)
	root := mustCreateTask(t, env, "root", "")
	child := mustCreateTask(t, env, "child", root.ID)
	mustCreateTask(t, env, "grandchild", child.ID)
	keeper := mustCreateTask(t, env, "keeper", root.ID)
	if _, err := env.Engine.CompleteTask(env.Ctx, keeper.ID, testUser); err != nil {
		t.Fatal(err)
	}

	count, err := env.Engine.SoftDeleteTask(env.Ctx, child.ID, testUser)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if count != 2 {
		t.Fatalf("deleted %d, want 2", count)
	}
	if _, err := env.Engine.GetTask(env.Ctx, child.ID, testUser); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("deleted task still visible: %v", err)
	}
	// Deleted leaves drop out of the percentage base: only keeper remains.
	got, _ := env.Engine.GetTask(env.Ctx, root.ID, testUser)
	if got.CompletionPercentage != 100 {
		t.Fatalf("root = %.1f%%, want 100", got.CompletionPercentage)
	}
}

func TestTaskOwnershipHidesForeignTasks(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env, "mine", "")
	if _, err := env.Engine.GetTask(env.Ctx, task.ID, "someone-else"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("want ErrNotFound for foreign user, got %v", err)
	}
	if _, err := env.Engine.CompleteTask(env.Ctx, task.ID, "someone-else"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("want ErrNotFound on foreign complete, got %v", err)
	}
}

func TestTitleValidation(t *testing.T) {
	env := newTestEnv(t)
	var ve engine.ValidationError
	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{UserID: testUser, Title: ""})
	if !errors.As(err, &ve) {
		t.Fatalf("want ValidationError for empty title, got %v", err)
	}
	long := make([]rune, 101)
	for i := range long {
		long[i] = 'x'
	}
	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{UserID: testUser, Title: string(long)})
	if !errors.As(err, &ve) {
		t.Fatalf("want ValidationError for long title, got %v", err)
	}
	_, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{
		ID:     mustCreateTask(t, env, "ok", "").ID,
		UserID: testUser,
		Status: strPtr("completed"),
	})
	if !errors.As(err, &ve) {
		t.Fatalf("completed via update must be rejected, got %v", err)
	}
}

func TestSetTop3InsufficientBalance(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env, "big one", "")
	grantPoints(t, env, testUser, 250)

	_, err := env.Engine.SetTop3(env.Ctx, testUser, "2026-02-14", []string{task.ID})
	var be engine.InsufficientBalanceError
	if !errors.As(err, &be) {
		t.Fatalf("want InsufficientBalanceError, got %v", err)
	}
	if be.Balance != 250 || be.Required != 300 {
		t.Fatalf("error detail: %+v", be)
	}
	if got := balance(t, env, testUser); got != 250 {
		t.Fatalf("failed attempt must not charge, balance = %d", got)
	}
	if _, err := env.Engine.GetTop3(env.Ctx, testUser, "2026-02-14"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("no selection should exist: %v", err)
	}
}

func TestSetTop3ChargesOnce(t *testing.T) {
	env := newTestEnv(t)
	t1 := mustCreateTask(t, env, "one", "")
	t2 := mustCreateTask(t, env, "two", "")
	grantPoints(t, env, testUser, 600)

	res, err := env.Engine.SetTop3(env.Ctx, testUser, "2026-02-14", []string{t1.ID, t2.ID})
	if err != nil {
		t.Fatalf("set top3: %v", err)
	}
	if res.Charged != 300 {
		t.Fatalf("charged = %d", res.Charged)
	}
	if len(res.Selection.Tasks) != 2 || res.Selection.Tasks[0].Position != 1 {
		t.Fatalf("selection: %+v", res.Selection)
	}
	if got := balance(t, env, testUser); got != 300 {
		t.Fatalf("balance = %d, want 300", got)
	}

	_, err = env.Engine.SetTop3(env.Ctx, testUser, "2026-02-14", []string{t1.ID})
	var ae engine.AlreadySetError
	if !errors.As(err, &ae) {
		t.Fatalf("want AlreadySetError, got %v", err)
	}
	if got := balance(t, env, testUser); got != 300 {
		t.Fatalf("second attempt must not charge, balance = %d", got)
	}
}

func TestConcurrentSetTop3SingleWinner(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env, "priority", "")
	grantPoints(t, env, testUser, 3000)

	const workers = 10
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.Engine.SetTop3(env.Ctx, testUser, "2026-02-14", []string{task.ID})
		}(i)
	}
	wg.Wait()

	wins, conflicts := 0, 0
	for i, err := range errs {
		if err == nil {
			wins++
			continue
		}
		var ae engine.AlreadySetError
		if !errors.As(err, &ae) {
			t.Fatalf("worker %d: %v", i, err)
		}
		conflicts++
	}
	if wins != 1 || conflicts != workers-1 {
		t.Fatalf("wins=%d conflicts=%d, want 1/%d", wins, conflicts, workers-1)
	}
	if got := balance(t, env, testUser); got != 2700 {
		t.Fatalf("balance = %d, want 2700 (charged once)", got)
	}
	sel, err := env.Engine.GetTop3(env.Ctx, testUser, "2026-02-14")
	if err != nil {
		t.Fatalf("get top3: %v", err)
	}
	if len(sel.Tasks) != 1 || sel.Tasks[0].TaskID != task.ID {
		t.Fatalf("selection: %+v", sel)
	}
}

func TestSetTop3Validation(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env, "one", "")
	grantPoints(t, env, testUser, 600)
	var ve engine.ValidationError
	if _, err := env.Engine.SetTop3(env.Ctx, testUser, "14-02-2026", []string{task.ID}); !errors.As(err, &ve) {
		t.Fatalf("bad date: %v", err)
	}
	if _, err := env.Engine.SetTop3(env.Ctx, testUser, "2026-02-14", []string{task.ID, task.ID}); !errors.As(err, &ve) {
		t.Fatalf("duplicate ids: %v", err)
	}
	if _, err := env.Engine.SetTop3(env.Ctx, testUser, "2026-02-14", nil); !errors.As(err, &ve) {
		t.Fatalf("empty ids: %v", err)
	}
}

func TestTop3CompletionConsolation(t *testing.T) {
	env := newTestEnv(t)
	// Force the points side of the lottery.
	env.Engine.Config.Lottery.PointsProbability = 1.0
	task := mustCreateTask(t, env, "chosen", "")
	grantPoints(t, env, testUser, 300)
	if _, err := env.Engine.SetTop3(env.Ctx, testUser, "2026-02-14", []string{task.ID}); err != nil {
		t.Fatalf("set top3: %v", err)
	}

	res, err := env.Engine.CompleteTask(env.Ctx, task.ID, testUser)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.Outcome.Type != engine.OutcomePoints || res.Outcome.Points != 100 {
		t.Fatalf("want 100 consolation points, got %+v", res.Outcome)
	}
	if got := balance(t, env, testUser); got != 100 {
		t.Fatalf("balance = %d, want 100", got)
	}
}

func TestTop3CompletionWinsItem(t *testing.T) {
	env := newTestEnv(t)
	// Force the item side.
	env.Engine.Config.Lottery.PointsProbability = 0.0
	item, err := env.Engine.CreateItem(env.Ctx, engine.ItemCreateOptions{Name: "gold sticker", PointsValue: 50, IsActive: true})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	task := mustCreateTask(t, env, "chosen", "")
	grantPoints(t, env, testUser, 300)
	if _, err := env.Engine.SetTop3(env.Ctx, testUser, "2026-02-14", []string{task.ID}); err != nil {
		t.Fatalf("set top3: %v", err)
	}

	res, err := env.Engine.CompleteTask(env.Ctx, task.ID, testUser)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.Outcome.Type != engine.OutcomeItem || res.Outcome.ItemID != item.ID || res.Outcome.Quantity != 1 {
		t.Fatalf("want item win, got %+v", res.Outcome)
	}
	holdings, err := env.Engine.Repo.RewardHoldings(env.Ctx, testUser)
	if err != nil {
		t.Fatal(err)
	}
	if holdings[item.ID] != 1 {
		t.Fatalf("holdings = %v", holdings)
	}
}

func TestTop3ItemDrawFallsBackWithoutCatalog(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Lottery.PointsProbability = 0.0
	task := mustCreateTask(t, env, "chosen", "")
	grantPoints(t, env, testUser, 300)
	if _, err := env.Engine.SetTop3(env.Ctx, testUser, "2026-02-14", []string{task.ID}); err != nil {
		t.Fatal(err)
	}

	res, err := env.Engine.CompleteTask(env.Ctx, task.ID, testUser)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.Outcome.Type != engine.OutcomePoints || res.Outcome.Points != 100 {
		t.Fatalf("want consolation fallback, got %+v", res.Outcome)
	}
}

func TestTop3OnlyCountsForItsDate(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Lottery.PointsProbability = 1.0
	task := mustCreateTask(t, env, "yesterday's pick", "")
	grantPoints(t, env, testUser, 300)
	// Selection is for a different day than the completion clock.
	if _, err := env.Engine.SetTop3(env.Ctx, testUser, "2026-02-13", []string{task.ID}); err != nil {
		t.Fatal(err)
	}

	res, err := env.Engine.CompleteTask(env.Ctx, task.ID, testUser)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome.Points != 10 {
		t.Fatalf("stale selection must pay the flat reward, got %+v", res.Outcome)
	}
}

func TestCraftConsumesAndProduces(t *testing.T) {
	env := newTestEnv(t)
	sticker, _ := env.Engine.CreateItem(env.Ctx, engine.ItemCreateOptions{Name: "sticker", IsActive: true})
	gem, _ := env.Engine.CreateItem(env.Ctx, engine.ItemCreateOptions{Name: "gem", IsActive: true})
	crown, _ := env.Engine.CreateItem(env.Ctx, engine.ItemCreateOptions{Name: "crown", IsActive: false})
	rec, err := env.Engine.CreateRecipe(env.Ctx, engine.RecipeCreateOptions{
		Name: "crown recipe",
		Inputs: []domain.RecipeInput{
			{ItemID: sticker.ID, Quantity: 3},
			{ItemID: gem.ID, Quantity: 1},
		},
		OutputItemID:   crown.ID,
		OutputQuantity: 1,
	})
	if err != nil {
		t.Fatalf("create recipe: %v", err)
	}
	grantItem(t, env, testUser, sticker.ID, 3)
	grantItem(t, env, testUser, gem.ID, 2)

	res, err := env.Engine.Craft(env.Ctx, testUser, rec.ID)
	if err != nil {
		t.Fatalf("craft: %v", err)
	}
	if len(res.Consumed) != 2 || res.Produced.ItemID != crown.ID || res.Produced.Quantity != 1 {
		t.Fatalf("craft result: %+v", res)
	}
	if res.TransactionGroup == "" {
		t.Fatal("missing transaction group")
	}
	group, err := env.Engine.Repo.GroupTransactions(env.Ctx, res.TransactionGroup)
	if err != nil {
		t.Fatal(err)
	}
	if len(group) != 3 {
		t.Fatalf("group rows = %d, want 3", len(group))
	}
	holdings, _ := env.Engine.Repo.RewardHoldings(env.Ctx, testUser)
	if holdings[sticker.ID] != 0 || holdings[gem.ID] != 1 || holdings[crown.ID] != 1 {
		t.Fatalf("holdings after craft: %v", holdings)
	}
}

func TestCraftReportsAllShortages(t *testing.T) {
	env := newTestEnv(t)
	sticker, _ := env.Engine.CreateItem(env.Ctx, engine.ItemCreateOptions{Name: "sticker", IsActive: true})
	gem, _ := env.Engine.CreateItem(env.Ctx, engine.ItemCreateOptions{Name: "gem", IsActive: true})
	crown, _ := env.Engine.CreateItem(env.Ctx, engine.ItemCreateOptions{Name: "crown", IsActive: false})
	rec, err := env.Engine.CreateRecipe(env.Ctx, engine.RecipeCreateOptions{
		Name: "crown recipe",
		Inputs: []domain.RecipeInput{
			{ItemID: sticker.ID, Quantity: 5},
			{ItemID: gem.ID, Quantity: 1},
		},
		OutputItemID:   crown.ID,
		OutputQuantity: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	grantItem(t, env, testUser, sticker.ID, 2)

	_, err = env.Engine.Craft(env.Ctx, testUser, rec.ID)
	var me engine.InsufficientMaterialsError
	if !errors.As(err, &me) {
		t.Fatalf("want InsufficientMaterialsError, got %v", err)
	}
	if len(me.Shortages) != 2 {
		t.Fatalf("shortages = %+v, want both inputs", me.Shortages)
	}
	for _, s := range me.Shortages {
		switch s.ItemID {
		case sticker.ID:
			if s.Required != 5 || s.Held != 2 {
				t.Fatalf("sticker shortage: %+v", s)
			}
		case gem.ID:
			if s.Required != 1 || s.Held != 0 {
				t.Fatalf("gem shortage: %+v", s)
			}
		default:
			t.Fatalf("unexpected shortage: %+v", s)
		}
	}
	// A failed craft leaves the ledger untouched.
	holdings, _ := env.Engine.Repo.RewardHoldings(env.Ctx, testUser)
	if holdings[sticker.ID] != 2 {
		t.Fatalf("holdings after failed craft: %v", holdings)
	}
}

func strPtr(s string) *string { return &s }
