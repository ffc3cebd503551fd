package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Arthur-Ziegler/tatake-backend/internal/config"
	"github.com/Arthur-Ziegler/tatake-backend/internal/db"
	"github.com/Arthur-Ziegler/tatake-backend/internal/domain"
	"github.com/Arthur-Ziegler/tatake-backend/internal/engine"
	"github.com/Arthur-Ziegler/tatake-backend/internal/migrate"
	"github.com/Arthur-Ziegler/tatake-backend/internal/repo"
	"github.com/Arthur-Ziegler/tatake-backend/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "tatake",
	Short: "Tatake CLI",
	Long: `Tatake is a gamified task backend: finishing tasks earns points, the daily
Top3 selection turns completions into lottery draws, and won items can be
crafted into better ones with recipes.
Core concepts:
- Workspace: the .tatake directory holding the SQLite database.
- Tasks: a tree of work items; completing a leaf updates every ancestor's
  completion percentage.
- Points: an append-only ledger; the balance is always the sum of entries.
- Top3: pick up to three tasks per day for a cost; completing them runs a
  lottery instead of the flat reward.
- Rewards: items won in lotteries, tracked in their own ledger and
  combinable via recipes ('tatake recipe craft').
- First-claim rule: a task pays out once; re-completing it never pays again.
- Event log: diary of changes, view with 'tatake log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TATAKE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user-id", "local-user", "user identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user-id", rootCmd.PersistentFlags().Lookup("user-id"))
}

func registerCommands() {
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(top3Cmd())
	rootCmd.AddCommand(pointsCmd())
	rootCmd.AddCommand(rewardsCmd())
	rootCmd.AddCommand(itemCmd())
	rootCmd.AddCommand(recipeCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks form a tree. Completing one earns points (or a lottery draw if it is in today's Top3), but only the first completion ever pays out.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskGetCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskCompleteCmd())
	task.AddCommand(taskUncompleteCmd())
	task.AddCommand(taskDeleteCmd())
	task.AddCommand(taskMoveCmd())
	task.AddCommand(taskTreeCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	var priority int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.UserID = viper.GetString("user-id")
			if cmd.Flags().Changed("priority") {
				opts.Priority = &priority
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "task id (optional, random UUID if omitted)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.ParentID, "parent", "", "parent task id")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority (lower is higher)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f.UserID = viper.GetString("user-id")
				tasks, err := e.Repo.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Done %", "Parent"})
				for _, t := range tasks {
					parent := ""
					if t.ParentID != nil {
						parent = *t.ParentID
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, fmt.Sprintf("%.0f", t.CompletionPercentage), parent})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Parent, "parent", "", "parent task id")
	cmd.Flags().BoolVar(&f.IncludeDeleted, "include-deleted", false, "include soft-deleted tasks")
	return cmd
}

func taskGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.GetTask(ctx, id, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var title, description, status string
	var priority int
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.TaskUpdateOptions{
				ID:     args[0],
				UserID: viper.GetString("user-id"),
			}
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &description
			}
			if cmd.Flags().Changed("status") {
				opts.Status = &status
			}
			if cmd.Flags().Changed("priority") {
				opts.Priority = &priority
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&status, "status", "", "status (pending, in_progress, cancelled)")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority")
	return cmd
}

func taskCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Complete a task and claim its reward",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.CompleteTask(ctx, args[0], viper.GetString("user-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				switch {
				case res.Outcome.AlreadyClaimed:
					fmt.Printf("Completed %s (reward already claimed earlier)\n", res.Task.Title)
				case res.Outcome.Type == engine.OutcomeItem:
					fmt.Printf("Completed %s and won item %s x%d\n", res.Task.Title, res.Outcome.ItemID, res.Outcome.Quantity)
				default:
					fmt.Printf("Completed %s and earned %d points\n", res.Task.Title, res.Outcome.Points)
				}
				return nil
			})
		},
	}
	return cmd
}

func taskUncompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "uncomplete <id>",
		Short: "Revert a completed task to pending (keeps issued rewards)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UncompleteTask(ctx, args[0], viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Soft-delete a task and its whole subtree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				count, err := e.SoftDeleteTask(ctx, args[0], viper.GetString("user-id"))
				if err != nil {
					return err
				}
				fmt.Printf("Deleted %d task(s)\n", count)
				return nil
			})
		},
	}
	return cmd
}

func taskMoveCmd() *cobra.Command {
	var parent string
	var toRoot bool
	cmd := &cobra.Command{
		Use:   "move <id>",
		Short: "Move a task under a new parent (or to the root)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !toRoot && parent == "" {
				return fmt.Errorf("--parent or --root required")
			}
			target := parent
			if toRoot {
				target = ""
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTask(ctx, engine.TaskUpdateOptions{
					ID:        args[0],
					UserID:    viper.GetString("user-id"),
					SetParent: &target,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&parent, "parent", "", "new parent task id")
	cmd.Flags().BoolVar(&toRoot, "root", false, "detach to the root")
	return cmd
}

func taskTreeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Print the task tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{UserID: viper.GetString("user-id"), Limit: 1000})
				if err != nil {
					return err
				}
				children := map[string][]domain.Task{}
				var roots []domain.Task
				for _, t := range tasks {
					if t.ParentID == nil {
						roots = append(roots, t)
					} else {
						children[*t.ParentID] = append(children[*t.ParentID], t)
					}
				}
				for i, t := range roots {
					printTaskTree(t, children, "", i == len(roots)-1)
				}
				return nil
			})
		},
	}
	return cmd
}

func top3Cmd() *cobra.Command {
	top := &cobra.Command{
		Use:   "top3",
		Short: "Manage the daily Top3 selection",
		Long:  "Pick up to three tasks for a day. Setting the selection costs points; completing a selected task runs the reward lottery.",
	}
	top.AddCommand(top3SetCmd())
	top.AddCommand(top3ShowCmd())
	return top
}

func top3SetCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "set <task-id> [task-id] [task-id]",
		Short: "Set today's Top3 tasks",
		Args:  cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if date == "" {
				date = time.Now().UTC().Format("2006-01-02")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.SetTop3(ctx, viper.GetString("user-id"), date, args)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Top3 set for %s (charged %d points)\n", res.Selection.Date, res.Charged)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "date (YYYY-MM-DD, default today)")
	return cmd
}

func top3ShowCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the Top3 selection for a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			if date == "" {
				date = time.Now().UTC().Format("2006-01-02")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sel, err := e.GetTop3(ctx, viper.GetString("user-id"), date)
				if err != nil {
					return err
				}
				return printJSONOrTable(sel)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "date (YYYY-MM-DD, default today)")
	return cmd
}

func pointsCmd() *cobra.Command {
	points := &cobra.Command{Use: "points", Short: "Points ledger"}
	points.AddCommand(pointsBalanceCmd())
	points.AddCommand(pointsHistoryCmd())
	return points
}

func pointsBalanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show current points balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				userID := viper.GetString("user-id")
				balance, err := e.Repo.PointsBalance(ctx, userID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"user_id": userID, "balance": balance})
				}
				fmt.Printf("%d points\n", balance)
				return nil
			})
		},
	}
	return cmd
}

func pointsHistoryCmd() *cobra.Command {
	var n int
	var sourceType string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show points transactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.PointsHistory(ctx, repo.HistoryFilters{
					UserID:     viper.GetString("user-id"),
					SourceType: sourceType,
					Limit:      n,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "Amount", "Source", "Ref"})
				for _, pt := range items {
					ref := ""
					if pt.SourceID != nil {
						ref = *pt.SourceID
					}
					tw.AppendRow(table.Row{pt.CreatedAt, pt.Amount, pt.SourceType, ref})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	cmd.Flags().StringVar(&sourceType, "source", "", "source type filter")
	return cmd
}

func rewardsCmd() *cobra.Command {
	rewards := &cobra.Command{Use: "rewards", Short: "Reward item ledger"}
	rewards.AddCommand(rewardsHoldingsCmd())
	rewards.AddCommand(rewardsHistoryCmd())
	return rewards
}

func rewardsHoldingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "holdings",
		Short: "Show current item holdings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				holdings, err := e.Repo.RewardHoldings(ctx, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(holdings)
				}
				ids := make([]string, 0, len(holdings))
				for itemID := range holdings {
					ids = append(ids, itemID)
				}
				sort.Strings(ids)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Item", "Quantity"})
				for _, itemID := range ids {
					tw.AppendRow(table.Row{itemID, holdings[itemID]})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func rewardsHistoryCmd() *cobra.Command {
	var n int
	var sourceType string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show reward transactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.RewardHistory(ctx, repo.HistoryFilters{
					UserID:     viper.GetString("user-id"),
					SourceType: sourceType,
					Limit:      n,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	cmd.Flags().StringVar(&sourceType, "source", "", "source type filter")
	return cmd
}

func itemCmd() *cobra.Command {
	item := &cobra.Command{Use: "item", Short: "Manage the reward item catalog"}
	item.AddCommand(itemCreateCmd())
	item.AddCommand(itemListCmd())
	item.AddCommand(itemActivateCmd())
	return item
}

func itemCreateCmd() *cobra.Command {
	var opts engine.ItemCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Add a reward item",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.CreateItem(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "item name")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().IntVar(&opts.PointsValue, "points-value", 0, "nominal points value")
	cmd.Flags().BoolVar(&opts.IsActive, "active", true, "eligible for lottery draws")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func itemListCmd() *cobra.Command {
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reward items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListItems(ctx, activeOnly)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Value", "Active"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.Name, it.PointsValue, it.IsActive})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active-only", false, "only lottery-eligible items")
	return cmd
}

func itemActivateCmd() *cobra.Command {
	var active bool
	cmd := &cobra.Command{
		Use:   "activate <id>",
		Short: "Toggle lottery eligibility for an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.SetItemActive(ctx, args[0], active)
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().BoolVar(&active, "active", true, "set active state")
	return cmd
}

func recipeCmd() *cobra.Command {
	recipe := &cobra.Command{Use: "recipe", Short: "Manage crafting recipes"}
	recipe.AddCommand(recipeCreateCmd())
	recipe.AddCommand(recipeListCmd())
	recipe.AddCommand(recipeCraftCmd())
	return recipe
}

func recipeCreateCmd() *cobra.Command {
	var name, output string
	var quantity int
	var inputs []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a recipe",
		Long:  "Inputs are item:quantity pairs, repeatable: --input sticker:3 --input gem:1",
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed := make([]domain.RecipeInput, 0, len(inputs))
			for _, raw := range inputs {
				parts := strings.SplitN(raw, ":", 2)
				if len(parts) != 2 {
					return fmt.Errorf("invalid input %q, want item:quantity", raw)
				}
				var qty int
				if _, err := fmt.Sscanf(parts[1], "%d", &qty); err != nil {
					return fmt.Errorf("invalid quantity in %q", raw)
				}
				parsed = append(parsed, domain.RecipeInput{ItemID: parts[0], Quantity: qty})
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.CreateRecipe(ctx, engine.RecipeCreateOptions{
					Name:           name,
					Inputs:         parsed,
					OutputItemID:   output,
					OutputQuantity: quantity,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "recipe name")
	cmd.Flags().StringArrayVar(&inputs, "input", []string{}, "input item:quantity (repeatable)")
	cmd.Flags().StringVar(&output, "output", "", "output item id")
	cmd.Flags().IntVar(&quantity, "quantity", 1, "output quantity")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func recipeListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recipes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				recipes, err := e.Repo.ListRecipes(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(recipes)
			})
		},
	}
	return cmd
}

func recipeCraftCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "craft <recipe-id>",
		Short: "Craft a recipe from held items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Craft(ctx, viper.GetString("user-id"), args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Crafted %s x%d (transaction group %s)\n", res.Produced.ItemID, res.Produced.Quantity, res.TransactionGroup)
				return nil
			})
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	apikey := &cobra.Command{Use: "apikey", Short: "Manage API keys for the HTTP API"}
	apikey.AddCommand(apikeyCreateCmd())
	return apikey
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Mint an API key for the current user",
		Long:  "Prints the raw key once; only its SHA-256 hash is stored.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				userID := viper.GetString("user-id")
				if userID == "" {
					return fmt.Errorf("--user-id is required")
				}
				rawKey := uuid.New().String()
				now := time.Now().UTC().Format(time.RFC3339)
				tx, err := e.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := e.Repo.EnsureUser(ctx, tx, userID, now); err != nil {
					return err
				}
				key := domain.APIKey{
					ID:        uuid.New().String(),
					UserID:    userID,
					Name:      name,
					KeyHash:   repo.HashAPIKey(rawKey),
					CreatedAt: now,
				}
				if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": key.ID, "user_id": userID, "key": rawKey})
				}
				fmt.Printf("API key for %s (shown once, store it now):\n%s\n", userID, rawKey)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "label for the key")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default tatake.yml to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Event log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, 0, viper.GetString("user-id"), evtType)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacyHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:             os.Getenv("TATAKE_JWT_SECRET"),
				AllowLegacyUserHeader: allowLegacyHeader,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("TATAKE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Tatake API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&allowLegacyHeader, "allow-legacy-user-header", false, "accept the deprecated X-User-Id header when no credentials are sent")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printTaskTree(t domain.Task, children map[string][]domain.Task, prefix string, last bool) {
	connector := "├── "
	newPrefix := prefix + "│   "
	if last {
		connector = "└── "
		newPrefix = prefix + "    "
	}
	fmt.Printf("%s%s%s [%s] %.0f%%\n", prefix, connector, t.Title, t.Status, t.CompletionPercentage)
	for i, c := range children[t.ID] {
		printTaskTree(c, children, newPrefix, i == len(children[t.ID])-1)
	}
}
