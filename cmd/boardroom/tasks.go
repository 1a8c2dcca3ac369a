package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"boardroom/internal/app"
	"boardroom/internal/domain"
	"boardroom/internal/engine"
	"boardroom/internal/persona"
	"boardroom/internal/repo"
)

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskTransitionCmd("start", "Execute a pending task now", func(ctx context.Context, e engine.Engine, id, actor string) (domain.Task, error) {
		return e.StartTask(ctx, id, actor)
	}))
	task.AddCommand(taskTransitionCmd("retry", "Re-run a blocked task", func(ctx context.Context, e engine.Engine, id, actor string) (domain.Task, error) {
		return e.RetryTask(ctx, id, actor)
	}))
	task.AddCommand(taskTransitionCmd("approve", "Approve a completed deliverable", func(ctx context.Context, e engine.Engine, id, actor string) (domain.Task, error) {
		return e.ApproveTask(ctx, id, actor)
	}))
	task.AddCommand(taskTransitionCmd("cancel", "Cancel a pending or running task", func(ctx context.Context, e engine.Engine, id, actor string) (domain.Task, error) {
		return e.CancelTask(ctx, id, actor)
	}))
	task.AddCommand(taskReviseCmd())
	task.AddCommand(taskDeleteCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task for a board member",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "task title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "task description")
	cmd.Flags().StringVar(&opts.Assignee, "assignee", "", "member slug")
	cmd.Flags().StringVar(&opts.Type, "type", "", "task type")
	cmd.Flags().StringVar(&opts.Priority, "priority", domain.PriorityNormal, "low, normal, high or critical")
	cmd.Flags().BoolVar(&opts.ExecuteNow, "now", false, "execute immediately")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("assignee")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				tasks, err := a.Engine.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Title", "Assignee", "Priority", "Status", "Updated"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, truncate(t.Title, 40), t.Assignee, t.Priority, t.Status, relTime(t.UpdatedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter (comma separated)")
	cmd.Flags().StringVar(&f.Assignee, "assignee", "", "member filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
}

func taskTransitionCmd(use, short string, fn func(context.Context, engine.Engine, string, string) (domain.Task, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := fn(ctx, a.Engine, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
}

func taskReviseCmd() *cobra.Command {
	var feedback string
	cmd := &cobra.Command{
		Use:   "revise <id>",
		Short: "Send a completed deliverable back with feedback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.RequestRevision(ctx, args[0], feedback, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
	cmd.Flags().StringVar(&feedback, "feedback", "", "what to change")
	_ = cmd.MarkFlagRequired("feedback")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a finished task, or cancel an active one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, removed, err := a.Engine.DeleteTask(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if !removed {
					fmt.Printf("cancelled %s (%s); delete again to remove it\n", t.ID, t.Title)
					return nil
				}
				fmt.Printf("deleted %s (%s)\n", t.ID, t.Title)
				return nil
			})
		},
	}
}

func quickCmd() *cobra.Command {
	quick := &cobra.Command{Use: "quick", Short: "Predefined one-click tasks"}
	quick.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List quick tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			items := engine.QuickTasks()
			if viper.GetBool("json") {
				return printJSON(items)
			}
			tw := newTable()
			tw.AppendHeader(table.Row{"ID", "Label", "Assignee"})
			for _, q := range items {
				tw.AppendRow(table.Row{q.ID, q.Label, q.Assignee})
			}
			tw.Render()
			return nil
		},
	})
	quick.AddCommand(&cobra.Command{
		Use:   "run <id>",
		Short: "Create and execute a quick task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.RunQuickTask(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	})
	return quick
}

func membersCmd() *cobra.Command {
	members := &cobra.Command{
		Use:   "members",
		Short: "Show board members and their workload",
		Long:  "Show board members and their workload. Edit board.yml to change providers or deactivate a member.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				loads, err := a.Engine.WorkloadAll(ctx)
				if err != nil {
					return err
				}
				byslug := map[string]engine.Workload{}
				for _, w := range loads {
					byslug[w.MemberSlug] = w
				}
				members := a.Registry.List()
				if viper.GetBool("json") {
					return printJSON(map[string]any{"members": members, "workloads": loads})
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Slug", "Name", "Provider", "Model", "Active", "Pending", "Running", "Done", "Blocked"})
				for _, m := range members {
					w := byslug[m.Slug]
					tw.AppendRow(table.Row{m.Slug, persona.DisplayName(m), m.Provider, m.Model, m.Active, w.Pending, w.InProgress, w.Completed, w.Blocked})
				}
				tw.Render()
				return nil
			})
		},
	}
	return members
}

func printTask(t domain.Task) error {
	if viper.GetBool("json") {
		return printJSON(t)
	}
	fmt.Printf("%s  %s\n", t.ID, t.Title)
	fmt.Printf("  assignee: %s  priority: %s  status: %s  revision: %d\n", t.Assignee, t.Priority, t.Status, t.Revision)
	if t.BlockedReason != nil {
		fmt.Printf("  blocked: %s\n", *t.BlockedReason)
	}
	if t.Feedback != nil {
		fmt.Printf("  feedback: %s\n", *t.Feedback)
	}
	if t.Deliverable != nil {
		fmt.Printf("\n%s\n", *t.Deliverable)
	}
	return nil
}
