package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"boardroom/internal/app"
	"boardroom/internal/knowledge"
	"boardroom/internal/scheduler"
)

func scheduleCmd() *cobra.Command {
	sched := &cobra.Command{Use: "schedule", Short: "Manage scheduled actions"}
	sched.AddCommand(scheduleListCmd())
	sched.AddCommand(scheduleAddCmd())
	sched.AddCommand(scheduleToggleCmd("enable", true))
	sched.AddCommand(scheduleToggleCmd("disable", false))
	sched.AddCommand(scheduleDeleteCmd())
	sched.AddCommand(scheduleRunsCmd())
	sched.AddCommand(scheduleTickCmd())
	return sched
}

func scheduleListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List built-in and user actions with time until the next run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				now := time.Now()
				if err := a.Scheduler.Sync(ctx, now); err != nil {
					return err
				}
				view, err := a.Scheduler.View(ctx, now)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(view)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Title", "Type", "Schedule", "Active", "Next", "Last error"})
				for _, group := range [][]scheduler.ActionView{view.BuiltIns, view.User} {
					for _, v := range group {
						next := v.TimeUntil
						if next == "" {
							next = "-"
						}
						tw.AppendRow(table.Row{v.ID, truncate(v.Title, 32), v.ActionType, v.Schedule, v.Active, next, truncate(deref(v.LastError), 40)})
					}
					tw.AppendSeparator()
				}
				tw.Render()
				return nil
			})
		},
	}
}

func scheduleAddCmd() *cobra.Command {
	var in scheduler.CreateActionInput
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a user action",
		Long:  `Add a user action. --schedule takes a five-field cron expression or "@at 2026-01-02T15:04:05Z" for a one-off run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			in.ActorID = viper.GetString("actor-id")
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				action, err := a.Scheduler.CreateAction(ctx, in)
				if err != nil {
					return err
				}
				return printJSONOrValue(action)
			})
		},
	}
	cmd.Flags().StringVar(&in.Title, "title", "", "action title")
	cmd.Flags().StringVar(&in.ActionType, "type", "task", "task, committee, synthesis or prune")
	cmd.Flags().StringVar(&in.Assignee, "assignee", "", "member slug for task actions")
	cmd.Flags().StringSliceVar(&in.Participants, "members", nil, "2 to 4 member slugs for committee actions")
	cmd.Flags().StringVar(&in.Prompt, "prompt", "", "opening message for committee actions")
	cmd.Flags().StringVar(&in.Schedule, "schedule", "", "cron expression")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("schedule")
	return cmd
}

func scheduleToggleCmd(use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " an action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				action, err := a.Scheduler.SetActive(ctx, args[0], active, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				fmt.Printf("%s active=%t next=%s\n", action.ID, action.Active, relTimePtr(action.NextRun))
				return nil
			})
		},
	}
}

func scheduleDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a user action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Scheduler.DeleteAction(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
}

func scheduleRunsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs <id>",
		Short: "Show recorded firings of an action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				runs, err := a.Repo.ListRuns(ctx, args[0], limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(runs)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Scheduled for", "Fired", "Result"})
				for _, r := range runs {
					tw.AppendRow(table.Row{r.ScheduledFor, relTime(r.FiredAt), r.ResultRef})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max rows")
	return cmd
}

func scheduleTickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Fire every due action once and wait for the results",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				now := time.Now()
				if err := a.Scheduler.Sync(ctx, now); err != nil {
					return err
				}
				n, err := a.Scheduler.Tick(ctx, now)
				if err != nil {
					return err
				}
				a.Scheduler.Wait()
				fmt.Printf("fired %d action(s)\n", n)
				return nil
			})
		},
	}
}

func committeeCmd() *cobra.Command {
	c := &cobra.Command{Use: "committee", Short: "Multi-member meetings"}
	var title string
	var participants []string
	create := &cobra.Command{
		Use:   "create",
		Short: "Open a meeting with 2 to 4 members",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				m, err := a.Committee.Create(ctx, title, participants, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrValue(m)
			})
		},
	}
	create.Flags().StringVar(&title, "title", "", "meeting title")
	create.Flags().StringSliceVar(&participants, "members", nil, "member slugs")
	_ = create.MarkFlagRequired("title")

	send := &cobra.Command{
		Use:   "send <meeting-id> <message>",
		Short: "Send a message and collect one reply per member",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Committee.Send(ctx, args[0], args[1], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("round %d\n", res.Round)
				for _, m := range res.Responses {
					fmt.Printf("\n[%s]\n%s\n", deref(m.MemberSlug), m.Content)
				}
				for slug, reason := range res.Absent {
					fmt.Fprintf(os.Stderr, "%s absent: %s\n", slug, reason)
				}
				return nil
			})
		},
	}

	var after int64
	messages := &cobra.Command{
		Use:   "messages <meeting-id>",
		Short: "Print the transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				msgs, err := a.Committee.Messages(ctx, args[0], after, 0)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(msgs)
				}
				for _, m := range msgs {
					fmt.Printf("#%d r%d %s: %s\n", m.Seq, m.Round, m.Author, m.Content)
				}
				return nil
			})
		},
	}
	messages.Flags().Int64Var(&after, "after", 0, "only messages after this sequence number")

	end := &cobra.Command{
		Use:   "end <meeting-id>",
		Short: "End a meeting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				m, err := a.Committee.End(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrValue(m)
			})
		},
	}

	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List meetings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Committee.List(ctx, status, 50)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Title", "Members", "Status", "Created"})
				for _, m := range items {
					tw.AppendRow(table.Row{m.ID, truncate(m.Title, 32), strings.Join(m.Participants, ","), m.Status, relTime(m.CreatedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "active or ended")

	c.AddCommand(create, send, messages, end, list)
	return c
}

func knowledgeCmd() *cobra.Command {
	k := &cobra.Command{Use: "knowledge", Short: "Figure knowledge and the conflict filter"}

	var figure, filterCtx string
	filter := &cobra.Command{
		Use:   "filter <text>",
		Short: "Check text against the conflict filter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if !knowledge.ValidContext(filterCtx) {
					return fmt.Errorf("unknown context %q", filterCtx)
				}
				return printJSONOrValue(a.Knowledge.Filter(figure, args[0], filterCtx))
			})
		},
	}
	filter.Flags().StringVar(&figure, "figure", "", "figure id for custom filters")
	filter.Flags().StringVar(&filterCtx, "context", knowledge.ContextWisdomExtraction, "filter context")

	var in knowledge.IngestInput
	var file string
	ingest := &cobra.Command{
		Use:   "ingest",
		Short: "Filter, extract and store source material for a figure",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				b, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				in.Content = string(b)
			}
			in.ActorID = viper.GetString("actor-id")
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				entry, err := a.Knowledge.Ingest(ctx, in)
				if err != nil {
					return err
				}
				return printJSONOrValue(entry)
			})
		},
	}
	ingest.Flags().StringVar(&in.FigureID, "figure", "", "figure id")
	ingest.Flags().StringVar(&in.SourceType, "source-type", "article", "article, interview, letter, post ...")
	ingest.Flags().StringVar(&in.SourceID, "source-id", "", "external reference")
	ingest.Flags().StringVar(&in.Content, "content", "", "material text")
	ingest.Flags().StringVar(&file, "file", "", "read material from a file")
	_ = ingest.MarkFlagRequired("figure")

	var synthFigure string
	synth := &cobra.Command{
		Use:   "synthesize",
		Short: "Rebuild syntheses from recent entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				now := time.Now()
				if synthFigure == "" {
					n, err := a.Knowledge.SynthesizeAll(ctx, now)
					if err != nil {
						return err
					}
					fmt.Printf("synthesized %d figure(s)\n", n)
					return nil
				}
				syn, ok, err := a.Knowledge.Synthesize(ctx, synthFigure, now)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Println("no recent entries")
					return nil
				}
				return printJSONOrValue(syn)
			})
		},
	}
	synth.Flags().StringVar(&synthFigure, "figure", "", "only this figure")

	var limit int
	show := &cobra.Command{
		Use:   "figure <id>",
		Short: "Show a figure's synthesis and recent entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				view, err := a.Knowledge.Figure(ctx, args[0], limit)
				if err != nil {
					return err
				}
				return printJSONOrValue(view)
			})
		},
	}
	show.Flags().IntVar(&limit, "limit", 10, "entries to show")

	k.AddCommand(filter, ingest, synth, show)
	return k
}

func gatewayCmd() *cobra.Command {
	g := &cobra.Command{Use: "gateway", Short: "Provider gateway"}
	g.AddCommand(&cobra.Command{
		Use:   "metrics",
		Short: "Per-provider latency, fallback rate and health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				m := a.Telemetry.Metrics(time.Now())
				if viper.GetBool("json") {
					return printJSON(m)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Provider", "Calls", "Avg ms", "P95 ms", "Fallback %", "Failures", "Health"})
				for _, p := range m.Providers {
					tw.AppendRow(table.Row{p.Provider, p.Calls, fmt.Sprintf("%.0f", p.AvgMS), p.P95MS, fmt.Sprintf("%.1f", p.FallbackRate*100), p.Failures, p.Health})
				}
				tw.Render()
				mt := newTable()
				mt.AppendHeader(table.Row{"Member", "Calls", "Last provider", "Model", "Last ms", "Fallback", "At"})
				for _, s := range m.Members {
					mt.AppendRow(table.Row{s.MemberSlug, s.Calls, s.Provider, s.Model, s.ResponseTimeMS, s.Fallback, relTime(s.At)})
				}
				mt.Render()
				return nil
			})
		},
	})
	return g
}
