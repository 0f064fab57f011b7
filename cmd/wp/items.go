package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"weekplan/internal/app"
	"weekplan/internal/dates"
	"weekplan/internal/domain"
	"weekplan/internal/repo"
	weekplansdk "weekplan/sdk/go"
)

// itemCmd builds the command tree shared by tasks and events.
func itemCmd(kind domain.Kind) *cobra.Command {
	cmd := &cobra.Command{
		Use:   string(kind),
		Short: "Manage " + kind.Plural(),
	}
	cmd.AddCommand(itemAddCmd(kind))
	cmd.AddCommand(itemListCmd(kind))
	cmd.AddCommand(itemShowCmd(kind))
	cmd.AddCommand(itemUpdateCmd(kind))
	cmd.AddCommand(itemStatusCmd(kind, "done", domain.StatusDone))
	cmd.AddCommand(itemStatusCmd(kind, "start", domain.StatusInProgress))
	cmd.AddCommand(itemStatusCmd(kind, "reopen", domain.StatusTodo))
	cmd.AddCommand(itemDeleteCmd(kind))
	return cmd
}

type itemFlags struct {
	title    string
	date     string
	priority string
	status   string
	reminder string
	notes    string
	tags     []string
}

func (f *itemFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.title, "title", "", "title")
	fs.StringVar(&f.date, "date", "", "date, e.g. 2024-03-08T14:00 (calendar timezone) or RFC 3339")
	fs.StringVar(&f.priority, "priority", "", "low, medium or high")
	fs.StringVar(&f.status, "status", "", "TODO, IN_PROGRESS or DONE")
	fs.StringVar(&f.reminder, "reminder", "", "at_time, 5m, 15m, 30m, 1h, 1d, minutes or a duration; none clears")
	fs.StringVar(&f.notes, "notes", "", "free text")
	fs.StringSliceVar(&f.tags, "tag", nil, "tag (repeatable)")
}

// apply copies flags onto it. With all false only flags set on the command
// line are copied.
func (f *itemFlags) apply(it *domain.Item, fs *pflag.FlagSet, loc *time.Location, all bool) error {
	set := func(name string) bool { return all || fs.Changed(name) }
	if set("title") {
		it.Title = f.title
	}
	if set("date") {
		d, err := domain.ParseDate(f.date, loc)
		if err != nil {
			return fmt.Errorf("invalid --date %q", f.date)
		}
		it.Date = d
	}
	if set("priority") {
		it.Priority = domain.ParsePriority(f.priority)
	}
	if set("status") {
		it.Status = domain.ParseStatus(f.status)
	}
	if set("reminder") {
		r, err := domain.ParseReminder(f.reminder)
		if err != nil {
			return fmt.Errorf("invalid --reminder: %w", err)
		}
		it.Reminder = r
	}
	if set("notes") {
		it.Notes = f.notes
	}
	if set("tag") {
		it.Tags = domain.NewTags(f.tags...)
	}
	return nil
}

func itemAddCmd(kind domain.Kind) *cobra.Command {
	var f itemFlags
	cmd := &cobra.Command{
		Use:   "add [title]",
		Short: "Add a " + string(kind),
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.title == "" {
				f.title = strings.Join(args, " ")
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				it := domain.Item{Kind: kind}
				if err := f.apply(&it, cmd.Flags(), w.Config.LocationOrLocal(), true); err != nil {
					return err
				}
				s, err := w.Syncer(ctx, kind, viper.GetString("actor-id"), remoteClient(w))
				if err != nil {
					return err
				}
				created, err := s.Create(ctx, it)
				if err != nil {
					return err
				}
				return printItem(w, created)
			})
		},
	}
	f.register(cmd.Flags())
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func itemListCmd(kind domain.Kind) *cobra.Command {
	var from, to, status, tag string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List " + kind.Plural() + " in date order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				loc := w.Config.LocationOrLocal()
				f := repo.ItemFilter{Kind: kind, Tag: tag, Limit: limit}
				if status != "" {
					f.Status = domain.ParseStatus(status)
				}
				var err error
				if f.From, err = optionalDate(from, loc); err != nil {
					return fmt.Errorf("invalid --from %q", from)
				}
				if f.To, err = optionalDate(to, loc); err != nil {
					return fmt.Errorf("invalid --to %q", to)
				}
				var items []domain.Item
				if c := remoteClient(w); c != nil {
					items, err = c.List(ctx, kind, weekplansdk.ListOptions{From: f.From, To: f.To, Status: string(f.Status), Tag: tag, Limit: limit})
				} else {
					items, err = w.Engine.ListItems(ctx, f)
				}
				if err != nil {
					return err
				}
				return printItems(w, items)
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "only items at or after this date")
	cmd.Flags().StringVar(&to, "to", "", "only items before this date")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&tag, "tag", "", "tag filter")
	cmd.Flags().IntVar(&limit, "limit", 0, "max items")
	return cmd
}

func itemShowCmd(kind domain.Kind) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a " + string(kind),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				var it domain.Item
				var err error
				if c := remoteClient(w); c != nil {
					it, err = c.Get(ctx, kind, args[0])
				} else {
					it, err = w.Engine.GetItem(ctx, kind, args[0])
				}
				if err != nil {
					return err
				}
				return printItem(w, it)
			})
		},
	}
}

func itemUpdateCmd(kind domain.Kind) *cobra.Command {
	var f itemFlags
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change fields of a " + string(kind),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				s, err := w.Syncer(ctx, kind, viper.GetString("actor-id"), remoteClient(w))
				if err != nil {
					return err
				}
				it, ok := s.Store.Get(args[0])
				if !ok {
					return &domain.NotFoundError{Kind: kind, ID: args[0]}
				}
				if err := f.apply(&it, cmd.Flags(), w.Config.LocationOrLocal(), false); err != nil {
					return err
				}
				updated, err := s.Replace(ctx, it)
				if err != nil {
					return err
				}
				return printItem(w, updated)
			})
		},
	}
	f.register(cmd.Flags())
	return cmd
}

func itemStatusCmd(kind domain.Kind, use string, status domain.Status) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: fmt.Sprintf("Mark a %s %s", kind, status),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				var it domain.Item
				var err error
				if c := remoteClient(w); c != nil {
					it, err = c.SetStatus(ctx, kind, args[0], string(status))
				} else {
					it, err = w.Engine.SetStatus(ctx, kind, args[0], string(status), viper.GetString("actor-id"))
				}
				if err != nil {
					return err
				}
				return printItem(w, it)
			})
		},
	}
}

func itemDeleteCmd(kind domain.Kind) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a " + string(kind),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				s, err := w.Syncer(ctx, kind, viper.GetString("actor-id"), remoteClient(w))
				if err != nil {
					return err
				}
				if err := s.Delete(ctx, args[0]); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"deleted": args[0]})
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func printItems(w *app.Workspace, items []domain.Item) error {
	if viper.GetBool("json") {
		out := make([]domain.ItemJSON, 0, len(items))
		for _, it := range items {
			out = append(out, domain.ToJSON(it))
		}
		return printJSON(out)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "When", "", "Title", "Priority", "Status", "Reminder", "Tags"})
	for _, it := range items {
		tw.AppendRow(table.Row{
			it.ID,
			formatWhen(w, it.Date),
			humanize.Time(it.Date),
			it.Title,
			it.Priority,
			it.Status,
			it.Reminder.String(),
			strings.Join(it.Tags, ","),
		})
	}
	tw.Render()
	return nil
}

func printItem(w *app.Workspace, it domain.Item) error {
	if viper.GetBool("json") {
		return printJSON(domain.ToJSON(it))
	}
	tw := newTable()
	tw.AppendRows([]table.Row{
		{"ID", it.ID},
		{"Kind", it.Kind},
		{"Title", it.Title},
		{"When", fmt.Sprintf("%s (%s)", formatWhen(w, it.Date), humanize.Time(it.Date))},
		{"Priority", it.Priority},
		{"Status", it.Status},
		{"Reminder", it.Reminder.String()},
		{"Tags", strings.Join(it.Tags, ", ")},
		{"Notes", it.Notes},
	})
	tw.Render()
	return nil
}

func formatWhen(w *app.Workspace, t time.Time) string {
	t = t.In(w.Config.LocationOrLocal())
	return t.Format("Mon Jan 2") + " " + dates.FormatTimeOfDay(t, w.Config.Clock())
}

func optionalDate(s string, loc *time.Location) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, nil
	}
	return domain.ParseDate(s, loc)
}

// domainKind maps a --kind flag to a kind; empty or unknown means all.
func domainKind(s string) domain.Kind {
	k, err := domain.ParseKind(s)
	if err != nil {
		return ""
	}
	return k
}
