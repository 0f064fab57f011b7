package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"weekplan/internal/app"
	"weekplan/internal/calendar"
	"weekplan/internal/domain"
	"weekplan/internal/engine"
	"weekplan/internal/ics"
	"weekplan/internal/repo"
	weekplansdk "weekplan/sdk/go"
)

// weekView is the printable form of a week, filled from a local grid or a
// server response.
type weekView struct {
	Title string    `json:"title"`
	Days  []dayView `json:"days"`
}

type dayView struct {
	Date  string     `json:"date"`
	Label string     `json:"label"`
	Today bool       `json:"today"`
	Slots []slotView `json:"slots"`
}

type slotView struct {
	Label string   `json:"label"`
	Items []string `json:"items"`
}

func gridView(g calendar.Grid) weekView {
	v := weekView{Title: g.Title()}
	for _, d := range g.Days {
		day := dayView{Date: d.Date.Format(time.DateOnly), Label: d.Date.Format("Mon 2"), Today: d.Today}
		for _, c := range d.Slots {
			s := slotView{Label: c.Label}
			for _, it := range c.Items {
				s.Items = append(s.Items, itemLabel(string(it.Kind), it.Title, it.Status.Done()))
			}
			day.Slots = append(day.Slots, s)
		}
		v.Days = append(v.Days, day)
	}
	return v
}

func remoteView(w weekplansdk.Week) weekView {
	v := weekView{Title: w.Title}
	for _, d := range w.Days {
		label := d.Date
		if t, err := time.Parse(time.DateOnly, d.Date); err == nil {
			label = t.Format("Mon 2")
		}
		day := dayView{Date: d.Date, Label: label, Today: d.Today}
		for _, c := range d.Slots {
			s := slotView{Label: c.Label}
			for _, it := range c.Items {
				s.Items = append(s.Items, itemLabel(it.Kind, it.Title, domain.ParseStatus(it.Status).Done()))
			}
			day.Slots = append(day.Slots, s)
		}
		v.Days = append(v.Days, day)
	}
	return v
}

func itemLabel(kind, title string, done bool) string {
	mark := "•"
	if kind == string(domain.KindTask) {
		mark = "☐"
		if done {
			mark = "☑"
		}
	}
	return mark + " " + title
}

// render prints one row per slot; empty rows are skipped unless full.
func (v weekView) render(out io.Writer, full bool) {
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.SetStyle(table.StyleLight)
	tw.SetTitle(v.Title)
	header := table.Row{""}
	for _, d := range v.Days {
		label := d.Label
		if d.Today {
			label = "[" + label + "]"
		}
		header = append(header, label)
	}
	tw.AppendHeader(header)
	if len(v.Days) == 0 {
		tw.Render()
		return
	}
	for i := range v.Days[0].Slots {
		row := table.Row{v.Days[0].Slots[i].Label}
		empty := true
		for _, d := range v.Days {
			items := d.Slots[i].Items
			if len(items) > 0 {
				empty = false
			}
			row = append(row, strings.Join(items, "\n"))
		}
		if empty && !full {
			continue
		}
		tw.AppendRow(row)
		tw.AppendSeparator()
	}
	tw.Render()
}

func weekCmd() *cobra.Command {
	var date, kind string
	var offset int
	var full bool
	cmd := &cobra.Command{
		Use:   "week",
		Short: "Show a week as a grid of hour slots",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				d, err := optionalDate(date, w.Config.LocationOrLocal())
				if err != nil {
					return fmt.Errorf("invalid --date %q", date)
				}
				k, err := kindFlag(kind)
				if err != nil {
					return err
				}
				var v weekView
				if c := remoteClient(w); c != nil {
					week, err := c.Week(ctx, k, d, offset)
					if err != nil {
						return err
					}
					v = remoteView(week)
				} else {
					opts := engine.WeekOptions{Date: d, Offset: offset}
					if k != "" {
						opts.Kinds = []domain.Kind{k}
					}
					g, err := w.Engine.Week(ctx, opts)
					if err != nil {
						return err
					}
					v = gridView(g)
				}
				if viper.GetBool("json") {
					return printJSON(v)
				}
				v.render(os.Stdout, full)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "any date inside the week (default now)")
	cmd.Flags().IntVar(&offset, "offset", 0, "weeks to move forward (negative moves back)")
	cmd.Flags().StringVar(&kind, "kind", "", "task or event (default both)")
	cmd.Flags().BoolVar(&full, "full", false, "print empty hour rows too")
	return cmd
}

func todayCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "today",
		Short: "List the items on today's date",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				k, err := kindFlag(kind)
				if err != nil {
					return err
				}
				var items []domain.Item
				if c := remoteClient(w); c != nil {
					items, err = c.Today(ctx, k)
					if err != nil {
						return err
					}
				} else {
					for _, kk := range kindsOf(k) {
						got, err := w.Engine.Today(ctx, kk)
						if err != nil {
							return err
						}
						items = append(items, got...)
					}
				}
				return printItems(w, items)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "task or event (default both)")
	return cmd
}

func upcomingCmd() *cobra.Command {
	var kind string
	var days int
	cmd := &cobra.Command{
		Use:   "upcoming",
		Short: "List items from the start of today on",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				k, err := kindFlag(kind)
				if err != nil {
					return err
				}
				var items []domain.Item
				if c := remoteClient(w); c != nil {
					items, err = c.Upcoming(ctx, k, days)
					if err != nil {
						return err
					}
				} else {
					for _, kk := range kindsOf(k) {
						got, err := w.Engine.Upcoming(ctx, kk, days)
						if err != nil {
							return err
						}
						items = append(items, got...)
					}
					sort.SliceStable(items, func(i, j int) bool { return items[i].Date.Before(items[j].Date) })
				}
				return printItems(w, items)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "task or event (default both)")
	cmd.Flags().IntVar(&days, "days", 7, "calendar days to cover, 0 for no limit")
	return cmd
}

type monthView struct {
	Title string        `json:"title"`
	Weeks [][]monthCell `json:"weeks"`
	Week  *weekView     `json:"week,omitempty"`
}

type monthCell struct {
	Date     string `json:"date"`
	InMonth  bool   `json:"in_month"`
	Today    bool   `json:"today"`
	Selected bool   `json:"selected"`
	Items    int    `json:"items"`
}

func localMonthView(v engine.MonthView) monthView {
	out := monthView{Title: v.Month.Title()}
	for r, row := range v.Month.Weeks() {
		cells := make([]monthCell, 0, len(row))
		for i, d := range row {
			cells = append(cells, monthCell{
				Date:     d.Date.Format(time.DateOnly),
				InMonth:  d.InMonth,
				Today:    d.Today,
				Selected: d.Selected,
				Items:    v.Counts[r*len(row)+i],
			})
		}
		out.Weeks = append(out.Weeks, cells)
	}
	if v.Week != nil {
		wv := gridView(*v.Week)
		out.Week = &wv
	}
	return out
}

func remoteMonthView(m weekplansdk.Month) monthView {
	out := monthView{Title: m.Title}
	for i := 0; i+7 <= len(m.Days); i += 7 {
		cells := make([]monthCell, 0, 7)
		for _, d := range m.Days[i : i+7] {
			cells = append(cells, monthCell{Date: d.Date, InMonth: d.InMonth, Today: d.Today, Selected: d.Selected, Items: d.Items})
		}
		out.Weeks = append(out.Weeks, cells)
	}
	if m.Week != nil {
		wv := remoteView(*m.Week)
		out.Week = &wv
	}
	return out
}

// label marks today with brackets, the selection with a star, padding days
// with parentheses and appends the item count.
func (c monthCell) label() string {
	day := c.Date
	if t, err := time.Parse(time.DateOnly, c.Date); err == nil {
		day = strconv.Itoa(t.Day())
	}
	switch {
	case c.Today:
		day = "[" + day + "]"
	case !c.InMonth:
		day = "(" + day + ")"
	}
	if c.Selected {
		day += "*"
	}
	if c.Items > 0 {
		day += fmt.Sprintf(" ·%d", c.Items)
	}
	return day
}

func (v monthView) render(out io.Writer) {
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.SetStyle(table.StyleLight)
	tw.SetTitle(v.Title)
	if len(v.Weeks) > 0 {
		header := table.Row{}
		for _, c := range v.Weeks[0] {
			if t, err := time.Parse(time.DateOnly, c.Date); err == nil {
				header = append(header, t.Format("Mon"))
			}
		}
		tw.AppendHeader(header)
	}
	for _, row := range v.Weeks {
		r := table.Row{}
		for _, c := range row {
			r = append(r, c.label())
		}
		tw.AppendRow(r)
	}
	tw.Render()
}

func monthCmd() *cobra.Command {
	var date, kind, pick string
	var offset int
	cmd := &cobra.Command{
		Use:   "month",
		Short: "Show a month page; --pick also shows the week of that day",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				loc := w.Config.LocationOrLocal()
				d, err := optionalDate(date, loc)
				if err != nil {
					return fmt.Errorf("invalid --date %q", date)
				}
				p, err := optionalDate(pick, loc)
				if err != nil {
					return fmt.Errorf("invalid --pick %q", pick)
				}
				k, err := kindFlag(kind)
				if err != nil {
					return err
				}
				var v monthView
				if c := remoteClient(w); c != nil {
					m, err := c.Month(ctx, k, d, offset, p)
					if err != nil {
						return err
					}
					v = remoteMonthView(m)
				} else {
					opts := engine.MonthOptions{Date: d, Offset: offset, Pick: p}
					if k != "" {
						opts.Kinds = []domain.Kind{k}
					}
					m, err := w.Engine.Month(ctx, opts)
					if err != nil {
						return err
					}
					v = localMonthView(m)
				}
				if viper.GetBool("json") {
					return printJSON(v)
				}
				v.render(os.Stdout)
				if v.Week != nil {
					v.Week.render(os.Stdout, false)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "any day of the month (default now)")
	cmd.Flags().IntVar(&offset, "offset", 0, "months to move forward (negative moves back)")
	cmd.Flags().StringVar(&kind, "kind", "", "task or event (default both)")
	cmd.Flags().StringVar(&pick, "pick", "", "select a day and print its week")
	return cmd
}

func exportCmd() *cobra.Command {
	var kind, out, from, to string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export items as an iCalendar file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				k, err := kindFlag(kind)
				if err != nil {
					return err
				}
				var dst io.Writer = os.Stdout
				if out != "" && out != "-" {
					f, err := os.Create(out)
					if err != nil {
						return err
					}
					defer f.Close()
					dst = f
				}
				if c := remoteClient(w); c != nil {
					doc, err := c.Calendar(ctx, k)
					if err != nil {
						return err
					}
					_, err = io.WriteString(dst, doc)
					return err
				}
				loc := w.Config.LocationOrLocal()
				f := repo.ItemFilter{}
				if f.From, err = optionalDate(from, loc); err != nil {
					return fmt.Errorf("invalid --from %q", from)
				}
				if f.To, err = optionalDate(to, loc); err != nil {
					return fmt.Errorf("invalid --to %q", to)
				}
				var items []domain.Item
				for _, kk := range kindsOf(k) {
					f.Kind = kk
					got, err := w.Engine.ListItems(ctx, f)
					if err != nil {
						return err
					}
					items = append(items, got...)
				}
				return ics.Write(dst, items, ics.ExportOptions{Name: "weekplan", Timezone: w.Config.Calendar.Timezone})
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "task or event (default both)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	cmd.Flags().StringVar(&from, "from", "", "only items at or after this date")
	cmd.Flags().StringVar(&to, "to", "", "only items before this date")
	return cmd
}

func importCmd() *cobra.Command {
	var from, to string
	var maxOcc int
	cmd := &cobra.Command{
		Use:   "import <file.ics>",
		Short: "Import VEVENT and VTODO components; recurring ones are expanded",
		Long:  "Events become events and todos become tasks. Items are upserted by id, so importing the same file twice updates instead of duplicating.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if viper.GetString("remote") != "" {
				return fmt.Errorf("import works on a local workspace; drop --remote")
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				loc := w.Config.LocationOrLocal()
				opts := ics.ParseOptions{Location: loc, MaxOccurrences: maxOcc}
				var err error
				if opts.From, err = optionalDate(from, loc); err != nil {
					return fmt.Errorf("invalid --from %q", from)
				}
				if opts.To, err = optionalDate(to, loc); err != nil {
					return fmt.Errorf("invalid --to %q", to)
				}
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				parsed, err := ics.Parse(f, opts)
				if err != nil {
					return err
				}
				for _, de := range parsed.Skipped {
					w.Engine.Warn(de)
				}
				res, err := w.Engine.ImportItems(ctx, parsed.Items, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				res.Skipped += len(parsed.Skipped)
				if viper.GetBool("json") {
					return printJSON(map[string]any{"result": res, "truncated": parsed.Truncated})
				}
				fmt.Printf("imported %s: %d created, %d updated, %d skipped\n", args[0], res.Created, res.Updated, res.Skipped)
				for _, uid := range parsed.Truncated {
					fmt.Printf("recurrence of %s truncated at %d occurrences\n", uid, maxOcc)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "expand recurrences from this date (default now)")
	cmd.Flags().StringVar(&to, "to", "", "expand recurrences until this date (default one year after --from)")
	cmd.Flags().IntVar(&maxOcc, "max", 500, "max occurrences per recurring component")
	return cmd
}

func kindFlag(s string) (domain.Kind, error) {
	if strings.TrimSpace(s) == "" {
		return "", nil
	}
	return domain.ParseKind(s)
}

func kindsOf(k domain.Kind) []domain.Kind {
	if k == "" {
		return domain.Kinds
	}
	return []domain.Kind{k}
}
