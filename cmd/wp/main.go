package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"weekplan/internal/app"
	"weekplan/internal/config"
	"weekplan/internal/domain"
	"weekplan/internal/engine"
	"weekplan/internal/engine/auth"
	"weekplan/internal/log"
	"weekplan/internal/reminder"
	"weekplan/internal/repo"
	"weekplan/internal/server"
	weekplansdk "weekplan/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "wp",
	Short: "weekplan CLI",
	Long: `weekplan keeps tasks and events on a week calendar.
- Workspace: a directory holding weekplan.db and an optional weekplan.yml.
- Items: tasks and events share one shape (title, date, priority, status, reminder, notes, tags).
- Week: seven day columns of hour slots; the default window runs 06:00 to 05:00 the next morning.
- Remote: pass --remote to drive a 'wp serve' instance instead of the local workspace.
- Change log: every mutation is recorded, view it with 'wp log tail'.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.SetLevel(log.ParseLevel(viper.GetString("log-level")))
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("WEEKPLAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	pf := rootCmd.PersistentFlags()
	pf.StringP("workspace", "w", ".", "workspace directory")
	pf.Bool("json", false, "output JSON")
	pf.String("actor-id", engine.LocalActor, "actor identifier recorded in the change log")
	pf.String("remote", "", "base URL of a weekplan server; empty uses the local workspace")
	pf.String("api-key", "", "API key for --remote")
	pf.String("log-level", "info", "debug, info, warn or error")
	for _, name := range []string{"workspace", "json", "actor-id", "remote", "api-key", "log-level"} {
		_ = viper.BindPFlag(name, pf.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(itemCmd(domain.KindTask))
	rootCmd.AddCommand(itemCmd(domain.KindEvent))
	rootCmd.AddCommand(weekCmd())
	rootCmd.AddCommand(todayCmd())
	rootCmd.AddCommand(upcomingCmd())
	rootCmd.AddCommand(monthCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(remindCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config lives in weekplan.yml inside the workspace: calendar timezone, week start, clock and hour window, the reminder schedule, webhooks and auth.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate weekplan.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default weekplan.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Change log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var f repo.ChangeFilter
	var kind string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				f.Limit = n
				f.Kind = domainKind(kind)
				var changes []changeRow
				if c := remoteClient(w); c != nil {
					page, err := c.ChangesPage(ctx, n, "")
					if err != nil {
						return err
					}
					for _, ch := range page.Items {
						changes = append(changes, changeRow{ID: ch.ID, TS: ch.TS, Type: ch.Type, Kind: ch.Kind, ItemID: ch.ItemID, ActorID: ch.ActorID})
					}
				} else {
					rows, err := w.Engine.Repo.LatestChanges(ctx, f)
					if err != nil {
						return err
					}
					for _, ch := range rows {
						changes = append(changes, changeRow{ID: ch.ID, TS: ch.TS, Type: ch.Type, Kind: ch.Kind, ItemID: ch.ItemID, ActorID: ch.ActorID})
					}
				}
				if viper.GetBool("json") {
					return printJSON(changes)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "When", "Type", "Kind", "Item", "Actor"})
				for _, ch := range changes {
					when := ch.TS
					if ts, err := time.Parse(time.RFC3339, ch.TS); err == nil {
						when = humanize.Time(ts)
					}
					tw.AppendRow(table.Row{ch.ID, when, ch.Type, ch.Kind, ch.ItemID, ch.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of changes")
	cmd.Flags().StringVar(&f.Type, "type", "", "change type filter")
	cmd.Flags().StringVar(&kind, "kind", "", "task or event")
	cmd.Flags().StringVar(&f.ItemID, "item", "", "item id filter")
	return cmd
}

type changeRow struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts"`
	Type    string `json:"type"`
	Kind    string `json:"kind,omitempty"`
	ItemID  string `json:"item_id,omitempty"`
	ActorID string `json:"actor_id"`
}

func apikeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys for the HTTP server"}
	k.AddCommand(apikeyCreateCmd())
	k.AddCommand(apikeyListCmd())
	k.AddCommand(apikeyRevokeCmd())
	return k
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue a key for --actor-id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				issued, err := auth.Service{DB: w.DB}.Issue(ctx, viper.GetString("actor-id"), name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(issued)
				}
				fmt.Printf("API key for %s (shown once):\n%s\n", issued.APIKey.ActorID, issued.Key)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "label for the key")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List keys of --actor-id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				keys, err := auth.Service{DB: w.DB}.List(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Actor", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.Name, k.ActorID, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func apikeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				if err := (auth.Service{DB: w.DB}).Revoke(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("revoked", args[0])
				return nil
			})
		},
	}
}

// notifier logs every reminder and posts it to webhooks subscribed to
// reminder events.
func notifier(d *server.Dispatcher) reminder.Notifier {
	return reminder.Multi{reminder.LogNotifier{}, d}
}

func remindCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "remind",
		Short: "Fire due reminders on the configured schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				s := reminder.New(w.Engine, notifier(server.NewDispatcher(w.Engine)), w.Config)
				if once {
					n, err := s.Tick(ctx)
					if err != nil {
						return err
					}
					fmt.Printf("%d reminder(s) fired\n", n)
					return nil
				}
				return s.Start(ctx)
			})
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "check once and exit")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowActorHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		Long:  "Serves the API, delivers webhooks and, when reminders.enabled is set, fires reminders. WEEKPLAN_JWT_SECRET enables bearer tokens.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, w *app.Workspace) error {
				e := w.Engine
				authCfg := server.AuthConfig{
					JWTSecret:              os.Getenv("WEEKPLAN_JWT_SECRET"),
					Required:               w.Config.Auth.Required,
					AllowLegacyActorHeader: allowActorHeader,
					Logger:                 log.Std(),
				}
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}
				dispatcher := server.NewDispatcher(e)
				go dispatcher.Run(ctx)
				if w.Config.Reminders.Enabled {
					s := reminder.New(e, notifier(dispatcher), w.Config)
					off := s.Watch(e.Bus)
					defer off()
					go func() {
						if err := s.Start(ctx); err != nil {
							log.Error("reminder scheduler", err)
						}
					}()
				}

				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving weekplan API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowActorHeader, "allow-actor-header", false, "trust X-Actor-Id without credentials (development only)")
	return cmd
}

// --- helpers ---

func withWorkspace(ctx context.Context, fn func(context.Context, *app.Workspace) error) error {
	w, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer w.Close()
	return fn(ctx, w)
}

// remoteClient returns nil unless --remote is set.
func remoteClient(w *app.Workspace) *weekplansdk.Client {
	base := strings.TrimSpace(viper.GetString("remote"))
	if base == "" {
		return nil
	}
	c := weekplansdk.New(base)
	c.APIKey = viper.GetString("api-key")
	c.Location = w.Config.LocationOrLocal()
	c.Warn = w.Engine.Warn
	return c
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	return tw
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
