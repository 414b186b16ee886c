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

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"drawdown/internal/app"
	"drawdown/internal/config"
	"drawdown/internal/db"
	"drawdown/internal/domain"
	"drawdown/internal/engine"
	"drawdown/internal/migrate"
	"drawdown/internal/trail"
)

var rootCmd = &cobra.Command{
	Use:   "drawdown",
	Short: "Drawdown site-visit review CLI",
	Long: `Drawdown tracks construction-loan site-visit reports from filing to a QS decision.
- Reports: filed by an RM against a facility (IBPS number), then submitted for review.
- Review lock: a QS locks a report while reviewing it; locks lapse on their own.
- Decisions: the lock holder returns, approves or rejects the report.
- Trail: every transition is appended to the report's approval trail.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("DRAWDOWN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.StringP("config", "c", "", "config file (default <workspace>/drawdown.yml)")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-admin", "actor identifier for read commands")
	flags.String("role", string(domain.RoleAdmin), "actor role for read commands")
	for _, name := range []string{"workspace", "config", "json", "actor-id", "role"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(facilityCmd())
	rootCmd.AddCommand(reportCmd())
}

// loadConfig reads the config file and applies env overrides.
func loadConfig() (*config.Config, error) {
	workspace := viper.GetString("workspace")
	var (
		cfg *config.Config
		err error
	)
	if path := viper.GetString("config"); path != "" {
		cfg, err = config.FromFile(path)
	} else {
		cfg, err = config.LoadOptional(workspace)
	}
	if err != nil {
		return nil, err
	}
	if workspace != "" {
		cfg.Database.Workspace = workspace
	}
	overrides := map[string]*string{
		"database.driver":   &cfg.Database.Driver,
		"database.dsn":      &cfg.Database.DSN,
		"server.addr":       &cfg.Server.Addr,
		"server.jwt_secret": &cfg.Server.JWTSecret,
		"storage.kind":      &cfg.Storage.Kind,
		"storage.dir":       &cfg.Storage.Dir,
		"notify.redis.addr": &cfg.Notify.Redis.Addr,
		"log.level":         &cfg.Log.Level,
		"log.format":        &cfg.Log.Format,
	}
	for key, dst := range overrides {
		if v := viper.GetString(key); v != "" {
			*dst = v
		}
	}
	if viper.IsSet("server.allow_dev_headers") {
		cfg.Server.AllowDevHeaders = viper.GetBool("server.allow_dev_headers")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := app.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	a, err := app.Bootstrap(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine, domain.Actor) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		actor := domain.Actor{ID: viper.GetString("actor-id"), Role: domain.Role(viper.GetString("role"))}
		return fn(ctx, a.Engine, actor)
	})
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if a.Config.Server.JWTSecret == "" && !a.Config.Server.AllowDevHeaders {
					return fmt.Errorf("server.jwt_secret (DRAWDOWN_SERVER_JWT_SECRET) is required unless dev headers are allowed")
				}
				handler, err := a.Handler()
				if err != nil {
					return err
				}
				if addr == "" {
					addr = a.Config.Server.Addr
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
				a.Logger.Info("serving drawdown api",
					zap.String("addr", addr),
					zap.String("base_path", a.Config.Server.BasePath),
					zap.Bool("dev_headers", a.Config.Server.AllowDevHeaders))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			conn, dialect, err := db.Open(db.Config{
				Driver:    cfg.Database.Driver,
				DSN:       cfg.Database.DSN,
				Workspace: cfg.Database.Workspace,
			})
			if err != nil {
				return err
			}
			defer conn.Close()
			version, err := migrate.Migrate(cmd.Context(), conn, dialect)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"driver": dialect, "schema_version": version})
			}
			fmt.Printf("%s schema at version %d\n", dialect, version)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage drawdown.yml"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config to the workspace",
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

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Server.JWTSecret != "" {
				cfg.Server.JWTSecret = "********"
			}
			return printJSON(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfig()
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": errString(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func facilityCmd() *cobra.Command {
	fac := &cobra.Command{Use: "facility", Short: "Manage loan facilities"}
	fac.AddCommand(facilityImportCmd())
	fac.AddCommand(facilityListCmd())
	fac.AddCommand(facilityShowCmd())
	return fac
}

func facilityImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Import facilities from YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			facilities, err := parseFacilities(data, time.Now().UTC())
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				for _, f := range facilities {
					saved, err := a.Repo.UpsertFacility(ctx, f)
					if err != nil {
						return fmt.Errorf("facility %s: %w", f.IBPSNumber, err)
					}
					fmt.Printf("imported %s (%s)\n", saved.IBPSNumber, saved.ID)
				}
				return nil
			})
		},
	}
}

func facilityListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List facilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Repo.ListFacilities(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"IBPS", "Customer", "Approved", "Radius (m)", "Milestones", "Tranches"})
				for _, f := range items {
					tw.AppendRow(table.Row{f.IBPSNumber, f.CustomerName, f.TotalApprovedAmount.StringFixed(2), f.GeofenceRadiusMeters, len(f.Milestones), len(f.Tranches)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func facilityShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show IBPS",
		Short: "Show a facility with its schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				f, err := e.Facility(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printJSON(f)
			})
		},
	}
}

func reportCmd() *cobra.Command {
	rep := &cobra.Command{Use: "report", Short: "Inspect site-visit reports"}
	rep.AddCommand(reportListCmd())
	rep.AddCommand(reportShowCmd())
	rep.AddCommand(reportTrailCmd())
	rep.AddCommand(reportVerifyCmd())
	return rep
}

func reportListCmd() *cobra.Command {
	var statuses []string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reports by status, or the actor's queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				var (
					reports []domain.Report
					err     error
				)
				if len(statuses) == 0 {
					reports, err = e.ListReportsForActor(ctx, actor)
				} else {
					filter := make([]domain.Status, 0, len(statuses))
					for _, s := range statuses {
						filter = append(filter, domain.Status(s))
					}
					reports, err = e.ListReportsByStatus(ctx, actor, filter...)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(reports)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "IBPS", "RM", "Status", "Requested", "Locked by", "Submitted"})
				for _, r := range reports {
					tw.AppendRow(table.Row{r.ID, r.IBPSNumber, r.RMUserID, r.Status, r.RequestedAmount.StringFixed(2), deref(r.LockedBy), formatTime(r.SubmittedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "status filter (repeatable or comma separated)")
	return cmd
}

func reportShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show a report with attachments, comments and trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				detail, err := e.GetReportDetail(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printJSON(detail)
			})
		},
	}
}

func reportTrailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trail ID",
		Short: "Show a report's approval trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				entries, err := e.Trail(ctx, actor, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "When", "User", "Role", "Action", "From", "To", "Comments"})
				for _, t := range entries {
					from := ""
					if t.PreviousStatus != nil {
						from = string(*t.PreviousStatus)
					}
					tw.AppendRow(table.Row{t.Seq, t.Timestamp.Format(time.RFC3339), t.UserID, t.UserRole, t.Action, from, t.NewStatus, t.Comments})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func reportVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify ID",
		Short: "Check that a report's trail is a valid path through the workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				entries, err := e.Trail(ctx, actor, args[0])
				if err != nil {
					return err
				}
				verr := trail.Verify(entries)
				if viper.GetBool("json") {
					return printJSON(map[string]any{"ok": verr == nil, "entries": len(entries), "error": errString(verr)})
				}
				if verr != nil {
					return verr
				}
				fmt.Printf("trail OK (%d entries)\n", len(entries))
				return nil
			})
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
