package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"hotelpipe/internal/api"
	"hotelpipe/internal/config"
	"hotelpipe/internal/etl"
	_ "hotelpipe/internal/etl/sources" // register all sources via init()
	"hotelpipe/internal/logging"
	mcpserver "hotelpipe/internal/mcp"
	"hotelpipe/internal/service"
)

// rootOptions are the persistent flags and the configuration they load.
type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg *config.Config
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		logging.Error().Err(err).Msg("command failed")
		return 1
	}
	return 0
}

// NewRootCommand builds the hotelpipe command tree.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{}
	rc := &cobra.Command{
		Use:   "hotelpipe",
		Short: "Move hotel booking data through telemetry, object storage and a database.",
		Long: `hotelpipe publishes booking rows to a telemetry ingestion service, pulls them
back into a table, stages that table in an object store, loads it into a
relational database and builds model-ready feature files from it.

Each stage is its own command; run and sync chain them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if opts.logLevel != "" {
				cfg.Logging.Level = opts.logLevel
			}
			if opts.logFormat != "" {
				cfg.Logging.Format = opts.logFormat
			}
			logging.Init(logging.Config{
				Level:     cfg.Logging.Level,
				Format:    cfg.Logging.Format,
				Caller:    cfg.Logging.Caller,
				Timestamp: true,
				Output:    stderr,
			})
			opts.cfg = cfg
			return nil
		},
	}
	flags := rc.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	flags.StringVar(&opts.logFormat, "log-format", "", "Log format: json or console")

	rc.AddCommand(newPublishCommand(opts, stdout))
	rc.AddCommand(newReassembleCommand(opts, stdout))
	rc.AddCommand(newStoreCommand(opts, stdout))
	rc.AddCommand(newFetchCommand(opts, stdout))
	rc.AddCommand(newLoadCommand(opts, stdout))
	rc.AddCommand(newSyncCommand(opts, stdout))
	rc.AddCommand(newFeaturesCommand(opts, stdout))
	rc.AddCommand(newRunCommand(opts, stdout))
	rc.AddCommand(newReplayCommand(opts, stdout))
	rc.AddCommand(newRunsCommand(opts, stdout))
	rc.AddCommand(newSummaryCommand(opts, stdout))
	rc.AddCommand(newPreviewCommand(opts, stdout))
	rc.AddCommand(newSourcesCommand(stdout))
	rc.AddCommand(newUploadCommand(opts, stdout))
	rc.AddCommand(newServeCommand(opts))
	rc.AddCommand(newMCPCommand(opts))

	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

// withApp opens the components in needs, runs fn and shuts everything down.
func withApp(cmd *cobra.Command, opts *rootOptions, needs need, fn func(ctx context.Context, a *App) error) error {
	ctx := cmd.Context()
	a, err := Startup(ctx, opts.cfg, needs)
	if err != nil {
		return err
	}
	defer a.Shutdown()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// stageCommand builds a command that runs one stage and prints its result.
func stageCommand(use, short string, args cobra.PositionalArgs, opts *rootOptions, stdout io.Writer, needs need,
	run func(ctx context.Context, a *App, args []string) (*etl.SyncResult, error),
) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, needs, func(ctx context.Context, a *App) error {
				result, err := run(ctx, a, args)
				if result != nil {
					if perr := printJSON(stdout, result); perr != nil && err == nil {
						err = perr
					}
				}
				return err
			})
		},
	}
}

// ── Stage commands ─────────────────────────────────────────

func newPublishCommand(opts *rootOptions, stdout io.Writer) *cobra.Command {
	var maxRows int
	cmd := stageCommand("publish FILE", "Send every row of a CSV file to the telemetry service.",
		cobra.ExactArgs(1), opts, stdout, needPublish,
		func(ctx context.Context, a *App, args []string) (*etl.SyncResult, error) {
			return a.Service().Publish(ctx, args[0])
		})
	cmd.Flags().IntVar(&maxRows, "max-rows", 0, "Stop after this many rows (0 sends all)")
	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		if cmd.Flags().Changed("max-rows") {
			opts.cfg.Telemetry.MaxRows = maxRows
		}
	}
	return cmd
}

func newReassembleCommand(opts *rootOptions, stdout io.Writer) *cobra.Command {
	var out string
	cmd := stageCommand("reassemble", "Pull stored telemetry back into a CSV file.",
		cobra.NoArgs, opts, stdout, needReassemble,
		func(ctx context.Context, a *App, _ []string) (*etl.SyncResult, error) {
			return a.Service().Reassemble(ctx, out)
		})
	cmd.Flags().StringVarP(&out, "output-file", "o", "", "CSV file to write (default: staging out dir)")
	return cmd
}

func newStoreCommand(opts *rootOptions, stdout io.Writer) *cobra.Command {
	return stageCommand("store FILE", "Upload a CSV file to the configured bucket and object.",
		cobra.ExactArgs(1), opts, stdout, needStorage,
		func(ctx context.Context, a *App, args []string) (*etl.SyncResult, error) {
			return a.Service().Store(ctx, args[0])
		})
}

func newFetchCommand(opts *rootOptions, stdout io.Writer) *cobra.Command {
	var out string
	cmd := stageCommand("fetch", "Download the configured object as a CSV file.",
		cobra.NoArgs, opts, stdout, needStorage,
		func(ctx context.Context, a *App, _ []string) (*etl.SyncResult, error) {
			return a.Service().Fetch(ctx, out)
		})
	cmd.Flags().StringVarP(&out, "output-file", "o", "", "CSV file to write (default: staging out dir)")
	return cmd
}

func newLoadCommand(opts *rootOptions, stdout io.Writer) *cobra.Command {
	return stageCommand("load", "Replace the database table with the configured object.",
		cobra.NoArgs, opts, stdout, needStorage|needDatabase,
		func(ctx context.Context, a *App, _ []string) (*etl.SyncResult, error) {
			return a.Service().Load(ctx)
		})
}

func newSyncCommand(opts *rootOptions, stdout io.Writer) *cobra.Command {
	return stageCommand("sync", "Reassemble, store, fetch and load in one pass.",
		cobra.NoArgs, opts, stdout, needReassemble|needStorage|needDatabase,
		func(ctx context.Context, a *App, _ []string) (*etl.SyncResult, error) {
			return a.Service().Sync(ctx)
		})
}

func newReplayCommand(opts *rootOptions, stdout io.Writer) *cobra.Command {
	var limit int
	cmd := stageCommand("replay", "Re-send publishes that previously failed.",
		cobra.NoArgs, opts, stdout, needPublish,
		func(ctx context.Context, a *App, _ []string) (*etl.SyncResult, error) {
			return a.Service().Replay(ctx, limit)
		})
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum entries to replay (0 replays all)")
	return cmd
}

func newRunCommand(opts *rootOptions, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "run FILE",
		Short: "Publish a CSV file, then sync it through to the database.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, needAll, func(ctx context.Context, a *App) error {
				results, err := a.Service().Run(ctx, args[0])
				if perr := printJSON(stdout, results); perr != nil && err == nil {
					err = perr
				}
				return err
			})
		},
	}
}

func newFeaturesCommand(opts *rootOptions, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "features",
		Short: "Build encoded train and test files per hotel from the database table.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, needDatabase, func(ctx context.Context, a *App) error {
				report, err := a.Service().Features(ctx)
				if err != nil {
					return err
				}
				return printJSON(stdout, report)
			})
		},
	}
}

// ── Inspection commands ────────────────────────────────────

func newRunsCommand(opts *rootOptions, stdout io.Writer) *cobra.Command {
	var (
		stage string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent stage runs.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var st etl.Stage
			if stage != "" {
				var err error
				if st, err = etl.ParseStage(stage); err != nil {
					return err
				}
			}
			return withApp(cmd, opts, 0, func(ctx context.Context, a *App) error {
				runs, err := a.Service().ListRuns(ctx, st, limit)
				if err != nil {
					return err
				}
				return printJSON(stdout, runs)
			})
		},
	}
	cmd.Flags().StringVar(&stage, "stage", "", "Only list runs of this stage")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to list")
	return cmd
}

func newSummaryCommand(opts *rootOptions, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "summary [TABLE]",
		Short: "Show row counts, label and hotel distributions and a sample of a loaded table.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return withApp(cmd, opts, needDatabase, func(ctx context.Context, a *App) error {
				s, err := a.Service().Summary(ctx, name)
				if err != nil {
					return err
				}
				return printJSON(stdout, s)
			})
		},
	}
}

func newPreviewCommand(opts *rootOptions, stdout io.Writer) *cobra.Command {
	var (
		sourceType string
		settings   []string
		rows       int
	)
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Read a registered source and print its schema and first rows.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := etl.SourceConfig{}
			for _, kv := range settings {
				k, v, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("--set %q: want key=value", kv)
				}
				cfg[k] = v
			}
			var needs need
			switch sourceType {
			case "telemetry":
				needs = needReassemble
			case "database":
				needs = needDatabase
			}
			return withApp(cmd, opts, needs, func(ctx context.Context, a *App) error {
				engine := &etl.Engine{}
				t, schema, err := engine.Preview(ctx, sourceType, cfg, rows)
				if err != nil {
					return err
				}
				return printJSON(stdout, map[string]any{
					"schema": schema,
					"rows":   lo.Map(etl.Payloads(t), func(r etl.Record, _ int) map[string]any { return r.Data }),
				})
			})
		},
	}
	cmd.Flags().StringVar(&sourceType, "source", "csv_file", "Source type (see the sources command)")
	cmd.Flags().StringArrayVar(&settings, "set", nil, "Source setting as key=value, repeatable")
	cmd.Flags().IntVar(&rows, "rows", 10, "Rows to print")
	return cmd
}

func newSourcesCommand(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List the registered table sources and their settings.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(stdout, etl.ListSources())
		},
	}
}

func newUploadCommand(opts *rootOptions, stdout io.Writer) *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "upload FILE",
		Short: "Send a CSV file to a running hotelpipe server.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if serverURL == "" {
				serverURL = "http://localhost" + opts.cfg.Server.Addr
			}
			name, err := UploadFile(cmd.Context(), serverURL, args[0], opts.cfg.Telemetry.Timeout)
			if err != nil {
				return err
			}
			return printJSON(stdout, map[string]string{"filename": name})
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "Server base URL (default: http://localhost plus server.addr)")
	return cmd
}

// ── Serve ──────────────────────────────────────────────────

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the upload and inspection API, with scheduled syncs and upload watching.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, needAll, func(ctx context.Context, a *App) error {
				return serve(ctx, a)
			})
		},
	}
}

func serve(ctx context.Context, a *App) error {
	svc := a.Service()
	if err := svc.StartSchedulers(ctx); err != nil {
		return err
	}

	srv := api.NewServer(a.cfg.Server, svc)
	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", srv.Addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logging.Info().Msg("shutting down")
	svc.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("http server shutdown")
	}
	svc.WaitRunning(shutdownCtx)
	return nil
}

func newMCPCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve pipeline tools to an AI agent over MCP on stdin/stdout.",
		Long: `Serve pipeline tools to an AI agent over MCP on stdin/stdout.

Logs go to stderr so they never mix with protocol messages.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, needAll, func(ctx context.Context, a *App) error {
				srv := mcpserver.New(mcpserver.Deps{
					Pipeline: a.Service(),
					Emitter:  service.LogEmitter{},
					Version:  cmd.Root().Version,
				})
				return srv.ServeStdio()
			})
		},
	}
}
