package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/inconshreveable/log15"
	"github.com/orian/viewcount/models"
	"github.com/orian/viewcount/source"
	"github.com/spf13/cobra"
)

// appLogger is used for logging events in our commands.
var appLogger = log15.New()

// logOutput is where logs go unless --log-file is given.
var logOutput io.Writer = os.Stderr

var (
	cfgFile      string
	logFile      string
	debugLog     bool
	outputFormat string
	serveCheck   bool

	cfg *Config
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "viewcount",
	Short: "viewcount browses a daily snapshot of YouTube view counts.",
	Long: `viewcount keeps a local copy of a daily-published view-count snapshot
and charts it per group.

The 'serve' subcommand starts the web UI. The other subcommands work on the
local cache directly.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loadDotEnv()

		c, err := loadConfig(cfgFile)
		if err != nil {
			return err
		}

		cfg = c

		setupLogging(cmd != serveCmd)

		return nil
	},
}

func init() {
	appLogger.SetHandler(log15.LvlFilterHandler(log15.LvlInfo, log15.StderrHandler))

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (yaml, json or toml)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "log to this file instead of stderr")
	rootCmd.PersistentFlags().BoolVar(&debugLog, "debug", false, "enable debug logging")

	serveCmd.Flags().BoolVar(&serveCheck, "check", true, "check for a newer snapshot on startup")

	for _, cmd := range []*cobra.Command{queryCmd, groupsCmd, chartCmd, statusCmd} {
		cmd.Flags().StringVarP(&outputFormat, "format", "f", formatTable, "output format: table, json or yaml")
	}

	rootCmd.AddCommand(serveCmd, statusCmd, checkCmd, downloadCmd, queryCmd, groupsCmd, chartCmd, clearCmd)
}

// setupLogging applies --log-file and --debug. Commands other than the
// server log plain messages.
func setupLogging(plain bool) {
	lvl := log15.LvlInfo
	if debugLog {
		lvl = log15.LvlDebug
	}

	h := log15.StreamHandler(logOutput, log15.TerminalFormat())

	switch {
	case logFile != "":
		h = fileHandler(logFile, h)
	case plain:
		h = log15.StreamHandler(logOutput, cliFormat())
	}

	appLogger.SetHandler(log15.LvlFilterHandler(lvl, h))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		die("%s", err.Error())
	}
}

// cliPrint outputs the message to STDOUT.
func cliPrint(msg string, a ...any) {
	fmt.Fprintf(os.Stdout, msg, a...)
}

// info is a convenience to log a message at the Info level.
func info(msg string, a ...any) {
	appLogger.Info(fmt.Sprintf(msg, a...))
}

// warn is a convenience to log a message at the Warn level.
func warn(msg string, a ...any) {
	appLogger.Warn(fmt.Sprintf(msg, a...))
}

// die is a convenience to log a message at the Error level and exit non zero.
func die(msg string, a ...any) {
	appLogger.Error(fmt.Sprintf(msg, a...))
	os.Exit(1)
}

// fileHandler logs to the given file, or to fallback if it cannot be opened.
func fileHandler(path string, fallback log15.Handler) log15.Handler { //nolint:ireturn
	fh, err := log15.FileHandler(path, log15.LogfmtFormat())
	if err != nil {
		warn("Could not log to file [%s]: %s", path, err)
		return fallback
	}

	return fh
}

// cliFormat returns a log15.Format that only prints the plain log msg.
func cliFormat() log15.Format { //nolint:ireturn
	return log15.FormatFunc(func(r *log15.Record) []byte {
		b := &bytes.Buffer{}
		fmt.Fprintf(b, "%s\n", r.Msg)

		return b.Bytes()
	})
}

// withApp runs fn with a fresh App that is closed afterwards. The context
// is cancelled on SIGINT or SIGTERM.
func withApp(fn func(ctx context.Context, app *App) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(cfg, appLogger)
	if err != nil {
		return err
	}

	defer func() {
		if err := app.Close(); err != nil {
			warn("failed to close: %s", err)
		}
	}()

	return fn(ctx, app)
}

// stateErr turns a Failed state into an error.
func stateErr(s models.DataState) error {
	if f, ok := s.(models.Failed); ok {
		return errors.New(f.Message)
	}

	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the web server.

The cached snapshot, if any, is opened straight away and, unless --check=false,
the server is asked whether a newer one has been published. Downloads are
started from the UI.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, app *App) error {
			srv := NewServer(app, appLogger)

			if app.Start(ctx) {
				info("opened cached snapshot")
			}

			if serveCheck {
				go app.manager.CheckForUpdates(ctx)
			}

			return srv.ListenAndServe(ctx, cfg.HTTP.Listen)
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the cache and snapshot status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, app *App) error {
			app.Start(ctx)

			status, err := buildStatusResponse(app)
			if err != nil {
				return err
			}

			if outputFormat != formatTable {
				return writeEncoded(os.Stdout, outputFormat, status)
			}

			cliPrint("cache:    %s (%s)\n", status.Cache.Dir, status.Cache.UsageText)
			cliPrint("state:    %s\n", app.manager.State().Status())

			if md := status.Metadata; md != nil {
				cliPrint("data:     %s\n", md.DataDate)
				cliPrint("loaded:   %s\n", humanize.Time(md.LastDownloadedAt))
			}

			cliPrint("database: %s\n", status.DB.Status)

			return nil
		})
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check whether a newer snapshot is available",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, app *App) error {
			app.manager.LoadCachedData(ctx)

			hasUpdate := app.manager.CheckForUpdates(ctx)

			s := app.manager.State()
			if err := stateErr(s); err != nil {
				return err
			}

			switch t := s.(type) {
			case models.UpdateAvailable:
				cliPrint("%s\n", t.Message)
			case models.Ready:
				cliPrint("%s\n", t.Message)
			}

			if !hasUpdate {
				return nil
			}

			cliPrint("run 'viewcount download' to fetch it\n")

			return nil
		})
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download the latest snapshot into the cache",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, app *App) error {
			app.manager.LoadCachedData(ctx)

			cancel := app.manager.Subscribe(printProgress)
			defer cancel()

			if !app.manager.DownloadData(ctx) {
				return stateErr(app.manager.State())
			}

			if md := app.manager.Metadata(); md != nil {
				info("snapshot %s saved to %s", md.DataDate, app.store.Dir())
			}

			return nil
		})
	},
}

// printProgress reports download transitions on STDERR.
func printProgress(s models.DataState) {
	switch t := s.(type) {
	case models.Downloading:
		if t.TotalBytes != nil {
			fmt.Fprintf(os.Stderr, "\r%s %3d%% (%s / %s)", t.Message, t.Progress,
				source.FormatFileSize(t.DownloadedBytes), source.FormatFileSize(*t.TotalBytes))
		} else {
			fmt.Fprintf(os.Stderr, "\r%s %s", t.Message, source.FormatFileSize(t.DownloadedBytes))
		}
	case models.Decompressing:
		fmt.Fprintf(os.Stderr, "\n%s\n", t.Message)
	case models.Ready:
		fmt.Fprintf(os.Stderr, "%s\n", t.Message)
	}
}

var queryCmd = &cobra.Command{
	Use:   "query <sql>",
	Short: "Run a SQL query against the cached snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, app *App) error {
			if err := app.ensureSnapshot(ctx); err != nil {
				return err
			}

			res, err := app.engine.Query(ctx, args[0])
			if err != nil {
				return err
			}

			return printQueryResult(os.Stdout, outputFormat, res)
		})
	},
}

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "List the groups in the cached snapshot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, app *App) error {
			if err := app.ensureSnapshot(ctx); err != nil {
				return err
			}

			groups, err := app.loader.Groups(ctx)
			if err != nil {
				return err
			}

			return printGroups(os.Stdout, outputFormat, groups)
		})
	},
}

var chartCmd = &cobra.Command{
	Use:   "chart <group>",
	Short: "Summarise the view counts of one group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, app *App) error {
			if err := app.ensureSnapshot(ctx); err != nil {
				return err
			}

			m, err := app.Chart(ctx, args[0])
			if err != nil {
				return err
			}

			return printChart(os.Stdout, outputFormat, m)
		})
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the cached snapshot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, app *App) error {
			if !app.Clear(ctx) {
				return stateErr(app.manager.State())
			}

			info("cleared %s", app.store.Dir())

			return nil
		})
	},
}
