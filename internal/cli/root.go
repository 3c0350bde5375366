package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/txwal/internal/config"
	"github.com/roach88/txwal/internal/engine"
	"github.com/roach88/txwal/internal/journal"
	"github.com/roach88/txwal/internal/metrics"
	"github.com/roach88/txwal/internal/signer"
)

// LogLevelEnv overrides the log level (debug|info|warn|error).
const LogLevelEnv = "TXWAL_LOG_LEVEL"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose         bool
	Format          string // "json" | "text"
	Home            string
	Profile         string
	MetricsTextfile string

	env Env
}

// Env is the process environment a command runs against. Tests replace it
// to pin the clock and stub the network.
type Env struct {
	Getenv    func(string) string
	LookupEnv func(string) (string, bool)
	Now       func() time.Time
	Stderr    io.Writer

	// EngineOptions are applied after the defaults.
	EngineOptions []engine.Option
}

// DefaultEnv reads the real process environment.
func DefaultEnv() Env {
	return Env{
		Getenv:    os.Getenv,
		LookupEnv: os.LookupEnv,
		Now:       time.Now,
		Stderr:    os.Stderr,
	}
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the txwal CLI.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWithEnv(DefaultEnv())
}

// NewRootCommandWithEnv creates the root command bound to env.
func NewRootCommandWithEnv(env Env) *cobra.Command {
	opts := &RootOptions{env: env}

	cmd := &cobra.Command{
		Use:   "txwal",
		Short: "txwal - journaled EVM transaction submission",
		Long: `Submit EVM transactions through a write-ahead journal.

Every submission is keyed by an idempotency key, journaled before it is
signed, and can be resumed after a crash without being broadcast twice.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Home, "home", "", "state directory (default $TXWAL_HOME or ~/.txwal)")
	cmd.PersistentFlags().StringVar(&opts.Profile, "profile", "", "profile name (default: activeProfile)")
	cmd.PersistentFlags().StringVar(&opts.MetricsTextfile, "metrics-textfile", "",
		"write Prometheus metrics to this file on exit")

	cmd.AddCommand(NewTxCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func (o *RootOptions) getenv(key string) string {
	if o.env.Getenv == nil {
		return ""
	}
	return o.env.Getenv(key)
}

func (o *RootOptions) stderr() io.Writer {
	if o.env.Stderr == nil {
		return io.Discard
	}
	return o.env.Stderr
}

// logger builds the process logger: warn by default, debug with --verbose,
// and TXWAL_LOG_LEVEL wins over both.
func (o *RootOptions) logger() *slog.Logger {
	level := slog.LevelWarn
	if o.Verbose {
		level = slog.LevelDebug
	}
	if v := o.getenv(LogLevelEnv); v != "" {
		var parsed slog.Level
		if err := parsed.UnmarshalText([]byte(strings.ToLower(v))); err == nil {
			level = parsed
		}
	}
	return slog.New(slog.NewTextHandler(o.stderr(), &slog.HandlerOptions{Level: level}))
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout(), Now: o.env.Now}
}

// session is everything one command invocation needs.
type session struct {
	home     string
	config   *config.File
	engine   *engine.Engine
	logger   *slog.Logger
	registry *prometheus.Registry
}

// open resolves home, loads the config and builds an engine over the
// home's journal.
func (o *RootOptions) open() (*session, error) {
	home, err := config.ResolveHome(o.Home, o.getenv)
	if err != nil {
		return nil, err
	}
	if err := config.EnsureHome(home); err != nil {
		return nil, err
	}
	cfg, err := config.Load(home)
	if err != nil {
		return nil, err
	}

	log := o.logger()
	reg := prometheus.NewRegistry()
	rec, err := metrics.New(reg)
	if err != nil {
		return nil, err
	}

	opts := []engine.Option{
		engine.WithLogger(log),
		engine.WithMetrics(rec),
		engine.WithSignerResolver(signer.DefaultResolver{LookupEnv: o.env.LookupEnv}),
		engine.WithJournalOptions(journal.WithClock(o.env.Now)),
	}
	opts = append(opts, o.env.EngineOptions...)

	return &session{
		home:     home,
		config:   cfg,
		engine:   engine.New(config.JournalPath(home), opts...),
		logger:   log,
		registry: reg,
	}, nil
}

// flush writes the session's metrics when --metrics-textfile is set.
func (o *RootOptions) flush(s *session) {
	if s == nil || o.MetricsTextfile == "" {
		return
	}
	if err := prometheus.WriteToTextfile(o.MetricsTextfile, s.registry); err != nil {
		s.logger.Warn("write metrics textfile", "path", o.MetricsTextfile, "error", err)
	}
}

// run executes fn and writes its result or error as command's envelope.
// A failure is returned as an ExitError once it has been written.
func (o *RootOptions) run(cmd *cobra.Command, command string, fn func(*session) (any, error)) error {
	out := o.formatter(cmd)

	s, err := o.open()
	if err == nil {
		var data any
		data, err = fn(s)
		o.flush(s)
		if err == nil {
			return out.Success(command, data)
		}
	}

	if werr := out.Error(command, err); werr != nil {
		return werr
	}
	return WrapExitError(GetExitCode(err), command+" failed", err)
}
