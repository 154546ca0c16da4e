// Package cli implements the pcsc-agent command line.
package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/SimplyPrint/pcsc-agent/internal/config"
	"github.com/SimplyPrint/pcsc-agent/internal/logging"
	"github.com/SimplyPrint/pcsc-agent/internal/native"
	"github.com/SimplyPrint/pcsc-agent/internal/pcsc"
	"github.com/SimplyPrint/pcsc-agent/internal/service"
	"github.com/SimplyPrint/pcsc-agent/internal/version"
)

// options is the state shared by every subcommand of one root command.
type options struct {
	svc native.Service
	cfg *config.Config

	host        string
	port        int
	scope       string
	pollTimeout time.Duration
	logLevel    string
	verbose     bool
	jsonOutput  bool

	allowedOrigins []string
}

// Execute runs the command line against the platform smart card service.
func Execute() error {
	defer logging.RecoverAndLog("main", true)
	defer logging.FlushSentry(2 * time.Second)

	return newRootCmd(pcsc.DefaultService).Execute()
}

func newRootCmd(svc native.Service) *cobra.Command {
	o := &options{svc: svc}

	rootCmd := &cobra.Command{
		Use:   "pcsc-agent",
		Short: "pcsc-agent - local smart card service bridge",
		Long: `pcsc-agent talks to the platform smart card service (PC/SC) and
exposes readers and cards on the command line and over a local
HTTP and WebSocket API.

Configuration comes from PCSC_AGENT_* environment variables and
can be overridden with flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return o.load(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&o.host, "host", config.DefaultHost, "address the API listens on")
	flags.IntVar(&o.port, "port", config.DefaultPort, "port the API listens on")
	flags.StringVar(&o.scope, "scope", config.DefaultScope.String(), "context scope (user, terminal, system, global)")
	flags.DurationVar(&o.pollTimeout, "poll-timeout", config.DefaultPollTimeout, "longest single wait for reader changes, negative waits forever")
	flags.StringVar(&o.logLevel, "log-level", config.DefaultLogLevel.String(), "minimum log level (debug, info, warn, error)")
	flags.BoolVarP(&o.verbose, "verbose", "v", false, "mirror log entries to stderr")
	flags.BoolVar(&o.jsonOutput, "json", false, "print results as JSON")

	rootCmd.AddCommand(newVersionCmd(o))
	rootCmd.AddCommand(newReadersCmd(o))
	rootCmd.AddCommand(newStatusCmd(o))
	rootCmd.AddCommand(newTransmitCmd(o))
	rootCmd.AddCommand(newMonitorCmd(o))
	rootCmd.AddCommand(newServeCmd(o))
	rootCmd.AddCommand(newAutostartCmd(service.New))

	return rootCmd
}

// load reads the environment and applies the flags that were set
// explicitly on top of it.
func (o *options) load(cmd *cobra.Command) error {
	cfg := config.Load()
	flags := cmd.Flags()

	if flags.Changed("host") {
		cfg.Host = o.host
	}
	if flags.Changed("port") {
		if o.port <= 0 || o.port > 65535 {
			return fmt.Errorf("invalid port %d", o.port)
		}
		cfg.Port = o.port
	}
	if flags.Changed("scope") {
		scope, err := pcsc.ParseScope(o.scope)
		if err != nil {
			return err
		}
		cfg.Scope = scope
	}
	if flags.Changed("poll-timeout") {
		cfg.PollTimeout = o.pollTimeout
	}
	if flags.Changed("log-level") {
		level, err := logging.ParseLevel(o.logLevel)
		if err != nil {
			return err
		}
		cfg.LogLevel = level
	}

	if flags.Changed("allow-origin") {
		cfg.AllowedOrigins = config.ParseOrigins(strings.Join(o.allowedOrigins, ","))
	}

	logging.Get().SetMinLevel(cfg.LogLevel)
	if o.verbose {
		logging.Get().SetOutput(cmd.ErrOrStderr())
	}

	if logging.InitSentry(cfg.SentryDSNIfEnabled(), version.Version, version.Environment(version.Version)) {
		logging.Info(logging.CatSystem, "Crash reporting enabled", nil)
	}

	o.cfg = cfg
	return nil
}

// printVerbose prints a message if verbose mode is enabled
func (o *options) printVerbose(format string, args ...any) {
	if o.verbose {
		fmt.Fprintf(os.Stderr, "[VERBOSE] "+format+"\n", args...)
	}
}
