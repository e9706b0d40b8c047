package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbweber/anvil/internal/config"
	"github.com/jbweber/anvil/internal/libvirt"
	"github.com/jbweber/anvil/internal/loader"
	"github.com/jbweber/anvil/internal/logging"
	"github.com/jbweber/anvil/internal/output"
	"github.com/jbweber/anvil/internal/pipeline"
	"github.com/jbweber/anvil/internal/storage"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(pipeline.ExitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "anvil",
	Short: "Anvil - VM provisioning from templates",
	Long: `Anvil provisions virtual machines on a libvirt host from YAML templates.

A template describes one VM (VirtualMachine) or a set of VMs sharing
defaults (VirtualMachineSet). Templates can declare variables, read the
environment and be adjusted with --set before they are validated,
resolved against the host and built one operation at a time.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceErrors: true,
}

// Global flags.
var globals struct {
	configPath  string
	socket      string
	timeout     time.Duration
	verbose     int
	metricsFile string
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&globals.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/anvil/config.yaml)")
	flags.StringVar(&globals.socket, "socket", libvirt.DefaultSocket, "libvirt socket path")
	flags.DurationVar(&globals.timeout, "timeout", libvirt.DefaultTimeout, "libvirt connection timeout")
	flags.CountVarP(&globals.verbose, "verbose", "v", "increase log verbosity (repeatable)")
	flags.StringVar(&globals.metricsFile, "metrics-textfile", "", "write run metrics to this file in Prometheus text format")

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(mediaCmd)
	rootCmd.AddCommand(poolCmd)
	rootCmd.AddCommand(testConnCmd)
}

// loadSettings layers the config file, the environment and the flags set
// on cmd, then validates the result.
func loadSettings(cmd *cobra.Command) (*config.Settings, error) {
	settings, err := config.Load(globals.configPath, loader.EnvFromOS())
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("socket") {
		settings.Socket = globals.socket
	}
	if flags.Changed("timeout") {
		settings.Timeout = globals.timeout
	}
	settings.Verbosity += globals.verbose
	if f := flags.Lookup("parallel"); f != nil && f.Changed {
		settings.Parallel = docOpts.parallel
	}

	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return settings, nil
}

func connect(ctx context.Context, settings *config.Settings) (*libvirt.Client, error) {
	client, err := libvirt.ConnectWithContext(ctx, settings.Socket, settings.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to libvirt: %w", err)
	}
	return client, nil
}

func closeClient(client *libvirt.Client) {
	if err := client.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close libvirt connection: %v\n", err)
	}
}

// openStorage connects to libvirt and makes sure the anvil pools exist.
func openStorage(ctx context.Context, settings *config.Settings) (*libvirt.Client, *storage.Manager, error) {
	client, err := connect(ctx, settings)
	if err != nil {
		return nil, nil, err
	}

	mgr := storage.NewManager(client.Libvirt(), settings.StoragePools())
	if err := mgr.EnsureDefaultPools(ctx); err != nil {
		closeClient(client)
		return nil, nil, fmt.Errorf("failed to ensure default pools: %w", err)
	}
	return client, mgr, nil
}

var outputOpts struct {
	format    string
	noHeaders bool
}

func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&outputOpts.format, "output", "o", string(output.FormatTable), "output format: table, yaml or json")
	cmd.Flags().BoolVar(&outputOpts.noHeaders, "no-headers", false, "omit table headers")
}

func newFormatter() (output.Formatter, error) {
	return output.NewFormatter(output.Options{
		Format:    output.Format(outputOpts.format),
		NoHeaders: outputOpts.noHeaders,
	})
}

// tableOutput reports whether status lines may be mixed into stdout.
func tableOutput() bool {
	return outputOpts.format == string(output.FormatTable)
}

var testConnCmd = &cobra.Command{
	Use:   "test-conn",
	Short: "Test libvirt connection",
	Long:  `Test connectivity to the libvirt daemon and display host information.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings(cmd)
		if err != nil {
			return err
		}
		formatter, err := newFormatter()
		if err != nil {
			return err
		}
		cmd.SilenceUsage = true

		client, err := connect(cmd.Context(), settings)
		if err != nil {
			return err
		}
		defer closeClient(client)

		if err := client.Ping(); err != nil {
			return fmt.Errorf("connection test failed: %w", err)
		}
		info, err := client.Info()
		if err != nil {
			return err
		}

		if tableOutput() {
			logging.NewConsole().Ok("Connected to libvirt daemon")
		}
		out, err := formatter.FormatHostInfo(info)
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	},
}

func init() {
	addOutputFlags(testConnCmd)
}
