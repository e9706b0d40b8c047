package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/jbweber/anvil/internal/builder"
	"github.com/jbweber/anvil/internal/config"
	"github.com/jbweber/anvil/internal/libvirt"
	"github.com/jbweber/anvil/internal/loader"
	"github.com/jbweber/anvil/internal/logging"
	"github.com/jbweber/anvil/internal/metrics"
	"github.com/jbweber/anvil/internal/output"
	"github.com/jbweber/anvil/internal/pipeline"
	"github.com/jbweber/anvil/internal/schema"
	"github.com/jbweber/anvil/internal/source"
	"github.com/jbweber/anvil/internal/storage"
)

// Flags shared by the commands that read a document.
var docOpts struct {
	file     string
	sets     []string
	dryRun   bool
	parallel int
}

func addDocumentFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&docOpts.file, "file", "f", "", `document to read: a path, "-" for stdin, or s3://bucket/key`)
	cmd.Flags().StringArrayVar(&docOpts.sets, "set", nil, "override a value after loading, as path=value (repeatable)")
	_ = cmd.MarkFlagRequired("file")
}

func addBuildFlags(cmd *cobra.Command) {
	addDocumentFlags(cmd)
	addOutputFlags(cmd)
	cmd.Flags().IntVar(&docOpts.parallel, "parallel", 1, "number of set entries built at once")
}

var createCmd = &cobra.Command{
	Use:   "create -f <template.yaml>",
	Short: "Create VMs from a template",
	Long: `Create the virtual machines described by a template.

Each VM is validated and its named references (networks, media, host)
are resolved before anything is created. The VM is then built one
operation at a time: the domain, cloud-init files, drives, NICs and
devices. A failed operation stops that VM and leaves what was already
created in place; the report lists it.

Examples:
  anvil create -f web.yaml
  anvil create -f web.yaml --set vm.cpu_cores=4 --set vm.name=web-02
  anvil create -f s3://templates/web.yaml --dry-run -o yaml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mode := builder.Execute
		if docOpts.dryRun {
			mode = builder.Preview
		}
		return runBuild(cmd, mode)
	},
}

var planCmd = &cobra.Command{
	Use:   "plan -f <template.yaml>",
	Short: "Show the operations create would perform",
	Long: `Resolve a template and print the planned operations of every VM
without changing anything. Same as create --dry-run.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBuild(cmd, builder.Preview)
	},
}

var validateRendered bool

var validateCmd = &cobra.Command{
	Use:   "validate -f <template.yaml>",
	Short: "Check a template without contacting libvirt",
	Long: `Load a template, apply variables and --set overrides, and check it
against the schema. Names are not resolved and nothing is created.

A valid document is printed with defaults applied, one row per VM, or in
full with -o yaml|json. --rendered prints the template itself after
variables and overrides instead.`,
	Args: cobra.NoArgs,
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

		doc, err := readDocument(cmd.Context(), settings)
		if err != nil {
			return err
		}

		console := logging.NewConsole()
		names, err := validateDocument(doc)
		if tableOutput() && !validateRendered {
			for _, name := range names {
				console.Ok("%s is valid", name)
			}
		}
		if err != nil {
			return err
		}
		return writeDocument(os.Stdout, doc, formatter, validateRendered)
	},
}

func init() {
	addBuildFlags(createCmd)
	createCmd.Flags().BoolVar(&docOpts.dryRun, "dry-run", false, "plan only, do not create anything")

	addBuildFlags(planCmd)
	addDocumentFlags(validateCmd)
	addOutputFlags(validateCmd)
	validateCmd.Flags().BoolVar(&validateRendered, "rendered", false, "print the template after variables and overrides")
}

func readDocument(ctx context.Context, settings *config.Settings) (*loader.Document, error) {
	reader := &source.Reader{Stdin: os.Stdin, S3: settings.S3Options()}
	return reader.Load(ctx, docOpts.file, loader.Options{
		Env:       loader.EnvFromOS(),
		Overrides: docOpts.sets,
	})
}

// validateDocument checks the document and decodes every VM in it. It
// returns the names of the VMs that decoded and the errors of the rest.
func validateDocument(doc *loader.Document) ([]string, error) {
	if err := schema.ValidateDocument(doc.Tree); err != nil {
		return nil, err
	}
	entries, err := schema.Entries(doc.Tree)
	if err != nil {
		return nil, err
	}

	var (
		names []string
		errs  []error
	)
	for _, e := range entries {
		spec, err := schema.DecodeVM(e.Path, e.Object)
		if err != nil {
			errs = append(errs, &pipeline.EntryError{Index: e.Index, Name: e.Name, Err: err})
			continue
		}
		names = append(names, spec.Name)
	}
	return names, errors.Join(errs...)
}

// writeDocument prints a validated document: the template as rendered, or
// the decoded VMs with defaults applied.
func writeDocument(w io.Writer, doc *loader.Document, formatter output.Formatter, rendered bool) error {
	if rendered {
		data, err := doc.Marshal()
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	}

	decoded, err := schema.Decode(doc.Tree)
	if err != nil {
		return err
	}
	out, err := formatter.FormatDocument(decoded)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, out)
	return err
}

// runBuild loads the document, connects to libvirt and runs the pipeline
// in the given mode. A preview falls back to numeric references only when
// libvirt cannot be reached.
func runBuild(cmd *cobra.Command, mode builder.Mode) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	formatter, err := newFormatter()
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	ctx := cmd.Context()
	log := logging.NewLogger(os.Stderr, settings.Verbosity)
	console := logging.NewConsole()

	doc, err := readDocument(ctx, settings)
	if err != nil {
		return err
	}

	recorder := metrics.NewRecorder()
	deps := pipeline.Deps{Logger: log, Metrics: recorder}

	client, err := connect(ctx, settings)
	switch {
	case err == nil:
		defer closeClient(client)
		backend, err := newBackend(ctx, client, settings, doc, mode, log)
		if err != nil {
			return err
		}
		deps.Lookup = backend
		deps.Provisioner = backend
	case mode == builder.Preview:
		console.Skip("libvirt unavailable, only numeric references resolve: %v", err)
	default:
		return err
	}

	report, err := pipeline.Run(ctx, doc, deps, pipeline.Options{
		Mode:     mode,
		Parallel: settings.Parallel,
	})
	writeMetrics(recorder, console)
	if err != nil {
		return err
	}

	out, err := formatter.FormatReport(report)
	if err != nil {
		return err
	}
	fmt.Print(out)

	if mode == builder.Execute && tableOutput() {
		if failed := report.Failed(); failed > 0 {
			console.Error("%d of %d VMs failed", failed, len(report.Entries))
		} else {
			console.Ok("%d VMs created", len(report.Entries))
		}
	}
	return report.Err()
}

func newBackend(ctx context.Context, client *libvirt.Client, settings *config.Settings, doc *loader.Document, mode builder.Mode, log logr.Logger) (*libvirt.Backend, error) {
	mgr := storage.NewManager(client.Libvirt(), settings.StoragePools())
	if mode == builder.Execute {
		if err := mgr.EnsureDefaultPools(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure default pools: %w", err)
		}
	}

	src := doc.Source
	if src == "" {
		src = docOpts.file
	}
	return libvirt.NewBackend(client.Libvirt(), mgr,
		libvirt.WithLogger(log.WithName("libvirt")),
		libvirt.WithSource(src)), nil
}

func writeMetrics(recorder *metrics.Recorder, console *logging.Console) {
	if globals.metricsFile == "" {
		return
	}
	if err := recorder.WriteTextfile(globals.metricsFile); err != nil {
		console.Error("%v", err)
	}
}
