package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jbweber/anvil/internal/logging"
	"github.com/jbweber/anvil/internal/naming"
)

// Media management commands
var mediaCmd = &cobra.Command{
	Use:   "media",
	Short: "Manage media sources",
	Long: `Manage the media pool: installer ISOs and disk images that drives
clone, import or mount.

Templates refer to media by volume name or by the numeric id shown by
"anvil media list".`,
}

func init() {
	mediaCmd.AddCommand(mediaListCmd)
	mediaCmd.AddCommand(mediaImportCmd)
	mediaCmd.AddCommand(mediaDeleteCmd)

	addOutputFlags(mediaListCmd)
}

var mediaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List media in the media pool",
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

		ctx := cmd.Context()
		client, mgr, err := openStorage(ctx, settings)
		if err != nil {
			return err
		}
		defer closeClient(client)

		media, err := mgr.ListMedia(ctx)
		if err != nil {
			return fmt.Errorf("failed to list media: %w", err)
		}

		out, err := formatter.FormatMediaList(media)
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	},
}

var mediaImportCmd = &cobra.Command{
	Use:   "import <source-path> <name>",
	Short: "Import a file into the media pool",
	Long: `Import an ISO or disk image from a local file into the media pool.

The format is detected from the file content and the volume name gets
the matching extension.

Example:
  anvil media import /path/to/fedora-42.qcow2 fedora-42`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sourcePath, name := args[0], args[1]

		settings, err := loadSettings(cmd)
		if err != nil {
			return err
		}
		cmd.SilenceUsage = true

		console := logging.NewConsole()
		console.Info("Importing media from %s as %s", sourcePath, name)

		ctx := cmd.Context()
		client, mgr, err := openStorage(ctx, settings)
		if err != nil {
			return err
		}
		defer closeClient(client)

		vol, err := mgr.ImportMedia(ctx, sourcePath, name)
		if err != nil {
			return fmt.Errorf("failed to import media: %w", err)
		}

		console.Ok("Media %s imported (id %d, %.1f GB)", vol.Name, naming.KeyID(vol.Key), vol.CapacityGB())
		return nil
	},
}

var mediaDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete media from the media pool",
	Long: `Delete a volume from the media pool.

Warning: drives cloned from the media keep a backing reference to it and
become unusable.

Example:
  anvil media delete fedora-42.qcow2`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		settings, err := loadSettings(cmd)
		if err != nil {
			return err
		}
		cmd.SilenceUsage = true

		ctx := cmd.Context()
		client, mgr, err := openStorage(ctx, settings)
		if err != nil {
			return err
		}
		defer closeClient(client)

		if _, err := mgr.FindMedia(ctx, name); err != nil {
			return fmt.Errorf("media %s not found: %w", name, err)
		}
		if err := mgr.DeleteMedia(ctx, name); err != nil {
			return fmt.Errorf("failed to delete media: %w", err)
		}

		logging.NewConsole().Ok("Media %s deleted", name)
		return nil
	},
}
