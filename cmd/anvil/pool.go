package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jbweber/anvil/internal/logging"
)

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Inspect the anvil storage pools",
	Long: `Inspect the two storage pools anvil works with: the media pool holding
media sources and the VM pool holding drives and cloud-init images.`,
}

var poolRefresh bool

func init() {
	poolCmd.AddCommand(poolStatusCmd)
	poolStatusCmd.Flags().BoolVar(&poolRefresh, "refresh", false, "rescan the pool directories first")
}

var poolStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show capacity and usage of the anvil pools",
	Long: `Display state, capacity and usage of the media and VM pools. The
pools are created if they do not exist yet.

--refresh rescans the pool directories so files copied in outside
libvirt are counted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
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

		pools := mgr.Pools()
		names := []string{pools.Media, pools.VMs}
		if poolRefresh {
			console := logging.NewConsole()
			for _, name := range names {
				if err := mgr.RefreshPool(ctx, name); err != nil {
					return fmt.Errorf("failed to refresh pool %s: %w", name, err)
				}
				console.Ok("Pool %s refreshed", name)
			}
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "NAME\tSTATE\tVOLUMES\tCAPACITY\tAVAILABLE\tUSAGE\tPATH")
		for _, name := range names {
			info, err := mgr.GetPoolInfo(ctx, name)
			if err != nil {
				return fmt.Errorf("failed to get pool %s: %w", name, err)
			}
			volumes, err := mgr.ListVolumes(ctx, name)
			if err != nil {
				return fmt.Errorf("failed to list volumes of %s: %w", name, err)
			}

			usage := 0.0
			if info.Capacity > 0 {
				usage = float64(info.Allocation) / float64(info.Capacity) * 100
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%.1f GB\t%.1f GB\t%.1f%%\t%s\n",
				info.Name, info.State, len(volumes),
				float64(info.Capacity)/(1024*1024*1024), info.AvailableGB(), usage, info.Path)
		}
		return w.Flush()
	},
}
