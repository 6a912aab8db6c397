package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tutu-network/coordinator/internal/daemon"
)

func init() {
	rootCmd.AddCommand(sweepOnceCmd)
}

var sweepOnceCmd = &cobra.Command{
	Use:   "sweep-once",
	Short: "Run a single offline-sweep pass and exit",
	Long:  `Marks silent nodes offline, reassigns their in-flight tasks, and expires overdue connect sessions, once, outside the daemon's ticker loop.`,
	RunE:  runSweepOnce,
}

func runSweepOnce(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.Sweeper.SweepOnce(); err != nil {
		return err
	}

	fmt.Println("sweep complete")
	return nil
}
