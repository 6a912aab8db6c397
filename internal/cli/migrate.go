package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tutu-network/coordinator/internal/daemon"
	"github.com/tutu-network/coordinator/internal/infra/store"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Long:  `Open the coordinator's database, applying any pending schema migrations, then exit.`,
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	s, err := store.Open(daemon.CoordinatorHome())
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Println("migrations applied")
	return nil
}
