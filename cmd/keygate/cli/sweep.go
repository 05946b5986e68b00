package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Deactivate expired API keys",
		Long: `Scan for active keys whose expiry has passed and deactivate them.
Each swept key gets an audit entry. Safe to run repeatedly, e.g. from cron.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep()
		},
	}
	return cmd
}

func runSweep() error {
	svcs, _, err := openServices(true)
	if err != nil {
		return err
	}
	defer svcs.store.Close()

	n, err := svcs.keys.SweepExpired(context.Background(), nil, cliSourceIP)
	if err != nil {
		return fmt.Errorf("sweep expired keys: %w", err)
	}

	if n == 0 {
		fmt.Println("No expired keys.")
		return nil
	}
	fmt.Printf("Deactivated %d expired key(s).\n", n)
	return nil
}
