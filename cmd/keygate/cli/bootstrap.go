package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newBootstrapCmd() *cobra.Command {
	var generate bool

	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Create the master API key in an empty store",
		Long: `Create the first key, granted every scope. Succeeds exactly once;
fails after any key exists. Without --generate the command prompts for a
secret so an operator can designate one distributed out of band.`,
		Example: `  keygate bootstrap --generate
  KEYGATE_MASTER_KEY=octopus_... keygate bootstrap`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBootstrap(generate)
		},
	}

	cmd.Flags().BoolVar(&generate, "generate", false, "Generate the secret instead of prompting for one")

	return cmd
}

func runBootstrap(generate bool) error {
	secret := ""
	if !generate {
		var err error
		secret, err = readMasterSecret()
		if err != nil {
			return err
		}
	}

	svcs, _, err := openServices(true)
	if err != nil {
		return err
	}
	defer svcs.store.Close()

	key, err := svcs.bootstrap.Bootstrap(context.Background(), secret, cliSourceIP)
	if err != nil {
		return err
	}

	fmt.Println("Master API key created:")
	fmt.Println()
	fmt.Printf("  Key:    %s\n", key.Secret)
	fmt.Printf("  Name:   %s\n", key.Name)
	fmt.Printf("  Scopes: %s\n", key.Scopes.String())
	fmt.Println()
	fmt.Println("  Save this key now - it cannot be retrieved again.")
	return nil
}

// readMasterSecret resolves the designated secret: the KEYGATE_MASTER_KEY
// env var, or a hidden terminal prompt. An empty answer falls back to
// generation.
func readMasterSecret() (string, error) {
	if env := os.Getenv("KEYGATE_MASTER_KEY"); env != "" {
		return env, nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", nil
	}

	fmt.Fprint(os.Stderr, "Master key secret (leave empty to generate): ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}
