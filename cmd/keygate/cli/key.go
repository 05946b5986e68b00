package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/octopushq/keygate/internal/model"
	"github.com/octopushq/keygate/internal/service"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, rotate, and revoke API keys. Local commands act with system authority and are audited with source \"cli\".",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyGetCmd())
	cmd.AddCommand(newKeyRevokeCmd())
	cmd.AddCommand(newKeyDeleteCmd())
	cmd.AddCommand(newKeyRotateCmd())
	cmd.AddCommand(newKeyExpiringCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		name        string
		description string
		scopes      string
		expiresIn   time.Duration
		allowedIPs  []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Generate a new API key. The secret is shown once and cannot be retrieved again.",
		Example: `  keygate key create --name "CI pipeline" --scopes read,write
  keygate key create --name backup --scopes read --expires-in 720h --allow-ip 10.0.0.8`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(name, description, scopes, expiresIn, allowedIPs)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Human-readable name for the key (required)")
	cmd.Flags().StringVar(&description, "description", "", "Description of what the key is for")
	cmd.Flags().StringVar(&scopes, "scopes", "read", "Comma-separated scopes (read, write, admin)")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "Lifetime before the key expires (e.g. 720h); zero means never")
	cmd.Flags().StringArrayVar(&allowedIPs, "allow-ip", nil, "Restrict authentication to this source IP (repeatable)")
	cmd.MarkFlagRequired("name")

	return cmd
}

func runKeyCreate(name, description, scopes string, expiresIn time.Duration, allowedIPs []string) error {
	set, err := model.ParseScopeList(scopes)
	if err != nil {
		return err
	}

	var expiresAt *time.Time
	if expiresIn > 0 {
		t := time.Now().Add(expiresIn).UTC()
		expiresAt = &t
	}

	svcs, _, err := openServices(true)
	if err != nil {
		return err
	}
	defer svcs.store.Close()

	key, err := svcs.keys.Create(context.Background(), service.CreateKeyParams{
		Name:        name,
		Description: description,
		Scopes:      set,
		ExpiresAt:   expiresAt,
		AllowedIPs:  allowedIPs,
	}, nil, cliSourceIP)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	fmt.Println("API key created:")
	fmt.Println()
	fmt.Printf("  ID:     %d\n", key.ID)
	fmt.Printf("  Key:    %s\n", key.Secret)
	fmt.Printf("  Name:   %s\n", key.Name)
	fmt.Printf("  Scopes: %s\n", key.Scopes.String())
	if key.ExpiresAt != nil {
		fmt.Printf("  Expires: %s\n", key.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Println()
	fmt.Println("  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		jsonOutput      bool
		includeInactive bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(jsonOutput, includeInactive)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&includeInactive, "all", false, "Include deactivated keys")

	return cmd
}

func runKeyList(jsonOutput, includeInactive bool) error {
	svcs, _, err := openServices(true)
	if err != nil {
		return err
	}
	defer svcs.store.Close()

	keys, err := svcs.keys.List(context.Background(), includeInactive, 1000, 0)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(keys)
	}

	if len(keys) == 0 {
		fmt.Println("No API keys. Use 'keygate bootstrap' or 'keygate key create' to create one.")
		return nil
	}

	fmt.Printf("%-6s %-28s %-18s %-8s %-20s\n", "ID", "NAME", "SCOPES", "ACTIVE", "EXPIRES")
	fmt.Printf("%-6s %-28s %-18s %-8s %-20s\n", "--", "----", "------", "------", "-------")
	for _, k := range keys {
		active := "yes"
		if !k.IsActive {
			active = "no"
		}
		expires := "never"
		if k.ExpiresAt != nil {
			expires = k.ExpiresAt.Format("2006-01-02 15:04")
		}
		fmt.Printf("%-6d %-28s %-18s %-8s %-20s\n", k.ID, k.Name, k.Scopes.String(), active, expires)
	}
	return nil
}

// ---------- key get ----------

func newKeyGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a single API key record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid key id %q", args[0])
			}
			return runKeyGet(id)
		},
	}
	return cmd
}

func runKeyGet(id int64) error {
	svcs, _, err := openServices(true)
	if err != nil {
		return err
	}
	defer svcs.store.Close()

	key, err := svcs.keys.Get(context.Background(), id)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(key)
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Deactivate an API key",
		Long:  "Soft-delete a key: the record stays for audit purposes but can never authenticate again.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid key id %q", args[0])
			}
			return runKeyRevoke(id)
		},
	}
	return cmd
}

func runKeyRevoke(id int64) error {
	svcs, _, err := openServices(true)
	if err != nil {
		return err
	}
	defer svcs.store.Close()

	key, err := svcs.keys.Deactivate(context.Background(), id, nil, cliSourceIP)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}

	fmt.Printf("Deactivated key %d (%s)\n", key.ID, key.Name)
	return nil
}

// ---------- key delete ----------

func newKeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Permanently remove an API key",
		Long:  "Delete a key record. Its audit history is preserved.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid key id %q", args[0])
			}
			return runKeyDelete(id)
		},
	}
	return cmd
}

func runKeyDelete(id int64) error {
	svcs, _, err := openServices(true)
	if err != nil {
		return err
	}
	defer svcs.store.Close()

	if err := svcs.keys.Delete(context.Background(), id, nil, cliSourceIP); err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}

	fmt.Printf("Deleted key %d\n", id)
	return nil
}

// ---------- key rotate ----------

func newKeyRotateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rotate <id>",
		Short: "Replace an API key with a fresh secret",
		Long:  "Create a successor key carrying the same scopes, expiry, and IP restrictions, then deactivate the original.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid key id %q", args[0])
			}
			return runKeyRotate(id)
		},
	}
	return cmd
}

func runKeyRotate(id int64) error {
	svcs, _, err := openServices(true)
	if err != nil {
		return err
	}
	defer svcs.store.Close()

	key, err := svcs.keys.Rotate(context.Background(), id, nil, cliSourceIP)
	if err != nil {
		return fmt.Errorf("rotate api key: %w", err)
	}

	fmt.Println("API key rotated:")
	fmt.Println()
	fmt.Printf("  New ID: %d\n", key.ID)
	fmt.Printf("  Key:    %s\n", key.Secret)
	fmt.Printf("  Name:   %s\n", key.Name)
	fmt.Println()
	fmt.Println("  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- key expiring ----------

func newKeyExpiringCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "expiring",
		Short: "List active keys expiring soon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyExpiring(days)
		},
	}

	cmd.Flags().IntVar(&days, "days", 7, "Window size in days")

	return cmd
}

func runKeyExpiring(days int) error {
	svcs, _, err := openServices(true)
	if err != nil {
		return err
	}
	defer svcs.store.Close()

	keys, err := svcs.keys.ListExpiring(context.Background(), days)
	if err != nil {
		return fmt.Errorf("list expiring keys: %w", err)
	}

	if len(keys) == 0 {
		fmt.Printf("No keys expire within %d days.\n", days)
		return nil
	}

	fmt.Printf("%-6s %-28s %-20s\n", "ID", "NAME", "EXPIRES")
	fmt.Printf("%-6s %-28s %-20s\n", "--", "----", "-------")
	for _, k := range keys {
		fmt.Printf("%-6d %-28s %-20s\n", k.ID, k.Name, k.ExpiresAt.Format("2006-01-02 15:04"))
	}
	return nil
}
