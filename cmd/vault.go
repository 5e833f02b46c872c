package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/fieldnote-ai/warden/internal/config"
	"github.com/fieldnote-ai/warden/internal/vault"
)

func vaultCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Manage the encrypted secret store (provider keys, channel tokens)",
	}
	cmd.AddCommand(vaultInitCmd())
	cmd.AddCommand(vaultSetCmd())
	cmd.AddCommand(vaultGetCmd())
	cmd.AddCommand(vaultListCmd())
	cmd.AddCommand(vaultDeleteCmd())
	return cmd
}

func openVault() (*vault.Vault, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	password := cfg.Vault.Password
	if password == "" {
		password = os.Getenv("WARDEN_VAULT_PASSWORD")
	}
	if password == "" {
		return nil, fmt.Errorf("no vault password: set vault.password via WARDEN_VAULT_PASSWORD")
	}
	dir := cfg.Vault.Dir
	if dir == "" {
		dir = config.ExpandHome("~/.warden")
	}
	v := vault.New(dir)
	if err := v.Unlock(password); err != nil {
		return nil, fmt.Errorf("unlock vault: %w", err)
	}
	return v, nil
}

func vaultInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create or unlock the vault, verifying the configured password",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVault()
			if err != nil {
				return err
			}
			keys, err := v.List()
			if err != nil {
				return err
			}
			fmt.Printf("vault ready — %d secret(s) stored\n", len(keys))
			return nil
		},
	}
}

func vaultSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store or overwrite a secret",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVault()
			if err != nil {
				return err
			}
			if err := v.Set(args[0], args[1]); err != nil {
				return fmt.Errorf("set %s: %w", args[0], err)
			}
			fmt.Printf("stored %s\n", args[0])
			return nil
		},
	}
}

func vaultGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print a stored secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVault()
			if err != nil {
				return err
			}
			val, ok, err := v.Get(args[0])
			if err != nil {
				return fmt.Errorf("get %s: %w", args[0], err)
			}
			if !ok {
				return fmt.Errorf("no such key: %s", args[0])
			}
			fmt.Println(val)
			return nil
		},
	}
}

func vaultListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored secret keys (values are never printed)",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVault()
			if err != nil {
				return err
			}
			keys, err := v.List()
			if err != nil {
				return err
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Println(k)
			}
			return nil
		},
	}
}

func vaultDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Remove a stored secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVault()
			if err != nil {
				return err
			}
			if err := v.Delete(args[0]); err != nil {
				return fmt.Errorf("delete %s: %w", args[0], err)
			}
			fmt.Printf("deleted %s\n", args[0])
			return nil
		},
	}
}
