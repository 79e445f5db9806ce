package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgnsrekt/overlay_agent/internal/types"
	"github.com/dgnsrekt/overlay_agent/internal/vault"
)

const passwordEnv = "OVERLAY_MASTER_PASSWORD"

func newVaultCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Manage the local cipher vault",
	}
	cmd.AddCommand(newVaultInitCmd(), newVaultAddCmd(), newVaultListCmd(), newVaultImportCmd())
	return cmd
}

// readPassword takes the master password from the environment or the first
// line of stdin.
func readPassword(in io.Reader) (string, error) {
	if pw := os.Getenv(passwordEnv); pw != "" {
		return pw, nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read master password: %w", err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", fmt.Errorf("master password required: set %s or pipe it on stdin", passwordEnv)
	}
	return pw, nil
}

func withVault(cmd *cobra.Command, unlock bool, fn func(ctx context.Context, s *vault.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	s, err := vault.Open(ctx, cfg.VaultPath)
	if err != nil {
		return err
	}
	defer s.Close()
	if unlock {
		pw, err := readPassword(cmd.InOrStdin())
		if err != nil {
			return err
		}
		if err := s.Unlock(ctx, pw); err != nil {
			return err
		}
	}
	return fn(ctx, s)
}

func newVaultInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the vault and set its master password",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withVault(cmd, false, func(ctx context.Context, s *vault.Store) error {
				pw, err := readPassword(cmd.InOrStdin())
				if err != nil {
					return err
				}
				if err := s.Initialize(ctx, pw); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "vault initialized")
				return nil
			})
		},
	}
}

func newVaultAddCmd() *cobra.Command {
	var (
		name, username, password, totp string
		uris                           []string
		reprompt, favorite             bool
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a login",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withVault(cmd, true, func(ctx context.Context, s *vault.Store) error {
				c := types.CipherView{
					Name:     name,
					Type:     types.CipherTypeLogin,
					Favorite: favorite,
					Login:    &types.LoginView{Username: username, Password: password, TOTP: totp, URIs: uris},
				}
				if reprompt {
					c.Reprompt = types.RepromptPassword
				}
				id, err := s.Add(ctx, c)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&username, "username", "", "login username")
	cmd.Flags().StringVar(&password, "login-password", "", "login password")
	cmd.Flags().StringVar(&totp, "totp", "", "TOTP seed or otpauth:// URI")
	cmd.Flags().StringSliceVar(&uris, "uri", nil, "saved URI (repeatable)")
	cmd.Flags().BoolVar(&reprompt, "reprompt", false, "require the master password before filling")
	cmd.Flags().BoolVar(&favorite, "favorite", false, "mark as favorite")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newVaultListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored ciphers without decrypting them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withVault(cmd, false, func(ctx context.Context, s *vault.Store) error {
				list, err := s.List(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tTYPE\tNAME\tLAST USED")
				for _, c := range list {
					last := "-"
					if !c.LastUsed.IsZero() {
						last = c.LastUsed.Format(time.RFC3339)
					}
					fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", c.ID, c.Type, c.Name, last)
				}
				return tw.Flush()
			})
		},
	}
}

func newVaultImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE.yaml",
		Short: "Import ciphers from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withVault(cmd, true, func(ctx context.Context, s *vault.Store) error {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open import file: %w", err)
				}
				defer f.Close()
				n, err := s.Import(ctx, f)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d ciphers\n", n)
				return nil
			})
		},
	}
}
