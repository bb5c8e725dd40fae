package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/config"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/crypto"
	"github.com/Jasujung99/couples-diary-pwa-sub001/internal/export"
)

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newStatusCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue counts and the last sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), flags, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()
			return printJSON(cmd.OutOrStdout(), a.manager.GetSyncStatus())
		},
	}
}

func newSyncCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Drain the sync queue once against the remote service",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx, flags, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.requireRemote(); err != nil {
				return err
			}
			if err := a.pinger.Ping(ctx); err != nil {
				return fmt.Errorf("remote unreachable, queue left as is: %w", err)
			}

			result, started := a.manager.TriggerSync(ctx)
			if !started {
				return fmt.Errorf("a sync is already running")
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
}

func newRetryCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Move failed queue entries back to pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), flags, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.manager.RetryFailedItems(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d failed entries moved back to pending\n", n)
			return nil
		},
	}
}

func newClearCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Drop failed queue entries without sending them",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), flags, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.manager.ClearFailedItems(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d failed entries cleared\n", n)
			return nil
		},
	}
}

func newExportCmd(flags *rootFlags) *cobra.Command {
	var (
		out      string
		password string
		verify   string
		scope    string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the cached records to an archive, or verify one",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("DIARY_EXPORT_PASSWORD")
			}

			a, err := loadApp(cmd.Context(), flags, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			if verify != "" {
				manifest, err := a.exporter.Verify(verify, password)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), manifest)
			}

			if scope == "" {
				scope = a.manager.ScopeKey()
			}
			result, err := a.exporter.Export(cmd.Context(), &export.Options{
				ScopeKey:   scope,
				OutputPath: out,
				Password:   password,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "archive path (default <export_dir>/diary_<scope>_<time>.tar.gz)")
	cmd.Flags().StringVar(&password, "password", "", "encrypt or decrypt with this password (or DIARY_EXPORT_PASSWORD)")
	cmd.Flags().StringVar(&verify, "verify", "", "verify the archive at this path instead of exporting")
	cmd.Flags().StringVar(&scope, "scope", "", "sharing scope to export (default the configured scope)")
	return cmd
}

// tokenStoreFor loads configuration and returns the token store and the
// remote URL it is keyed by.
func tokenStoreFor(flags *rootFlags) (*crypto.TokenStore, string, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, "", err
	}
	if cfg.Remote.BaseURL == "" {
		return nil, "", fmt.Errorf("no remote configured: set remote.base_url or DIARY_REMOTE_URL")
	}
	return crypto.NewTokenStore(cfg.DataDir, ""), cfg.Remote.BaseURL, nil
}

func newLoginCmd(flags *rootFlags) *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store the remote bearer token, encrypted for this machine",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, baseURL, err := tokenStoreFor(flags)
			if err != nil {
				return err
			}
			if token == "" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && err != io.EOF {
					return err
				}
				token = strings.TrimSpace(line)
			}
			if err := store.Save(baseURL, token); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "token stored for %s\n", baseURL)
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "bearer token (read from stdin when omitted)")
	return cmd
}

func newLogoutCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored remote bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, baseURL, err := tokenStoreFor(flags)
			if err != nil {
				return err
			}
			if err := store.Delete(baseURL); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "token removed for %s\n", baseURL)
			return nil
		},
	}
}
