package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/shaharia-lab/mcpbridge/config"
	"github.com/spf13/cobra"
)

func newKeyCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage API keys in the OS keyring",
	}

	set := &cobra.Command{
		Use:   "set <provider>",
		Short: "Read an API key from stdin and store it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.ErrOrStderr(), "API key for %s: ", args[0])
			scanner := bufio.NewScanner(a.stdin)
			if !scanner.Scan() {
				if err := scanner.Err(); err != nil {
					return err
				}
				return errors.New("no key read from stdin")
			}
			if err := config.StoreAPIKey(args[0], strings.TrimSpace(scanner.Text())); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored API key for %s\n", args[0])
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete <provider>",
		Short: "Remove a stored API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.DeleteAPIKey(args[0])
		},
	}

	cmd.AddCommand(set, del)
	return cmd
}
