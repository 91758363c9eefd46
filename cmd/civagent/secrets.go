package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"civagent/pkg/config"
)

func newSecretsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage the encrypted API key file",
	}

	setCmd := &cobra.Command{
		Use:   "set NAME [VALUE]",
		Short: "Store a secret; comma-separated values form a key rotation list",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr(), "Secrets password: ")
			if err != nil {
				return err
			}
			secrets := map[string]string{}
			if config.SecretsFileExists(root.projectDir) {
				if secrets, err = config.DecryptSecretsFile(root.projectDir, password); err != nil {
					return err
				}
			}
			value := ""
			if len(args) == 2 {
				value = args[1]
			} else if value, err = readHidden(cmd.InOrStdin(), cmd.ErrOrStderr(), args[0]+": "); err != nil {
				return err
			}
			secrets[args[0]] = value
			if err := config.EncryptSecretsFile(root.projectDir, password, secrets); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored %s\n", args[0])
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored secret names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !config.SecretsFileExists(root.projectDir) {
				fmt.Fprintln(cmd.OutOrStdout(), "no secrets file")
				return nil
			}
			password, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr(), "Secrets password: ")
			if err != nil {
				return err
			}
			secrets, err := config.DecryptSecretsFile(root.projectDir, password)
			if err != nil {
				return err
			}
			names := make([]string, 0, len(secrets))
			for name := range secrets {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}

	cmd.AddCommand(setCmd, listCmd)
	return cmd
}
