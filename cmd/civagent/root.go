package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"civagent/pkg/config"
	"civagent/pkg/logx"
	"civagent/pkg/version"
)

// EnvSecretsPassword supplies the secrets password without a prompt.
const EnvSecretsPassword = "CIVAGENT_SECRETS_PASSWORD"

type rootOptions struct {
	projectDir string
	debug      bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "civagent",
		Short:         "LLM agents that play a civilization game turn by turn",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if opts.debug {
				logx.SetDebugConfig(true, false, "")
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&opts.projectDir, "projectdir", ".", "Project directory holding .civagent/")
	rootCmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		newPlayCmd(opts),
		newIndexCmd(opts),
		newSecretsCmd(opts),
		newUsageCmd(opts),
	)
	return rootCmd
}

// loadConfig loads the project config and returns a copy.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	if err := config.LoadConfig(o.projectDir); err != nil {
		return nil, err
	}
	cfg, err := config.GetConfig()
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// unlockSecrets decrypts the secrets file into memory when one exists.
func (o *rootOptions) unlockSecrets(in io.Reader, out io.Writer) error {
	if !config.SecretsFileExists(o.projectDir) {
		return nil
	}
	password, err := readPassword(in, out, "Secrets password: ")
	if err != nil {
		return err
	}
	secrets, err := config.DecryptSecretsFile(o.projectDir, password)
	if err != nil {
		return err
	}
	config.SetDecryptedSecrets(secrets)
	return nil
}

// readPassword reads the secrets password from the environment or the input.
func readPassword(in io.Reader, out io.Writer, prompt string) (string, error) {
	if pw := os.Getenv(EnvSecretsPassword); pw != "" {
		return pw, nil
	}
	return readHidden(in, out, prompt)
}

// readHidden reads from the terminal without echo, or a plain line otherwise.
func readHidden(in io.Reader, out io.Writer, prompt string) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		_, _ = fmt.Fprint(out, prompt)
		pw, err := term.ReadPassword(int(f.Fd()))
		_, _ = fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("failed to read input: %w", err)
		}
		return string(pw), nil
	}
	var line string
	if _, err := fmt.Fscanln(in, &line); err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
