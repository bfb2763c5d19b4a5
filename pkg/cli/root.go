// Package cli implements flightctl, the command-line client of duck-flight.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"duck-flight/pkg/client"
)

var (
	version = "dev"
	commit  = "none"
)

const defaultHost = "http://localhost:8000"

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	return run(os.Args[1:], os.Stdout, os.Stderr)
}

func run(args []string, stdout, stderr io.Writer) int {
	rootCmd := newRootCmd()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	if err := rootCmd.Execute(); err != nil {
		output, _ := rootCmd.PersistentFlags().GetString("output")
		if output == "json" {
			errObj := map[string]interface{}{
				"error": err.Error(),
			}
			var apiErr *client.APIError
			if errors.As(err, &apiErr) {
				errObj["http_status"] = apiErr.HTTPStatus
				errObj["code"] = apiErr.Code
				if apiErr.JobID != "" {
					errObj["job_id"] = apiErr.JobID
				}
			}
			_ = printJSON(stdout, errObj)
		} else {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var (
		host    string
		output  string
		profile string
	)

	c := client.NewClient(defaultHost)

	rootCmd := &cobra.Command{
		Use:           "flightctl",
		Short:         "duck-flight query cache CLI",
		Long:          "Command-line interface for submitting queries to a duck-flight server and fetching their cached results.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Config file is optional.
			var p Profile
			if cfg, err := LoadUserConfig(); err == nil {
				if p, err = cfg.ActiveProfile(profile); err != nil {
					return err
				}
			} else if profile != "" {
				return fmt.Errorf("profile %q not found", profile)
			}

			// flag > env > profile > default
			if !cmd.Flags().Changed("host") {
				if v := os.Getenv("FLIGHT_HOST"); v != "" {
					host = v
				} else if p.Host != "" {
					host = p.Host
				}
			}
			if !cmd.Flags().Changed("output") {
				if v := os.Getenv("FLIGHT_OUTPUT"); v != "" {
					output = v
				} else if p.Output != "" {
					output = p.Output
				}
			}
			if err := validateOutputFormat(output); err != nil {
				return err
			}
			// Persist the resolved value so getOutputFormat sees it.
			_ = cmd.Root().PersistentFlags().Set("output", output)
			if err := validateHostURL(host); err != nil {
				return err
			}
			c.BaseURL = trimHost(host)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&host, "host", defaultHost, "Server URL")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (table, json)")
	rootCmd.PersistentFlags().StringVarP(&profile, "profile", "p", "", "Config profile to use")

	rootCmd.AddCommand(newSubmitCmd(c))
	rootCmd.AddCommand(newStatusCmd(c))
	rootCmd.AddCommand(newWaitCmd(c))
	rootCmd.AddCommand(newDownloadCmd(c))
	rootCmd.AddCommand(newSchemaCmd(c))
	rootCmd.AddCommand(newMetadataCmd(c))
	rootCmd.AddCommand(newHistoryCmd(c))
	rootCmd.AddCommand(newQueueCmd(c))
	rootCmd.AddCommand(newHealthCmd(c))

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newCompletionCmd())

	return rootCmd
}

func newCompletionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
	return cmd
}
