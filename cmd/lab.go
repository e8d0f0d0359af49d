// File: cmd/lab.go
package cmd

import (
	"context"
	"errors"
	"fmt"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/enroll-cli/internal/observability"
	"github.com/xkilldash9x/enroll-cli/internal/orchestrator"
)

// newLabCmd creates and configures the `lab` command.
func newLabCmd() *cobra.Command {
	labCmd := &cobra.Command{
		Use:   "lab [lab-url]",
		Short: "Runs a lab and extracts the provisioned credential",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless")); err != nil {
				return err
			}
			return viper.BindPFlag("lab.credential_timeout", cmd.Flags().Lookup("credential-timeout"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()
			labURL := args[0]

			orch := orchestrator.New(cfg, logger)
			ctx, cancel := watchInterrupt(cmd.Context(), orch, logger)
			defer cancel()

			result, err := orch.Lab(ctx, labURL)
			if err != nil {
				if errors.Is(err, orchestrator.ErrStopped) || errors.Is(err, context.Canceled) {
					logger.Warn("Lab run aborted", zap.Error(err))
					return fmt.Errorf("lab run aborted by user signal")
				}
				logger.Error("Lab run failed", zap.Error(err))
				return err
			}

			output, _ := json.MarshalIndent(result, "", "  ")
			fmt.Println(string(output))

			if !result.Success {
				return fmt.Errorf("lab run did not produce a credential: %s", result.Error)
			}
			return nil
		},
	}

	labCmd.Flags().Bool("headless", true, "Run the browser headless. (Overrides config/env)")
	labCmd.Flags().Duration("credential-timeout", 0, "How long to wait for the credential modal. (Overrides config/env)")

	return labCmd
}
