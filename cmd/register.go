// File: cmd/register.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/enroll-cli/internal/observability"
	"github.com/xkilldash9x/enroll-cli/internal/orchestrator"
	"github.com/xkilldash9x/enroll-cli/internal/registration"
)

// newRegisterCmd creates and configures the `register` command.
func newRegisterCmd() *cobra.Command {
	registerCmd := &cobra.Command{
		Use:   "register",
		Short: "Registers a new trial account end to end",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags so they override config file and environment values.
			if err := viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless")); err != nil {
				return err
			}
			if err := viper.BindPFlag("email.address", cmd.Flags().Lookup("email")); err != nil {
				return err
			}
			return viper.BindPFlag("registration.max_retries", cmd.Flags().Lookup("retries"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()

			orch := orchestrator.New(cfg, logger)
			ctx, cancel := watchInterrupt(cmd.Context(), orch, logger)
			defer cancel()

			report, err := orch.Register(ctx)
			if err != nil {
				if errors.Is(err, orchestrator.ErrStopped) || errors.Is(err, context.Canceled) {
					logger.Warn("Registration aborted", zap.Error(err))
					return fmt.Errorf("registration aborted by user signal")
				}
				logger.Error("Registration run failed", zap.Error(err))
				return err
			}

			output, _ := json.MarshalIndent(report, "", "  ")
			fmt.Println(string(output))

			if report.Registration.Outcome != registration.OutcomeSuccess {
				return fmt.Errorf("registration ended with outcome %q: %s",
					report.Registration.Outcome, report.Registration.Error)
			}
			return nil
		},
	}

	registerCmd.Flags().Bool("headless", true, "Run the browser headless. (Overrides config/env)")
	registerCmd.Flags().String("email", "", "Static email address to register with when no relay is configured.")
	registerCmd.Flags().Int("retries", 2, "How many failed attempts to retry. (Overrides config/env)")

	return registerCmd
}

// watchInterrupt turns the first interrupt into a cooperative stop and the
// second into a hard context cancel.
func watchInterrupt(parent context.Context, orch *orchestrator.Orchestrator, logger *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)
		select {
		case <-signals:
			logger.Warn("Interrupt received; stopping after the current step. Interrupt again to abort.")
			orch.Stop()
		case <-ctx.Done():
			return
		}
		select {
		case <-signals:
			logger.Warn("Second interrupt; aborting now.")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
