package main

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"GatewayHMA/internal/hma"
	"GatewayHMA/pkg/logger"
)

var (
	askContext string
	askCorrID  string
)

var askCmd = &cobra.Command{
	Use:   "ask <text>",
	Short: "Run one orchestration cycle and print the envelope",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askContext, "context", "", "external context passed to the cycle")
	askCmd.Flags().StringVar(&askCorrID, "corr-id", "", "correlation id (generated when empty)")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	corrID := askCorrID
	if corrID == "" {
		corrID = uuid.NewString()
	}
	env, err := a.orch.Run(ctx, hma.Request{
		UserText: strings.Join(args, " "),
		Context:  askContext,
		CorrID:   corrID,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(env)
}
