package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"GatewayHMA/internal/memory"
	"GatewayHMA/pkg/logger"
)

var traceCmd = &cobra.Command{
	Use:   "trace <corr_id>",
	Short: "Print every memory entry written for one correlation id",
	Long:  `Looks up the audit record, the delivered answer and the user turn of one cycle. Requires the sqlite or mysql memory driver.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runTrace,
}

func runTrace(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	sqlStore, ok := store.(*memory.SQLStore)
	if !ok {
		return fmt.Errorf("记忆驱动 %s 不支持按关联 ID 查询", cfg.Memory.Driver)
	}
	entries, err := sqlStore.ByCorrID(ctx, args[0])
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(entries)
}
