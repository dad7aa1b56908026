package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"GatewayHMA/internal/dispatch"
	"GatewayHMA/internal/route"
	"GatewayHMA/pkg/logger"
)

var (
	consumeTarget  string
	consumeWorkers int
)

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Drain the dispatch queue of one target and print each message",
	Long:  `Reads answers dispatched to a target (task, lib, trn) and prints them as JSON lines until interrupted.`,
	Args:  cobra.NoArgs,
	RunE:  runConsume,
}

func init() {
	consumeCmd.Flags().StringVar(&consumeTarget, "target", string(route.TargetTask), "target whose queue is drained")
	consumeCmd.Flags().IntVar(&consumeWorkers, "workers", 0, "number of consumer workers (defaults to dispatch.workers)")
}

func runConsume(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	target, ok := route.ParseTarget(consumeTarget)
	if !ok {
		return fmt.Errorf("未知的目标: %s", consumeTarget)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	transport, err := openTransport(ctx, cfg, logger.Named("dispatch"))
	if err != nil {
		return err
	}
	defer transport.Close()

	workers := consumeWorkers
	if workers <= 0 {
		workers = cfg.Dispatch.Workers
	}

	var mu sync.Mutex
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetEscapeHTML(false)
	err = transport.Consume(ctx, string(target), workers, func(_ context.Context, msg dispatch.Message) error {
		mu.Lock()
		defer mu.Unlock()
		return enc.Encode(msg)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
