package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "hmad",
	Short:         "GatewayHMA orchestration daemon",
	Long:          `Runs single-turn multi-agent orchestration cycles over HTTP or from the command line.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("GATEWAY_CONFIG"), "path to the YAML or JSON configuration file")
	rootCmd.AddCommand(serveCmd, askCmd, consumeCmd, traceCmd)
}

// main 是 GatewayHMA 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "hmad 运行失败: %v\n", err)
		os.Exit(1)
	}
}
