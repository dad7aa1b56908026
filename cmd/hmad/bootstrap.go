package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"GatewayHMA/internal/agent"
	"GatewayHMA/internal/config"
	"GatewayHMA/internal/delivery"
	"GatewayHMA/internal/dispatch"
	"GatewayHMA/internal/hma"
	"GatewayHMA/internal/knowledge"
	"GatewayHMA/internal/llm"
	"GatewayHMA/internal/llm/openai"
	"GatewayHMA/internal/llm/pythonbridge"
	"GatewayHMA/internal/memory"
	"GatewayHMA/internal/observability/metrics"
	"GatewayHMA/pkg/logger"
)

// app 持有一次进程生命周期内构建的全部协作者。
type app struct {
	cfg       *config.Config
	store     memory.Store
	memory    *memory.Memory
	transport *dispatch.Router
	metrics   *metrics.Metrics
	orch      *hma.Orchestrator
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.Outputs,
		AddSource:   cfg.Logging.AddSource,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	return cfg, nil
}

// bootstrap 按配置构建运行时。任何一步失败都会释放已打开的资源。
func bootstrap(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	a := &app{cfg: cfg, metrics: metrics.New()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	client, err := createLLMClient(cfg)
	if err != nil {
		return nil, err
	}

	a.store, err = openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	opts := []memory.Option{}
	if cfg.Memory.RecentLimit > 0 {
		opts = append(opts, memory.WithRecentLimit(cfg.Memory.RecentLimit))
	}
	if cfg.Memory.GraphLimit > 0 {
		opts = append(opts, memory.WithGraphLimit(cfg.Memory.GraphLimit))
	}
	a.memory = memory.New(a.store, opts...)

	a.transport, err = openTransport(ctx, cfg, logger.Named("dispatch"))
	if err != nil {
		return nil, err
	}

	catalog := knowledge.DefaultCatalog()
	if cfg.Orchestrator.CatalogPath != "" {
		catalog, err = knowledge.LoadCatalog(cfg.Orchestrator.CatalogPath)
		if err != nil {
			return nil, err
		}
	}

	routerOpts := []delivery.Option{
		delivery.WithMetaTable(cfg.MetaTable()),
		delivery.WithStore(a.memory),
		delivery.WithTransport(a.transport),
		delivery.WithErrorCounter(a.metrics),
		delivery.WithLogger(logger.Named("delivery")),
	}
	if cfg.Orchestrator.Snapshots.Enabled {
		writer, err := delivery.NewSnapshotWriter(cfg.Orchestrator.Snapshots.Dir)
		if err != nil {
			return nil, err
		}
		routerOpts = append(routerOpts, delivery.WithSnapshots(writer))
	}

	tools := []agent.Tool{
		agent.SearchMemory{Searcher: a.memory},
		agent.RememberFact{Appender: a.memory},
	}
	roster := agent.BuildRoster(client, profiles(cfg), tools, cfg.Orchestrator.AgentTimeout)

	a.orch = hma.New(hma.Runtime{
		Memory:  a.memory,
		Roster:  roster,
		Catalog: catalog,
		Client:  client,
		Router:  delivery.NewRouter(routerOpts...),
		Metrics: a.metrics,
		Logger:  logger.Named("hma"),
	}, hma.WithConfig(hma.Config{
		Baseline:          cfg.Orchestrator.Baseline,
		MaxParallel:       cfg.Orchestrator.MaxParallel,
		AgentTimeout:      cfg.Orchestrator.AgentTimeout,
		CompletionTimeout: cfg.Orchestrator.CompletionTimeout,
		IncludeRecent:     *cfg.Orchestrator.IncludeRecent,
		IncludeGraph:      cfg.Orchestrator.IncludeGraph,
		RecordUserTurn:    *cfg.Orchestrator.RecordUserTurn,
		SystemPrompt:      cfg.Orchestrator.SystemPrompt,
	}))
	return a, nil
}

// Close 释放存储与传输。
func (a *app) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	if a.transport != nil {
		errs = append(errs, a.transport.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}

func profiles(cfg *config.Config) []agent.Profile {
	if len(cfg.Agents) == 0 {
		return agent.DefaultProfiles()
	}
	out := make([]agent.Profile, 0, len(cfg.Agents))
	for _, a := range cfg.Agents {
		out = append(out, agent.Profile{
			Name:           a.Name,
			SystemPrompt:   a.SystemPrompt,
			AcceptKeywords: a.AcceptKeywords,
			UseTools:       a.UseTools,
		})
	}
	return out
}

func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "echo":
		return llm.Echo{}, nil
	case "python_bridge":
		scriptPath := pythonbridge.ResolveScriptPath(cfg.LLM.Python.WorkingDir, cfg.LLM.Python.ScriptPath)
		return pythonbridge.NewClient(cfg.LLM.Python.PythonExecutable, scriptPath, cfg.LLM.Python.WorkingDir)
	case "openai":
		return openai.NewClient(openai.Config{
			APIKey:      cfg.LLM.OpenAI.APIKey,
			BaseURL:     cfg.LLM.OpenAI.BaseURL,
			Model:       cfg.LLM.OpenAI.Model,
			Temperature: cfg.LLM.OpenAI.Temperature,
			Timeout:     cfg.LLM.OpenAI.Timeout,
		})
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}

func openStore(ctx context.Context, cfg *config.Config) (memory.Store, error) {
	switch cfg.Memory.Driver {
	case "memory":
		return memory.NewMapStore(), nil
	case "file":
		return memory.NewFileStore(cfg.Runtime.DataDir)
	case "sqlite", "mysql":
		return memory.NewSQLStore(ctx, memory.SQLConfig{
			Driver:          cfg.Memory.Driver,
			DSN:             cfg.Memory.DSN,
			MaxOpenConns:    cfg.Memory.MaxOpenConns,
			MaxIdleConns:    cfg.Memory.MaxIdleConns,
			ConnMaxLifetime: cfg.Memory.ConnMaxLifetime,
		})
	case "redis":
		return memory.NewRedisStore(ctx, memory.RedisConfig{
			Address:   cfg.Memory.Redis.Address,
			Password:  cfg.Memory.Redis.Password,
			DB:        cfg.Memory.Redis.DB,
			KeyPrefix: cfg.Memory.Redis.KeyPrefix,
		})
	default:
		return nil, fmt.Errorf("未知的记忆驱动: %s", cfg.Memory.Driver)
	}
}

// openTransport 为配置的目标创建同一个传输，其余目标不分发。
func openTransport(ctx context.Context, cfg *config.Config, log *slog.Logger) (*dispatch.Router, error) {
	var transport dispatch.Transport
	switch cfg.Dispatch.Driver {
	case "log":
		transport = dispatch.NewLogTransport(log)
	case "memory":
		transport = dispatch.NewMemoryTransport(1024)
	case "redis":
		t, err := dispatch.NewRedisTransport(ctx, dispatch.RedisConfig{
			Address:   cfg.Dispatch.Redis.Address,
			Password:  cfg.Dispatch.Redis.Password,
			DB:        cfg.Dispatch.Redis.DB,
			KeyPrefix: cfg.Dispatch.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, err
		}
		transport = t
	case "rabbitmq":
		t, err := dispatch.NewRabbitMQTransport(dispatch.RabbitMQConfig{
			URL:         cfg.Dispatch.RabbitMQ.URL,
			QueuePrefix: cfg.Dispatch.RabbitMQ.QueuePrefix,
			Prefetch:    cfg.Dispatch.RabbitMQ.Prefetch,
			Durable:     cfg.Dispatch.RabbitMQ.Durable,
		})
		if err != nil {
			return nil, err
		}
		transport = t
	default:
		return nil, fmt.Errorf("未知的分发驱动: %s", cfg.Dispatch.Driver)
	}

	routes := make(map[string]dispatch.Transport, len(cfg.Dispatch.Targets))
	for _, target := range cfg.Dispatch.Targets {
		routes[target] = transport
	}
	if len(routes) == 0 {
		_ = transport.Close()
	}
	return dispatch.NewRouter(nil, routes), nil
}
