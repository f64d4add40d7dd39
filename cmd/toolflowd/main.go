package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"ToolFlow/internal/api"
	"ToolFlow/internal/config"
	"ToolFlow/internal/engine"
	"ToolFlow/internal/observability/metrics"
	"ToolFlow/internal/provider"
	"ToolFlow/internal/provider/ethereum"
	"ToolFlow/internal/provider/local"
	"ToolFlow/internal/provider/mcphttp"
	"ToolFlow/internal/run"
	"ToolFlow/pkg/logger"
)

// main 是 ToolFlow 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runDaemon(ctx); err != nil {
		log.Fatalf("toolflowd 运行失败: %v", err)
	}
}

func runDaemon(ctx context.Context) error {
	configPath := os.Getenv("TOOLFLOW_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "toolflow.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() {
		if err := logger.Sync(); err != nil {
			log.Printf("刷新日志失败: %v", err)
		}
	}()

	registry, err := buildRegistry(ctx, cfg.Providers.DefinitionsPath)
	if err != nil {
		return err
	}
	defer registry.Close()

	eng := engine.New(registry,
		engine.WithCallTimeout(time.Duration(cfg.Engine.CallTimeoutSeconds)*time.Second),
		engine.WithPlanTimeout(time.Duration(cfg.Engine.PlanTimeoutSeconds)*time.Second),
		engine.WithLogger(logger.Named("engine")),
	)

	var store run.Store
	switch cfg.Store.Driver {
	case "", "memory":
		store = run.NewMemoryStore()
	case "mysql":
		mysqlStore, err := run.NewMySQLStore(cfg.Store.DSN)
		if err != nil {
			return err
		}
		store = mysqlStore
	default:
		return fmt.Errorf("未知的存储驱动: %s", cfg.Store.Driver)
	}

	var queue run.Queue
	switch cfg.Queue.Driver {
	case "", "memory":
		queue = run.NewMemoryQueue(1024)
	case "redis":
		redisQueue, err := run.NewRedisQueue(run.RedisQueueConfig{
			Address:   cfg.Queue.Redis.Address,
			Password:  cfg.Queue.Redis.Password,
			DB:        cfg.Queue.Redis.DB,
			Queue:     cfg.Queue.Redis.Queue,
			BlockWait: time.Duration(cfg.Queue.Redis.BlockWait) * time.Second,
		})
		if err != nil {
			return err
		}
		queue = redisQueue
	case "rabbitmq":
		rabbitQueue, err := run.NewRabbitMQQueue(run.RabbitMQConfig{
			URL:        cfg.Queue.RabbitMQ.URL,
			Queue:      cfg.Queue.RabbitMQ.Queue,
			Prefetch:   cfg.Queue.RabbitMQ.Prefetch,
			Durable:    cfg.Queue.RabbitMQ.Durable,
			AutoDelete: cfg.Queue.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return err
		}
		queue = rabbitQueue
	default:
		return fmt.Errorf("未知的队列驱动: %s", cfg.Queue.Driver)
	}
	defer func() {
		if err := queue.Close(); err != nil {
			log.Printf("关闭运行队列失败: %v", err)
		}
	}()

	runService := run.NewService(store, queue, cfg.Store.MaxRetries)
	defer func() {
		if err := runService.Close(); err != nil {
			log.Printf("关闭运行服务失败: %v", err)
		}
	}()

	processor := run.NewProcessor(eng, store, queue, queue,
		run.WithWorkerCount(cfg.Queue.Worker),
		run.WithProcessorLogger(logger.Named("processor")),
	)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("运行处理器异常退出", slog.Any("error", err))
		}
	}()

	if cfg.Server.MetricsAddress != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Server.MetricsAddress); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("指标服务异常退出", slog.Any("error", err))
			}
		}()
	}

	server := api.NewServer(cfg.Server.Address, runService, eng, registry)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildRegistry 根据提供方定义文件装配工具注册表。
// 未指定定义文件时挂载一个内置的 local 提供方，保证引擎开箱可用。
func buildRegistry(ctx context.Context, definitionsPath string) (*provider.Registry, error) {
	registry := provider.NewRegistry()

	defs, err := provider.LoadDefinitions(definitionsPath)
	if err != nil {
		return nil, err
	}
	if len(defs.Providers) == 0 {
		if err := registry.Register(ctx, local.New("local")); err != nil {
			return nil, err
		}
		return registry, nil
	}

	names := make([]string, 0, len(defs.Providers))
	for name := range defs.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	baseDir := filepath.Dir(definitionsPath)
	for _, name := range names {
		def := defs.Providers[name]
		if def.DocumentsPath != "" && !filepath.IsAbs(def.DocumentsPath) {
			def.DocumentsPath = filepath.Join(baseDir, def.DocumentsPath)
		}
		client, err := buildProvider(ctx, name, def)
		if err != nil {
			registry.Close()
			return nil, err
		}
		if err := registry.Register(ctx, client); err != nil {
			registry.Close()
			return nil, err
		}
		logger.L().Info("提供方已注册",
			slog.String("provider", name),
			slog.String("type", def.Type),
		)
	}
	return registry, nil
}

func buildProvider(ctx context.Context, name string, def provider.Definition) (provider.Client, error) {
	switch def.Type {
	case "", "local":
		opts := make([]local.Option, 0, 1)
		if def.DocumentsPath != "" {
			docs, err := local.LoadDocuments(def.DocumentsPath)
			if err != nil {
				return nil, err
			}
			opts = append(opts, local.WithDocuments(docs))
		}
		return local.New(name, opts...), nil
	case "mcp_http":
		token := def.AuthToken
		if token == "" && def.AuthTokenEnv != "" {
			token = strings.TrimSpace(os.Getenv(def.AuthTokenEnv))
		}
		return mcphttp.NewClient(mcphttp.Config{
			Name:    name,
			BaseURL: def.BaseURL,
			Token:   token,
			Timeout: time.Duration(def.TimeoutSeconds) * time.Second,
		})
	case "ethereum":
		return ethereum.NewClient(ctx, ethereum.Config{
			Name:   name,
			RPCURL: def.RPCURL,
			Notes:  def.Description,
		})
	default:
		return nil, fmt.Errorf("未知的提供方类型: %s", def.Type)
	}
}
