package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/kbchat/internal/ai"
	"github.com/xxxsen/kbchat/internal/config"
	"github.com/xxxsen/kbchat/internal/embedcache"
	"github.com/xxxsen/kbchat/internal/filestore"
	"github.com/xxxsen/kbchat/internal/handler"
	"github.com/xxxsen/kbchat/internal/job"
	"github.com/xxxsen/kbchat/internal/jobqueue"
	"github.com/xxxsen/kbchat/internal/middleware"
	"github.com/xxxsen/kbchat/internal/model"
	"github.com/xxxsen/kbchat/internal/repo"
	"github.com/xxxsen/kbchat/internal/schedule"
	"github.com/xxxsen/kbchat/internal/service"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "kbchat",
		Short: "kbchat backend server",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run kbchat server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return fmt.Errorf("--config is required")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger.Init(
				cfg.LogConfig.File,
				cfg.LogConfig.Level,
				int(cfg.LogConfig.FileCount),
				int(cfg.LogConfig.FileSize),
				int(cfg.LogConfig.KeepDays),
				cfg.LogConfig.Console,
			)
			logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))

			db, err := repo.Open(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			if err := repo.ApplyMigrations(db); err != nil {
				return fmt.Errorf("migrations: %w", err)
			}
			return runServer(cfg, db)
		},
	}

	runCmd.Flags().StringVar(&configPath, "config", "", "path to config.json")
	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func runServer(cfg *config.Config, db *sql.DB) error {
	rootCtx := context.Background()
	logutil.GetLogger(rootCtx).Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("db_path", cfg.DBPath),
		zap.String("file_store", cfg.FileStore.Type),
		zap.String("ai_provider", cfg.AI.Provider),
	)

	docRepo := repo.NewDocumentRepo(db)
	chunkRepo := repo.NewChunkRepo(db)
	jobRepo := repo.NewJobRepo(db)
	sessionRepo := repo.NewSessionRepo(db)
	messageRepo := repo.NewMessageRepo(db)
	apiKeyRepo := repo.NewAPIKeyRepo(db)
	botcfgRepo := repo.NewBotConfigRepo(db)

	store, err := filestore.New(cfg.FileStore.Type, cfg.FileStore.Data)
	if err != nil {
		return fmt.Errorf("init file store: %w", err)
	}
	chatProvider, err := ai.NewChatProvider(cfg.AI.Provider, cfg.AI.Data)
	if err != nil {
		return fmt.Errorf("init chat provider: %w", err)
	}
	embedProvider, err := ai.NewEmbedProvider(cfg.AI.Provider, cfg.AI.Data)
	if err != nil {
		return fmt.Errorf("init embed provider: %w", err)
	}
	embedder := ai.NewEmbedder(embedProvider, cfg.AI.EmbedModel)

	cache, err := embedcache.New(chunkRepo, cfg.Cache.Capacity)
	if err != nil {
		return fmt.Errorf("init embedding cache: %w", err)
	}
	if err := cache.BulkLoad(rootCtx); err != nil {
		return fmt.Errorf("load embedding cache: %w", err)
	}

	queue := jobqueue.New(jobRepo, cfg.Queue.MaxAttempts)
	queue.RegisterHandler(model.JobTypeEmbedDocument,
		job.NewEmbedDocumentHandler(docRepo, chunkRepo, cache, store, embedder).Handle)
	if err := queue.Start(rootCtx); err != nil {
		return fmt.Errorf("start job queue: %w", err)
	}

	retrievalService := service.NewRetrievalService(embedder, chunkRepo, cache, cfg.Retrieval.OverFetchFactor)
	chatService := service.NewChatService(sessionRepo, messageRepo, botcfgRepo, retrievalService, chatProvider, cfg.Chat, cfg.Retrieval)
	kbService := service.NewKBService(docRepo, chunkRepo, cache, queue, store, retrievalService, cfg.Retrieval.TopK)

	deps := handler.RouterDeps{
		Health:     handler.NewHealthHandler(db),
		Chat:       handler.NewChatHandler(chatService, middleware.NewStreamLimiter(cfg.Chat.MaxStreamsPerKey)),
		KB:         handler.NewKBHandler(kbService),
		Keys:       apiKeyRepo,
		ChatRate:   cfg.Chat.RatePerMinute,
		UploadRate: cfg.Chat.UploadRatePerMin,
	}

	scheduler := schedule.NewCronScheduler()
	if err := scheduler.AddJob(jobqueue.NewWorker(queue),
		fmt.Sprintf("@every %ds", cfg.Queue.PollIntervalSeconds)); err != nil {
		return fmt.Errorf("schedule queue worker: %w", err)
	}

	engine, err := webapi.NewEngine(
		"/api/v1",
		fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.CORS(cfg.CORS),
			// SSE responses must not pass through gzip or tokens stall in
			// the compressor buffer.
			gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/api/v1/chat/message"})),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(rootCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler.Start(ctx)
	logutil.GetLogger(rootCtx).Info("http server listening", zap.String("addr", fmt.Sprintf("0.0.0.0:%d", cfg.Port)))

	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(rootCtx).Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(rootCtx).Info("server stopping...")
	scheduler.Stop()
	return nil
}
