package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thep200/release-crawler/cfg"
	"github.com/thep200/release-crawler/internal/model"
	"github.com/thep200/release-crawler/pkg/db"
	"github.com/thep200/release-crawler/pkg/kafka"
	"github.com/thep200/release-crawler/pkg/log"
)

func main() {
	// Parse command line arguments
	consumerType := flag.String("type", "", "Type of consumer to run (repo, release, commit)")
	flag.Parse()

	if *consumerType == "" {
		fmt.Println("Please specify a consumer type: -type=[repo|release|commit]")
		os.Exit(1)
	}

	// Load configuration
	loader, _ := cfg.NewViperLoader()
	config, err := loader.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger, err := log.Factory(config.App.LogBackend)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	// Setup database
	mysql, _ := db.NewMysql(config)
	if err := migrate(config, logger, mysql); err != nil {
		logger.Error(context.Background(), "Failed to migrate database: %v", err)
		os.Exit(1)
	}

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create models
	repoModel, _ := model.NewRepo(config, logger, mysql)
	releaseModel, _ := model.NewRelease(config, logger, mysql)
	commitModel, _ := model.NewCommit(config, logger, mysql)

	// Setup signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Start the appropriate consumer based on type
	switch *consumerType {
	case "repo":
		startRepoConsumer(ctx, config, logger, repoModel)
	case "release":
		startReleaseConsumer(ctx, config, logger, releaseModel)
	case "commit":
		startCommitConsumer(ctx, config, logger, commitModel)
	default:
		logger.Error(ctx, "Unknown consumer type: %s", *consumerType)
		os.Exit(1)
	}

	// Wait for termination signal
	<-sigCh
	logger.Info(ctx, "Received shutdown signal, gracefully shutting down...")
	cancel()
}

func migrate(config *cfg.Config, logger log.Logger, mysql *db.Mysql) error {
	repoMd, _ := model.NewRepo(config, logger, mysql)
	releaseMd, _ := model.NewRelease(config, logger, mysql)
	commitMd, _ := model.NewCommit(config, logger, mysql)
	return mysql.Migrate(repoMd, releaseMd, commitMd)
}

func startRepoConsumer(ctx context.Context, config *cfg.Config, logger log.Logger, repoModel *model.Repo) {
	consumer := kafka.NewConsumer(config, logger, config.Kafka.Producer.TopicRepo, "repo-consumer-group")

	messages := make(chan model.RepoMessage, 200)
	go batchLoop(ctx, messages, 100, 5*time.Second, logger, func(batch []model.RepoMessage) error {
		return repoModel.CreateBatch(batch)
	})

	consumer.RegisterHandler("repo", func(data []byte) error {
		var repoMsg model.RepoMessage
		if err := json.Unmarshal(data, &repoMsg); err != nil {
			return fmt.Errorf("failed to unmarshal repo message: %w", err)
		}

		select {
		case messages <- repoMsg:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})

	go func() {
		if err := consumer.Start(ctx); err != nil {
			logger.Error(ctx, "Repo consumer error: %v", err)
		}
	}()

	logger.Info(ctx, "Repository consumer started successfully")
}

func startReleaseConsumer(ctx context.Context, config *cfg.Config, logger log.Logger, releaseModel *model.Release) {
	consumer := kafka.NewConsumer(config, logger, config.Kafka.Producer.TopicRelease, "release-consumer-group")

	messages := make(chan model.ReleaseMessage, 200)
	go batchLoop(ctx, messages, 100, 5*time.Second, logger, func(batch []model.ReleaseMessage) error {
		return releaseModel.CreateBatch(batch)
	})

	consumer.RegisterHandler("release", func(data []byte) error {
		var releaseMsg model.ReleaseMessage
		if err := json.Unmarshal(data, &releaseMsg); err != nil {
			return fmt.Errorf("failed to unmarshal release message: %w", err)
		}

		select {
		case messages <- releaseMsg:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})

	go func() {
		if err := consumer.Start(ctx); err != nil {
			logger.Error(ctx, "Release consumer error: %v", err)
		}
	}()

	logger.Info(ctx, "Release consumer started successfully")
}

func startCommitConsumer(ctx context.Context, config *cfg.Config, logger log.Logger, commitModel *model.Commit) {
	consumer := kafka.NewConsumer(config, logger, config.Kafka.Producer.TopicCommit, "commit-consumer-group")

	messages := make(chan model.CommitMessage, 200)
	go batchLoop(ctx, messages, 100, 5*time.Second, logger, func(batch []model.CommitMessage) error {
		return commitModel.CreateBatch(batch)
	})

	consumer.RegisterHandler("commit", func(data []byte) error {
		var commitMsg model.CommitMessage
		if err := json.Unmarshal(data, &commitMsg); err != nil {
			return fmt.Errorf("failed to unmarshal commit message: %w", err)
		}

		select {
		case messages <- commitMsg:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})

	go func() {
		if err := consumer.Start(ctx); err != nil {
			logger.Error(ctx, "Commit consumer error: %v", err)
		}
	}()

	logger.Info(ctx, "Commit consumer started successfully")
}

// batchLoop gom message thành batch theo kích thước hoặc timeout rồi upsert
// một lần, tránh ghi từng dòng vào database
func batchLoop[T any](ctx context.Context, messages <-chan T, batchSize int,
	batchTimeout time.Duration, logger log.Logger, save func([]T) error) {

	var batch []T
	timer := time.NewTimer(batchTimeout)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		logger.Info(ctx, "Processing batch of %d messages", len(batch))
		if err := save(batch); err != nil {
			logger.Error(ctx, "Failed to save batch: %v", err)
		}
		batch = nil
	}

	for {
		select {
		case <-ctx.Done():
			// Process remaining messages before exiting
			flush()
			return

		case msg := <-messages:
			batch = append(batch, msg)
			if len(batch) >= batchSize {
				flush()
				timer.Reset(batchTimeout)
			}

		case <-timer.C:
			flush()
			timer.Reset(batchTimeout)
		}
	}
}
