package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/thep200/release-crawler/cfg"
	"github.com/thep200/release-crawler/internal/crawler"
	"github.com/thep200/release-crawler/internal/githubapi"
	"github.com/thep200/release-crawler/internal/model"
	"github.com/thep200/release-crawler/internal/scheduler"
	"github.com/thep200/release-crawler/internal/sink"
	"github.com/thep200/release-crawler/internal/token"
	"github.com/thep200/release-crawler/pkg/db"
	"github.com/thep200/release-crawler/pkg/log"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "release-crawler",
		Short:         "Crawl GitHub repositories, releases and commits",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          run,
	}
	rootCmd.Flags().String("schedule", "", `cron spec để chạy lặp lại, ví dụ "0 */2 * * *"`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	loader, _ := cfg.NewViperLoader()
	config, err := loader.Load()
	if err != nil {
		return err
	}

	logger, err := log.Factory(config.App.LogBackend)
	if err != nil {
		return err
	}

	// Token pool phải load được trước khi đụng tới mạng
	pool, err := token.Load(logger, config.GithubApi.TokenFile, config.GithubApi.MinRemaining)
	if err != nil {
		return err
	}

	var mysql *db.Mysql
	if config.Crawler.Sink == "mysql" {
		mysql, _ = db.NewMysql(config)
		if err := migrate(config, logger, mysql); err != nil {
			return err
		}
	}

	snk, err := sink.Factory(config, logger, mysql)
	if err != nil {
		return err
	}
	defer snk.Close()

	sched := scheduler.NewScheduler(logger, config, pool)
	caller := githubapi.NewCaller(logger, config, sched)
	pipe, err := crawler.NewPipeline(logger, config, pool, caller, snk)
	if err != nil {
		return err
	}
	defer pipe.Close()

	schedule, _ := cmd.Flags().GetString("schedule")
	if schedule == "" {
		schedule = config.Crawler.Schedule
	}
	if schedule == "" {
		return runOnce(ctx, pipe)
	}

	// Chế độ chạy lặp lại theo lịch, mỗi lượt là một lần Run trọn vẹn
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if err := runOnce(ctx, pipe); err != nil {
			logger.Error(ctx, "Crawl run failed: %v", err)
		}
	}); err != nil {
		return &cfg.ConfigError{Reason: "invalid schedule " + schedule, Err: err}
	}

	logger.Info(ctx, "Chạy theo lịch %q, Ctrl+C để dừng", schedule)
	c.Start()
	<-ctx.Done()

	// Chờ lượt crawl đang bay drain xong rồi mới thoát
	<-c.Stop().Done()
	return nil
}

func runOnce(ctx context.Context, pipe *crawler.Pipeline) error {
	sum, err := pipe.Run(ctx)
	if sum != nil {
		fmt.Println(sum.Render())
	}
	return err
}

func migrate(config *cfg.Config, logger log.Logger, mysql *db.Mysql) error {
	repoMd, _ := model.NewRepo(config, logger, mysql)
	releaseMd, _ := model.NewRelease(config, logger, mysql)
	commitMd, _ := model.NewCommit(config, logger, mysql)
	return mysql.Migrate(repoMd, releaseMd, commitMd)
}
