package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/solweave/strategy-engine/internal/repo"
	"github.com/solweave/strategy-engine/internal/schedule"
	"github.com/solweave/strategy-engine/internal/service/analytics"
	"github.com/solweave/strategy-engine/internal/service/engine"
	"github.com/solweave/strategy-engine/internal/service/graph"
	"github.com/solweave/strategy-engine/internal/service/monitor"
	"github.com/solweave/strategy-engine/internal/service/notification"
	providerbinance "github.com/solweave/strategy-engine/internal/service/provider/binance"
	"github.com/solweave/strategy-engine/internal/service/scheduler"
	"github.com/solweave/strategy-engine/ioc"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func initViper() {

	// --config=./config/xxx.yaml
	file := pflag.String("config", "./config/config.dev.yaml", "specify config file")
	pflag.Parse()

	viper.SetConfigFile(*file)
	err := viper.ReadInConfig()
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %s \n", err))
	}
}

func main() {
	initViper()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db := ioc.InitDB()
	if err := repo.InitTables(db); err != nil {
		panic(err)
	}
	graphRepo := repo.NewGraphRepo(db)

	builder := graph.NewBuilder()
	store := graph.NewStore(graphRepo, builder)
	loaded, err := store.LoadAll(ctx)
	if err != nil {
		panic(err)
	}
	slog.Info("graphs loaded from store", "count", len(loaded))

	bian := ioc.InitBinanceCli()
	symbol := viper.GetString("provider.binance.symbol")
	tradingSvc := providerbinance.NewService(bian, symbol)
	feed := providerbinance.NewTradeFeed()

	collector := analytics.NewCollector()
	interp := engine.NewInterpreter(tradingSvc, engine.WithRecorder(collector))

	listeners := []notification.StatusListener{notification.NewConsoleListener()}
	if url := viper.GetString("notification.webhook_url"); url != "" {
		listeners = append(listeners, notification.NewWebhookListener(notification.NewHTTPWebhookService(), url))
	}

	sched := scheduler.NewScheduler(builder, interp, feed, ioc.InitSchedulerConfig(),
		scheduler.WithCollector(collector),
		scheduler.WithListeners(listeners...),
	)

	for _, g := range loaded {
		if g.Status() != graph.StatusActive {
			continue
		}
		id, err := sched.Start(ctx, g.ID, scheduler.StartOptions{
			Exclusive: true,
			Symbol:    symbol,
		})
		if err != nil {
			slog.Error("failed to start instance for graph", "graph", g.ID, "error", err)
			continue
		}
		slog.Info("instance running", "graph", g.ID, "instance", id)
	}

	runner := schedule.NewRunner(time.Minute,
		monitor.NewHealthReportTask(sched),
		monitor.NewGraphSnapshotTask(store),
	)
	go runner.Run(ctx)

	<-ctx.Done()
	slog.Info("shutting down")

	sched.StopAll()
	if err := store.SaveAll(context.Background()); err != nil {
		slog.Error("failed to persist graphs on shutdown", "error", err)
	}
	fmt.Println(collector.Report().String())
}
