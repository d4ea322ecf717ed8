package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"k8s.io/klog/v2"

	"github.com/modelops/gpusched/dao"
	"github.com/modelops/gpusched/pkg/bus"
	"github.com/modelops/gpusched/pkg/config"
	"github.com/modelops/gpusched/pkg/jobstore"
	"github.com/modelops/gpusched/pkg/metrics"
	"github.com/modelops/gpusched/pkg/schedctl"
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if config.IsDebugMode() {
		if err := godotenv.Load(".debug.env"); err != nil {
			klog.Warningf("load .debug.env: %v", err)
		}
	}
	cfg := config.GetConfig()

	db := dao.GetDB()
	if err := dao.Migrate(db); err != nil {
		klog.Fatalf("migrate database: %v", err)
	}
	store := jobstore.NewService(db)
	locker := jobstore.NewAdvisoryMutex(db)

	conn, err := bus.Connect(cfg.Nats.URL, cfg.Nats.Stream)
	if err != nil {
		klog.Fatalf("connect bus: %v", err)
	}
	defer conn.Close()

	if cfg.MetricsAddr != "" {
		go metrics.Serve(cfg.MetricsAddr)
	}

	ctrl := schedctl.NewController(store, conn, locker, schedctl.Capacity{
		T4SharedSlots:    cfg.Scheduler.T4SharedSlots,
		T4ExclusiveSlots: cfg.Scheduler.T4ExclusiveSlots,
		MigSlots:         cfg.Scheduler.MigSlots,
	}, cfg.SchedulerTick(), cfg.DispatchTimeout())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctrl.Run(ctx)
	klog.Info("scheduler exiting")
}
