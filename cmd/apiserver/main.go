package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"k8s.io/klog/v2"

	"github.com/modelops/gpusched/dao"
	"github.com/modelops/gpusched/internal"
	"github.com/modelops/gpusched/pkg/admission"
	"github.com/modelops/gpusched/pkg/bus"
	"github.com/modelops/gpusched/pkg/config"
	"github.com/modelops/gpusched/pkg/jobstore"
	"github.com/modelops/gpusched/pkg/metrics"
)

var (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
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

	conn, err := bus.Connect(cfg.Nats.URL, cfg.Nats.Stream)
	if err != nil {
		klog.Fatalf("connect bus: %v", err)
	}
	defer conn.Close()

	if cfg.MetricsAddr != "" {
		go metrics.Serve(cfg.MetricsAddr)
	}

	admitter := admission.NewService(store, conn)
	backend := internal.Register(admitter, store)

	srv := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           backend.R,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		klog.Infof("admission api listening on %s", cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			klog.Fatalf("listen: %s", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	klog.Info("shutting down admission api")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		klog.Errorf("server shutdown: %v", err)
	}
	klog.Info("admission api exiting")
}
