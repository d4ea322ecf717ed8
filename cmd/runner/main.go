package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/klog/v2"

	"github.com/modelops/gpusched/dao"
	"github.com/modelops/gpusched/dao/model"
	"github.com/modelops/gpusched/pkg/bus"
	"github.com/modelops/gpusched/pkg/config"
	"github.com/modelops/gpusched/pkg/jobstore"
	"github.com/modelops/gpusched/pkg/metrics"
	"github.com/modelops/gpusched/pkg/runner"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Oneshot mode: this process is the spawned execution unit for a single
	// already-dispatched job.
	if jobID := os.Getenv("JOB_ID"); jobID != "" {
		token := os.Getenv("DISPATCH_TOKEN")
		if token == "" {
			klog.Fatal("JOB_ID set without DISPATCH_TOKEN")
		}
		executor, err := runner.NewExecutor(cfg.Runner.Executor, cfg.ExecTimeout())
		if err != nil {
			klog.Fatalf("build executor: %v", err)
		}
		if err := runner.RunOnce(ctx, store, conn, executor, cfg.ExecTimeout(), jobID, token); err != nil {
			klog.Fatalf("execute job %s: %v", jobID, err)
		}
		return
	}

	if cfg.MetricsAddr != "" {
		go metrics.Serve(cfg.MetricsAddr)
	}

	handler, err := buildHandler(cfg, store, conn)
	if err != nil {
		klog.Fatalf("build handler: %v", err)
	}

	pool := model.GpuPool(cfg.Runner.Pool)
	class := model.IsolationLevel(cfg.Runner.Class)
	subject := bus.DispatchSubject(pool, class)
	durable := bus.DispatchDurable(pool, class)

	sub, err := conn.PullSubscribe(subject, durable)
	if err != nil {
		klog.Fatalf("subscribe %s as %s: %v", subject, durable, err)
	}

	klog.Infof("runner consuming %s (durable %s, mode %s)", subject, durable, cfg.Runner.ExecutionMode)
	runner.NewConsumer(sub, handler, cfg.Runner.FetchBatch).Run(ctx)
	klog.Info("runner exiting")
}

func buildHandler(cfg *config.Config, store jobstore.Service, conn *bus.Conn) (runner.Handler, error) {
	switch cfg.Runner.ExecutionMode {
	case "pod":
		client, err := newKubeClient()
		if err != nil {
			return nil, err
		}
		k := cfg.Runner.Kubernetes
		launcher := runner.NewKubeLauncher(client, runner.LaunchConfig{
			Namespace:        k.Namespace,
			Image:            k.ExecutorImage,
			NodeSelector:     map[string]string{k.NodeSelectorKey: k.NodeSelectorValue},
			GPUResourceName:  k.GPUResourceName,
			GPUResourceCount: k.GPUResourceCount,
			TTLSeconds:       k.TTLSeconds,
			BaseEnv:          passthroughEnv(),
		})
		return runner.NewPodHandler(launcher), nil
	default:
		executor, err := runner.NewExecutor(cfg.Runner.Executor, cfg.ExecTimeout())
		if err != nil {
			return nil, err
		}
		return runner.NewDirectHandler(store, conn, executor, cfg.ExecTimeout()), nil
	}
}

func newKubeClient() (kubernetes.Interface, error) {
	restConfig, err := rest.InClusterConfig()
	if err != nil {
		restConfig, err = clientcmd.BuildConfigFromFlags("", os.Getenv("KUBECONFIG"))
		if err != nil {
			return nil, err
		}
	}
	return kubernetes.NewForConfig(restConfig)
}

// passthroughEnv forwards this runner's own GPUSCHED_* variables to the
// spawned unit; in production the unit's image mounts the same ConfigMap.
func passthroughEnv() map[string]string {
	env := map[string]string{}
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, "GPUSCHED_") {
			continue
		}
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}
