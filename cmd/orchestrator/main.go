package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"main/internal/breaker"
	"main/internal/bus"
	"main/internal/coordinator"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/repo"
	"main/internal/scheduler"
	"main/internal/status"
	"main/internal/task"
	"main/pkg/conn"
	"main/pkg/wshub"
)

func main() {
	configPath := flag.String("config", "config.json", "Path to JSON config")
	listenAddr := flag.String("listen", ":8089", "Observer WebSocket listen address")
	pyroscopeAddr := flag.String("pyroscope", "", "Pyroscope server address (empty=disabled)")
	smoke := flag.Bool("smoke", false, "Enqueue one no-op task per queue at startup")
	flag.Parse()

	if *pyroscopeAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "task-orchestrator",
			ServerAddress:   *pyroscopeAddr,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	pg, err := conn.New(conn.Option{
		Host:     loaded.Database.Host,
		Port:     loaded.Database.Port,
		User:     loaded.Database.User,
		Password: loaded.Database.Password,
		Database: loaded.Database.Database,
		SSLMode:  loaded.Database.SSLMode,
	})
	if err != nil {
		log.Fatalf("connect postgres failed: %v", err)
	}
	defer func() {
		_ = pg.Close()
	}()

	repoOpts := []repo.Option{repo.WithKnownQueues(loaded.QueueNames()...)}
	if loaded.DegradedBelow > 0 {
		repoOpts = append(repoOpts, repo.WithDegradedBelow(loaded.DegradedBelow))
	}
	repository, err := repo.New(pg.DB(), repoOpts...)
	if err != nil {
		log.Fatalf("init repository failed: %v", err)
	}

	eventBus := bus.New()
	defer eventBus.Close()
	metrics := obs.NewMetrics()
	sched := scheduler.New(repository, eventBus, loaded.Queues, scheduler.WithStoreErrorSink(metrics))

	hub := wshub.New(wshub.WithWriteTimeout(loaded.PushTimeout))
	defer hub.Close()
	brk := breaker.New(loaded.Breaker)

	agg := status.NewAggregator(loaded.CollectTimeout,
		queueSource{repository},
		status.SourceFunc{SourceName: "metrics", Fn: func(ctx context.Context) (map[string]any, error) {
			return metrics.Snapshot(), nil
		}},
		status.SourceFunc{SourceName: "broadcast_breaker", Fn: func(ctx context.Context) (map[string]any, error) {
			return brk.Snapshot(), nil
		}},
	)
	bcast := status.NewBroadcaster(hub, brk, loaded.PushTimeout)

	coordinators := []coordinator.Coordinator{
		coordinator.NewQueueCoordinator(sched, eventBus, metrics),
		coordinator.NewStatusCoordinator(agg, eventBus, loaded.StatusInterval),
	}
	if loaded.Features.EnableBroadcast {
		coordinators = append(coordinators, coordinator.NewBroadcastCoordinator(bcast, eventBus, metrics))
	}
	if loaded.Features.EnableMessages {
		coordinators = append(coordinators, coordinator.NewMessageCoordinator(hub, eventBus))
	}
	if loaded.Features.EnableAgent {
		coordinators = append(coordinators, coordinator.NewAgentCoordinator(sched, eventBus))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := coordinator.NewRegistry(coordinators...)
	if err := registry.Initialize(ctx); err != nil {
		log.Fatalf("initialize coordinators failed: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.Handler)
	server := &http.Server{Addr: *listenAddr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logs.Errorf("observer server, err: %+v", err)
		}
	}()
	logs.Infof("orchestrator up, queues: %v, listen: %s", loaded.QueueNames(), *listenAddr)

	if *smoke {
		enqueueSmokeTasks(ctx, sched, loaded.QueueNames())
	}

	<-sys.Shutdown()
	logs.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)

	if err := registry.Cleanup(); err != nil {
		logs.Errorf("cleanup coordinators, err: %+v", err)
	}
}

// queueSource exposes queue states to the status aggregator.
type queueSource struct {
	repo *repo.Repository
}

func (s queueSource) Name() string {
	return "queues"
}

func (s queueSource) Collect(ctx context.Context) (map[string]any, error) {
	states, err := s.repo.AllQueueStatuses(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(states))
	for name, state := range states {
		out[name] = state
	}
	return out, nil
}

// enqueueSmokeTasks pushes one no-op task through every queue so a
// fresh deployment can be verified end to end.
func enqueueSmokeTasks(ctx context.Context, sched *scheduler.Scheduler, queues []string) {
	sched.RegisterExecutor("smoke", scheduler.ExecutorFunc(func(ctx context.Context, t *task.Task) error {
		logs.Infof("smoke task executed, queue: %s, task: %s", t.QueueName, t.TaskID)
		return nil
	}))
	for _, queue := range queues {
		if _, err := sched.Enqueue(ctx, queue, "smoke", 0, []byte(`{"smoke":true}`)); err != nil {
			logs.Errorf("enqueue smoke task, queue: %s, err: %+v", queue, err)
		}
	}
}
