package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rohanbojja/ottobot-orchestrator/pkg/agentrunner"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/controller"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/fabric"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/gateway"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/log"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/ports"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/queue"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/registry"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/sandbox"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/store"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/worker"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "ottobot",
	Short:   "ottobot-orchestrator - multi-tenant session orchestration control plane",
	Long:    `ottobot-orchestrator coordinates sandboxed coding-agent sessions across a fleet of workers, fronted by an HTTP/WebSocket gateway.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("ottobot version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	rootCmd.AddCommand(apiCmd)
	rootCmd.AddCommand(workerCmd)

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Run the frontend gateway (HTTP + chat WebSocket)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAPI(loadConfig())
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a worker process (job consumer + sandbox lifecycle)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorker(loadConfig())
	},
}

// deps bundles the components shared by both MODE=api and MODE=worker,
// grounded on the teacher's practice of wiring every subsystem once in
// main and injecting it downward rather than reaching for package
// globals.
type deps struct {
	s       *store.Store
	reg     *registry.Registry
	q       *queue.Queue
	fb      *fabric.Fabric
	desktop *ports.Allocator
	tool    *ports.Allocator
	reaper  *ports.Reaper
}

func buildDeps(ctx context.Context, cfg config) (*deps, error) {
	s, err := store.NewClient(ctx, store.Config{
		Host:     cfg.StoreHost,
		Port:     cfg.StorePort,
		Password: cfg.StorePassword,
	}, log.WithComponent("store"))
	if err != nil {
		return nil, fmt.Errorf("connect to store: %w", err)
	}

	reg := registry.New(s)
	q := queue.New(s)
	fb := fabric.New(s)
	desktop := ports.NewAllocator(s, "desktop", cfg.DesktopPortStart, cfg.DesktopPortEnd)
	tool := ports.NewAllocator(s, "tool", cfg.ToolPortStart, cfg.ToolPortEnd)

	isSessionOf := func(ctx context.Context, port int) (bool, error) {
		active, err := reg.ListActive(ctx, 0, 0)
		if err != nil {
			return false, err
		}
		for _, sess := range active {
			if sess.DesktopPort == port || sess.ToolPort == port {
				return true, nil
			}
		}
		return false, nil
	}
	reaper := ports.NewReaper(s, 5*time.Minute, isSessionOf, desktop, tool)

	return &deps{s: s, reg: reg, q: q, fb: fb, desktop: desktop, tool: tool, reaper: reaper}, nil
}

func runAPI(cfg config) error {
	ctx := context.Background()
	d, err := buildDeps(ctx, cfg)
	if err != nil {
		return err
	}

	d.reaper.Start()
	defer d.reaper.Stop()

	gw := gateway.New(gateway.Config{
		Host: cfg.APIHost,
		Port: cfg.APIPort,
	}, d.reg, d.fb, d.q, d.desktop, d.tool, d.s)

	errCh := make(chan error, 1)
	go func() { errCh <- gw.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return gw.Shutdown(shutdownCtx)
}

func runWorker(cfg config) error {
	ctx := context.Background()
	d, err := buildDeps(ctx, cfg)
	if err != nil {
		return err
	}

	sb, err := sandbox.NewSupervisor(sandbox.Config{
		SocketPath:   cfg.ContainerdSocket,
		HostDataRoot: cfg.DataDir,
		MemoryLimit:  cfg.ContainerMemoryLimit,
		CPUShares:    cfg.ContainerCPUShares,
	})
	if err != nil {
		return fmt.Errorf("connect to containerd: %w", err)
	}
	defer sb.Close()

	profiles, err := controller.LoadProfiles(cfg.AgentImageProfiles)
	if err != nil {
		return err
	}

	ctrl := controller.New(controller.Config{
		Host:     cfg.APIHost,
		ImageRef: cfg.AgentImage,
		Profiles: profiles,
	}, d.reg, d.desktop, d.tool, sb, d.fb, func() agentrunner.Agent { return agentrunner.NewStub() })

	w := worker.New(worker.Config{
		ID:          "worker-" + uuid.NewString(),
		Concurrency: cfg.WorkerConcurrency,
	}, d.s, d.q, ctrl)

	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	stopCtx, cancel := context.WithTimeout(context.Background(), 40*time.Second)
	defer cancel()
	return w.Stop(stopCtx)
}
