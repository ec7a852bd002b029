// Command bedrockd runs a single Bedrock node: it loads configuration,
// registers plugins, starts the node controller, and serves the command
// and control ports until signaled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/bedrockdb/bedrock/core"
	"github.com/bedrockdb/bedrock/database"
	"github.com/bedrockdb/bedrock/httpsx"
	"github.com/bedrockdb/bedrock/membership"
	"github.com/bedrockdb/bedrock/node"
	"github.com/bedrockdb/bedrock/plugin"
	"github.com/bedrockdb/bedrock/plugins/query"
	"github.com/bedrockdb/bedrock/telemetry"
	"github.com/bedrockdb/bedrock/transport"
)

func main() {
	configFile := flag.String("config", os.Getenv("BEDROCK_CONFIG_FILE"), "path to a node config file (env BEDROCK_CONFIG_FILE)")
	flag.Parse()

	if err := run(*configFile); err != nil {
		fmt.Fprintln(os.Stderr, "bedrockd:", err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	var opts []core.Option
	if configFile != "" {
		opts = append(opts, core.WithConfigFile(configFile))
	}
	cfg, err := core.NewConfig(opts...)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := core.NewProductionLogger(cfg.Logging, cfg.Development, cfg.NodeName)

	registry := plugin.NewRegistry()
	builtins := map[string]plugin.Factory{"query": query.New}
	for _, name := range cfg.Plugins {
		factory, ok := builtins[name]
		if !ok {
			return fmt.Errorf("unknown plugin %q", name)
		}
		if err := registry.Register(name, factory); err != nil {
			return fmt.Errorf("registering %s plugin: %w", name, err)
		}
	}

	db := database.NewInMemory()
	db.SetLogger(logger)

	var ctrlOpts []node.ControllerOption
	var telProvider core.Telemetry = core.NoOpTelemetry{}
	if cfg.Telemetry.Enabled {
		provider, err := telemetry.NewOTelProvider(cfg.NodeName, cfg.Telemetry.OTLPEndpoint)
		if err != nil {
			return fmt.Errorf("starting telemetry provider: %w", err)
		}
		telProvider = provider
		ctrlOpts = append(ctrlOpts, node.WithTelemetry(provider))
	}

	httpsMgr := httpsx.NewManager(nil, func(string) core.CircuitBreakerConfig {
		return cfg.Resilience.CircuitBreaker
	}, telProvider)
	ctrlOpts = append(ctrlOpts, node.WithHTTPSManager(httpsMgr))

	ctrl := node.NewController(cfg, db, registry, logger, ctrlOpts...)
	if err := registry.Freeze(ctrl); err != nil {
		return fmt.Errorf("freezing plugin registry: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ctrl.Start(ctx)

	if cfg.Membership.RedisURL != "" {
		dir, err := membership.NewDirectory(cfg.Membership.RedisURL, cfg.NodeName, cfg.Membership.TTL)
		if err != nil {
			return fmt.Errorf("connecting membership directory: %w", err)
		}
		dir.SetLogger(logger)
		dir.StartHeartbeat(ctx, func() membership.Peer {
			role, priority := ctrl.Role().Current()
			return membership.Peer{
				NodeName:    cfg.NodeName,
				Priority:    priority,
				CommitIndex: ctrl.Role().CommitIndex(),
				Role:        string(role),
				Address:     cfg.Address,
			}
		})
	}

	commandListener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Address, cfg.CommandPort))
	if err != nil {
		return fmt.Errorf("binding command port: %w", err)
	}
	commandServer := transport.NewServer(commandListener, ctrl, logger, telProvider)

	var cors *core.CORSConfig
	if cfg.HTTP.CORS.Enabled {
		cors = &cfg.HTTP.CORS
	}
	controlServer := node.NewControlServer(ctrl, fmt.Sprintf("%s:%d", cfg.Address, cfg.ControlPort), logger, cfg.Development.Enabled, cors)

	errCh := make(chan error, 2)
	go func() { errCh <- commandServer.Serve(ctx) }()
	go func() { errCh <- controlServer.Start(ctx) }()

	logger.Info("bedrockd started", map[string]interface{}{
		"node":        cfg.NodeName,
		"priority":    cfg.Priority,
		"commandPort": cfg.CommandPort,
		"controlPort": cfg.ControlPort,
	})

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}
