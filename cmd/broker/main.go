// Command broker is the composition root binary: it wires the adapter
// set, the bridge, the process supervisor, durable session storage, and
// the WebSocket transport into a sessionmgr.Manager and runs it until an
// interrupt or termination signal arrives.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relaykit/agentbroker/adapter"
	"github.com/relaykit/agentbroker/adapter/acp"
	"github.com/relaykit/agentbroker/adapter/agentsdk"
	"github.com/relaykit/agentbroker/adapter/opencode"
	"github.com/relaykit/agentbroker/adapter/urlforward"
	"github.com/relaykit/agentbroker/auth"
	"github.com/relaykit/agentbroker/bridge"
	"github.com/relaykit/agentbroker/config"
	"github.com/relaykit/agentbroker/log"
	"github.com/relaykit/agentbroker/metrics"
	"github.com/relaykit/agentbroker/process"
	"github.com/relaykit/agentbroker/sessionmgr"
	"github.com/relaykit/agentbroker/sessionreg"
	"github.com/relaykit/agentbroker/slashcmd"
	"github.com/relaykit/agentbroker/supervisor"
	"github.com/relaykit/agentbroker/tracer"
	"github.com/relaykit/agentbroker/transport"
)

func main() {
	cfg := config.Get()

	store, err := sessionreg.OpenSQLiteStore(cfg.RegistryDatabasePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.RegistryDatabasePath).Msg("open session registry")
	}

	promSink := metrics.NewPromSink()
	sessionTracer := tracer.NewZerologTracer()

	sup := supervisor.New(process.NewOSManager(), supervisor.Options{
		KillGracePeriod:  time.Duration(cfg.KillGracePeriodMs) * time.Millisecond,
		CrashThreshold:   time.Duration(cfg.CrashThresholdMs) * time.Millisecond,
		FailureThreshold: cfg.FailureThreshold,
	}, promSink)

	adapters := map[string]adapter.Adapter{
		"acp":       acp.New("acp", "acp-agent", nil, sup, nil),
		"gemini":    acp.New("gemini", "gemini-cli", []string{"--acp"}, sup, nil),
		"codex":     acp.New("codex", "codex", []string{"acp"}, sup, nil),
		"agent-sdk": agentsdk.New(),
		"opencode":  opencode.New(cfg.OpencodeBaseURL),
		"sdk-url":   urlforward.New(),
	}

	registry := slashcmd.NewRegistry()
	connector := bridge.NewConnector(adapters, cfg.DefaultAdapter, registry, promSink, sessionTracer)
	slashHandler := slashcmd.NewHandler(registry, slashcmd.DefaultLocalExecutor{Registry: registry}, promSink, sessionTracer)

	authenticator := auth.FromConfig(cfg.AuthMode)
	b := bridge.New(connector, authenticator, time.Duration(cfg.AuthTimeoutMs)*time.Millisecond, slashHandler)

	tr := transport.NewGinWebSocketTransport(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), "/ws/sessions/:sessionId")

	mgr := sessionmgr.New(b, connector, sup, store, tr, adapters, promSink, sessionmgr.Options{
		ReconnectGracePeriod: time.Duration(cfg.ReconnectGracePeriodMs) * time.Millisecond,
		IdleSessionTimeout:   time.Duration(cfg.IdleSessionTimeoutMs) * time.Millisecond,
		RelaunchDedupPeriod:  time.Duration(cfg.RelaunchDedupMs) * time.Millisecond,
		DefaultAdapter:       cfg.DefaultAdapter,
	})
	registerManagementRoutes(tr.Router(), mgr)

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("host", cfg.Host).Int("port", cfg.Port).Str("env", cfg.Env).Msg("broker starting")
		serveErr <- mgr.Start(context.Background())
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("shutting down broker")
	case err := <-serveErr:
		if err != nil {
			log.Error().Err(err).Msg("transport serve error")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	mgr.Stop(ctx)

	log.Info().Msg("broker stopped")
}
