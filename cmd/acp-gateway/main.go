// Command acp-gateway is the gateway's daemon entrypoint: it loads
// configuration, wires the Adapter Resolver, ACP Proxy Runtime, Session
// Manager, and HTTP/JSON-RPC Surface together, and serves /rpc until a
// termination signal arrives.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/acp-gateway/internal/agent"
	"github.com/kandev/acp-gateway/internal/common/logger"
	"github.com/kandev/acp-gateway/internal/config"
	"github.com/kandev/acp-gateway/internal/httpapi"
	"github.com/kandev/acp-gateway/internal/proxy"
	"github.com/kandev/acp-gateway/internal/session"
)

func main() {
	cfg := config.Load()

	logCfg := logger.LoggingConfig{Level: "info", Format: "json", OutputPath: "stdout"}
	if cfg.LogDir != "" {
		logCfg.OutputPath = filepath.Join(cfg.LogDir, "acp-gateway.log")
	}
	log, err := logger.NewLogger(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting acp-gateway")

	resolver := agent.NewPathResolver(os.Getenv("ACP_GATEWAY_MOCKAGENT_BIN"), nil)

	// The proxy and session manager are mutually referential: the proxy
	// forwards every adapter message to a MessageSink, and the session
	// manager needs a *proxy.Runtime to issue session/new and session/prompt
	// calls. Construct the manager first against a nil proxy, then build the
	// proxy with the manager as its sink, then back-fill the reference.
	mgr := session.New(log, nil)
	proxyRuntime := proxy.New(log, resolver, mgr, proxy.Options{
		RequestTimeout:    cfg.RequestTimeout,
		RequirePreinstall: cfg.RequirePreinstall,
	})
	mgr.SetProxy(proxyRuntime)

	server := httpapi.New(log, cfg, proxyRuntime, mgr)

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.Engine(),
	}

	go func() {
		log.Info("http server listening", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down acp-gateway")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}
	proxyRuntime.ShutdownAll(shutdownCtx)

	log.Info("acp-gateway stopped")
}
