// Command murmurd runs the live meeting assistant gateway: it accepts
// meeting platform webhooks, relays meeting audio through live
// transcription, pushes briefs and transcripts to subscribers, and
// plans questions on demand.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/murmurhq/murmur/internal/dotenv"
	"github.com/murmurhq/murmur/pkg/core"
	"github.com/murmurhq/murmur/pkg/core/agent"
	"github.com/murmurhq/murmur/pkg/core/hub"
	"github.com/murmurhq/murmur/pkg/core/oracle"
	"github.com/murmurhq/murmur/pkg/core/relay"
	"github.com/murmurhq/murmur/pkg/core/session"
	"github.com/murmurhq/murmur/pkg/core/voice/speak"
	"github.com/murmurhq/murmur/pkg/core/voice/stt"
	"github.com/murmurhq/murmur/pkg/gateway/config"
	gatewayserver "github.com/murmurhq/murmur/pkg/gateway/server"
)

type app struct {
	server *gatewayserver.Server
	relays *relay.Manager
}

type murmurDeps struct {
	loadConfig   func() (config.Config, error)
	buildApp     func(config.Config, *slog.Logger) *app
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultMurmurDeps() murmurDeps {
	return murmurDeps{
		loadConfig: config.LoadFromEnv,
		buildApp:   buildApp,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

// buildApp wires the pipeline: registry and hub in the middle, the
// oracle and voice providers at the edges, the relay manager feeding
// fragments into the agent, and the agent's planned questions flowing
// back out through the relay.
func buildApp(cfg config.Config, logger *slog.Logger) *app {
	registry := session.NewRegistry(session.Options{
		FragmentRetention: cfg.FragmentRetention,
		BriefThrottle:     cfg.BriefThrottle,
		EndedRetention:    cfg.EndedRetention,
	})
	eventHub := hub.New(hub.Options{QueueSize: cfg.EventQueueSize})

	chatOracle := oracle.NewChatOracle(oracle.ChatOptions{
		BaseURL: cfg.OracleBaseURL,
		APIKey:  cfg.OracleAPIKey,
		Model:   cfg.OracleModel,
		Timeout: cfg.OracleTimeout,
		Logger:  logger,
	})

	var ag *agent.Agent
	relays := relay.NewManager(relay.ManagerOptions{
		Dialer: relay.WSDialer{},
		STT:    stt.NewDeepgram(cfg.DeepgramAPIKey),
		OnFragment: func(ctx context.Context, frag core.Fragment) error {
			return ag.HandleFragment(ctx, frag)
		},
		TeardownTimeout: cfg.RelayTeardownTimeout,
		Logger:          logger,
	})

	aura := speak.NewAura(speak.AuraOptions{APIKey: cfg.DeepgramAPIKey})
	speaker := speak.NewSpeaker(aura, relays, logger)

	ag = agent.New(agent.Options{
		Registry: registry,
		Oracle:   chatOracle,
		Hub:      eventHub,
		Speaker:  speaker,
		Logger:   logger,
	})

	server := gatewayserver.New(gatewayserver.Options{
		Agent:          ag,
		Relays:         relays,
		Sessions:       registry,
		Hub:            eventHub,
		WSPingInterval: cfg.WSPingInterval,
		WSWriteTimeout: cfg.WSWriteTimeout,
		Logger:         logger,
	})

	return &app{server: server, relays: relays}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func runMurmur(ctx context.Context, logger *slog.Logger, deps murmurDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.buildApp == nil {
		return errors.New("missing buildApp dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	a := deps.buildApp(cfg, logger)
	httpSrv := buildHTTPServer(cfg, a.server.Echo())

	logger.Info("starting murmur", "addr", cfg.Addr, "oracle_model", cfg.OracleModel)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer drainCancel()
	if !a.relays.Shutdown(drainCtx) {
		logger.Warn("relay drain timed out")
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("murmur stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps murmurDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.Load(); err != nil {
		fmt.Fprintf(stderr, "murmurd: %v\n", err)
		return 1
	}

	if err := runMurmur(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "murmurd: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultMurmurDeps()))
}
