// Command quizrace starts the quiz-race game server.
//
// It binds two listeners that converge on the same room logic:
//  1. a raw TCP listener speaking length-prefixed JSON envelopes
//  2. an HTTP listener exposing the WebSocket endpoint, a REST room
//     probe, health, and metrics
//
// Flags control host/ports, debug logging, version output, and optional
// ngrok tunneling for easy external access during development.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"

	"github.com/edungeon/quizrace/api"
	"github.com/edungeon/quizrace/config"
	"github.com/edungeon/quizrace/game/client"
	"github.com/edungeon/quizrace/game/room"
	"github.com/edungeon/quizrace/transport/tcpsock"
	"github.com/edungeon/quizrace/transport/throttle"
	"github.com/edungeon/quizrace/transport/websocket"
	"github.com/edungeon/quizrace/verify"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "Quiz Race Server"
)

// Configuration flags; environment values from config.Load are the
// defaults, so flags win when both are set.
var (
	tcpPort      = flag.String("tcp-port", "", "TCP game port (default from TCP_PORT/PORT env, 7780)")
	httpPort     = flag.String("http-port", "", "HTTP/WebSocket port (default from HTTP_PORT env, 8080)")
	host         = flag.String("host", "", "Bind host (default from HOST env, all interfaces)")
	debug        = flag.Bool("debug", false, "Enable debug logging")
	version      = flag.Bool("version", false, "Show version information")
	ngrokEnabled = flag.Bool("ngrok", false, "Enable ngrok tunnel for the HTTP listener")
	ngrokAuth    = flag.String("ngrok-auth", "", "Ngrok auth token (or use NGROK_AUTHTOKEN env var)")
	ngrokDomain  = flag.String("ngrok-domain", "", "Custom ngrok domain (optional)")
)

func main() {
	cfg := config.Load()
	flag.Parse()

	if *version {
		fmt.Printf("%s v%s\n", AppName, Version)
		os.Exit(0)
	}

	if *tcpPort != "" {
		cfg.TCPPort = *tcpPort
	}
	if *httpPort != "" {
		cfg.HTTPPort = *httpPort
	}
	if *host != "" {
		cfg.Host = *host
	}

	logger := newLogger(cfg)
	logger.Info().Str("version", Version).Str("env", cfg.Env).Msgf("starting %s", AppName)

	if cfg.VerifyBypassToken != "" && !cfg.IsDevelopment() {
		logger.Warn().Msg("verification bypass token is set outside development")
	}

	// Wiring: one registry, one verifier, one per-address guard shared by
	// both transports, and a session factory that closes over them.
	registry := room.NewRegistry(logger)
	verifier := verify.NewClient(cfg.VerifyURL, cfg.VerifySecret, cfg.VerifyBypassToken, logger)
	guard := throttle.NewIPGuard(cfg.MaxConnsPerIP)

	newSession := func(conn client.Conn) *client.Session {
		return client.NewSession(conn, registry, verifier, cfg.MaxPacketsPerSecond, logger)
	}

	tcpAddr := fmt.Sprintf("%s:%s", cfg.Host, cfg.TCPPort)
	tcpListener := tcpsock.NewListener(tcpAddr, guard, newSession, logger)
	wsHandler := websocket.NewHandler(guard, newSession, logger)
	apiServer := api.NewServer(registry, wsHandler)

	httpAddr := fmt.Sprintf("%s:%s", cfg.Host, cfg.HTTPPort)
	httpServer := &http.Server{
		Addr:        httpAddr,
		Handler:     apiServer,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := tcpListener.ListenAndServe(); err != nil {
			logger.Fatal().Err(err).Msg("tcp listener failed")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info().Str("addr", httpAddr).Msg("http listener starting")
		logger.Info().Msgf("WebSocket: ws://%s/ws", httpAddr)
		logger.Info().Msgf("Room probe: http://%s/api/rooms/{id}", httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	if ngrokShouldRun() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runNgrokTunnel(ctx, apiServer, logger)
		}()
	}

	sig := <-stop
	logger.Info().Str("signal", sig.String()).Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	tcpListener.Shutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown error")
	}
	registry.CloseAll("server shutting down")

	wg.Wait()
	logger.Info().Msg("server stopped")
}

// newLogger builds the process logger: console output in development,
// JSON elsewhere.
func newLogger(cfg *config.Config) zerolog.Logger {
	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}

	if cfg.IsDevelopment() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			Level(level).
			With().
			Timestamp().
			Logger()
	}
	return zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Logger()
}

func ngrokShouldRun() bool {
	if *ngrokEnabled {
		return true
	}
	envEnabled := os.Getenv("NGROK_ENABLED")
	return envEnabled == "true" || envEnabled == "1"
}

// runNgrokTunnel exposes the HTTP listener (WebSocket included) through an
// ngrok tunnel for development access from outside the local network.
func runNgrokTunnel(ctx context.Context, handler http.Handler, logger zerolog.Logger) {
	authToken := *ngrokAuth
	if authToken == "" {
		authToken = os.Getenv("NGROK_AUTHTOKEN")
	}
	if authToken == "" {
		logger.Warn().Msg("ngrok enabled but no auth token provided (use --ngrok-auth or NGROK_AUTHTOKEN)")
		return
	}

	domain := *ngrokDomain
	if domain == "" {
		domain = os.Getenv("NGROK_DOMAIN")
	}

	var tunnel ngrokConfig.Tunnel
	if domain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(domain))
		logger.Info().Str("domain", domain).Msg("using custom ngrok domain")
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(authToken))
	if err != nil {
		logger.Warn().Err(err).Msg("failed to start ngrok tunnel")
		return
	}
	defer func() {
		if err := tun.Close(); err != nil {
			logger.Debug().Err(err).Msg("failed to close ngrok tunnel")
		}
	}()

	logger.Info().Str("url", tun.URL()).Msg("ngrok tunnel established")
	logger.Info().Msgf("WebSocket (ngrok): %s/ws", tun.URL())

	if err := http.Serve(tun, handler); err != nil && err != http.ErrServerClosed {
		logger.Debug().Err(err).Msg("ngrok server stopped")
	}
}
