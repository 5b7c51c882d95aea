package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jmcleod/signpad/api"
	"github.com/jmcleod/signpad/correlation"
	"github.com/jmcleod/signpad/internal/util"
)

var (
	port               int
	tlsCert            string
	tlsKey             string
	plainHTTP          bool
	waitTimeout        time.Duration
	heartbeat          bool
	heartbeatInterval  time.Duration
	baseURL            string
	operatorToken      string
	auditWebhookURL    string
	auditWebhookHeader string
	logLevel           string
	allowedOrigins     []string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the signature pad server",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger(logLevel)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		repo, closeRepo, err := openRepository(ctx)
		if err != nil {
			return err
		}
		defer closeRepo()

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		opts := []api.Option{
			api.WithLogger(logger),
			api.WithWaitTimeout(waitTimeout),
			api.WithBaseURL(baseURL),
			api.WithOperatorToken(operatorToken),
			api.WithMetricsRegisterer(reg),
			api.WithAllowedOrigins(allowedOrigins...),
			api.WithAlertFunc(func(e api.AlertEvent) {
				logger.Warn("security alert",
					"type", e.Type,
					"message", e.Message,
					"count", e.Count,
					"threshold", e.Threshold)
			}),
		}
		if auditWebhookURL != "" {
			opts = append(opts, api.WithAuditWebhook(auditWebhookURL, auditWebhookHeader))
		}
		a := api.New(repo, opts...)
		defer a.Close()

		interval := heartbeatInterval
		if !heartbeat {
			interval = 0
		}
		go a.Run(ctx, interval)

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		r.Mount("/api/v1", a.Router())

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			// wait-for-response holds the response open for the whole wait.
			WriteTimeout: waitTimeout + 30*time.Second,
			IdleTimeout:  60 * time.Second,
		}

		if !plainHTTP {
			tlsConfig, err := loadTLSConfig()
			if err != nil {
				return err
			}
			server.TLSConfig = tlsConfig
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			var err error
			if plainHTTP {
				err = server.ListenAndServe()
			} else {
				err = server.ListenAndServeTLS("", "")
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner()
		fmt.Printf("Starting server on port %d (store: %s)...\n", port, storeKind)

		select {
		case <-ctx.Done():
			fmt.Println("\nShutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func loadTLSConfig() (*tls.Config, error) {
	if tlsCert != "" && tlsKey != "" {
		cert, err := tls.LoadX509KeyPair(tlsCert, tlsKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
		}
		return &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}, nil
	}
	cert, err := util.GenerateSelfSignedCert()
	if err != nil {
		return nil, fmt.Errorf("failed to generate self-signed certificate: %w", err)
	}
	fmt.Println("Using self-signed runtime generated certificate for TLS")
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func newLogger(level string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l})), nil
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().IntVarP(&port, "port", "p", 8443, "Port to listen on")
	serverCmd.Flags().StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate file")
	serverCmd.Flags().StringVar(&tlsKey, "tls-key", "", "Path to TLS key file")
	serverCmd.Flags().BoolVar(&plainHTTP, "plain-http", false, "Serve plain HTTP, for use behind a TLS-terminating proxy")
	serverCmd.Flags().DurationVar(&waitTimeout, "wait-timeout", correlation.DefaultTimeout, "How long wait-for-response blocks before reporting a timeout")
	serverCmd.Flags().BoolVar(&heartbeat, "heartbeat", true, "Broadcast heartbeat events to connected pads")
	serverCmd.Flags().DurationVar(&heartbeatInterval, "heartbeat-interval", 15*time.Second, "Interval between heartbeat events")
	serverCmd.Flags().StringVar(&baseURL, "base-url", "", "Externally visible base URL reported to pads with their key pair")
	serverCmd.Flags().StringVar(&operatorToken, "operator-token", os.Getenv("SIGNPAD_OPERATOR_TOKEN"), "Bearer token required on operator routes")
	serverCmd.Flags().StringVar(&auditWebhookURL, "audit-webhook-url", "", "URL that receives audit events as JSON")
	serverCmd.Flags().StringVar(&auditWebhookHeader, "audit-webhook-header", "", `Extra webhook request header, "Name: value"`)
	serverCmd.Flags().StringSliceVar(&allowedOrigins, "allowed-origin", nil, "Origin accepted on the pad WebSocket, repeatable (default any)")
	serverCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error")
}
