// Package esign parses esign service flags and launches the service.
package esign

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	entrypoint "github.com/inkform/inkform/internal/platform/cmd"
	apperrors "github.com/inkform/inkform/internal/platform/errors"
	"github.com/inkform/inkform/internal/platform/timeouts"
	httpapi "github.com/inkform/inkform/internal/services/esign/api/http"
	"github.com/inkform/inkform/internal/services/esign/app"
	"github.com/inkform/inkform/internal/services/esign/audit"
	"github.com/inkform/inkform/internal/services/esign/domain/token"
	"github.com/inkform/inkform/internal/services/esign/idempotency"
	"github.com/inkform/inkform/internal/services/esign/kms"
	"github.com/inkform/inkform/internal/services/esign/storage/sqlite"
)

// Config holds esign command configuration.
type Config struct {
	Addr     string        `env:"INKFORM_ESIGN_ADDR" envDefault:":8080"`
	GRPCAddr string        `env:"INKFORM_ESIGN_GRPC_ADDR"`
	DBPath   string        `env:"INKFORM_ESIGN_DB_PATH" envDefault:"data/esign.db"`
	KMSSeed  string        `env:"INKFORM_KMS_SEED"`
	TokenTTL time.Duration `env:"INKFORM_TOKEN_TTL" envDefault:"336h"`
	// Algorithms is the signing algorithm allow-list. Empty allows every
	// algorithm the local key service supports.
	Algorithms []string `env:"INKFORM_SIGNING_ALGORITHMS" envSeparator:","`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The HTTP listen address")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "The gRPC health listen address (empty disables)")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "The SQLite database path")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the esign service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceESign, func(ctx context.Context) error {
		server, err := NewServer(cfg)
		if err != nil {
			return err
		}
		return server.ListenAndServe(ctx)
	})
}

// Server hosts the esign HTTP API, an optional gRPC health endpoint, and the
// storage lifecycle.
type Server struct {
	httpServer *http.Server
	grpcAddr   string
	store      *sqlite.Store
}

// NewServer wires storage, the key service, the grant verifier, and the
// orchestrator into a configured server.
func NewServer(cfg Config) (*Server, error) {
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	keys, err := openKeyService(cfg.KMSSeed)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	grants, err := token.LoadGrantConfigFromEnv(nil)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("load grant config: %w", err)
	}

	service, err := app.NewService(app.Config{
		Envelopes:         store,
		Signers:           store,
		Tokens:            store,
		Keys:              keys,
		Runner:            idempotency.NewRunner(store, 24*time.Hour, nil),
		Audit:             audit.NewEmitter(store, nil),
		AuditTrail:        store,
		Grants:            grants,
		AllowedAlgorithms: cfg.Algorithms,
		TokenTTL:          cfg.TokenTTL,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("build service: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewHandler(service),
		ReadHeaderTimeout: timeouts.ReadHeader,
	}
	return &Server{
		httpServer: httpServer,
		grpcAddr:   cfg.GRPCAddr,
		store:      store,
	}, nil
}

// openKeyService builds the local key service, deterministic when a seed is
// configured.
func openKeyService(seed string) (*kms.LocalSigner, error) {
	seed = strings.TrimSpace(seed)
	if seed == "" {
		return kms.NewLocalSigner()
	}
	decoded, err := base64.StdEncoding.DecodeString(seed)
	if err != nil {
		return nil, fmt.Errorf("decode INKFORM_KMS_SEED: %w", err)
	}
	return kms.NewLocalSignerFromSeed(decoded)
}

// errorUnaryInterceptor converts domain errors escaping gRPC handlers into
// status errors before they reach the wire.
func errorUnaryInterceptor(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	resp, err := handler(ctx, req)
	return resp, apperrors.HandleError(err)
}

// ListenAndServe runs the server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("esign server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer func() {
		if err := s.store.Close(); err != nil {
			log.Printf("close store: %v", err)
		}
	}()

	var (
		grpcServer   *grpc.Server
		healthServer *health.Server
	)
	if strings.TrimSpace(s.grpcAddr) != "" {
		listener, err := net.Listen("tcp", s.grpcAddr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", s.grpcAddr, err)
		}
		grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(errorUnaryInterceptor))
		healthServer = health.NewServer()
		grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
		healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
		go func() {
			if err := grpcServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				log.Printf("serve grpc health: %v", err)
			}
		}()
		log.Printf("esign grpc health listening on %s", s.grpcAddr)
	}

	serveErr := make(chan error, 1)
	log.Printf("esign listening on %s", s.httpServer.Addr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		if healthServer != nil {
			healthServer.Shutdown()
		}
		if grpcServer != nil {
			grpcServer.GracefulStop()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}
