package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/safetygate/internal/gate"
	"github.com/ppiankov/safetygate/internal/httpapi"
	"github.com/ppiankov/safetygate/internal/server"
)

var (
	serveHTTPAddr string
	serveGRPCAddr string
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHTTPAddr, "http", "", "HTTP listen address (overrides config, \"-\" disables)")
	serveCmd.Flags().StringVar(&serveGRPCAddr, "grpc", "", "gRPC listen address (overrides config, \"-\" disables)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and gRPC gate",
	Long: "Serves POST /v1/evaluate over HTTP and safetygate.v1.Gate/Evaluate over gRPC.\n" +
		"Callers authenticate with HS256 bearer tokens. Idle sessions are swept\n" +
		"in the background. SIGINT or SIGTERM drains and stops all listeners.",
	RunE: runServe,
}

var errNoJWTSecret = errors.New("auth.jwt_secret (or SAFETYGATE_JWT_SECRET) is required to serve")

func listenAddr(flag, configured string) string {
	switch flag {
	case "":
		return configured
	case "-":
		return ""
	default:
		return flag
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errNoJWTSecret
	}
	httpAddr := listenAddr(serveHTTPAddr, cfg.HTTP.Addr)
	grpcAddr := listenAddr(serveGRPCAddr, cfg.GRPC.Addr)
	if httpAddr == "" && grpcAddr == "" {
		return errors.New("no listener configured")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := gate.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("serve.close_failed", zap.Error(err))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	sweeper := rt.Sweeper(logger.Named("session"))
	g.Go(func() error { return sweeper.Run(gctx) })

	if httpAddr != "" {
		hs := httpapi.New(httpAddr, rt.Dispatcher, rt.Verifier, logger.Named("http"),
			httpapi.WithBodyTimeout(cfg.Limits.RequestTimeout))
		g.Go(func() error { return hs.Start(gctx) })
	}

	if grpcAddr != "" {
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			stop()
			_ = g.Wait()
			return fmt.Errorf("listen %s: %w", grpcAddr, err)
		}
		gs := server.New(rt.Dispatcher, rt.Verifier, logger.Named("grpc"),
			server.WithMaxRecvMsgSize(server.RecvLimit(cfg.Detect.MaxBodyBytes)))
		g.Go(func() error { return gs.ServeOn(lis) })
		g.Go(func() error {
			<-gctx.Done()
			gs.GracefulStop()
			return nil
		})
		logger.Info("grpc.listening", zap.String("addr", lis.Addr().String()))
	}

	logger.Info("serve.started",
		zap.String("version", version),
		zap.Strings("boundaries", rt.Dispatcher.Boundaries().IDs()),
		zap.String("audit_backend", cfg.Audit.Backend))

	err = g.Wait()
	logger.Info("serve.stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
