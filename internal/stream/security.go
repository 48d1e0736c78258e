package stream

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"os"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"steersim/engine/internal/config"
	"steersim/engine/internal/logging"
)

// SharedSecretMetadataKey carries the shared secret on gRPC calls.
const SharedSecretMetadataKey = "x-steersim-shared-secret"

// GRPCServerOptions translates the configured auth mode into server options.
func GRPCServerOptions(cfg config.GRPCConfig, logger *logging.Logger) ([]grpc.ServerOption, error) {
	if logger == nil {
		logger = logging.L()
	}
	switch cfg.AuthMode {
	case "", config.GRPCAuthModeNone:
		logger.Warn("gRPC health service is unauthenticated")
		return nil, nil
	case config.GRPCAuthModeMTLS:
		creds, err := loadMTLSCredentials(cfg.ServerCertPath, cfg.ServerKeyPath, cfg.ClientCAPath)
		if err != nil {
			return nil, err
		}
		logger.Info("gRPC mTLS enabled")
		return []grpc.ServerOption{grpc.Creds(creds)}, nil
	case config.GRPCAuthModeSharedSecret:
		logger.Info("gRPC shared-secret authentication enabled")
		return []grpc.ServerOption{
			grpc.ChainUnaryInterceptor(newSharedSecretUnaryInterceptor(cfg.SharedSecret)),
			grpc.ChainStreamInterceptor(newSharedSecretStreamInterceptor(cfg.SharedSecret)),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported grpc auth mode %q", cfg.AuthMode)
	}
}

func newSharedSecretUnaryInterceptor(secret string) grpc.UnaryServerInterceptor {
	normalized := strings.TrimSpace(secret)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if err := checkSharedSecret(ctx, normalized); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

func newSharedSecretStreamInterceptor(secret string) grpc.StreamServerInterceptor {
	normalized := strings.TrimSpace(secret)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := checkSharedSecret(ss.Context(), normalized); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

func checkSharedSecret(ctx context.Context, secret string) error {
	if secret == "" {
		return status.Error(codes.Unauthenticated, "shared secret not configured")
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	candidate := extractSharedSecret(md)
	if candidate == "" {
		return status.Error(codes.Unauthenticated, "missing shared secret")
	}
	if subtle.ConstantTimeCompare([]byte(candidate), []byte(secret)) != 1 {
		return status.Error(codes.Unauthenticated, "invalid shared secret")
	}
	return nil
}

func extractSharedSecret(md metadata.MD) string {
	for _, value := range md.Get(SharedSecretMetadataKey) {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	for _, value := range md.Get("authorization") {
		if len(value) > 7 && strings.EqualFold(value[:7], "bearer ") {
			if token := strings.TrimSpace(value[7:]); token != "" {
				return token
			}
		}
	}
	return ""
}

func loadMTLSCredentials(certPath, keyPath, caPath string) (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load server keypair: %w", err)
	}
	caFile, err := os.Open(caPath)
	if err != nil {
		return nil, fmt.Errorf("open client ca: %w", err)
	}
	defer caFile.Close()
	caBytes, err := io.ReadAll(caFile)
	if err != nil {
		return nil, fmt.Errorf("read client ca: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caBytes) {
		return nil, fmt.Errorf("failed to parse client ca bundle")
	}
	return credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    pool,
		MinVersion:   tls.VersionTLS12,
	}), nil
}
