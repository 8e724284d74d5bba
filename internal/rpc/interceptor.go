package rpc

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/jmerrifield20/civicstreak/internal/metrics"
)

// LoggingInterceptor returns a gRPC unary server interceptor that logs and
// measures each call.
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err).String()
		d := time.Since(start)
		metrics.RecordRPC(info.FullMethod, code, d)
		logger.Info("grpc",
			zap.String("method", info.FullMethod),
			zap.String("code", code),
			zap.Duration("latency", d),
		)
		return resp, err
	}
}
