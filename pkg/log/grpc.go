package log

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const metadataKeyRequestID = "x-request-id"

// UnaryServerInterceptor injects a request-scoped logger and logs each call.
func UnaryServerInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		child := grpcLogger(ctx, logger, info.FullMethod)

		resp, err := handler(WithLogger(ctx, child), req)

		child.Debug().
			Str(FieldGRPCCode, status.Code(err).String()).
			Float64(FieldLatency, float64(time.Since(start).Milliseconds())).
			Err(err).
			Msg("unary call completed")
		return resp, err
	}
}

// StreamServerInterceptor is the streaming counterpart of UnaryServerInterceptor.
// Health Watch streams are long lived, so only the end of the stream is logged.
func StreamServerInterceptor(logger zerolog.Logger) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		child := grpcLogger(ss.Context(), logger, info.FullMethod)

		err := handler(srv, &wrappedStream{ServerStream: ss, ctx: WithLogger(ss.Context(), child)})

		child.Debug().
			Str(FieldGRPCCode, status.Code(err).String()).
			Float64(FieldLatency, float64(time.Since(start).Milliseconds())).
			Err(err).
			Msg("stream call completed")
		return err
	}
}

type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context {
	return w.ctx
}

func grpcLogger(ctx context.Context, logger zerolog.Logger, method string) zerolog.Logger {
	reqID := ""
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(metadataKeyRequestID); len(vals) > 0 {
			reqID = vals[0]
		}
	}
	if reqID == "" {
		reqID = uuid.New().String()
	}
	return logger.With().
		Str(FieldRequestID, reqID).
		Str(FieldGRPCMethod, method).
		Logger()
}
