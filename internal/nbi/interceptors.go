package nbi

import (
	"context"
	"time"

	"github.com/signalsfoundry/equipment-mounts/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const requestIDMetadataKey = "x-request-id"

// RequestIDUnaryServerInterceptor makes sure every call carries a request
// ID, taken from the inbound x-request-id header when present, and echoes
// it back as a response header. The handler context gets a logger tagged
// with request_id, method and, when the request names one, configuration_id.
// Completion is logged at debug level.
func RequestIDUnaryServerInterceptor(base logging.Logger) grpc.UnaryServerInterceptor {
	if base == nil {
		base = logging.Noop()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if incoming := firstHeader(md, requestIDMetadataKey); incoming != "" {
				ctx = logging.ContextWithRequestID(ctx, incoming)
			}
		}

		fields := []logging.Field{logging.String("method", info.FullMethod)}
		if in, ok := req.(*structpb.Struct); ok {
			if id := in.GetFields()["configuration_id"].GetStringValue(); id != "" {
				fields = append(fields, logging.ConfigurationID(id))
			}
		}
		ctx, reqLog := logging.WithRequestLogger(ctx, base.With(fields...))
		ctx = logging.ContextWithLogger(ctx, reqLog)
		// Fails outside a real transport stream; the header is best effort.
		_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDMetadataKey, logging.RequestIDFromContext(ctx)))

		start := time.Now()
		resp, err := handler(ctx, req)
		reqLog.Debug(ctx, "rpc finished",
			logging.String("code", status.Code(err).String()),
			logging.Duration("duration", time.Since(start)),
		)
		return resp, err
	}
}

func firstHeader(md metadata.MD, key string) string {
	if md == nil {
		return ""
	}
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}
