package nbi

import (
	"context"
	"fmt"
	"strings"

	"github.com/signalsfoundry/equipment-mounts/internal/logging"
	"github.com/signalsfoundry/equipment-mounts/internal/nbi/types"
	"github.com/signalsfoundry/equipment-mounts/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const tracerName = "github.com/signalsfoundry/equipment-mounts/internal/nbi"

// TracingUnaryServerInterceptor names the RPC span Mounts/<service>/<method>
// and tags it with the rpc attributes, the request ID and the configuration
// and equipment the request targets. Answers carrying an ok flag are recorded
// as mounts.ok / mounts.reason; a rejection is not a span error. A server
// span is started when no otelgrpc handler created one.
func TracingUnaryServerInterceptor() grpc.UnaryServerInterceptor {
	tracer := otel.Tracer(tracerName)

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		service, method := observability.SplitMethod(info.FullMethod)
		spanName := fmt.Sprintf("Mounts/%s/%s", service, method)
		span := trace.SpanFromContext(ctx)
		created := false
		if !span.SpanContext().IsValid() {
			ctx, span = tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindServer))
			created = true
		} else {
			span.SetName(spanName)
		}

		attrs := []attribute.KeyValue{
			attribute.String("rpc.system", "grpc"),
			attribute.String("rpc.service", service),
			attribute.String("rpc.method", method),
			attribute.String("rpc.full_method", strings.TrimPrefix(info.FullMethod, "/")),
		}
		if reqID := logging.RequestIDFromContext(ctx); reqID != "" {
			attrs = append(attrs, attribute.String("request_id", reqID))
		}
		if in, ok := req.(*structpb.Struct); ok {
			for _, key := range []string{"configuration_id", "equipment_id"} {
				if v := types.String(in, key); v != "" {
					attrs = append(attrs, attribute.String("mounts."+key, v))
				}
			}
		}
		span.SetAttributes(attrs...)

		resp, err := handler(ctx, req)
		switch {
		case err != nil:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		default:
			annotateAnswer(span, resp)
		}

		if created {
			span.End()
		}
		return resp, err
	}
}

// annotateAnswer copies the ok flag and rejection reason of a response onto
// span.
func annotateAnswer(span trace.Span, resp any) {
	out, ok := resp.(*structpb.Struct)
	if !ok || out == nil {
		return
	}
	okField, present := out.GetFields()["ok"]
	if !present {
		return
	}
	span.SetAttributes(attribute.Bool("mounts.ok", okField.GetBoolValue()))
	if reason := types.String(out, "reason"); reason != "" {
		span.SetAttributes(attribute.String("mounts.reason", reason))
		span.AddEvent("rejected", trace.WithAttributes(attribute.String("mounts.reason", reason)))
	}
}

// StartChildSpan starts a span for work inside a handler, tagged with the
// kind and id of the entity it works on. Both are optional.
func StartChildSpan(ctx context.Context, name, entityKind, entityID string, extra ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs := make([]attribute.KeyValue, 0, len(extra)+2)
	if entityKind != "" {
		attrs = append(attrs, attribute.String("mounts.entity_kind", entityKind))
	}
	if entityID != "" {
		attrs = append(attrs, attribute.String("mounts.entity_id", entityID))
	}
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(append(attrs, extra...)...))
}
