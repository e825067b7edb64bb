package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// RPCCollector holds the metrics for the MountService gRPC surface.
//
// Business-rule rejections (a mount that conflicts, an unmount that is
// blocked) are answered with ok=false and status OK, so they are counted
// separately in RPCRejections by reason.
type RPCCollector struct {
	gatherer prometheus.Gatherer

	RPCRequests   *prometheus.CounterVec
	RPCDurations  *prometheus.HistogramVec
	RPCRejections *prometheus.CounterVec
}

// NewRPCCollector registers the RPC metrics on reg (the default registry when
// nil). Metrics already present on reg are reused.
func NewRPCCollector(reg prometheus.Registerer) (*RPCCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mounts_rpc_requests_total",
		Help: "Handled RPCs by service, method and gRPC status code.",
	}, []string{"service", "method", "code"}))
	if err != nil {
		return nil, err
	}
	durations, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mounts_rpc_duration_seconds",
		Help:    "RPC latency in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"service", "method"}))
	if err != nil {
		return nil, err
	}
	rejections, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mounts_rpc_rejections_total",
		Help: "RPCs answered with ok=false, by method and rejection reason.",
	}, []string{"method", "reason"}))
	if err != nil {
		return nil, err
	}

	return &RPCCollector{
		gatherer:      gatherer,
		RPCRequests:   requests,
		RPCDurations:  durations,
		RPCRejections: rejections,
	}, nil
}

// UnaryServerInterceptor records counts, durations and rejections.
func (c *RPCCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		c.RPCRequests.WithLabelValues(service, method, status.Code(err).String()).Inc()
		c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		if reason, rejected := rejectionReason(resp); err == nil && rejected {
			c.RPCRejections.WithLabelValues(method, reason).Inc()
		}
		return resp, err
	}
}

// rejectionReason reports whether resp is an ok=false answer and its reason.
func rejectionReason(resp any) (string, bool) {
	s, ok := resp.(*structpb.Struct)
	if !ok || s == nil {
		return "", false
	}
	okField, present := s.GetFields()["ok"]
	if !present || okField.GetBoolValue() {
		return "", false
	}
	reason := s.GetFields()["reason"].GetStringValue()
	if reason == "" {
		reason = "unknown"
	}
	return reason, true
}

// Handler serves /metrics from the collector's registry.
func (c *RPCCollector) Handler() http.Handler {
	var gatherer prometheus.Gatherer
	if c != nil {
		gatherer = c.gatherer
	}
	return HandlerFor(gatherer)
}

// HandlerFor serves /metrics from gatherer, or the default gatherer when nil.
func HandlerFor(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SplitMethod turns "/mounts.v1.MountService/GetTree" into
// ("MountService", "GetTree"). Unparseable input yields "unknown" parts.
func SplitMethod(fullMethod string) (string, string) {
	parts := strings.Split(strings.TrimPrefix(fullMethod, "/"), "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service, method := parts[len(parts)-2], parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

// register adds c to reg, returning the collector already registered under
// the same descriptor when there is one of the same type.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing, nil
		}
		var zero T
		return zero, fmt.Errorf("metric already registered with a different type: %w", err)
	}
	var zero T
	return zero, err
}
