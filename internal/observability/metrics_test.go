package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestUnaryInterceptorRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewRPCCollector(reg)
	if err != nil {
		t.Fatalf("NewRPCCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/mounts.v1.MountService/GetTree"}

	_, err = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		time.Sleep(10 * time.Millisecond)
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("interceptor handler returned error: %v", err)
	}

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("MountService", "GetTree", "OK")); got != 1 {
		t.Fatalf("mounts_rpc_requests_total = %v, want 1", got)
	}

	if count := histogramSampleCount(t, reg, "mounts_rpc_duration_seconds", map[string]string{
		"service": "MountService",
		"method":  "GetTree",
	}); count != 1 {
		t.Fatalf("mounts_rpc_duration_seconds sample_count = %d, want 1", count)
	}
}

func TestUnaryInterceptorRecordsErrorCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewRPCCollector(reg)
	if err != nil {
		t.Fatalf("NewRPCCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/mounts.v1.MountService/ValidateMount"}

	_, _ = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.InvalidArgument, "boom")
	})

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("MountService", "ValidateMount", "InvalidArgument")); got != 1 {
		t.Fatalf("mounts_rpc_requests_total error label = %v, want 1", got)
	}
}

func TestUnaryInterceptorCountsRejections(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewRPCCollector(reg)
	if err != nil {
		t.Fatalf("NewRPCCollector: %v", err)
	}
	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/mounts.v1.MountService/ValidateUnmount"}

	answers := []map[string]any{
		{"ok": false, "reason": "unmount_blocked"},
		{"ok": false, "reason": "unmount_blocked"},
		{"ok": false},
		{"ok": true},
	}
	for _, answer := range answers {
		resp, err := structpb.NewStruct(answer)
		if err != nil {
			t.Fatalf("NewStruct: %v", err)
		}
		_, _ = interceptor(context.Background(), nil, info, func(context.Context, any) (any, error) {
			return resp, nil
		})
	}

	if got := testutil.ToFloat64(collector.RPCRejections.WithLabelValues("ValidateUnmount", "unmount_blocked")); got != 2 {
		t.Fatalf("blocked rejections = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.RPCRejections.WithLabelValues("ValidateUnmount", "unknown")); got != 1 {
		t.Fatalf("unknown rejections = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("MountService", "ValidateUnmount", "OK")); got != 4 {
		t.Fatalf("requests = %v, want 4", got)
	}
}

func TestMetricsHandlerExposesStateMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewRPCCollector(reg)
	if err != nil {
		t.Fatalf("NewRPCCollector: %v", err)
	}
	state, err := NewStateCollector(reg)
	if err != nil {
		t.Fatalf("NewStateCollector: %v", err)
	}
	state.ObserveTreeBuild("cfg-station", 3*time.Millisecond, 7)
	state.RecordValidation("mount", "conflict")
	state.RecordSnapshotCache(true)
	state.RecordSnapshotCache(false)
	state.RecordSnapshotCache(false)
	collector.RPCRequests.WithLabelValues("svc", "method", "OK").Inc()
	collector.RPCDurations.WithLabelValues("svc", "method").Observe(0.01)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"mounts_rpc_requests_total",
		"mounts_rpc_duration_seconds",
		"mounts_tree_build_duration_seconds",
		`mounts_tree_nodes{configuration="cfg-station"} 7`,
		`mounts_validations_total{kind="mount",outcome="conflict"} 1`,
		`mounts_snapshot_cache_total{result="miss"} 2`,
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output:\n%s", metric, body)
		}
	}
	if got := testutil.ToFloat64(state.SnapshotCache.WithLabelValues("hit")); got != 1 {
		t.Fatalf("cache hits = %v, want 1", got)
	}
}

func TestCollectorsReuseRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewStateCollector(reg)
	if err != nil {
		t.Fatalf("NewStateCollector: %v", err)
	}
	second, err := NewStateCollector(reg)
	if err != nil {
		t.Fatalf("second NewStateCollector: %v", err)
	}
	first.RecordValidation("unmount", "ok")
	second.RecordValidation("unmount", "ok")
	if got := testutil.ToFloat64(first.Validations.WithLabelValues("unmount", "ok")); got != 2 {
		t.Fatalf("shared counter = %v, want 2", got)
	}
}

func TestNilCollectorsAreSafe(t *testing.T) {
	var state *StateCollector
	state.ObserveTreeBuild("c", time.Second, 1)
	state.RecordValidation("mount", "ok")
	state.RecordSnapshotCache(true)
	if state.Gatherer() != nil {
		t.Fatalf("nil collector gatherer should be nil")
	}
}

func TestSplitMethod(t *testing.T) {
	tests := []struct {
		in              string
		service, method string
	}{
		{"/mounts.v1.MountService/GetTree", "MountService", "GetTree"},
		{"", "unknown", "unknown"},
		{"nomethod", "unknown", "unknown"},
	}
	for _, tc := range tests {
		service, method := SplitMethod(tc.in)
		if service != tc.service || method != tc.method {
			t.Fatalf("SplitMethod(%q) = %s/%s, want %s/%s", tc.in, service, method, tc.service, tc.method)
		}
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
