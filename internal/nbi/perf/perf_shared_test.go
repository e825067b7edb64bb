//go:build perf || perf_large

package perf

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/signalsfoundry/equipment-mounts/internal/logging"
	"github.com/signalsfoundry/equipment-mounts/internal/nbi"
	"github.com/signalsfoundry/equipment-mounts/internal/state"
	"github.com/signalsfoundry/equipment-mounts/kb"
	"github.com/signalsfoundry/equipment-mounts/model"
	"google.golang.org/protobuf/types/known/structpb"
)

type perfConfig struct {
	Platforms          int
	DevicesPerPlatform int
	// Remounts is how often every device is unmounted and mounted again.
	Remounts int
}

var epoch = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

// newStation builds one configuration with cfg.Platforms masts, each
// carrying cfg.DevicesPerPlatform devices that are remounted cfg.Remounts
// times, one week apart.
func newStation(b *testing.B, cfg perfConfig) *kb.KnowledgeBase {
	b.Helper()
	store := kb.NewKnowledgeBase()
	if err := store.AddConfiguration(&model.Configuration{ID: "cfg", Label: "Bench"}); err != nil {
		b.Fatalf("AddConfiguration: %v", err)
	}
	for p := 0; p < cfg.Platforms; p++ {
		mast := &model.Platform{ID: fmt.Sprintf("p-%d", p)}
		if err := store.AddPlatform(mast); err != nil {
			b.Fatalf("AddPlatform: %v", err)
		}
		if err := store.AddPlatformMount(&model.PlatformMountAction{
			MountAction: model.MountAction{ConfigurationID: "cfg", BeginDate: epoch},
			Platform:    mast,
		}); err != nil {
			b.Fatalf("AddPlatformMount: %v", err)
		}
		for d := 0; d < cfg.DevicesPerPlatform; d++ {
			dev := &model.Device{ID: fmt.Sprintf("d-%d-%d", p, d)}
			if err := store.AddDevice(dev); err != nil {
				b.Fatalf("AddDevice: %v", err)
			}
			for r := 0; r <= cfg.Remounts; r++ {
				begin := epoch.AddDate(0, 0, 7*r)
				var end *time.Time
				if r < cfg.Remounts {
					e := begin.AddDate(0, 0, 6)
					end = &e
				}
				if err := store.AddDeviceMount(&model.DeviceMountAction{
					MountAction: model.MountAction{ConfigurationID: "cfg", BeginDate: begin, EndDate: end, ParentPlatform: mast},
					Device:      dev,
				}); err != nil {
					b.Fatalf("AddDeviceMount: %v", err)
				}
			}
		}
	}
	return store
}

func benchmarkGetTree(b *testing.B, cfg perfConfig, opts ...state.Option) {
	ctx := context.Background()
	st := state.NewConfigurationState(newStation(b, cfg), opts...)
	defer st.Close()
	svc := nbi.NewMountService(st, logging.Noop())

	req, _ := structpb.NewStruct(map[string]any{
		"configuration_id": "cfg",
		"at":               epoch.AddDate(0, 0, 7*cfg.Remounts/2).Format(time.RFC3339),
	})
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := svc.GetTree(ctx, req); err != nil {
			b.Fatalf("GetTree: %v", err)
		}
	}
}

func benchmarkValidateUnmount(b *testing.B, cfg perfConfig) {
	ctx := context.Background()
	st := state.NewConfigurationState(newStation(b, cfg))
	defer st.Close()
	svc := nbi.NewMountService(st, logging.Noop())

	req, _ := structpb.NewStruct(map[string]any{
		"configuration_id": "cfg",
		"equipment_id":     "p-0",
		"at":               epoch.AddDate(0, 0, 7*cfg.Remounts+1).Format(time.RFC3339),
	})
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := svc.ValidateUnmount(ctx, req); err != nil {
			b.Fatalf("ValidateUnmount: %v", err)
		}
	}
}
