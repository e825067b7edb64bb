package nbi

import (
	"context"
	"errors"

	"github.com/signalsfoundry/equipment-mounts/internal/logging"
	"github.com/signalsfoundry/equipment-mounts/internal/nbi/types"
	"github.com/signalsfoundry/equipment-mounts/internal/state"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// MountService serves equipment trees and mount/unmount validation for the
// configurations held by a ConfigurationState.
//
// Rule violations are answers, not failures: ValidateMount, Mount,
// ValidateUnmount and Unmount reply with ok=false plus the conflict or the
// per-node verdicts. gRPC errors are reserved for malformed requests,
// unknown references and internal faults.
//
// Request fields:
//
//	GetTree, ListTimepoints: configuration_id, at
//	ValidateMount, Mount:    configuration_id, kind, equipment_id, mount_id,
//	                         parent_platform_id, parent_device_id, begin, end,
//	                         offset_x, offset_y, offset_z, epsg_code,
//	                         begin_contact_id, begin_description
//	ValidateUnmount, Unmount: configuration_id, equipment_id, at,
//	                         contact_id, description
//
// Timestamps are RFC 3339 strings or unix seconds. ListTimepoints treats at
// as a lower bound.
type MountService struct {
	state *state.ConfigurationState
	log   logging.Logger
}

var _ MountServiceServer = (*MountService)(nil)

// NewMountService wires a MountService to st. log may be nil.
func NewMountService(st *state.ConfigurationState, log logging.Logger) *MountService {
	if log == nil {
		log = logging.Noop()
	}
	return &MountService{state: st, log: log}
}

func (s *MountService) GetTree(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	req, err := ParseTreeRequest(in)
	if err != nil {
		return nil, ToStatusError(err)
	}
	cfg, err := s.state.Configuration(req.ConfigurationID)
	if err != nil {
		return nil, ToStatusError(err)
	}
	at := req.At
	if at.IsZero() {
		at = s.state.Now()
	}

	ctx, span := StartChildSpan(ctx, "mounts.tree.build", "configuration", req.ConfigurationID)
	snap, err := s.state.Snapshot(ctx, req.ConfigurationID, at)
	span.End()
	if err != nil {
		return nil, ToStatusError(err)
	}

	out, err := types.TreeToStruct(cfg, snap, at)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s *MountService) ValidateMount(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.mount(ctx, in, false)
}

func (s *MountService) Mount(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.mount(ctx, in, true)
}

func (s *MountService) mount(ctx context.Context, in *structpb.Struct, store bool) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	configID, action, err := ParseMountRequest(s.state.Store(), in)
	if err != nil {
		return nil, ToStatusError(err)
	}

	ctx, span := StartChildSpan(ctx, "mounts.validate_mount", action.Mounted().EquipmentKind().String(), action.Mounted().EquipmentID(),
		attribute.Bool("mounts.store", store))
	if store {
		err = s.state.Mount(ctx, configID, action)
	} else {
		err = s.state.ValidateMount(ctx, configID, action)
	}
	span.End()

	if err != nil && !isVerdict(err) {
		return nil, ToStatusError(err)
	}
	if err != nil {
		logging.FromContext(ctx, s.log).Info(ctx, "mount refused",
			logging.ConfigurationID(configID),
			logging.EquipmentID(action.Mounted().EquipmentID()),
			logging.Err(err),
		)
		return structpb.NewStruct(mountVerdict(err))
	}

	resp := map[string]any{"ok": true}
	if store {
		resp["mount_id"] = action.Base().ID
	}
	return structpb.NewStruct(resp)
}

func (s *MountService) ValidateUnmount(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.unmount(ctx, in, false)
}

func (s *MountService) Unmount(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.unmount(ctx, in, true)
}

func (s *MountService) unmount(ctx context.Context, in *structpb.Struct, store bool) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	req, err := ParseUnmountRequest(s.state.Store(), in)
	if err != nil {
		return nil, ToStatusError(err)
	}

	ctx, span := StartChildSpan(ctx, "mounts.validate_unmount", "equipment", req.EquipmentID,
		attribute.Bool("mounts.store", store))
	var report state.UnmountReport
	if store {
		report, err = s.state.Unmount(ctx, req.ConfigurationID, req.EquipmentID, req.At, req.Contact, req.Description)
	} else {
		report, err = s.state.ValidateUnmount(ctx, req.ConfigurationID, req.EquipmentID, req.At)
	}
	span.End()
	if err != nil && !errors.Is(err, state.ErrUnmountBlocked) {
		return nil, ToStatusError(err)
	}

	verdicts := make([]any, 0, len(report.Verdicts))
	for _, v := range report.Verdicts {
		verdicts = append(verdicts, types.VerdictToMap(v))
	}
	resp := map[string]any{
		"ok":       report.OK(),
		"at":       types.FormatTime(report.Date),
		"verdicts": verdicts,
	}
	if report.Node != nil {
		resp["node"] = types.NodeToMap(report.Node)
	}
	if report.EndDateToOverwrite != nil {
		resp["end_date_to_overwrite"] = types.FormatTime(*report.EndDateToOverwrite)
	}
	if blocked, ok := report.FirstBlocked(); ok {
		resp["message"] = blocked.Node.Label() + ": " + blocked.Reason.String()
	}
	return structpb.NewStruct(resp)
}

func (s *MountService) ListTimepoints(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	req, err := ParseTreeRequest(in)
	if err != nil {
		return nil, ToStatusError(err)
	}
	points, err := s.state.Timeline(ctx, req.ConfigurationID)
	if err != nil {
		return nil, ToStatusError(err)
	}

	list := make([]any, 0, len(points))
	for _, tp := range points {
		if !req.At.IsZero() && tp.At.Before(req.At) {
			continue
		}
		list = append(list, types.TimepointToMap(tp))
	}
	return structpb.NewStruct(map[string]any{"timepoints": list})
}

func (s *MountService) ensureReady() error {
	if s == nil || s.state == nil {
		return status.Error(codes.FailedPrecondition, "configuration state is not configured")
	}
	return nil
}

func mountVerdict(err error) map[string]any {
	resp := map[string]any{
		"ok":      false,
		"reason":  verdictReason(err),
		"message": err.Error(),
	}
	var conflict *state.ConflictError
	if errors.As(err, &conflict) && conflict.Conflict != nil {
		resp["conflict"] = types.ConflictToMap(conflict.Conflict)
	}
	return resp
}

func verdictReason(err error) string {
	switch {
	case errors.Is(err, state.ErrParentNotMounted):
		return "parent_not_mounted"
	case errors.Is(err, state.ErrAlreadyMounted):
		return "already_mounted"
	case errors.Is(err, state.ErrEquipmentUnavailable):
		return "unavailable"
	case errors.Is(err, state.ErrUnmountBlocked):
		return "unmount_blocked"
	default:
		return "conflict"
	}
}
