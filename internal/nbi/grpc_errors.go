package nbi

import (
	"context"
	"errors"

	"github.com/signalsfoundry/equipment-mounts/internal/nbi/types"
	"github.com/signalsfoundry/equipment-mounts/internal/state"
	"github.com/signalsfoundry/equipment-mounts/kb"
	"github.com/signalsfoundry/equipment-mounts/model"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ToStatusError maps mount, knowledge base and request errors onto gRPC
// status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())

	case errors.Is(err, kb.ErrConfigurationNotFound),
		errors.Is(err, kb.ErrPlatformNotFound),
		errors.Is(err, kb.ErrDeviceNotFound),
		errors.Is(err, kb.ErrActionNotFound),
		errors.Is(err, kb.ErrPropertyNotFound),
		errors.Is(err, state.ErrNotMounted):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, types.ErrInvalidField),
		errors.Is(err, model.ErrInvalidMountAction):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, state.ErrMountConflict),
		errors.Is(err, state.ErrParentNotMounted),
		errors.Is(err, state.ErrAlreadyMounted),
		errors.Is(err, state.ErrEquipmentUnavailable),
		errors.Is(err, state.ErrUnmountBlocked):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, kb.ErrConfigurationExists),
		errors.Is(err, kb.ErrPlatformExists),
		errors.Is(err, kb.ErrDeviceExists),
		errors.Is(err, kb.ErrContactExists),
		errors.Is(err, kb.ErrActionExists):
		return status.Error(codes.AlreadyExists, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// isVerdict reports whether err is a business rule outcome that is returned
// to the client as ok=false rather than as an RPC error.
func isVerdict(err error) bool {
	return errors.Is(err, state.ErrMountConflict) ||
		errors.Is(err, state.ErrParentNotMounted) ||
		errors.Is(err, state.ErrAlreadyMounted) ||
		errors.Is(err, state.ErrEquipmentUnavailable) ||
		errors.Is(err, state.ErrUnmountBlocked)
}
