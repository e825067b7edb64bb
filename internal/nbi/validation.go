package nbi

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/signalsfoundry/equipment-mounts/internal/nbi/types"
	"github.com/signalsfoundry/equipment-mounts/kb"
	"github.com/signalsfoundry/equipment-mounts/model"
	"google.golang.org/protobuf/types/known/structpb"
)

// ErrInvalidRequest is returned for malformed or incomplete requests.
var ErrInvalidRequest = errors.New("invalid request")

// TreeRequest selects the tree of a configuration at a point in time. A
// zero At means now.
type TreeRequest struct {
	ConfigurationID string
	At              time.Time
}

// UnmountRequest asks whether (and, for Unmount, records that) a piece of
// equipment leaves a configuration at At.
type UnmountRequest struct {
	ConfigurationID string
	EquipmentID     string
	At              time.Time
	Contact         *model.Contact
	Description     string
}

// ParseTreeRequest reads configuration_id and the optional at field.
func ParseTreeRequest(in *structpb.Struct) (TreeRequest, error) {
	if in == nil {
		return TreeRequest{}, fmt.Errorf("%w: request is required", ErrInvalidRequest)
	}
	req := TreeRequest{ConfigurationID: strings.TrimSpace(types.String(in, "configuration_id"))}
	if req.ConfigurationID == "" {
		return TreeRequest{}, fmt.Errorf("%w: configuration_id is required", ErrInvalidRequest)
	}
	at, _, err := types.Time(in, "at")
	if err != nil {
		return TreeRequest{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	req.At = at
	return req, nil
}

// ParseUnmountRequest reads configuration_id, equipment_id, at and the
// optional contact_id and description. Contacts are resolved in store.
func ParseUnmountRequest(store *kb.KnowledgeBase, in *structpb.Struct) (UnmountRequest, error) {
	tr, err := ParseTreeRequest(in)
	if err != nil {
		return UnmountRequest{}, err
	}
	req := UnmountRequest{
		ConfigurationID: tr.ConfigurationID,
		At:              tr.At,
		EquipmentID:     strings.TrimSpace(types.String(in, "equipment_id")),
		Description:     types.String(in, "description"),
	}
	if req.EquipmentID == "" {
		return UnmountRequest{}, fmt.Errorf("%w: equipment_id is required", ErrInvalidRequest)
	}
	if req.Contact, err = contact(store, types.String(in, "contact_id")); err != nil {
		return UnmountRequest{}, err
	}
	return req, nil
}

// ParseMountRequest builds a platform or device mount action from in. The
// kind field selects which; equipment_id and begin are required. Referenced
// equipment must exist in store.
func ParseMountRequest(store *kb.KnowledgeBase, in *structpb.Struct) (string, model.Mounting, error) {
	if store == nil {
		return "", nil, fmt.Errorf("%w: knowledge base is required", ErrInvalidRequest)
	}
	if in == nil {
		return "", nil, fmt.Errorf("%w: request is required", ErrInvalidRequest)
	}
	configID := strings.TrimSpace(types.String(in, "configuration_id"))
	if configID == "" {
		return "", nil, fmt.Errorf("%w: configuration_id is required", ErrInvalidRequest)
	}
	equipmentID := strings.TrimSpace(types.String(in, "equipment_id"))
	if equipmentID == "" {
		return "", nil, fmt.Errorf("%w: equipment_id is required", ErrInvalidRequest)
	}

	base, err := mountBase(store, in)
	if err != nil {
		return "", nil, err
	}
	base.ConfigurationID = configID

	switch kind := strings.ToLower(types.String(in, "kind")); kind {
	case "platform":
		if types.String(in, "parent_device_id") != "" {
			return "", nil, fmt.Errorf("%w: platforms cannot be mounted on devices", ErrInvalidRequest)
		}
		p := store.GetPlatform(equipmentID)
		if p == nil {
			return "", nil, fmt.Errorf("%w: %q", kb.ErrPlatformNotFound, equipmentID)
		}
		return configID, &model.PlatformMountAction{MountAction: base, Platform: p}, nil
	case "device":
		d := store.GetDevice(equipmentID)
		if d == nil {
			return "", nil, fmt.Errorf("%w: %q", kb.ErrDeviceNotFound, equipmentID)
		}
		action := &model.DeviceMountAction{MountAction: base, Device: d}
		if id := types.String(in, "parent_device_id"); id != "" {
			if action.ParentDevice = store.GetDevice(id); action.ParentDevice == nil {
				return "", nil, fmt.Errorf("%w: parent %q", kb.ErrDeviceNotFound, id)
			}
		}
		return configID, action, nil
	default:
		return "", nil, fmt.Errorf("%w: kind must be platform or device, got %q", ErrInvalidRequest, kind)
	}
}

func mountBase(store *kb.KnowledgeBase, in *structpb.Struct) (model.MountAction, error) {
	base := model.MountAction{
		ID:               types.String(in, "mount_id"),
		BeginDescription: types.String(in, "begin_description"),
		EpsgCode:         types.String(in, "epsg_code"),
	}

	begin, ok, err := types.Time(in, "begin")
	if err != nil {
		return base, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if !ok {
		return base, fmt.Errorf("%w: begin is required", ErrInvalidRequest)
	}
	base.BeginDate = begin

	end, ok, err := types.Time(in, "end")
	if err != nil {
		return base, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if ok {
		base.EndDate = &end
	}

	for key, dst := range map[string]*float64{"offset_x": &base.OffsetX, "offset_y": &base.OffsetY, "offset_z": &base.OffsetZ} {
		v, _, err := types.Float(in, key)
		if err != nil {
			return base, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		*dst = v
	}

	if id := types.String(in, "parent_platform_id"); id != "" {
		if base.ParentPlatform = store.GetPlatform(id); base.ParentPlatform == nil {
			return base, fmt.Errorf("%w: parent %q", kb.ErrPlatformNotFound, id)
		}
	}
	if base.BeginContact, err = contact(store, types.String(in, "begin_contact_id")); err != nil {
		return base, err
	}
	return base, nil
}

func contact(store *kb.KnowledgeBase, id string) (*model.Contact, error) {
	if id == "" || store == nil {
		return nil, nil
	}
	c := store.GetContact(id)
	if c == nil {
		return nil, fmt.Errorf("%w: unknown contact %q", ErrInvalidRequest, id)
	}
	return c, nil
}
