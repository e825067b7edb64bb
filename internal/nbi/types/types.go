// Package types converts between the mount domain model and the
// google.protobuf.Struct messages carried by the MountService RPCs.
package types

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/signalsfoundry/equipment-mounts/model"
	"github.com/signalsfoundry/equipment-mounts/timectrl"
	"github.com/signalsfoundry/equipment-mounts/tree"
	"github.com/signalsfoundry/equipment-mounts/validation"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// ErrInvalidField is returned when a struct field has the wrong type or an
// unparsable value.
var ErrInvalidField = errors.New("invalid field")

// TimeLayout is the wire format of every timestamp the service emits.
const TimeLayout = time.RFC3339Nano

// FormatTime renders t in UTC using TimeLayout.
func FormatTime(t time.Time) string {
	return timestamppb.New(t).AsTime().Format(TimeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return FormatTime(*t)
}

// String returns the string field key of s, or "" when missing or not a
// string.
func String(s *structpb.Struct, key string) string {
	if s == nil {
		return ""
	}
	v, ok := s.GetFields()[key]
	if !ok {
		return ""
	}
	if sv, ok := v.GetKind().(*structpb.Value_StringValue); ok {
		return sv.StringValue
	}
	return ""
}

// Float returns the numeric field key of s. ok is false when the field is
// absent or null.
func Float(s *structpb.Struct, key string) (float64, bool, error) {
	if s == nil {
		return 0, false, nil
	}
	v, present := s.GetFields()[key]
	if !present {
		return 0, false, nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return 0, false, nil
	case *structpb.Value_NumberValue:
		return k.NumberValue, true, nil
	default:
		return 0, false, fmt.Errorf("%w: %s must be a number", ErrInvalidField, key)
	}
}

// Time reads the timestamp field key of s. Strings are parsed as RFC 3339,
// numbers as unix seconds. ok is false when the field is absent, null or an
// empty string.
func Time(s *structpb.Struct, key string) (time.Time, bool, error) {
	if s == nil {
		return time.Time{}, false, nil
	}
	v, present := s.GetFields()[key]
	if !present {
		return time.Time{}, false, nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return time.Time{}, false, nil
	case *structpb.Value_StringValue:
		if k.StringValue == "" {
			return time.Time{}, false, nil
		}
		t, err := time.Parse(time.RFC3339Nano, k.StringValue)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("%w: %s: %v", ErrInvalidField, key, err)
		}
		return t.UTC(), true, nil
	case *structpb.Value_NumberValue:
		sec, frac := math.Modf(k.NumberValue)
		ts := &timestamppb.Timestamp{Seconds: int64(sec), Nanos: int32(frac * 1e9)}
		if err := ts.CheckValid(); err != nil {
			return time.Time{}, false, fmt.Errorf("%w: %s: %v", ErrInvalidField, key, err)
		}
		return ts.AsTime(), true, nil
	default:
		return time.Time{}, false, fmt.Errorf("%w: %s must be a timestamp string or unix seconds", ErrInvalidField, key)
	}
}

// TreeToStruct encodes the tree of cfg as it looked at at. The
// configuration itself is the top level node and the mounted equipment
// hangs below it.
func TreeToStruct(cfg *model.Configuration, t *tree.Tree, at time.Time) (*structpb.Struct, error) {
	top := NodeToMap(tree.NewConfigurationNode(cfg))
	top["children"] = treeToList(t)
	return structpb.NewStruct(map[string]any{
		"at":            FormatTime(at),
		"configuration": top,
	})
}

func treeToList(t *tree.Tree) []any {
	out := []any{}
	if t == nil {
		return out
	}
	for _, n := range t.Roots() {
		m := NodeToMap(n)
		if n.CanHaveChildren() {
			m["children"] = treeToList(n.Children())
		}
		out = append(out, m)
	}
	return out
}

// NodeToMap encodes a single node without its children.
func NodeToMap(n *tree.Node) map[string]any {
	m := map[string]any{
		"kind":  n.Kind().String(),
		"id":    n.EquipmentID(),
		"label": n.Label(),
	}
	if mount := n.Unpack(); mount != nil {
		base := mount.Base()
		m["mount_id"] = base.ID
		m["begin"] = FormatTime(base.BeginDate)
		m["end"] = formatTimePtr(base.EndDate)
		m["offset"] = []any{base.OffsetX, base.OffsetY, base.OffsetZ}
	}
	if eq := n.Equipment(); eq != nil {
		m["archived"] = eq.IsArchived()
	}
	return m
}

// ConflictToMap encodes a conflict including its rendered message. A nil
// conflict encodes as nil.
func ConflictToMap(c *validation.Conflict) map[string]any {
	if c == nil {
		return nil
	}
	perspective := "child"
	if c.Perspective == validation.PerspectiveParent {
		perspective = "parent"
	}
	return map[string]any{
		"perspective":     perspective,
		"subject":         refToMap(c.Subject),
		"target":          refToMap(c.Target),
		"property":        string(c.Property),
		"target_property": string(c.TargetProperty),
		"op":              string(c.Op),
		"value":           formatTimePtr(c.Value),
		"target_value":    formatTimePtr(c.TargetValue),
		"message":         validation.BuildErrorMessage(c),
	}
}

func refToMap(r validation.Ref) map[string]any {
	return map[string]any{"kind": r.Kind, "id": r.ID, "label": r.Label}
}

// VerdictToMap encodes the unmount verdict for one node.
func VerdictToMap(v validation.UnmountVerdict) map[string]any {
	m := map[string]any{
		"node":   NodeToMap(v.Node),
		"ok":     v.OK(),
		"reason": v.Reason.String(),
	}
	if v.Blocker != nil {
		m["blocker"] = NodeToMap(v.Blocker)
	}
	if v.ConflictingMount != nil {
		base := v.ConflictingMount.Base()
		m["conflicting_mount"] = map[string]any{
			"mount_id": base.ID,
			"label":    v.ConflictingMount.Mounted().Label(),
			"begin":    FormatTime(base.BeginDate),
		}
	}
	if loc := v.ConflictingLocation; loc != nil {
		m["conflicting_location"] = map[string]any{
			"id":    loc.ID,
			"label": loc.Label,
			"begin": formatTimePtr(loc.BeginDate),
			"end":   formatTimePtr(loc.EndDate),
		}
	}
	return m
}

// TimepointToMap encodes a timeline entry.
func TimepointToMap(tp timectrl.Timepoint) map[string]any {
	return map[string]any{
		"at":        FormatTime(tp.At),
		"kind":      tp.Kind.String(),
		"action_id": tp.ActionID,
		"label":     tp.Label,
	}
}
