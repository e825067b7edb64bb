// Package validation checks mount and unmount actions for temporal
// consistency with their parents, children, availabilities and dynamic
// locations. Business rule violations are returned as values, never as
// errors.
package validation

import (
	"fmt"
	"time"

	"github.com/signalsfoundry/equipment-mounts/model"
)

// Perspective selects whose side of a comparison a Conflict reports.
type Perspective int

const (
	// PerspectiveChild reports the contained action's property.
	PerspectiveChild Perspective = iota
	// PerspectiveParent reports the containing action's property.
	PerspectiveParent
)

// Property names a compared date field.
type Property string

const (
	BeginDate Property = "beginDate"
	EndDate   Property = "endDate"
)

// Op is the relation that made a comparison fail.
type Op string

const (
	// OpLessThan means the reported value is before the target value.
	OpLessThan Op = "<"
	// OpGreaterThan means the reported value is after the target value.
	OpGreaterThan Op = ">"
	// OpEmpty means one side is open ended while the other is bounded.
	OpEmpty Op = "empty"
)

func (o Op) mirror() Op {
	switch o {
	case OpLessThan:
		return OpGreaterThan
	case OpGreaterThan:
		return OpLessThan
	default:
		return o
	}
}

// Ref identifies one side of a comparison for display.
type Ref struct {
	Kind  string
	ID    string
	Label string
}

func (r Ref) String() string {
	if r.Label == "" {
		return r.Kind
	}
	return fmt.Sprintf("%s %q", r.Kind, r.Label)
}

func refOf(m model.Mounting) Ref {
	eq := m.Mounted()
	if eq == nil {
		return Ref{Kind: "mount", ID: m.Base().ID}
	}
	return Ref{Kind: eq.EquipmentKind().String(), ID: eq.EquipmentID(), Label: eq.Label()}
}

func refOfLocation(a *model.DynamicLocationAction) Ref {
	return Ref{Kind: "dynamic location", ID: a.ID, Label: a.Label}
}

// Conflict describes the first bound a time range violated. Value belongs
// to Subject and TargetValue to Target; a nil value is an open end.
type Conflict struct {
	Perspective Perspective

	Subject Ref
	Target  Ref

	Property       Property
	TargetProperty Property
	Op             Op

	Value       *time.Time
	TargetValue *time.Time
}

// String renders the conflict with BuildErrorMessage.
func (c *Conflict) String() string {
	return BuildErrorMessage(c)
}

// containment checks that child lies within parent. Checks run in a fixed
// order and the first failure is returned.
func containment(child, parent model.Interval, childRef, parentRef Ref, p Perspective) *Conflict {
	fail := func(prop, targetProp Property, op Op, value, target *time.Time) *Conflict {
		c := &Conflict{
			Perspective:    PerspectiveChild,
			Subject:        childRef,
			Target:         parentRef,
			Property:       prop,
			TargetProperty: targetProp,
			Op:             op,
			Value:          value,
			TargetValue:    target,
		}
		if p == PerspectiveParent {
			c = &Conflict{
				Perspective:    PerspectiveParent,
				Subject:        parentRef,
				Target:         childRef,
				Property:       targetProp,
				TargetProperty: prop,
				Op:             op.mirror(),
				Value:          target,
				TargetValue:    value,
			}
		}
		return c
	}

	begin := child.Begin
	parentBegin := parent.Begin

	if begin.Before(parentBegin) {
		return fail(BeginDate, BeginDate, OpLessThan, &begin, &parentBegin)
	}
	if parent.End != nil && begin.After(*parent.End) {
		return fail(BeginDate, EndDate, OpGreaterThan, &begin, timePtr(*parent.End))
	}
	if child.End != nil && child.End.Before(parentBegin) {
		return fail(EndDate, BeginDate, OpLessThan, timePtr(*child.End), &parentBegin)
	}
	if child.End != nil && parent.End != nil && child.End.After(*parent.End) {
		return fail(EndDate, EndDate, OpGreaterThan, timePtr(*child.End), timePtr(*parent.End))
	}
	if child.End == nil && parent.End != nil {
		return fail(EndDate, EndDate, OpEmpty, nil, timePtr(*parent.End))
	}
	return nil
}

func timePtr(t time.Time) *time.Time { return &t }
