package validation

import (
	"fmt"
	"time"
)

// DisplayLayout is the date format used in validation messages.
const DisplayLayout = "2006-01-02 15:04"

func propertyText(p Property) string {
	switch p {
	case BeginDate:
		return "begin date"
	case EndDate:
		return "end date"
	default:
		return string(p)
	}
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "open end"
	}
	return t.UTC().Format(DisplayLayout)
}

// BuildErrorMessage renders c for users: the property, how it relates to
// the compared property and both values.
func BuildErrorMessage(c *Conflict) string {
	if c == nil {
		return ""
	}

	subject := fmt.Sprintf("%s of %s", propertyText(c.Property), c.Subject)
	target := fmt.Sprintf("%s of %s", propertyText(c.TargetProperty), c.Target)

	switch c.Op {
	case OpLessThan:
		return fmt.Sprintf("%s (%s) must not be before the %s (%s)",
			subject, formatDate(c.Value), target, formatDate(c.TargetValue))
	case OpGreaterThan:
		return fmt.Sprintf("%s (%s) must not be after the %s (%s)",
			subject, formatDate(c.Value), target, formatDate(c.TargetValue))
	case OpEmpty:
		if c.Value == nil {
			return fmt.Sprintf("%s must not be empty because the %s is %s",
				subject, target, formatDate(c.TargetValue))
		}
		return fmt.Sprintf("%s (%s) conflicts with the open %s",
			subject, formatDate(c.Value), target)
	default:
		return fmt.Sprintf("%s %s %s", subject, c.Op, target)
	}
}
