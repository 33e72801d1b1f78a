package enums

import "fmt"

// PlanStatus tracks the lifecycle state of a plan.
type PlanStatus string

const (
	PlanStatusActive     PlanStatus = "active"
	PlanStatusDeprecated PlanStatus = "deprecated"
	PlanStatusHidden     PlanStatus = "hidden"
)

var validPlanStatuses = []PlanStatus{
	PlanStatusActive,
	PlanStatusDeprecated,
	PlanStatusHidden,
}

// IsValid reports whether the value is a known PlanStatus.
func (p PlanStatus) IsValid() bool {
	for _, candidate := range validPlanStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// PlanTier orders plans from the smallest boutique to multi-branch chains.
type PlanTier string

const (
	PlanTierStarter    PlanTier = "starter"
	PlanTierPro        PlanTier = "pro"
	PlanTierEnterprise PlanTier = "enterprise"
)

var validPlanTiers = []PlanTier{PlanTierStarter, PlanTierPro, PlanTierEnterprise}

// ParsePlanTier converts raw input into a PlanTier.
func ParsePlanTier(value string) (PlanTier, error) {
	for _, candidate := range validPlanTiers {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid plan tier %q", value)
}
