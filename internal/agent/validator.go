package agent

import (
	"fmt"
	"strings"

	"aethernet/internal/brain"
)

// Validation error tokens recorded per problem found.
const (
	errMissingSummary    = "missing_summary"
	errMissingActions    = "missing_actions"
	errProviderMalformed = "provider_marked_malformed"
)

// fallbackSummary replaces an empty brain summary.
const fallbackSummary = "Autonomous turn completed."

// ValidatorPolicy bounds one validation pass.
type ValidatorPolicy struct {
	MaxActions      int
	MaxSleepMs      int
	StrictAllowlist bool
	Allowlist       map[string]bool
}

// Validation is the outcome of validating a brain plan. Output is
// always executable: a non-empty summary and at least one action.
type Validation struct {
	Malformed bool
	Errors    []string
	Output    brain.TurnOutput
}

// ValidateTurn normalizes a brain plan against the policy. It is
// idempotent: validating its own Output again yields the same Output
// and no errors.
func ValidateTurn(out brain.TurnOutput, p ValidatorPolicy) Validation {
	var errs []string
	var structural []string

	maxActions := p.MaxActions
	if maxActions < 1 {
		maxActions = 1
	}

	actions := out.NextActions
	if len(actions) > maxActions {
		actions = actions[:maxActions]
	}

	kept := make([]brain.Action, 0, len(actions))
	for _, a := range actions {
		if !p.Allowlist[a.Type] {
			errs = append(errs, "action_not_allowed:"+a.Type)
			continue
		}
		kept = append(kept, a)
	}

	var sleepMs *int
	if out.SleepMs != nil {
		v := *out.SleepMs
		if v < 0 {
			v = 0
		}
		if v > p.MaxSleepMs {
			v = p.MaxSleepMs
		}
		sleepMs = &v
	}

	summary := strings.TrimSpace(out.Summary)
	if summary == "" {
		errs = append(errs, errMissingSummary)
		structural = append(structural, errMissingSummary)
		summary = fallbackSummary
	}
	if len(out.NextActions) == 0 {
		errs = append(errs, errMissingActions)
		structural = append(structural, errMissingActions)
	}
	if out.Integrity == brain.IntegrityMalformed {
		errs = append(errs, errProviderMalformed)
		structural = append(structural, errProviderMalformed)
	}

	malformed := (p.StrictAllowlist && len(errs) > 0) ||
		(!p.StrictAllowlist && len(structural) > 0)

	if len(kept) == 0 {
		kept = []brain.Action{{Type: brain.ActionNoop, Reason: "no_actions"}}
	}

	return Validation{
		Malformed: malformed,
		Errors:    errs,
		Output: brain.TurnOutput{
			Summary:      summary,
			NextActions:  kept,
			MemoryWrites: out.MemoryWrites,
			SleepMs:      sleepMs,
			Integrity:    brain.IntegrityOK,
		},
	}
}

// actionLabel renders one executed action for the turn metadata, as
// "<type>:<target>" where the target depends on the action kind.
func actionLabel(a brain.Action) string {
	target := "none"
	switch a.Type {
	case brain.ActionSendMessage:
		if to, ok := a.Params["to"].(string); ok && to != "" {
			target = to
		}
	case brain.ActionSelfModify:
		if p, ok := a.Params["targetPath"].(string); ok && p != "" {
			target = p
		}
	case brain.ActionRecordFact:
		if k, ok := a.Params["key"].(string); ok && k != "" {
			target = k
		}
	case brain.ActionInvokeTool:
		if name, ok := a.Params["toolName"].(string); ok && name != "" {
			target = name
		}
	case brain.ActionReplicate:
		if name, ok := a.Params["name"].(string); ok && name != "" {
			target = name
		}
	}
	return fmt.Sprintf("%s:%s", a.Type, target)
}
