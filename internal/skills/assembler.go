package skills

import "strings"

// priority returns the skill's assembler tier, defaulting to Standard.
func (s *SkillEntry) priority() SkillPriority {
	if s.Metadata == nil || s.Metadata.Priority == "" {
		return PriorityStandard
	}
	return s.Metadata.Priority
}

// modelInvocable reports whether the skill may be selected by the model,
// as opposed to only being reachable through its CommandName.
func (s *SkillEntry) modelInvocable() bool {
	return s.Metadata == nil || !s.Metadata.DisableModelInvocation
}

// AssembleInput carries everything the Prompt Assembler needs to build the
// <skills> block for one turn.
type AssembleInput struct {
	Skills        []*SkillEntry
	Gating        *GatingContext
	PersonaPrompt string
	TokenBudget   int
	EstimateTokens func(string) int
}

// Assemble filters skills by eligibility (enabled, gating, model-invocable),
// partitions the eligible set into Override/Standard/Supplementary tiers,
// and renders the <skills> block in the order: Override block, persona
// identity, Standard block, Supplementary block. Override-tier and
// Metadata.Always skills are never dropped for budget; Standard and
// Supplementary are trimmed oldest-dropped-first once the budget runs out.
func Assemble(in AssembleInput) string {
	eligible := FilterEligible(modelInvocableOnly(in.Skills), in.Gating)

	var override, standard, supplementary []*SkillEntry
	for _, s := range eligible {
		switch s.priority() {
		case PriorityOverride:
			override = append(override, s)
		case PrioritySupplementary:
			supplementary = append(supplementary, s)
		default:
			standard = append(standard, s)
		}
	}

	budget := in.TokenBudget
	mustInclude, rest := partitionMustInclude(standard)
	standard = append(mustInclude, trimToBudget(rest, &budget, in.EstimateTokens)...)
	supplementary = trimToBudget(supplementary, &budget, in.EstimateTokens)

	var b strings.Builder
	b.WriteString("<skills>\n")

	if len(override) > 0 {
		writeTierBlock(&b, "override", override)
	}
	if in.PersonaPrompt != "" {
		b.WriteString(in.PersonaPrompt)
		b.WriteString("\n")
	}
	if len(standard) > 0 {
		writeTierBlock(&b, "standard", standard)
	}
	if len(supplementary) > 0 {
		writeTierBlock(&b, "supplementary", supplementary)
	}

	b.WriteString("</skills>")
	return b.String()
}

func modelInvocableOnly(entries []*SkillEntry) []*SkillEntry {
	out := make([]*SkillEntry, 0, len(entries))
	for _, s := range entries {
		if s.modelInvocable() {
			out = append(out, s)
		}
	}
	return out
}

// partitionMustInclude splits off skills marked Metadata.Always, which are
// never subject to budget trimming, from the rest of the Standard tier.
func partitionMustInclude(entries []*SkillEntry) (mustInclude, rest []*SkillEntry) {
	for _, s := range entries {
		if s.Metadata != nil && s.Metadata.Always {
			mustInclude = append(mustInclude, s)
		} else {
			rest = append(rest, s)
		}
	}
	return
}

func trimToBudget(entries []*SkillEntry, budget *int, estimate func(string) int) []*SkillEntry {
	if estimate == nil {
		return entries
	}
	var kept []*SkillEntry
	for _, s := range entries {
		cost := estimate(s.Description)
		if cost > *budget {
			continue
		}
		kept = append(kept, s)
		*budget -= cost
	}
	return kept
}

func writeTierBlock(b *strings.Builder, tier string, entries []*SkillEntry) {
	b.WriteString("<" + tier + ">\n")
	for _, s := range entries {
		b.WriteString("- ")
		b.WriteString(s.Name)
		b.WriteString(": ")
		b.WriteString(s.Description)
		b.WriteString("\n")
	}
	b.WriteString("</" + tier + ">\n")
}
