package agent

import (
	"context"
	"fmt"
	"sort"
	"time"

	"aethernet/internal/brain"
	"aethernet/internal/store"
)

// Per-tick assembly bounds.
const (
	recentTurnLimit = 20
	memoryLimit     = 150
	inboxClaimLimit = 25
	pollLimit       = 50
)

// syncInbox polls the transport for messages received after the last
// recorded poll time and upserts them into the store.
func (o *Orchestrator) syncInbox(ctx context.Context) error {
	var since time.Time
	if raw, ok, err := o.store.GetKV(store.KVLastPollAt); err != nil {
		return err
	} else if ok {
		if t, perr := time.Parse(time.RFC3339Nano, raw); perr == nil {
			since = t
		}
	}

	msgs, err := o.transport.Poll(ctx, since, pollLimit)
	if err != nil {
		return fmt.Errorf("poll transport: %w", err)
	}
	for i := range msgs {
		if err := o.store.UpsertMessage(&msgs[i]); err != nil {
			return fmt.Errorf("upsert inbound message: %w", err)
		}
	}
	return o.store.SetKV(store.KVLastPollAt, time.Now().UTC().Format(time.RFC3339Nano))
}

// claimInbox marks up to inboxClaimLimit messages processed and
// returns them as brain input. Each message is claimed exactly once.
func (o *Orchestrator) claimInbox() ([]brain.InboxMessage, error) {
	msgs, err := o.store.PollMessages(inboxClaimLimit)
	if err != nil {
		return nil, err
	}
	out := make([]brain.InboxMessage, 0, len(msgs))
	for _, m := range msgs {
		if err := o.store.MarkMessageProcessed(m.ID); err != nil {
			return nil, fmt.Errorf("claim message %s: %w", m.ID, err)
		}
		out = append(out, brain.InboxMessage{
			ID: m.ID, From: m.From, ThreadID: m.ThreadID, Content: m.Content,
		})
	}
	return out, nil
}

// assembleInput builds the full TurnInput for one brain call.
func (o *Orchestrator) assembleInput(tier string, estimatedUsd int, operatorPrompt string, inbox []brain.InboxMessage) (brain.TurnInput, error) {
	var in brain.TurnInput

	state := "running"
	if raw, ok, err := o.store.GetKV(store.KVAgentState); err == nil && ok {
		state = raw
	}
	in.Agent = brain.AgentInfo{Name: o.cfg.Name, Address: o.wallet.Address(), State: state}
	in.SurvivalTier = tier
	in.EstimatedUsd = estimatedUsd
	in.OperatorPrompt = operatorPrompt
	in.InboxMessages = inbox

	turns, err := o.store.RecentTurns(recentTurnLimit)
	if err != nil {
		return in, err
	}
	for _, t := range turns {
		in.RecentTurns = append(in.RecentTurns, turnSummary(t))
	}

	facts, err := o.store.RecentFacts(memoryLimit)
	if err != nil {
		return in, err
	}
	for _, f := range facts {
		in.Memory.Facts = append(in.Memory.Facts, brain.FactView{
			Key: f.Key, Value: f.Value, Confidence: f.Confidence,
		})
	}
	episodes, err := o.store.RecentEpisodes(memoryLimit)
	if err != nil {
		return in, err
	}
	for _, ep := range episodes {
		in.Memory.Episodes = append(in.Memory.Episodes, brain.EpisodeView{
			Summary: ep.Summary, Outcome: ep.Outcome, ActionType: ep.ActionType,
		})
	}

	if o.skills != nil {
		enabled, err := o.skills.Enabled(o.cfg.EnabledSkillIDs)
		if err != nil {
			return in, err
		}
		for _, sk := range enabled {
			in.Skills = append(in.Skills, brain.SkillView{
				ID: sk.ID, Name: sk.Name, Description: sk.Description,
			})
		}
	}

	for _, src := range o.tools.Sources() {
		in.ToolSources = append(in.ToolSources, brain.ToolSourceView{
			ID: src.ID, Name: src.Name, Type: src.Type, Enabled: src.Enabled,
		})
	}

	in.AvailableActions = o.availableActions()
	return in, nil
}

// availableActions lists the action types the executor would accept.
func (o *Orchestrator) availableActions() []string {
	var out []string
	for t := range brain.AllowedActionTypes() {
		if t == brain.ActionSelfModify && !o.cfg.Autonomy.AllowSelfModifyAction {
			continue
		}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// turnSummary compresses a stored turn for the brain's context.
func turnSummary(t store.Turn) brain.TurnSummary {
	s := brain.TurnSummary{ID: t.ID, Timestamp: t.Timestamp.Format(time.RFC3339)}
	if v, ok := t.Metadata["summary"].(string); ok {
		s.Summary = v
	}
	if raw, ok := t.Metadata["actions"].([]any); ok {
		for _, a := range raw {
			if label, ok := a.(string); ok {
				s.Actions = append(s.Actions, label)
			}
		}
	}
	return s
}
