// Turn scheduler and act state machine - the per-room conversation loop
package service

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/parleyhq/parley/pkg/event"
	"github.com/parleyhq/parley/pkg/models"
)

func newSchedulerContext() (context.Context, context.CancelFunc) {
	return context.WithCancel(context.Background())
}

// actBridge is the short narrative the scheduler appends when the
// conversation moves into a new act.
var actBridge = map[models.Act]string{
	models.ActConflict:   "Positions are on the table. Moving into the conflict phase: lay out where you disagree and why.",
	models.ActConcretize: "The disagreements are clear. Moving into the concretize phase: turn them into proposals, steps and conditions.",
	models.ActClosing:    "The proposals are concrete enough. Moving into the closing phase: time to land the discussion.",
}

// runLoop is the scheduler for one room. It is the only goroutine that
// advances the conversation; control commands reach it through the room's
// flags, the wake channel and the context.
//
// Each iteration: pause gate, termination checks, speaker selection,
// context build, one gateway call, response policy, act advancement, then
// the inter-turn pacing sleep.
func (s *RoomService) runLoop(ctx context.Context, r *room) {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	defer close(done)

	for {
		r.mu.Lock()

		// Pause gate: freeze between turns until resume, stop or a
		// conclude request. State is kept; nothing is lost.
		for r.paused && ctx.Err() == nil && !r.concludeRequested {
			r.mu.Unlock()
			select {
			case <-ctx.Done():
			case <-r.wake:
			}
			r.mu.Lock()
		}

		if ctx.Err() != nil {
			r.mu.Unlock()
			s.finish(r, models.EndManualStop)
			return
		}
		if r.concludeRequested {
			r.mu.Unlock()
			s.concludeRoom(ctx, r)
			return
		}
		if r.roundsCompleted >= r.maxRounds {
			r.mu.Unlock()
			s.wrapUpMaxRounds(r)
			return
		}

		var pending []event.Event

		// Topic card: once per run, at the halfway point, a spark prompt
		// is dropped into the transcript and prioritized for the next
		// speaker.
		if !r.topicCardUsed && r.maxRounds >= 6 && r.roundsCompleted >= r.maxRounds/2 {
			card := r.appendMessageLocked(models.MessageRoleUser, models.SpeakerTopicCard,
				buildTopicCard(r.subject, r.cardRNG))
			r.topicCardUsed = true
			r.pendingPriority = &card
			pending = append(pending, event.MessageEvent{Room: r.id, Message: card})
		}

		roundIndex := r.roundsCompleted + 1
		facilitatorRound := roundIndex%s.cfg.FacilitatorCadence() == 0
		speaker := r.pickSpeakerLocked(facilitatorRound)
		pc := r.promptContextLocked(speaker, s.cfg.HistoryLimit(), s.cfg.PromptCharBudget(), false)

		reqEntry := r.appendLogLocked(models.GenerationLog{
			RoundIndex:  roundIndex,
			Model:       speaker.Model,
			DisplayName: speaker.DisplayName,
			Act:         r.currentAct,
			Status:      models.GenerationRequesting,
		})
		pending = append(pending, event.GenerationLogEvent{Room: r.id, Entry: reqEntry})
		act := r.currentAct
		r.mu.Unlock()

		s.emitAll(pending)

		// The only suspension points of a turn: the model call here and
		// the pacing sleep below. Both observe ctx.
		content, genErr := s.gateway.GenerateTurn(ctx, speaker, pc)

		r.mu.Lock()
		pending = pending[:0]

		if genErr != nil {
			failEntry := r.appendLogLocked(models.GenerationLog{
				RoundIndex:  roundIndex,
				Model:       speaker.Model,
				DisplayName: speaker.DisplayName,
				Act:         act,
				Status:      models.GenerationFailed,
				Detail:      genErr.Error(),
			})
			pending = append(pending, event.GenerationLogEvent{Room: r.id, Entry: failEntry})

			if ctx.Err() != nil {
				// Stop cancelled the call; the failure is bookkeeping,
				// not part of the streak.
				r.mu.Unlock()
				s.emitAll(pending)
				s.finish(r, models.EndManualStop)
				return
			}

			r.failStreak++
			exhausted := r.failStreak >= s.cfg.MaxConsecutiveFailures()
			r.mu.Unlock()
			s.emitAll(pending)

			s.logger.Warn("turn failed", "room", r.id, "round", roundIndex,
				"agent", speaker.AgentID, "error", genErr)
			if exhausted {
				s.finish(r, models.EndFailures)
				return
			}
		} else {
			msg := r.appendMessageLocked(models.MessageRoleAgent, speaker.AgentID, content)
			doneEntry := r.appendLogLocked(models.GenerationLog{
				RoundIndex:  roundIndex,
				Model:       speaker.Model,
				DisplayName: speaker.DisplayName,
				Act:         act,
				Status:      models.GenerationCompleted,
			})
			r.roundsCompleted++
			r.roundsInAct++
			r.failStreak = 0
			r.lastSpeakerID = speaker.AgentID

			pending = append(pending,
				event.MessageEvent{Room: r.id, Message: msg},
				event.GenerationLogEvent{Room: r.id, Entry: doneEntry},
			)

			// Act advancement: only the facilitator moves the
			// conversation forward, on its cadence turns, once the act
			// has had its budget of rounds. Forward only, never skipping.
			enteredClosing := false
			if facilitatorRound && speaker.RoleType == models.RoleFacilitator &&
				r.currentAct != models.ActClosing && r.roundsInAct >= s.cfg.RoundsPerAct() {
				next := models.NextAct(r.currentAct)
				r.currentAct = next
				r.roundsInAct = 0
				bridge := r.appendMessageLocked(models.MessageRoleAgent, models.SpeakerAct, actBridge[next])
				pending = append(pending, event.MessageEvent{Room: r.id, Message: bridge})
				enteredClosing = next == models.ActClosing
			}

			pending = append(pending, event.RoomStateEvent{State: r.stateLocked()})
			r.mu.Unlock()
			s.emitAll(pending)

			if enteredClosing {
				s.concludeRoom(ctx, r)
				return
			}
		}

		// Pacing: the interval is re-read each cycle so live changes take
		// effect at the next suspension, not retroactively.
		r.mu.Lock()
		interval := r.turnInterval
		r.mu.Unlock()
		if interval > 0 {
			timer := time.NewTimer(interval)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-r.wake:
				timer.Stop()
			case <-timer.C:
			}
		}
	}
}

// concludeRoom synthesizes the two closing summaries (4.1a): one extra
// gateway call in the facilitator's voice over the full transcript, with a
// deterministic fallback when the call fails. The call follows the same
// requesting/terminal generation-log contract as a normal turn.
func (s *RoomService) concludeRoom(ctx context.Context, r *room) {
	r.mu.Lock()
	facilitator := r.facilitatorLocked()
	roundIndex := r.roundsCompleted + 1
	pc := r.promptContextLocked(facilitator, 0, s.cfg.PromptCharBudget(), true)
	pc.Act = models.ActClosing
	instruction := r.appendlessConclusionPrompt()
	pc.Priority = &instruction

	reqEntry := r.appendLogLocked(models.GenerationLog{
		RoundIndex:  roundIndex,
		Model:       facilitator.Model,
		DisplayName: facilitator.DisplayName,
		Act:         models.ActClosing,
		Status:      models.GenerationRequesting,
	})
	r.mu.Unlock()
	s.emitter.Emit(event.GenerationLogEvent{Room: r.id, Entry: reqEntry})

	text, genErr := s.gateway.GenerateTurn(ctx, facilitator, pc)

	r.mu.Lock()
	var pending []event.Event

	var conclusion, nextAction string
	if genErr != nil {
		failEntry := r.appendLogLocked(models.GenerationLog{
			RoundIndex:  roundIndex,
			Model:       facilitator.Model,
			DisplayName: facilitator.DisplayName,
			Act:         models.ActClosing,
			Status:      models.GenerationFailed,
			Detail:      genErr.Error(),
		})
		pending = append(pending, event.GenerationLogEvent{Room: r.id, Entry: failEntry})
		conclusion = r.fallbackConclusionLocked()
		nextAction = fallbackNextAction(r.subject)
	} else {
		doneEntry := r.appendLogLocked(models.GenerationLog{
			RoundIndex:  roundIndex,
			Model:       facilitator.Model,
			DisplayName: facilitator.DisplayName,
			Act:         models.ActClosing,
			Status:      models.GenerationCompleted,
		})
		pending = append(pending, event.GenerationLogEvent{Room: r.id, Entry: doneEntry})
		conclusion, nextAction = splitConclusion(text)
		if conclusion == "" {
			conclusion = r.fallbackConclusionLocked()
		}
		if nextAction == "" {
			nextAction = fallbackNextAction(r.subject)
		}
	}

	m1 := r.appendMessageLocked(models.MessageRoleAgent, models.SpeakerSummary,
		"Today's conclusion: "+conclusion)
	m2 := r.appendMessageLocked(models.MessageRoleAgent, models.SpeakerSummary,
		"Next action: "+nextAction)
	pending = append(pending,
		event.MessageEvent{Room: r.id, Message: m1},
		event.MessageEvent{Room: r.id, Message: m2},
	)
	r.mu.Unlock()

	s.emitAll(pending)
	s.finish(r, models.EndUserConcluded)
}

// wrapUpMaxRounds ends a room that hit its round ceiling. The summaries
// are deterministic; no further model call is made.
func (s *RoomService) wrapUpMaxRounds(r *room) {
	r.mu.Lock()
	m1 := r.appendMessageLocked(models.MessageRoleAgent, models.SpeakerSummary,
		"Today's conclusion: the round limit was reached. "+r.fallbackConclusionLocked())
	m2 := r.appendMessageLocked(models.MessageRoleAgent, models.SpeakerSummary,
		"Next action: "+fallbackNextAction(r.subject))
	r.mu.Unlock()

	s.emitter.Emit(event.MessageEvent{Room: r.id, Message: m1})
	s.emitter.Emit(event.MessageEvent{Room: r.id, Message: m2})
	s.finish(r, models.EndMaxRounds)
}

// finish transitions running -> concluded exactly once per run. A stop
// reason recorded by Stop wins over the reason the loop arrived with.
func (s *RoomService) finish(r *room, reason models.EndReason) {
	r.mu.Lock()
	if r.stopReason != "" {
		reason = r.stopReason
	}
	r.running = false
	r.paused = false
	r.concludeRequested = false
	r.endReason = reason
	r.cancel = nil
	state := r.stateLocked()
	r.mu.Unlock()

	s.logger.Info("room finished", "room", r.id, "end_reason", reason, "rounds", state.RoundsCompleted)
	s.emitter.Emit(event.RoomStateEvent{State: state})
}

func (s *RoomService) emitAll(events []event.Event) {
	for _, ev := range events {
		s.emitter.Emit(ev)
	}
}

// ========== Room helpers (callers hold r.mu) ==========

// pickSpeakerLocked selects the next speaker: the facilitator
// deterministically on its cadence rounds, otherwise the room's selection
// policy over the full roster.
func (r *room) pickSpeakerLocked(facilitatorRound bool) models.Agent {
	if facilitatorRound {
		return r.facilitatorLocked()
	}
	eligible := make([]models.Agent, len(r.agents))
	copy(eligible, r.agents)
	return r.selector.Next(eligible, r.lastSpeakerID)
}

func (r *room) facilitatorLocked() models.Agent {
	for _, a := range r.agents {
		if a.RoleType == models.RoleFacilitator {
			return a
		}
	}
	// Roster is validated at start; this is unreachable for started rooms.
	return r.agents[0]
}

// promptContextLocked builds the context for one call and consumes the
// pending priority message. With fullHistory the whole transcript is used
// (conclusion call); otherwise the window applies.
func (r *room) promptContextLocked(speaker models.Agent, historyLimit, charBudget int, fullHistory bool) *promptContext {
	var history []models.ChatMessage
	if fullHistory {
		history = make([]models.ChatMessage, len(r.messages))
		copy(history, r.messages)
	} else {
		history = windowHistory(r.messages, historyLimit)
	}

	pc := &promptContext{
		Subject:           r.subject,
		Mode:              r.mode,
		GlobalInstruction: r.instruction,
		Act:               r.currentAct,
		Speaker:           speaker,
		History:           history,
		Priority:          r.pendingPriority,
		CharBudget:        charBudget,
	}
	r.pendingPriority = nil
	return pc
}

// appendlessConclusionPrompt wraps the closing instruction as a priority
// message without touching the transcript.
func (r *room) appendlessConclusionPrompt() models.ChatMessage {
	return models.ChatMessage{
		Role:      models.MessageRoleUser,
		SpeakerID: models.SpeakerUser,
		Content:   conclusionInstruction(r.subject),
	}
}

// fallbackConclusionLocked derives a deterministic conclusion from the
// last substantive agent turn.
func (r *room) fallbackConclusionLocked() string {
	for i := len(r.messages) - 1; i >= 0; i-- {
		m := r.messages[i]
		if m.Role != models.MessageRoleAgent || isPinnedSpeaker(m.SpeakerID) || m.SpeakerID == models.SpeakerAct {
			continue
		}
		text := m.Content
		if len(text) > 120 {
			cut := 117
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			text = text[:cut] + "..."
		}
		return text
	}
	return "The direction of the subject looks promising and is worth a short validation."
}

func fallbackNextAction(subject string) string {
	return fmt.Sprintf("Build the smallest prototype of %q that can be tried in five minutes and collect one reaction.", subject)
}
