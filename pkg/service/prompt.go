// Prompt context assembly for model calls
package service

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/parleyhq/parley/pkg/models"
)

// promptContext is everything one model call needs: the room framing, the
// speaker's persona, the current act and the windowed transcript. It is
// built under the room lock and then used outside it, so it owns copies.
type promptContext struct {
	Subject           string
	Mode              models.ConversationMode
	GlobalInstruction string
	Act               models.Act
	Speaker           models.Agent
	History           []models.ChatMessage
	Priority          *models.ChatMessage
	CharBudget        int
}

// modeFraming is the conversation_mode-specific system framing shared by
// all agents in a room.
var modeFraming = map[models.ConversationMode]string{
	models.ModePhilosophyDebate: "This is a philosophy debate. Pursue the principles behind each position; " +
		"prefer a sharpened disagreement over an easy agreement.",
	models.ModeDevilsAdvocate: "This is a devil's advocate session. Whatever direction the group leans, " +
		"someone must stress-test it; treat every consensus as provisional.",
	models.ModeConsensusLab: "This is a consensus lab. Look for the workable middle ground and name " +
		"explicitly what each side would have to give up.",
}

// systemPrompt renders the framing half of the call: room context, mode,
// act, global instruction and the speaker's persona.
func (pc *promptContext) systemPrompt() string {
	instruction := strings.TrimSpace(pc.GlobalInstruction)
	if instruction == "" {
		instruction = "none"
	}

	persona := pc.Speaker.CharacterProfile
	if pc.Speaker.RoleType == models.RoleFacilitator {
		persona = facilitatorBrief
	}

	var b strings.Builder
	b.WriteString("You are a participant in a multi-model roundtable conversation.\n\n")
	fmt.Fprintf(&b, "Subject: %s\n", pc.Subject)
	fmt.Fprintf(&b, "Format: %s\n", modeFraming[pc.Mode])
	fmt.Fprintf(&b, "Current phase: %s — %s\n\n", pc.Act, models.ActGoals[pc.Act])
	fmt.Fprintf(&b, "Standing instruction for everyone: %s\n\n", instruction)
	fmt.Fprintf(&b, "Your part:\n%s\n", persona)
	return b.String()
}

// renderHistory flattens the windowed transcript into the user half of the
// call. A pending priority message (user interruption or topic card) is
// appended last so the model treats it as the thing to react to. The
// result is tail-truncated to the character budget, keeping the most
// recent turns.
func (pc *promptContext) renderHistory() string {
	lines := make([]string, 0, len(pc.History)+1)
	for _, m := range pc.History {
		lines = append(lines, fmt.Sprintf("%s: %s", m.SpeakerID, m.Content))
	}
	if pc.Priority != nil {
		lines = append(lines, fmt.Sprintf("%s (priority): %s", pc.Priority.SpeakerID, pc.Priority.Content))
	}
	if len(lines) == 0 {
		return "The conversation has not started. Make the opening statement."
	}

	rendered := strings.Join(lines, "\n")
	budget := pc.CharBudget
	if budget > 0 && len(rendered) > budget {
		rendered = "(history truncated, most recent turns only)\n" + rendered[len(rendered)-budget:]
	}
	return rendered
}

// windowHistory applies the context window: the topic card and summary
// messages are always retained, and of the remaining turns only the most
// recent limit survive. Oldest ordinary turns are dropped first; relative
// order is preserved.
func windowHistory(messages []models.ChatMessage, limit int) []models.ChatMessage {
	if limit <= 0 {
		limit = 1
	}

	ordinary := 0
	for _, m := range messages {
		if !isPinnedSpeaker(m.SpeakerID) {
			ordinary++
		}
	}

	drop := ordinary - limit
	out := make([]models.ChatMessage, 0, len(messages))
	for _, m := range messages {
		if !isPinnedSpeaker(m.SpeakerID) && drop > 0 {
			drop--
			continue
		}
		out = append(out, m)
	}
	return out
}

// isPinnedSpeaker reports whether a message survives windowing regardless
// of age.
func isPinnedSpeaker(speakerID string) bool {
	return speakerID == models.SpeakerTopicCard || speakerID == models.SpeakerSummary
}

// buildTopicCard picks one of the spark prompts injected mid-conversation
// to keep the discussion concrete.
func buildTopicCard(subject string, rng *rand.Rand) string {
	cards := []string{
		fmt.Sprintf("Topic card: if you had to demo \"%s\" in thirty seconds, what is the first thing you show?", subject),
		fmt.Sprintf("Topic card: what is the most controversial part of \"%s\", and how would you defuse it first?", subject),
		fmt.Sprintf("Topic card: how could \"%s\" be offered as something free to try?", subject),
		fmt.Sprintf("Topic card: recommend \"%s\" to a friend in a single sentence.", subject),
	}
	return cards[rng.Intn(len(cards))]
}

// conclusionInstruction asks the facilitator model for the two closing
// summaries. The response is split on the marker line.
const conclusionMarker = "NEXT ACTION:"

func conclusionInstruction(subject string) string {
	return fmt.Sprintf(
		"The roundtable about \"%s\" is closing. Write two short paragraphs.\n"+
			"First: today's conclusion — the position the group landed on, two or three sentences.\n"+
			"Then a line containing exactly \"%s\" followed by one concrete next step that could be tried within a day.",
		subject, conclusionMarker)
}

// splitConclusion separates the model's closing response into the
// conclusion text and the next action. When the marker is missing, the
// whole response becomes the conclusion and the caller supplies a
// deterministic next action.
func splitConclusion(text string) (conclusion, nextAction string) {
	// The marker is matched case-insensitively against byte windows of the
	// original string, so the split offsets stay valid even when the
	// response contains runes whose case mapping changes their length.
	idx := -1
	for i := 0; i+len(conclusionMarker) <= len(text); i++ {
		if strings.EqualFold(text[i:i+len(conclusionMarker)], conclusionMarker) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return strings.TrimSpace(text), ""
	}
	conclusion = strings.TrimSpace(text[:idx])
	nextAction = strings.TrimSpace(text[idx+len(conclusionMarker):])
	return conclusion, nextAction
}
