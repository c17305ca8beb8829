// Persona generation - builds the fixed agent roster for a room
package service

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/parleyhq/parley/pkg/models"
)

// characterRole is one archetype a character can play. Roles are assigned
// by seeded shuffle so a room's cast is reproducible from its seed.
type characterRole struct {
	Name  string
	Focus string
	Style string
}

var roleLibrary = []characterRole{
	{
		Name:  "Pragmatist",
		Focus: "feasibility, cost and operational burden of every proposal",
		Style: "lays out steps, preconditions and trade-offs in plain terms",
	},
	{
		Name:  "Skeptic",
		Focus: "blind spots and falsifiability, keeping the debate honest",
		Style: "avoids absolutes and asks for the evidence behind claims",
	},
	{
		Name:  "Creator",
		Focus: "novel angles that raise the value of the experience",
		Style: "widens the field with concrete examples and analogies",
	},
	{
		Name:  "User Advocate",
		Focus: "user feelings, ease of use and reasons to come back",
		Style: "prioritizes how understandable the experience is",
	},
	{
		Name:  "Verifier",
		Focus: "turning claims into testable hypotheses",
		Style: "states hypothesis, checks and decision criteria together",
	},
	{
		Name:  "Historian",
		Focus: "precedents and what similar attempts taught us",
		Style: "anchors arguments in prior cases before extrapolating",
	},
}

var turnRules = []string{
	"Keep each turn to two to four sentences.",
	"Respond to one other participant's point before adding your own.",
	"End with one concrete question or point worth examining next.",
	"Do not repeat an argument you have already made.",
}

const facilitatorDisplayName = "Facilitator"

// facilitatorBrief is the facilitator's standing instruction; it has no
// character profile of its own.
const facilitatorBrief = "You are the facilitator. Keep the discussion on the subject, " +
	"summarize briefly where positions stand, and when the conversation moves to a new phase, " +
	"narrate the transition in one or two sentences before handing the floor back."

// GeneratePersonas builds the roster for a room: one facilitator bound to
// the first model, then one character per remaining model. With a single
// model the facilitator is the entire roster.
func GeneratePersonas(modelNames []string, subject string, seed int64) []models.Agent {
	rng := rand.New(rand.NewSource(seed))

	agents := make([]models.Agent, 0, len(modelNames))
	for i, name := range modelNames {
		if i == 0 {
			agents = append(agents, models.Agent{
				AgentID:     "facilitator",
				Model:       name,
				DisplayName: facilitatorDisplayName,
				RoleType:    models.RoleFacilitator,
			})
			continue
		}
		agents = append(agents, models.Agent{
			AgentID:  fmt.Sprintf("agent-%d", i),
			Model:    name,
			RoleType: models.RoleCharacter,
		})
	}

	assignCharacterProfiles(agents, subject, rng)
	return agents
}

// RegenerateCharacterProfiles rebuilds the character profiles in place,
// e.g. after the conversation mode or subject changed before start. Agent
// IDs, models and role types are preserved.
func RegenerateCharacterProfiles(agents []models.Agent, subject string, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for i := range agents {
		if agents[i].RoleType == models.RoleCharacter {
			agents[i].CharacterProfile = ""
			agents[i].DisplayName = ""
		}
	}
	assignCharacterProfiles(agents, subject, rng)
}

func assignCharacterProfiles(agents []models.Agent, subject string, rng *rand.Rand) {
	roles := make([]characterRole, len(roleLibrary))
	copy(roles, roleLibrary)
	rng.Shuffle(len(roles), func(i, j int) { roles[i], roles[j] = roles[j], roles[i] })

	assigned := 0
	for i := range agents {
		if agents[i].RoleType != models.RoleCharacter {
			continue
		}
		role := roles[assigned%len(roles)]
		displayName := role.Name
		if assigned >= len(roles) {
			displayName = fmt.Sprintf("%s %d", role.Name, assigned/len(roles)+1)
		}
		if agents[i].DisplayName == "" {
			agents[i].DisplayName = displayName
		}
		if agents[i].CharacterProfile == "" {
			agents[i].CharacterProfile = buildCharacterProfile(agents[i].AgentID, displayName, role, subject, rng)
		}
		assigned++
	}
}

func buildCharacterProfile(agentID, displayName string, role characterRole, subject string, rng *rand.Rand) string {
	rule := turnRules[rng.Intn(len(turnRules))]
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s (%s).\n", displayName, agentID)
	fmt.Fprintf(&b, "Role: %s\n", role.Name)
	fmt.Fprintf(&b, "Focus: %s\n", role.Focus)
	fmt.Fprintf(&b, "Voice: %s\n", role.Style)
	fmt.Fprintf(&b, "Subject under discussion: %s\n", subject)
	fmt.Fprintf(&b, "Turn rule: %s", rule)
	return b.String()
}

// ValidateRoster enforces the setup-time invariants: at least one agent and
// exactly one facilitator.
func ValidateRoster(agents []models.Agent) error {
	if len(agents) == 0 {
		return models.Validationf("room needs at least one agent")
	}
	facilitators := 0
	for _, a := range agents {
		switch a.RoleType {
		case models.RoleFacilitator:
			facilitators++
		case models.RoleCharacter:
		default:
			return models.Validationf("agent %s has unknown role type %q", a.AgentID, a.RoleType)
		}
	}
	if facilitators != 1 {
		return models.Validationf("room needs exactly one facilitator, got %d", facilitators)
	}
	return nil
}
