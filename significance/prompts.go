package significance

import (
	"strings"

	"github.com/hupe1980/storymesh/core"
)

const summaryInstruction = `Summarize this conversation concisely and chronologically, focusing on key information and events.
Analyze what happened and rate the conversation's significance on a scale of 0-10:
- 0-2: Not significant (greetings, small talk with no useful information)
- 3-5: Somewhat significant (basic information shared)
- 6-8: Significant (meaningful interaction, relationship development)
- 9-10: Highly significant (major revelations, critical information)

Format your response exactly like this:
[SUMMARY]
Your actual summary text here...
[SIGNIFICANCE: X]

Where X is the numeric significance rating (0-10).
Both sections are required.
`

// SummaryPrompt is the full history followed by the summarization
// instruction.
func SummaryPrompt(history []core.Message) []core.Message {
	out := core.CloneMessages(history)
	return append(out, core.System(summaryInstruction))
}

// EffectsPrompt asks which effects agent experienced in the conversation.
// others are the possible targets.
func EffectsPrompt(snap core.Snapshot, agent string, others []string) []core.Message {
	var b strings.Builder
	b.WriteString("Apply effects of this conversation between ")
	b.WriteString(snap.ParticipantLabel())
	b.WriteString(" and ")
	b.WriteString(strings.Join(snap.Agents, ", "))
	b.WriteString(".\n")
	b.WriteString("To apply effects, output the effects in the following format: \n")
	b.WriteString("Character: <name> possible values: " + agent + " \n")
	b.WriteString("Effect: <effect name> possible values: [relation] \n")
	b.WriteString("Target: <target name> possible values: " + strings.Join(others, ", ") + "\n")
	b.WriteString("Value: <integer>\n")
	b.WriteString("relation: -20, 20 (only change as much needed) \n")
	b.WriteString("Example: \n")
	b.WriteString("Conversation summarisation: Player helps NPC greatly, which gains trust. \n")
	b.WriteString("Character: " + agent + "\nEffect: relation\nTarget: player\nValue: 10 \n")
	b.WriteString("Here's the conversation, apply effects only if necessary: \n")
	b.WriteString(core.Transcript(snap.History))
	return []core.Message{core.System(b.String())}
}

// FindingsPrompt asks the model to classify personal knowledge and rumors.
func FindingsPrompt(snap core.Snapshot) []core.Message {
	instruction := "Analyze the following conversation and identify any significant information that should be:" +
		"\n1. Remembered by the specific NPCs involved (personal knowledge)" +
		"\n2. Spread as rumors throughout the location (location-based knowledge)" +
		"\n3. Ignored as trivial conversation" +
		"\nLocation: " + snap.Location +
		"\nNPCs involved: " + strings.Join(snap.Agents, ", ") +
		"\nFor each significant piece of information, format your response like this:" +
		"\n" + FindingSeparator +
		"\nType: [PERSONAL or RUMOR]" +
		"\nTarget: [NPC name or 'location']" +
		"\nImportance: [LOW, MEDIUM, HIGH]" +
		"\nInformation: [Concise description of what should be remembered]" +
		"\n" + FindingSeparator +
		"\nIf nothing significant occurred, respond with '" + NothingSignificant + ".'"
	out := []core.Message{core.System(instruction)}
	return append(out, snap.History...)
}

// LeaveSummaryPrompt summarizes a conversation for one agent that left it
// early.
func LeaveSummaryPrompt(snap core.Snapshot) []core.Message {
	var b strings.Builder
	b.WriteString("Summarize this conversation between ")
	b.WriteString(snap.ParticipantLabel())
	b.WriteString(" and NPCs ")
	b.WriteString(strings.Join(snap.Agents, ", "))
	b.WriteString(".\n")
	b.WriteString(core.Transcript(snap.History))
	return []core.Message{core.System(b.String())}
}
