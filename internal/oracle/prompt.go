package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kalambet/dailymatch/internal/engine"
)

// maxTextRunes caps each reflection in the prompt.
const maxTextRunes = 1500

const systemPromptTemplate = `You group members of a book club for a daily conversation. Every member read the same book, so titles, authors and genres carry no signal. Judge only the text each member wrote today: their reflection and their answer to today's question.

Your output must be ONLY a single valid JSON object that conforms to the provided schema. Do not include any other text, prose, or markdown.

Rules:
- Put every participant_id from the input in exactly one cluster. Never invent ids.
- Each cluster should have between %d and %d members.
- Where possible, each cluster should contain at least %d members of one gender.
- Group members whose reflections share interpretations, values or questions.
- "affinity" (0.0-1.0) is how well a member fits the rest of its cluster.
- For every pair of members in a cluster add one entry to "pairs": relation "similar" when their readings agree, "opposite" when they contrast. "score" (0.0-1.0) is the strength of that signal. You may give a second entry in the reverse direction only when the relation differs by direction.`

// BuildPrompt constructs the chat messages for a clustering request.
func BuildPrompt(req Request) ([]engine.Message, error) {
	system := fmt.Sprintf(systemPromptTemplate, req.MinSize, req.MaxSize, req.MinPerGender)

	entries := make([]Entry, len(req.Entries))
	for i, e := range req.Entries {
		entries[i] = Entry{
			ParticipantID: e.ParticipantID,
			Gender:        e.Gender,
			Review:        truncate(e.Review),
			Answer:        truncate(e.Answer),
		}
	}
	body, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding entries: %w", err)
	}

	var sb strings.Builder
	if q := strings.TrimSpace(req.Question); q != "" {
		fmt.Fprintf(&sb, "Today's question: %s\n\n", q)
	}
	fmt.Fprintf(&sb, "Participants (%d):\n%s", len(entries), body)

	return []engine.Message{
		{Role: engine.RoleSystem, Content: system},
		{Role: engine.RoleUser, Content: sb.String()},
	}, nil
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= maxTextRunes {
		return s
	}
	return string(r[:maxTextRunes]) + "…"
}
