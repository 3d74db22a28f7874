package session

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/queryd/internal/memory"
)

// maxRecentQuestions bounds how many past questions feed the planner.
const maxRecentQuestions = 4

// EntityHints carries identifiers the caller already knows, letting the
// UI pin a turn to a device or customer without restating them in the
// question.
type EntityHints struct {
	Serial   string `json:"serial,omitempty"`
	ClientID string `json:"client_id,omitempty"`
}

// assistantSummary is the JSON shape of assistant window messages.
type assistantSummary struct {
	Question      string           `json:"question"`
	DatabasesUsed []string         `json:"databases_used"`
	ResultCount   int              `json:"result_count"`
	ResultSample  []map[string]any `json:"result_sample"`
}

// buildContext renders the planner's conversation context from the
// window, recalled memories and entity hints. Returns "" when there is
// nothing useful to say.
func buildContext(messages []memory.Message, records []memory.Record, hints EntityHints) string {
	var sections []string

	if ref := referenceSection(messages, hints); ref != "" {
		sections = append(sections, ref)
	}

	if questions := recentQuestions(messages); len(questions) > 0 {
		var b strings.Builder
		b.WriteString("Recent questions:")
		for _, q := range questions {
			b.WriteString("\n- " + q)
		}
		sections = append(sections, b.String())
	}

	if len(records) > 0 {
		var b strings.Builder
		b.WriteString("Similar past conversations:")
		for _, rec := range records {
			b.WriteString("\n- Q: " + rec.Question)
			if rec.ResultSummary != "" {
				b.WriteString(" / " + rec.ResultSummary)
			}
		}
		sections = append(sections, b.String())
	}

	return strings.Join(sections, "\n\n")
}

// referenceSection extracts identifiers from the most recent assistant
// summary and merges in the caller's hints.
func referenceSection(messages []memory.Message, hints EntityHints) string {
	serials := make([]string, 0, 4)
	clientIDs := make([]string, 0, 4)
	var sample []map[string]any

	if hints.Serial != "" {
		serials = append(serials, hints.Serial)
	}
	if hints.ClientID != "" {
		clientIDs = append(clientIDs, hints.ClientID)
	}

	// Walk back to the latest assistant summary only; older ones are
	// stale context.
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != memory.RoleAssistant {
			continue
		}
		var summary assistantSummary
		if err := json.Unmarshal([]byte(messages[i].Content), &summary); err != nil {
			continue
		}
		for _, row := range summary.ResultSample {
			if v, ok := row["serial"].(string); ok && v != "" {
				serials = appendUnique(serials, v)
			}
			switch v := row["client_id"].(type) {
			case string:
				if v != "" {
					clientIDs = appendUnique(clientIDs, v)
				}
			case float64:
				clientIDs = appendUnique(clientIDs, fmt.Sprintf("%v", v))
			}
		}
		if len(summary.ResultSample) > 0 && sample == nil {
			sample = summary.ResultSample
		}
		break
	}

	if len(serials) == 0 && len(clientIDs) == 0 && sample == nil {
		return ""
	}

	var b strings.Builder
	b.WriteString("Reference information:")
	if len(serials) > 0 {
		b.WriteString("\nDevice serials: " + strings.Join(serials, ", "))
	}
	if len(clientIDs) > 0 {
		b.WriteString("\nClient IDs: " + strings.Join(clientIDs, ", "))
	}
	if sample != nil {
		if raw, err := json.Marshal(sample); err == nil {
			b.WriteString("\nPrevious result sample: " + string(raw))
		}
	}
	return b.String()
}

func recentQuestions(messages []memory.Message) []string {
	start := len(messages) - maxRecentQuestions
	if start < 0 {
		start = 0
	}
	var questions []string
	for _, msg := range messages[start:] {
		if msg.Role == memory.RoleHuman {
			questions = append(questions, msg.Content)
		}
	}
	return questions
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
