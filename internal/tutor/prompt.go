package tutor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/simpletutor/voicefront/internal/config"
	"github.com/simpletutor/voicefront/pkg/provider/llm"
)

// STTPrompt is the recognition hint for a learner mixing English with the
// target language.
func STTPrompt(languageLabel string) string {
	if languageLabel == "" {
		return "English"
	}
	return "English or " + languageLabel
}

func languageMix(level string) string {
	switch strings.ToLower(level) {
	case "beginner":
		return "Mostly English. Use short target-language phrases when helpful."
	case "intermediate":
		return "Mostly target language, with brief English clarifications as needed."
	case "advanced":
		return "Target language almost entirely; English only if truly needed."
	case "grammar":
		return "Explain in English, show short target-language examples."
	default:
		return "Balanced mix."
	}
}

func guidance(level string) string {
	switch strings.ToLower(level) {
	case "beginner":
		return `Keep the pace gentle. Be responsive to what the user actually asked.
Avoid overwhelming the learner. If you give a longer example, keep it simple and do not pack it with many new words or grammar points at once.
When you introduce something new, use it in a natural sentence and then continue the conversation with one relevant question.
Avoid scripted drills and repetitive coaching phrasing.`
	case "intermediate":
		return "Be conversational and helpful; focus on fluency and natural phrasing."
	case "advanced":
		return "Be concise and natural; prioritize nuance and idiomatic usage."
	case "grammar":
		return "Be clear and practical; focus on one grammar point with examples."
	default:
		return "Be conversational and helpful."
	}
}

// SystemPrompt builds the tutor instructions for the learner described by tc.
func SystemPrompt(tc config.TutorConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a language tutor speaking through TTS (audio). The learner speaks English and is practicing %s.\n", tc.LanguageLabel)
	fmt.Fprintf(&b, "Level: %s.", tc.Level)
	if tc.Mode != "" {
		fmt.Fprintf(&b, " Practice mode: %s.", tc.Mode)
	}
	fmt.Fprintf(&b, "\nLanguage mix: %s\n\n", languageMix(tc.Level))
	b.WriteString(`Goal: produce a helpful, natural next tutor turn that matches the user's intent.
Decision rule: answer the user's request first; then, if it fits, continue with a short prompt that helps the learner practice something real.

Practice loop:
- If you introduce a word or phrase, immediately place it in a tiny real-life situation and invite the learner to respond using it.
- Do not offer a menu of topics unless the user explicitly asks you to pick one.

`)
	b.WriteString(guidance(tc.Level))
	b.WriteString(`

TTS formatting constraints:
- Do not use speaker labels such as "Tutor:" or "User:".
- Do not include English phonetic spellings for target-language text.
- Avoid meta-instructions like "repeat after me" or "type". If you invite practice, do it as a normal question.

Output JSON only:
- assistant_text: what you will say (spoken by TTS)
- follow_up_question: optional, only if it feels natural; prefer a practice question tied to the user's message`)
	return b.String()
}

// Messages renders recent turns followed by the new learner utterance.
func Messages(recent []Turn, text string) []llm.Message {
	msgs := make([]llm.Message, 0, len(recent)*2+1)
	for _, t := range recent {
		msgs = append(msgs,
			llm.Message{Role: "user", Content: t.User},
			llm.Message{Role: "assistant", Content: t.Tutor},
		)
	}
	return append(msgs, llm.Message{Role: "user", Content: text})
}

type replyJSON struct {
	AssistantText    string `json:"assistant_text"`
	FollowUpQuestion string `json:"follow_up_question"`
}

// ParseReply extracts the spoken text from model output. Output that is not
// the expected JSON object (optionally inside a code fence) is spoken as is.
func ParseReply(output string) string {
	output = strings.TrimSpace(output)
	if output == "" {
		return ""
	}
	obj, ok := extractJSON(output)
	if !ok {
		return output
	}
	var r replyJSON
	if err := json.Unmarshal([]byte(obj), &r); err != nil {
		return output
	}
	parts := make([]string, 0, 2)
	if s := strings.TrimSpace(r.AssistantText); s != "" {
		parts = append(parts, s)
	}
	if s := strings.TrimSpace(r.FollowUpQuestion); s != "" {
		parts = append(parts, s)
	}
	if len(parts) == 0 {
		return output
	}
	return strings.Join(parts, "\n\n")
}

// extractJSON returns the outermost brace-delimited span of s, which also
// strips a surrounding code fence.
func extractJSON(s string) (string, bool) {
	start, end := strings.IndexByte(s, '{'), strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}
