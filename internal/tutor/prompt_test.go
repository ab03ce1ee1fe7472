package tutor_test

import (
	"strings"
	"testing"

	"github.com/simpletutor/voicefront/internal/config"
	"github.com/simpletutor/voicefront/internal/tutor"
)

func TestParseReply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		output string
		want   string
	}{
		{name: "empty", output: "  ", want: ""},
		{name: "plain text", output: "Konnichiwa!", want: "Konnichiwa!"},
		{
			name:   "json",
			output: `{"assistant_text": "Hi there.", "follow_up_question": "How are you?"}`,
			want:   "Hi there.\n\nHow are you?",
		},
		{
			name:   "fenced json",
			output: "```json\n{\"assistant_text\": \"Hola.\"}\n```",
			want:   "Hola.",
		},
		{
			name:   "json inside prose",
			output: `Sure: {"assistant_text": "Bonjour."} done`,
			want:   "Bonjour.",
		},
		{name: "broken json", output: `{"assistant_text": }`, want: `{"assistant_text": }`},
		{name: "json without text", output: `{"memory_suggestions": []}`, want: `{"memory_suggestions": []}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tutor.ParseReply(tt.output); got != tt.want {
				t.Errorf("ParseReply() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSTTPrompt(t *testing.T) {
	t.Parallel()

	if got := tutor.STTPrompt("Japanese"); got != "English or Japanese" {
		t.Errorf("STTPrompt = %q", got)
	}
	if got := tutor.STTPrompt(""); got != "English" {
		t.Errorf("STTPrompt(\"\") = %q", got)
	}
}

func TestSystemPrompt(t *testing.T) {
	t.Parallel()

	p := tutor.SystemPrompt(config.TutorConfig{LanguageLabel: "Japanese", Level: "Advanced", Mode: "chat"})
	for _, want := range []string{"practicing Japanese", "Level: Advanced", "Practice mode: chat", "Target language almost entirely", "assistant_text"} {
		if !strings.Contains(p, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
}

func TestMessages(t *testing.T) {
	t.Parallel()

	msgs := tutor.Messages([]tutor.Turn{{User: "hi", Tutor: "hola"}}, "thanks")
	if len(msgs) != 3 {
		t.Fatalf("len = %d, want 3", len(msgs))
	}
	wantRoles := []string{"user", "assistant", "user"}
	for i, m := range msgs {
		if m.Role != wantRoles[i] {
			t.Errorf("msgs[%d].Role = %q, want %q", i, m.Role, wantRoles[i])
		}
	}
	if msgs[2].Content != "thanks" {
		t.Errorf("last message = %q", msgs[2].Content)
	}
}
