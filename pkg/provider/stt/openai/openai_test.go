package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/simpletutor/voicefront/pkg/audio"
	"github.com/simpletutor/voicefront/pkg/provider/stt"
)

func TestIsoLanguage(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"ja-JP": "ja",
		"en_US": "en",
		"DE":    "de",
		"":      "",
	}
	for in, want := range tests {
		if got := isoLanguage(in); got != want {
			t.Errorf("isoLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTranscribe(t *testing.T) {
	t.Parallel()

	var gotPrompt, gotModel, gotLang string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/transcriptions") {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotPrompt = r.FormValue("prompt")
		gotModel = r.FormValue("model")
		gotLang = r.FormValue("language")
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_, _ = io.Copy(io.Discard, f)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "  こんにちは \n"})
	}))
	defer srv.Close()

	tr, err := New("sk-test", WithBaseURL(srv.URL+"/v1/"), WithModel("whisper-1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	wav := audio.EncodeWAV(make([]byte, audio.FrameBytes), audio.SampleRate, 1)
	text, err := tr.Transcribe(context.Background(), stt.Request{
		Audio:    wav,
		Language: "ja-JP",
		Prompt:   "English or Japanese",
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "こんにちは" {
		t.Errorf("text = %q", text)
	}
	if gotPrompt != "English or Japanese" || gotModel != "whisper-1" || gotLang != "ja" {
		t.Errorf("form: prompt=%q model=%q language=%q", gotPrompt, gotModel, gotLang)
	}
}

func TestTranscribe_EmptyAudio(t *testing.T) {
	t.Parallel()
	tr, err := New("sk-test", WithBaseURL("http://127.0.0.1:1/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	text, err := tr.Transcribe(context.Background(), stt.Request{})
	if err != nil || text != "" {
		t.Errorf("got %q, %v; want empty, nil", text, err)
	}
}
