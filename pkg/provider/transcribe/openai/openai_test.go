package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tubescribe/tubescribe/pkg/provider/transcribe"
)

// ---- helpers ----

// recordedUpload captures what the mock server received.
type recordedUpload struct {
	auth     string
	fields   map[string]string
	filename string
	fileData string
}

// newMockServer returns an httptest server that records multipart uploads
// and replies with status and body.
func newMockServer(t *testing.T, status int, body string) (*httptest.Server, *recordedUpload) {
	t.Helper()
	rec := &recordedUpload{fields: make(map[string]string)}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.auth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart form: %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		for k, vs := range r.MultipartForm.Value {
			if len(vs) > 0 {
				rec.fields[k] = vs[0]
			}
		}
		if fhs := r.MultipartForm.File["file"]; len(fhs) > 0 {
			rec.filename = fhs[0].Filename
			f, err := fhs[0].Open()
			if err != nil {
				t.Errorf("open uploaded file: %v", err)
			} else {
				defer f.Close()
				buf := make([]byte, fhs[0].Size)
				n, _ := f.Read(buf)
				rec.fileData = string(buf[:n])
			}
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

// writeAudio creates a dummy audio file and returns its path.
func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vid123.mp3")
	if err := os.WriteFile(path, []byte("fake mp3 bytes"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	return path
}

const verboseBody = `{
  "language": "english",
  "duration": 8.1,
  "text": "Hello there. General Kenobi.",
  "segments": [
    {"start": 0.0, "end": 3.5, "text": " Hello there."},
    {"start": 3.5, "end": 8.1, "text": " General Kenobi."}
  ]
}`

// ---- construction ----

func TestNew_EmptyAPIKey_ReturnsError(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

// ---- transcription ----

func TestTranscribe_SendsExpectedForm(t *testing.T) {
	srv, rec := newMockServer(t, http.StatusOK, verboseBody)
	p, err := New("sk-test", WithEndpoint(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = p.Transcribe(context.Background(), writeAudio(t), transcribe.Options{Language: "de"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if rec.auth != "Bearer sk-test" {
		t.Errorf("Authorization = %q, want %q", rec.auth, "Bearer sk-test")
	}
	if rec.fields["model"] != DefaultModel {
		t.Errorf("model = %q, want %q", rec.fields["model"], DefaultModel)
	}
	if rec.fields["response_format"] != "verbose_json" {
		t.Errorf("response_format = %q, want verbose_json", rec.fields["response_format"])
	}
	if rec.fields["temperature"] != "0" {
		t.Errorf("temperature = %q, want 0", rec.fields["temperature"])
	}
	if rec.fields["language"] != "de" {
		t.Errorf("language = %q, want de", rec.fields["language"])
	}
	if rec.filename != "vid123.mp3" {
		t.Errorf("uploaded filename = %q, want vid123.mp3", rec.filename)
	}
	if rec.fileData != "fake mp3 bytes" {
		t.Errorf("uploaded bytes = %q", rec.fileData)
	}
}

func TestTranscribe_AutoLanguageIsElided(t *testing.T) {
	srv, rec := newMockServer(t, http.StatusOK, verboseBody)
	p, err := New("sk-test", WithEndpoint(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := p.Transcribe(context.Background(), writeAudio(t), transcribe.Options{Language: "auto"}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if _, ok := rec.fields["language"]; ok {
		t.Errorf("language field was sent for auto: %q", rec.fields["language"])
	}
}

func TestTranscribe_NormalizesVerboseResponse(t *testing.T) {
	srv, _ := newMockServer(t, http.StatusOK, verboseBody)
	p, err := New("sk-test", WithEndpoint(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := p.Transcribe(context.Background(), writeAudio(t), transcribe.Options{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "Hello there. General Kenobi." {
		t.Errorf("Text = %q", res.Text)
	}
	if res.Language != "english" {
		t.Errorf("Language = %q, want english", res.Language)
	}
	if len(res.Segments) != 2 {
		t.Fatalf("got %d segments, want 2", len(res.Segments))
	}
	if res.Segments[1].Start != 3.5 || res.Segments[1].End != 8.1 {
		t.Errorf("segment 1 = [%v, %v], want [3.5, 8.1]", res.Segments[1].Start, res.Segments[1].End)
	}
	if res.Segments[0].Text != "Hello there." {
		t.Errorf("segment 0 text = %q (want trimmed)", res.Segments[0].Text)
	}
}

func TestTranscribe_RemoteError_EmbedsMessage(t *testing.T) {
	srv, _ := newMockServer(t, http.StatusUnauthorized,
		`{"error": {"message": "Incorrect API key provided", "type": "invalid_request_error"}}`)
	p, err := New("sk-bad", WithEndpoint(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = p.Transcribe(context.Background(), writeAudio(t), transcribe.Options{})
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "Incorrect API key provided") {
		t.Errorf("error %q does not embed the remote message", err)
	}
}

func TestTranscribe_RemoteError_NonJSONBody(t *testing.T) {
	srv, _ := newMockServer(t, http.StatusBadGateway, "upstream exploded")
	p, err := New("sk-test", WithEndpoint(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = p.Transcribe(context.Background(), writeAudio(t), transcribe.Options{})
	if err == nil {
		t.Fatal("expected error for 502 response")
	}
	if !strings.Contains(err.Error(), "502") || !strings.Contains(err.Error(), "upstream exploded") {
		t.Errorf("error %q does not carry status and body excerpt", err)
	}
}

func TestTranscribe_MissingAudioFile_ReturnsError(t *testing.T) {
	p, err := New("sk-test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Transcribe(context.Background(), "/does/not/exist.mp3", transcribe.Options{}); err == nil {
		t.Fatal("expected error for missing audio file")
	}
}

// ---- response parsing ----

func TestParseVerboseResponse_EmptyLanguage_ReportsUnknown(t *testing.T) {
	res, err := parseVerboseResponse([]byte(`{"text": "hi", "segments": []}`))
	if err != nil {
		t.Fatalf("parseVerboseResponse: %v", err)
	}
	if res.Language != transcribe.LanguageUnknown {
		t.Errorf("Language = %q, want %q", res.Language, transcribe.LanguageUnknown)
	}
}

func TestParseVerboseResponse_EmptyText_JoinsSegments(t *testing.T) {
	res, err := parseVerboseResponse([]byte(`{
	  "language": "en",
	  "segments": [
	    {"start": 0, "end": 1, "text": " one"},
	    {"start": 1, "end": 2, "text": " two "}
	  ]
	}`))
	if err != nil {
		t.Fatalf("parseVerboseResponse: %v", err)
	}
	if res.Text != "one two" {
		t.Errorf("Text = %q, want %q", res.Text, "one two")
	}
}
