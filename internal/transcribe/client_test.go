package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kalambet/starcoach/internal/pipeline"
)

func writeRecording(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "1_deadbeef.webm")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTranscribe_UploadsAndFlattens(t *testing.T) {
	var gotName, gotBody, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transcribe" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.Query().Get("word_timestamps")
		file, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		b, _ := io.ReadAll(file)
		gotName, gotBody = hdr.Filename, string(b)

		fmt.Fprint(w, `{
			"text": "  Um, I led the project.  ",
			"segments": [
				{"words": [{"word": " Um,", "start": 0.004, "end": 0.456}, {"word": " I", "start": 0.5, "end": 0.6}]},
				{"words": [{"word": " led", "start": 2.1234, "end": 2.5}, {"word": "  ", "start": 2.5, "end": 2.5}, {"word": " the project.", "start": 2.6, "end": 3.0049}]}
			]
		}`)
	}))
	defer srv.Close()

	path := writeRecording(t, "webm-bytes")
	tr, err := New(srv.URL+"/").Transcribe(context.Background(), path)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if gotQuery != "true" {
		t.Errorf("word_timestamps = %q, want true", gotQuery)
	}
	if gotName != "1_deadbeef.webm" || gotBody != "webm-bytes" {
		t.Errorf("uploaded %q with %q", gotName, gotBody)
	}
	if tr.Text != "Um, I led the project." {
		t.Errorf("text = %q", tr.Text)
	}
	if len(tr.Words) != 4 {
		t.Fatalf("words = %+v, want 4 (blank word dropped)", tr.Words)
	}
	first, third := tr.Words[0], tr.Words[2]
	if first.Word != "Um," || first.Start != 0 || first.End != 0.46 {
		t.Errorf("first word = %+v", first)
	}
	if third.Word != "led" || third.Start != 2.12 {
		t.Errorf("third word = %+v", third)
	}
	if last := tr.Words[3]; last.Word != "the project." || last.End != 3 {
		t.Errorf("last word = %+v", last)
	}
}

func TestTranscribe_NoSpeech(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		fmt.Fprint(w, `{"text":"","segments":[]}`)
	}))
	defer srv.Close()

	tr, err := New(srv.URL).Transcribe(context.Background(), writeRecording(t, "x"))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "" || len(tr.Words) != 0 {
		t.Errorf("transcription = %+v, want empty", tr)
	}
}

func TestTranscribe_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model crashed", http.StatusInternalServerError)
		}},
		{"bad json", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"text": `)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := New(srv.URL).Transcribe(context.Background(), writeRecording(t, "x"))
			if !errors.Is(err, pipeline.ErrTranscription) {
				t.Errorf("err = %v, want ErrTranscription", err)
			}
		})
	}
}

func TestTranscribe_MissingFile(t *testing.T) {
	_, err := New("http://127.0.0.1:1").Transcribe(context.Background(), filepath.Join(t.TempDir(), "nope.webm"))
	if !errors.Is(err, pipeline.ErrTranscription) || !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v", err)
	}
}

func TestTranscribe_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := New(srv.URL).Transcribe(context.Background(), writeRecording(t, "x"))
	if !errors.Is(err, pipeline.ErrTranscription) {
		t.Errorf("err = %v, want ErrTranscription", err)
	}
}

func TestTranscribe_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(srv.URL).Transcribe(ctx, writeRecording(t, "x"))
	if !errors.Is(err, pipeline.ErrTranscription) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want ErrTranscription wrapping deadline", err)
	}
}
