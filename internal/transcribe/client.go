// Package transcribe converts answer recordings to text with word timings
// through an HTTP Whisper ASR service.
package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/kalambet/starcoach/internal/pipeline"
	"github.com/kalambet/starcoach/internal/storage"
)

// Client implements pipeline.Transcriber. It holds no per-call state and is
// safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client for the ASR service at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

type asrResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		Words []struct {
			Word  string  `json:"word"`
			Start float64 `json:"start"`
			End   float64 `json:"end"`
		} `json:"words"`
	} `json:"segments"`
}

// Transcribe uploads the recording at mediaPath and returns its transcript.
// Every failure wraps pipeline.ErrTranscription.
func (c *Client) Transcribe(ctx context.Context, mediaPath string) (pipeline.Transcription, error) {
	f, err := os.Open(mediaPath)
	if err != nil {
		return pipeline.Transcription{}, fmt.Errorf("%w: opening recording: %w", pipeline.ErrTranscription, err)
	}
	defer f.Close()

	// Stream the upload so large recordings are never held in memory.
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filepath.Base(mediaPath))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe?word_timestamps=true", pr)
	if err != nil {
		pr.Close()
		return pipeline.Transcription{}, fmt.Errorf("%w: creating request: %w", pipeline.ErrTranscription, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pipeline.Transcription{}, fmt.Errorf("%w: %w", pipeline.ErrTranscription, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return pipeline.Transcription{}, fmt.Errorf("%w: asr status %d: %s", pipeline.ErrTranscription, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var ar asrResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return pipeline.Transcription{}, fmt.Errorf("%w: decoding asr response: %w", pipeline.ErrTranscription, err)
	}
	return ar.flatten(), nil
}

// flatten joins the words of all segments, trimming each word and rounding
// times to centiseconds. Words that are blank after trimming are dropped.
func (ar asrResponse) flatten() pipeline.Transcription {
	var words []storage.Word
	for _, seg := range ar.Segments {
		for _, w := range seg.Words {
			text := strings.TrimSpace(w.Word)
			if text == "" {
				continue
			}
			words = append(words, storage.Word{
				Word:  text,
				Start: round2(w.Start),
				End:   round2(w.End),
			})
		}
	}
	return pipeline.Transcription{
		Text:  strings.TrimSpace(ar.Text),
		Words: words,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
