package voice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neverland-app/neverland/internal/log"
)

func newTestSynthesizer(t *testing.T, handler http.HandlerFunc) *Synthesizer {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewSynthesizer(Options{
		BaseURL:       srv.URL,
		APIKey:        "test-key",
		DefaultVoice:  "default-voice",
		AudioDir:      t.TempDir(),
		MaxTextLength: 150,
	}, log.NewNop())
}

func TestSynthesize(t *testing.T) {
	ctx := context.Background()

	t.Run("posts to the voice stream endpoint", func(t *testing.T) {
		var gotPath, gotKey string
		var gotReq synthesisRequest

		s := newTestSynthesizer(t, func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotKey = r.Header.Get("xi-api-key")
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
			w.Write([]byte("mp3-bytes"))
		})

		ref, err := s.Synthesize(ctx, "hello dear", "voice-42")
		require.NoError(t, err)

		assert.Equal(t, "/v1/text-to-speech/voice-42/stream", gotPath)
		assert.Equal(t, "test-key", gotKey)
		assert.Equal(t, "hello dear", gotReq.Text)
		assert.Equal(t, synthesisModelID, gotReq.ModelID)
		assert.Equal(t, 0.8, gotReq.VoiceSettings.Stability)
		assert.True(t, gotReq.VoiceSettings.UseSpeakerBoost)

		data, err := os.ReadFile(filepath.Join(s.audioDir, ref))
		require.NoError(t, err)
		assert.Equal(t, "mp3-bytes", string(data))
		assert.True(t, strings.HasSuffix(ref, ".mp3"))
	})

	t.Run("falls back to the default voice", func(t *testing.T) {
		var gotPath string
		s := newTestSynthesizer(t, func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			w.Write([]byte("x"))
		})

		_, err := s.Synthesize(ctx, "hi", "")
		require.NoError(t, err)
		assert.Equal(t, "/v1/text-to-speech/default-voice/stream", gotPath)
	})

	t.Run("no voice configured", func(t *testing.T) {
		s := newTestSynthesizer(t, func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("request should not be sent")
		})
		s.defaultVoice = ""

		_, err := s.Synthesize(ctx, "hi", "")
		assert.ErrorIs(t, err, ErrNoVoice)
	})

	t.Run("clips long text before synthesis", func(t *testing.T) {
		var gotReq synthesisRequest
		s := newTestSynthesizer(t, func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
			w.Write([]byte("x"))
		})

		long := strings.Repeat("很", 200)
		_, err := s.Synthesize(ctx, long, "v")
		require.NoError(t, err)
		assert.Equal(t, 150, utf8.RuneCountInString(gotReq.Text))
	})

	t.Run("non-200 response fails", func(t *testing.T) {
		s := newTestSynthesizer(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "voice not found", http.StatusNotFound)
		})

		_, err := s.Synthesize(ctx, "hi", "missing")
		assert.ErrorIs(t, err, ErrSynthesisFailed)
		assert.Contains(t, err.Error(), "404")
	})
}

func TestClip(t *testing.T) {
	assert.Equal(t, "abc", clip("abc", 5))
	assert.Equal(t, "ab", clip("abc", 2))
	assert.Equal(t, "你好", clip("你好嗎", 2))
	assert.Equal(t, "abc", clip("abc", 0))
}
