package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tahcohcat/vocalize-web/internal/audio"
	"github.com/tahcohcat/vocalize-web/internal/catalog"
	"github.com/tahcohcat/vocalize-web/internal/database"
	"github.com/tahcohcat/vocalize-web/internal/services"
	"github.com/tahcohcat/vocalize-web/internal/session"
	"github.com/tahcohcat/vocalize-web/internal/tts"
	"github.com/tahcohcat/vocalize-web/internal/tts/ttstest"
	"github.com/tahcohcat/vocalize-web/internal/websocket"
)

type publishedEvent struct {
	Type string
	Data interface{}
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *fakePublisher) Publish(eventType string, data interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Type: eventType, Data: data})
}

func (p *fakePublisher) Events() []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedEvent(nil), p.events...)
}

var testVoices = []tts.Voice{
	{ID: "en-us", Name: "English (America)", Language: "english", Accent: "usa", Gender: "female"},
	{ID: "en-gb", Name: "English (Great Britain)", Language: "english", Accent: "uk", Gender: "male"},
	{ID: "mr", Name: "Marathi", Language: "marathi", Accent: "india", Gender: "unknown"},
}

type testEnv struct {
	router  *mux.Router
	online  *ttstest.Engine
	offline *ttstest.Engine
	store   *audio.Store
	history *services.HistoryService
	events  *fakePublisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cat := catalog.Default()

	online := ttstest.Online(tts.GTTSEngineID)
	offline := ttstest.Offline(tts.SystemEngineID)
	offline.VoiceList = append([]tts.Voice(nil), testVoices...)

	orchestrator, err := tts.NewOrchestrator(cat, online, offline, nil)
	require.NoError(t, err)

	dir := t.TempDir()
	store, err := audio.NewStore(audio.Options{Dir: filepath.Join(dir, "audio")})
	require.NoError(t, err)

	db, err := database.NewDB(context.Background(), filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	history := services.NewHistoryService(db)

	templates := filepath.Join(dir, "templates")
	require.NoError(t, os.MkdirAll(templates, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(templates, "index.html"), []byte("<h1>vocalize</h1>"), 0o644))

	events := &fakePublisher{}
	router := NewRouter(Routes{
		Speech: NewSpeechHandler(SpeechOptions{
			Catalog:        cat,
			Orchestrator:   orchestrator,
			Store:          store,
			History:        history,
			Sessions:       session.New("test-secret", time.Hour),
			Events:         events,
			RequestTimeout: 5 * time.Second,
		}),
		Catalog:      NewCatalogHandler(cat, orchestrator),
		History:      NewHistoryHandler(history),
		TemplatesDir: templates,
	})

	return &testEnv{
		router:  router,
		online:  online,
		offline: offline,
		store:   store,
		history: history,
		events:  events,
	}
}

func (env *testEnv) do(t *testing.T, method, target string, body interface{}, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, target, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestGenerateSpeech(t *testing.T) {
	testcases := []struct {
		name  string
		setup func(env *testEnv)
		body  map[string]string

		wantEngine   string
		wantFallback bool
		wantFormat   string
		wantAudio    string
		wantDistinct bool
		wantWarning  interface{}
	}{
		{
			name:         "defaults",
			body:         map[string]string{"text": "Hello world"},
			wantEngine:   "gtts",
			wantFormat:   "mp3",
			wantAudio:    "ID3-gtts",
			wantDistinct: true,
		},
		{
			name:         "marathi on the online engine",
			body:         map[string]string{"text": "नमस्कार", "language": "marathi", "accent": "india"},
			wantEngine:   "gtts",
			wantFormat:   "mp3",
			wantAudio:    "ID3-gtts",
			wantWarning:  "Note: Google TTS uses the same voice for both male and female in Marathi",
			wantDistinct: false,
		},
		{
			name: "limited variation without both offline genders",
			setup: func(env *testEnv) {
				env.offline.VoiceList = testVoices[:1]
			},
			body:        map[string]string{"text": "Hello", "accent": "india", "voice_gender": "male"},
			wantEngine:  "gtts",
			wantFormat:  "mp3",
			wantAudio:   "ID3-gtts",
			wantWarning: "Note: Limited voice variation available for english (india) accent",
		},
		{
			name:       "offline engine never warns",
			body:       map[string]string{"text": "नमस्कार", "engine": "system", "language": "marathi", "accent": "india"},
			wantEngine: "system",
			wantFormat: "wav",
			wantAudio:  "RIFF-system",
		},
		{
			name:         "legacy engine name",
			body:         map[string]string{"text": "Hello", "engine": "pyttsx3"},
			wantEngine:   "system",
			wantFormat:   "wav",
			wantAudio:    "RIFF-system",
			wantDistinct: true,
		},
		{
			name: "falls back to the offline engine",
			setup: func(env *testEnv) {
				env.online.Err = errors.New("network down")
			},
			body:         map[string]string{"text": "Hello"},
			wantEngine:   "system",
			wantFallback: true,
			wantFormat:   "wav",
			wantAudio:    "RIFF-system",
			wantDistinct: true,
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			if tc.setup != nil {
				tc.setup(env)
			}

			rec := env.do(t, http.MethodPost, "/generate_speech", tc.body)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			got := decodeBody(t, rec)
			assert.Equal(t, true, got["success"])
			assert.Equal(t, "Speech generated successfully!", got["message"])
			assert.Equal(t, tc.wantEngine, got["engine_used"])
			assert.Equal(t, tc.wantFallback, got["fallback_used"])
			assert.Equal(t, tc.wantFormat, got["audio_format"])
			assert.Equal(t, tc.wantDistinct, got["has_distinct_voices"])
			assert.Equal(t, tc.wantWarning, got["warning"])

			audioData, err := base64.StdEncoding.DecodeString(got["audio_data"].(string))
			require.NoError(t, err)
			assert.Equal(t, tc.wantAudio, string(audioData))

			gender := tc.body["voice_gender"]
			if gender == "" {
				gender = "female"
			}
			assert.Equal(t, gender, got["voice_gender"])
			assert.Equal(t, gender, got["actual_gender"])
		})
	}
}

func TestGenerateSpeechEchoesRequest(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/generate_speech", map[string]string{
		"text": "  Hello there  ", "language": "english", "accent": "uk", "voice_gender": "male",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := decodeBody(t, rec)
	assert.Equal(t, "english", got["language"])
	assert.Equal(t, "uk", got["accent"])
	assert.Equal(t, "gtts", got["requested_engine"])
	assert.Equal(t, "Fake gtts male", got["voice_used"])

	reqs := env.online.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, tts.Request{Text: "Hello there", Language: "english", Accent: "uk", Gender: "male"}, reqs[0])
}

func TestGenerateSpeechErrors(t *testing.T) {
	testcases := []struct {
		name       string
		setup      func(env *testEnv)
		body       interface{}
		wantStatus int
		wantError  string
	}{
		{
			name:       "invalid json",
			body:       "{not json",
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid request body",
		},
		{
			name:       "missing text",
			body:       map[string]string{},
			wantStatus: http.StatusBadRequest,
			wantError:  "No text provided",
		},
		{
			name:       "blank text",
			body:       map[string]string{"text": " \n\t "},
			wantStatus: http.StatusBadRequest,
			wantError:  "No text provided",
		},
		{
			name:       "text too long",
			body:       map[string]string{"text": strings.Repeat("a", tts.MaxTextLength+1)},
			wantStatus: http.StatusBadRequest,
			wantError:  "Text too long. Maximum 5000 characters allowed.",
		},
		{
			name:       "unknown engine",
			body:       map[string]string{"text": "Hello", "engine": "festival"},
			wantStatus: http.StatusBadRequest,
			wantError:  `unknown speech engine: "festival"`,
		},
		{
			name: "both engines fail",
			setup: func(env *testEnv) {
				env.online.Err = errors.New("network down")
				env.offline.Err = errors.New("no synthesizer")
			},
			body:       map[string]string{"text": "Hello"},
			wantStatus: http.StatusInternalServerError,
			wantError:  "Failed to generate speech with both engines",
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			if tc.setup != nil {
				tc.setup(env)
			}

			rec := env.do(t, http.MethodPost, "/generate_speech", tc.body)
			assert.Equal(t, tc.wantStatus, rec.Code)
			assert.Equal(t, tc.wantError, decodeBody(t, rec)["error"])

			_, err := env.store.Latest()
			assert.ErrorIs(t, err, audio.ErrNotFound, "no clip is stored on failure")
			assert.Empty(t, env.events.Events())
		})
	}
}

func TestGenerateSpeechMaxLengthAccepted(t *testing.T) {
	env := newTestEnv(t)

	// 5000 multi-byte characters are within the limit
	rec := env.do(t, http.MethodPost, "/generate_speech", map[string]string{"text": strings.Repeat("म", tts.MaxTextLength)})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestGenerateSpeechSideEffects(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/generate_speech", map[string]string{"text": "Hello world", "engine": "system"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	audioID := decodeBody(t, rec)["audio_id"].(string)
	require.Len(t, audioID, 8)

	clip, err := env.store.Open(audioID)
	require.NoError(t, err)
	assert.Equal(t, tts.FormatWAV, clip.Format)

	latest, err := env.history.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, audioID, latest.AudioID)
	assert.Equal(t, "system", latest.EngineUsed)
	assert.Equal(t, "Hello world", latest.TextPreview)
	assert.Equal(t, 11, latest.TextLength)
	assert.Equal(t, clip.FileName(), latest.FileName)

	assert.NotEmpty(t, rec.Result().Cookies(), "the clip is remembered in the session")

	events := env.events.Events()
	require.Len(t, events, 1)
	assert.Equal(t, websocket.EventSpeechGenerated, events[0].Type)
	assert.Equal(t, audioID, events[0].Data.(map[string]interface{})["audio_id"])
}

func TestDownloadAudio(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/download_audio", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "No audio file found", decodeBody(t, rec)["error"])

	// two visitors, one clip each
	first := env.do(t, http.MethodPost, "/generate_speech", map[string]string{"text": "first", "engine": "system"})
	require.Equal(t, http.StatusOK, first.Code)
	second := env.do(t, http.MethodPost, "/generate_speech", map[string]string{"text": "second"})
	require.Equal(t, http.StatusOK, second.Code)

	t.Run("session clip", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/download_audio", nil, first.Result().Cookies()...)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "attachment; filename=generated_speech.wav", rec.Header().Get("Content-Disposition"))
		assert.Equal(t, "audio/wav", rec.Header().Get("Content-Type"))
		assert.Equal(t, "RIFF-system", rec.Body.String())
	})

	t.Run("explicit id", func(t *testing.T) {
		id := decodeBody(t, second)["audio_id"].(string)
		rec := env.do(t, http.MethodGet, "/download_audio?id="+id, nil, first.Result().Cookies()...)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "attachment; filename=generated_speech.mp3", rec.Header().Get("Content-Disposition"))
		assert.Equal(t, "ID3-gtts", rec.Body.String())
	})

	t.Run("unknown id", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/download_audio?id=deadbeef", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("newest clip without a session", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/download_audio", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "generated_speech.")
	})
}

func TestDownloadAudioSessionClipPruned(t *testing.T) {
	env := newTestEnv(t)

	first := env.do(t, http.MethodPost, "/generate_speech", map[string]string{"text": "first", "engine": "system"})
	require.Equal(t, http.StatusOK, first.Code)
	clip, err := env.store.Open(decodeBody(t, first)["audio_id"].(string))
	require.NoError(t, err)
	require.NoError(t, os.Remove(clip.Path))

	second := env.do(t, http.MethodPost, "/generate_speech", map[string]string{"text": "second"})
	require.Equal(t, http.StatusOK, second.Code)

	rec := env.do(t, http.MethodGet, "/download_audio", nil, first.Result().Cookies()...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ID3-gtts", rec.Body.String())
}
