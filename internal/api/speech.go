package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gorilla/mux"

	"github.com/tahcohcat/vocalize-web/internal/audio"
	"github.com/tahcohcat/vocalize-web/internal/catalog"
	"github.com/tahcohcat/vocalize-web/internal/logger"
	"github.com/tahcohcat/vocalize-web/internal/models"
	"github.com/tahcohcat/vocalize-web/internal/services"
	"github.com/tahcohcat/vocalize-web/internal/session"
	"github.com/tahcohcat/vocalize-web/internal/tts"
	"github.com/tahcohcat/vocalize-web/internal/websocket"
)

// Publisher broadcasts events to live clients.
type Publisher interface {
	Publish(eventType string, data interface{})
}

type SpeechHandler struct {
	catalog       *catalog.Catalog
	orchestrator  *tts.Orchestrator
	store         *audio.Store
	history       *services.HistoryService
	sessions      *session.Store
	events        Publisher
	defaultEngine string
	timeout       time.Duration
	maxBodyBytes  int64
	logger        *logger.Log
}

// SpeechOptions wires a SpeechHandler. History, Sessions and Events are
// optional.
type SpeechOptions struct {
	Catalog        *catalog.Catalog
	Orchestrator   *tts.Orchestrator
	Store          *audio.Store
	History        *services.HistoryService
	Sessions       *session.Store
	Events         Publisher
	DefaultEngine  string
	RequestTimeout time.Duration
	MaxBodyBytes   int64
}

func NewSpeechHandler(opts SpeechOptions) *SpeechHandler {
	if opts.DefaultEngine == "" {
		opts.DefaultEngine = tts.GTTSEngineID
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 16 << 20
	}
	return &SpeechHandler{
		catalog:       opts.Catalog,
		orchestrator:  opts.Orchestrator,
		store:         opts.Store,
		history:       opts.History,
		sessions:      opts.Sessions,
		events:        opts.Events,
		defaultEngine: opts.DefaultEngine,
		timeout:       opts.RequestTimeout,
		maxBodyBytes:  opts.MaxBodyBytes,
		logger:        logger.New().With("component", "api"),
	}
}

func (h *SpeechHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/generate_speech", h.GenerateSpeech).Methods("POST")
	r.HandleFunc("/download_audio", h.DownloadAudio).Methods("GET")
}

type SpeechRequest struct {
	Text        string `json:"text"`
	Engine      string `json:"engine"`
	VoiceGender string `json:"voice_gender"`
	Language    string `json:"language"`
	Accent      string `json:"accent"`
	Voice       string `json:"voice"` // optional offline voice hint
}

type SpeechResponse struct {
	Success           bool    `json:"success"`
	AudioData         string  `json:"audio_data"`
	Message           string  `json:"message"`
	EngineUsed        string  `json:"engine_used"`
	RequestedEngine   string  `json:"requested_engine"`
	FallbackUsed      bool    `json:"fallback_used"`
	VoiceUsed         string  `json:"voice_used"`
	VoiceGender       string  `json:"voice_gender"`
	ActualGender      string  `json:"actual_gender"`
	Language          string  `json:"language"`
	Accent            string  `json:"accent"`
	Warning           *string `json:"warning"`
	HasDistinctVoices bool    `json:"has_distinct_voices"`
	AudioFormat       string  `json:"audio_format"`
	AudioID           string  `json:"audio_id"`
}

func (req *SpeechRequest) applyDefaults(defaultEngine string) {
	if req.Engine == "" {
		req.Engine = defaultEngine
	}
	if req.VoiceGender == "" {
		req.VoiceGender = catalog.DefaultGender
	}
	if req.Language == "" {
		req.Language = catalog.DefaultLanguage
	}
	if req.Accent == "" {
		req.Accent = catalog.DefaultAccent
	}
}

// POST /generate_speech
func (h *SpeechHandler) GenerateSpeech(w http.ResponseWriter, r *http.Request) {
	var req SpeechRequest
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.applyDefaults(h.defaultEngine)

	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	log := h.logger.With("engine", req.Engine, "language", req.Language, "accent", req.Accent, "gender", req.VoiceGender)
	log.Info("generating speech", "chars", utf8.RuneCountInString(req.Text))

	start := time.Now()
	outcome, err := h.orchestrator.Generate(ctx, req.Engine, tts.Request{
		Text:     req.Text,
		Language: req.Language,
		Accent:   req.Accent,
		Gender:   req.VoiceGender,
		Voice:    req.Voice,
	})
	if err != nil {
		h.writeGenerateError(w, log, err)
		return
	}
	elapsed := time.Since(start)
	res := outcome.Result

	clip, err := h.store.Save(res.Format, res.Audio)
	if err != nil {
		log.WithError(err).Error("failed to store clip")
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Error generating speech: %v", err))
		return
	}

	hasDistinct := h.orchestrator.HasDistinctVoices(ctx, req.Language)
	resp := SpeechResponse{
		Success:           true,
		AudioData:         base64.StdEncoding.EncodeToString(res.Audio),
		Message:           "Speech generated successfully!",
		EngineUsed:        outcome.EngineUsed,
		RequestedEngine:   outcome.RequestedEngine,
		FallbackUsed:      outcome.FallbackUsed,
		VoiceUsed:         res.VoiceName,
		VoiceGender:       req.VoiceGender,
		ActualGender:      res.ActualGender,
		Language:          req.Language,
		Accent:            req.Accent,
		Warning:           h.warning(outcome.RequestedEngine, req.Language, req.Accent, hasDistinct),
		HasDistinctVoices: hasDistinct,
		AudioFormat:       string(res.Format),
		AudioID:           clip.ID,
	}

	h.record(ctx, req, resp, clip, elapsed)

	if h.sessions != nil {
		if err := h.sessions.RememberClip(w, r, clip.ID); err != nil {
			log.WithError(err).Warn("failed to save session")
		}
	}

	if h.events != nil {
		h.events.Publish(websocket.EventSpeechGenerated, map[string]interface{}{
			"audio_id":      clip.ID,
			"engine_used":   resp.EngineUsed,
			"fallback_used": resp.FallbackUsed,
			"language":      resp.Language,
			"accent":        resp.Accent,
			"voice_used":    resp.VoiceUsed,
			"audio_format":  resp.AudioFormat,
		})
	}

	log.Info("speech generated", "engine_used", outcome.EngineUsed, "fallback", outcome.FallbackUsed, "bytes", len(res.Audio))
	writeJSON(w, http.StatusOK, resp)
}

func (h *SpeechHandler) writeGenerateError(w http.ResponseWriter, log *logger.Log, err error) {
	switch {
	case errors.Is(err, tts.ErrEmptyText):
		writeError(w, http.StatusBadRequest, "No text provided")
	case errors.Is(err, tts.ErrTextTooLong):
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Text too long. Maximum %d characters allowed.", tts.MaxTextLength))
	case errors.Is(err, tts.ErrUnknownEngine):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, tts.ErrAllEnginesFailed):
		log.WithError(err).Error("speech generation failed")
		writeError(w, http.StatusInternalServerError, "Failed to generate speech with both engines")
	default:
		log.WithError(err).Error("speech generation failed")
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Error generating speech: %v", err))
	}
}

// warning explains missing gender variation when an online engine was asked for.
func (h *SpeechHandler) warning(requested, language, accent string, hasDistinct bool) *string {
	if hasDistinct {
		return nil
	}
	e, err := h.orchestrator.Engine(requested)
	if err != nil || e.Kind() != tts.KindOnline {
		return nil
	}

	var msg string
	if lang, ok := h.catalog.Language(language); ok && !lang.GenderVariation {
		msg = fmt.Sprintf("Note: Google TTS uses the same voice for both male and female in %s", tts.Title(lang.Key))
	} else {
		msg = fmt.Sprintf("Note: Limited voice variation available for %s (%s) accent", language, accent)
	}
	return &msg
}

func (h *SpeechHandler) record(ctx context.Context, req SpeechRequest, resp SpeechResponse, clip audio.Clip, elapsed time.Duration) {
	if h.history == nil {
		return
	}
	text := strings.TrimSpace(req.Text)
	err := h.history.Record(ctx, &models.Synthesis{
		AudioID:         clip.ID,
		TextPreview:     text,
		TextLength:      utf8.RuneCountInString(text),
		RequestedEngine: resp.RequestedEngine,
		EngineUsed:      resp.EngineUsed,
		FallbackUsed:    resp.FallbackUsed,
		Language:        resp.Language,
		Accent:          resp.Accent,
		VoiceGender:     resp.VoiceGender,
		ActualGender:    resp.ActualGender,
		VoiceUsed:       resp.VoiceUsed,
		AudioFormat:     resp.AudioFormat,
		FileName:        clip.FileName(),
		ByteSize:        clip.Size,
		DurationMS:      elapsed.Milliseconds(),
	})
	if err != nil {
		h.logger.WithError(err).Warn("failed to record history", "audio_id", clip.ID)
	}
}

// GET /download_audio - the requested clip, the caller's last clip or the
// newest clip, in that order
func (h *SpeechHandler) DownloadAudio(w http.ResponseWriter, r *http.Request) {
	clip, err := h.findClip(r)
	if errors.Is(err, audio.ErrNotFound) {
		writeError(w, http.StatusNotFound, "No audio file found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Error downloading file: %v", err))
		return
	}

	f, err := os.Open(clip.Path)
	if errors.Is(err, os.ErrNotExist) {
		// pruned between lookup and open
		writeError(w, http.StatusNotFound, "No audio file found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Error downloading file: %v", err))
		return
	}
	defer f.Close()

	name := "generated_speech." + clip.Format.Ext()
	w.Header().Set("Content-Type", clip.Format.MIMEType())
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	http.ServeContent(w, r, name, clip.ModTime, f)
}

func (h *SpeechHandler) findClip(r *http.Request) (audio.Clip, error) {
	if id := r.URL.Query().Get("id"); id != "" {
		return h.store.Open(id)
	}
	if h.sessions != nil {
		if id, ok := h.sessions.LastClip(r); ok {
			clip, err := h.store.Open(id)
			if err == nil {
				return clip, nil
			}
			if !errors.Is(err, audio.ErrNotFound) {
				return audio.Clip{}, err
			}
		}
	}
	return h.store.Latest()
}
