package tts

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/schollz/closestmatch"

	"github.com/tahcohcat/vocalize-web/internal/catalog"
	"github.com/tahcohcat/vocalize-web/internal/logger"
)

const (
	SystemEngineID = "system"

	// LegacySystemEngineID is still accepted in requests.
	LegacySystemEngineID = "pyttsx3"
)

type commandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// SystemEngine drives the host's espeak-ng binary. Voices are discovered on
// first use and the discovery is retried until it succeeds.
type SystemEngine struct {
	catalog *catalog.Catalog
	binary  string
	rate    int
	volume  float64
	timeout time.Duration
	command commandFunc
	logger  *logger.Log

	mu          sync.RWMutex
	initialized bool
	voices      []Voice
	matcher     *closestmatch.ClosestMatch
}

type SystemConfig struct {
	// Binary defaults to espeak-ng
	Binary string

	// Rate in words per minute (defaults to 180)
	Rate int

	// Volume from 0.0 to 1.0 (defaults to 1.0)
	Volume float64

	// Timeout for one subprocess run (defaults to 30s)
	Timeout time.Duration
}

func NewSystemEngine(cat *catalog.Catalog, config SystemConfig) *SystemEngine {
	if config.Binary == "" {
		config.Binary = "espeak-ng"
	}
	if config.Rate <= 0 {
		config.Rate = 180
	}
	if config.Volume <= 0 || config.Volume > 1 {
		config.Volume = 1.0
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &SystemEngine{
		catalog: cat,
		binary:  config.Binary,
		rate:    config.Rate,
		volume:  config.Volume,
		timeout: config.Timeout,
		command: exec.CommandContext,
		logger:  logger.New().With("engine", SystemEngineID),
	}
}

func (e *SystemEngine) ID() string   { return SystemEngineID }
func (e *SystemEngine) Name() string { return "System TTS (Offline)" }
func (e *SystemEngine) Kind() Kind   { return KindOffline }

func (e *SystemEngine) Available(ctx context.Context) bool {
	return e.init(ctx) == nil
}

// Voices returns the discovered voices, initialising the engine if needed.
func (e *SystemEngine) Voices(ctx context.Context) ([]Voice, error) {
	if err := e.init(ctx); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Voice(nil), e.voices...), nil
}

// HasBothGenders reports whether at least one female and one male voice exist.
func (e *SystemEngine) HasBothGenders(ctx context.Context) bool {
	voices, err := e.Voices(ctx)
	if err != nil {
		return false
	}
	hasGender := func(g string) bool {
		return lo.SomeBy(voices, func(v Voice) bool { return v.Gender == g })
	}
	return hasGender(catalog.GenderFemale) && hasGender(catalog.GenderMale)
}

func (e *SystemEngine) init(ctx context.Context) error {
	e.mu.RLock()
	ready := e.initialized
	e.mu.RUnlock()
	if ready {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return nil
	}

	out, err := e.run(ctx, "", "--voices")
	if err != nil {
		e.logger.WithError(err).Warn("offline engine initialisation failed")
		return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}

	voices, err := parseVoices(bytes.NewReader(out), e.catalog)
	if err != nil {
		return fmt.Errorf("%w: reading voice list: %v", ErrEngineUnavailable, err)
	}

	e.voices = voices
	e.matcher = closestmatch.New(lo.Map(voices, func(v Voice, _ int) string { return v.Name }), []int{2})
	e.initialized = true

	e.logger.Info("offline engine initialised", "voices", len(voices))
	return nil
}

func (e *SystemEngine) pick(req Request) (Voice, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if req.Voice != "" && e.matcher != nil {
		if name := e.matcher.Closest(req.Voice); name != "" {
			if v, ok := lo.Find(e.voices, func(v Voice) bool { return v.Name == name }); ok {
				return v, true
			}
		}
	}
	return selectVoice(e.voices, req.Language, req.Accent, req.Gender)
}

func (e *SystemEngine) Synthesize(ctx context.Context, req Request) (*Result, error) {
	text, err := ValidateText(req.Text)
	if err != nil {
		return nil, err
	}
	if err := e.init(ctx); err != nil {
		return nil, err
	}

	language := e.catalog.ResolveLanguage(req.Language).Key

	res := &Result{
		Format:       FormatWAV,
		VoiceName:    fmt.Sprintf("System TTS (%s %s)", Title(req.Gender), strings.ToUpper(req.Accent)),
		ActualGender: req.Gender,
		Engine:       SystemEngineID,
	}

	args := []string{"--stdin", "--stdout",
		"-s", strconv.Itoa(e.rate),
		"-a", strconv.Itoa(int(e.volume * 100)),
	}
	if voice, ok := e.pick(Request{Language: language, Accent: req.Accent, Gender: req.Gender, Voice: req.Voice}); ok {
		args = append(args, "-v", voice.ID)
		res.VoiceName = voice.Name
		res.ActualGender = voice.Gender
	}

	e.mu.RLock()
	native := speaksLanguage(e.voices, language)
	e.mu.RUnlock()
	if !native {
		res.VoiceName += " (English pronunciation)"
	}

	audio, err := e.run(ctx, text, args...)
	if err != nil {
		return nil, err
	}
	if len(audio) == 0 {
		return nil, ErrNoAudio
	}
	res.Audio = audio

	return res, nil
}

func (e *SystemEngine) run(ctx context.Context, input string, args ...string) ([]byte, error) {
	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := e.command(runCtx, e.binary, args...)
	cmd.Stdin = strings.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		// the caller gave up, whatever the reason
		return nil, fmt.Errorf("%s cancelled: %w", e.binary, ctx.Err())
	}
	if runCtx.Err() != nil {
		return nil, fmt.Errorf("%s timed out after %v: %w", e.binary, e.timeout, runCtx.Err())
	}
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s failed: %w: %s", e.binary, err, msg)
		}
		return nil, fmt.Errorf("%s failed: %w", e.binary, err)
	}

	return stdout.Bytes(), nil
}
