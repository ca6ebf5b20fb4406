package tts

import (
	"context"
	"fmt"
	"strings"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	ttspb "cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"

	"github.com/tahcohcat/vocalize-web/internal/catalog"
	"github.com/tahcohcat/vocalize-web/internal/logger"
)

const GoogleEngineID = "google"

// speechClient is the subset of the Cloud client the engine uses.
type speechClient interface {
	SynthesizeSpeech(ctx context.Context, req *ttspb.SynthesizeSpeechRequest, opts ...gax.CallOption) (*ttspb.SynthesizeSpeechResponse, error)
	Close() error
}

// GoogleEngine speaks through Google Cloud Text-to-Speech. Unlike the
// translate endpoint it has real regional voices, selected by the accent's
// locale and the requested gender.
type GoogleEngine struct {
	catalog    *catalog.Catalog
	client     speechClient
	sampleRate int32
	logger     *logger.Log
}

type GoogleConfig struct {
	// CredentialsFile is a service account JSON. When empty the application
	// default credentials are used.
	CredentialsFile string

	SampleRate int32
}

func NewGoogleEngine(ctx context.Context, cat *catalog.Catalog, config GoogleConfig) (*GoogleEngine, error) {
	var opts []option.ClientOption
	if config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile))
	}

	client, err := texttospeech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Google TTS client: %w", err)
	}

	return newGoogleEngine(cat, client, config.SampleRate), nil
}

func newGoogleEngine(cat *catalog.Catalog, client speechClient, sampleRate int32) *GoogleEngine {
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	return &GoogleEngine{
		catalog:    cat,
		client:     client,
		sampleRate: sampleRate,
		logger:     logger.New().With("engine", GoogleEngineID),
	}
}

func (g *GoogleEngine) ID() string   { return GoogleEngineID }
func (g *GoogleEngine) Name() string { return "Google Cloud Text-to-Speech (Online)" }
func (g *GoogleEngine) Kind() Kind   { return KindOnline }

func (g *GoogleEngine) Available(ctx context.Context) bool {
	return g.client != nil
}

func ssmlGender(gender string) ttspb.SsmlVoiceGender {
	switch strings.ToLower(gender) {
	case catalog.GenderFemale:
		return ttspb.SsmlVoiceGender_FEMALE
	case catalog.GenderMale:
		return ttspb.SsmlVoiceGender_MALE
	default:
		return ttspb.SsmlVoiceGender_SSML_VOICE_GENDER_UNSPECIFIED
	}
}

func (g *GoogleEngine) Synthesize(ctx context.Context, req Request) (*Result, error) {
	text, err := ValidateText(req.Text)
	if err != nil {
		return nil, err
	}
	if g.client == nil {
		return nil, ErrEngineUnavailable
	}

	lang := g.catalog.ResolveLanguage(req.Language)
	accent := lang.ResolveAccent(req.Accent)
	languageCode := accent.Code
	if languageCode == "" {
		languageCode = lang.Code
	}

	pbReq := &ttspb.SynthesizeSpeechRequest{
		Input: &ttspb.SynthesisInput{
			InputSource: &ttspb.SynthesisInput_Text{Text: text},
		},
		Voice: &ttspb.VoiceSelectionParams{
			LanguageCode: languageCode,
			SsmlGender:   ssmlGender(req.Gender),
		},
		AudioConfig: &ttspb.AudioConfig{
			AudioEncoding:   ttspb.AudioEncoding_MP3,
			SpeakingRate:    1.0,
			SampleRateHertz: g.sampleRate,
		},
	}

	g.logger.Debug("synthesizing", "language_code", languageCode, "gender", req.Gender)

	resp, err := g.client.SynthesizeSpeech(ctx, pbReq)
	if err != nil {
		return nil, fmt.Errorf("failed to synthesize speech: %w", err)
	}

	if len(resp.AudioContent) == 0 {
		return nil, ErrNoAudio
	}

	g.logger.Debug("generated audio", "bytes", len(resp.AudioContent))

	return &Result{
		Audio:        resp.AudioContent,
		Format:       FormatMP3,
		VoiceName:    fmt.Sprintf("Google Cloud %s (%s - %s)", lang.Name, Title(req.Gender), accent.Name),
		ActualGender: req.Gender,
		Engine:       GoogleEngineID,
	}, nil
}

func (g *GoogleEngine) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}
