package tts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tahcohcat/vocalize-web/internal/catalog"
	"github.com/tahcohcat/vocalize-web/internal/logger"
)

const (
	GTTSEngineID = "gtts"

	gttsRPCID     = "jQ1olc"
	gttsPath      = "/_/TranslateWebserverUi/data/batchexecute"
	gttsUserAgent = "Mozilla/5.0 (Windows NT 10.0; WOW64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/47.0.2526.106 Safari/537.36"

	// gttsMaxBurst lets a text of MaxTextLength go out without waiting on
	// its own chunks.
	gttsMaxBurst = MaxTextLength / maxChunkLength
)

var gttsAudioPattern = regexp.MustCompile(`jQ1olc","\[\\"(.*)\\"]`)

// GTTSEngine speaks through the Google Translate web endpoint. The regional
// domain (google.co.uk, google.co.in, ...) biases the accent of the voice.
type GTTSEngine struct {
	catalog     *catalog.Catalog
	client      *http.Client
	baseURL     string
	slow        bool
	timeout     time.Duration
	rateLimiter *rate.Limiter
	logger      *logger.Log
}

// GTTSConfig holds configuration for the gTTS engine.
type GTTSConfig struct {
	// BaseURL is formatted with the TLD when it contains %s.
	// Defaults to https://translate.google.%s
	BaseURL string

	Slow bool

	// Timeout bounds each chunk request. The synthesis as a whole is bounded
	// by the caller's context. Defaults to 10s.
	Timeout time.Duration

	// Rate limit requests per minute to avoid being blocked (defaults to 100).
	// A synthesis reserves one request per chunk before it starts.
	RequestsPerMinute int

	HTTPClient *http.Client
}

func NewGTTSEngine(cat *catalog.Catalog, config GTTSConfig) *GTTSEngine {
	if config.BaseURL == "" {
		config.BaseURL = "https://translate.google.%s"
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = 100
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}

	return &GTTSEngine{
		catalog:     cat,
		client:      config.HTTPClient,
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		slow:        config.Slow,
		timeout:     config.Timeout,
		rateLimiter: rate.NewLimiter(
			rate.Every(time.Minute/time.Duration(config.RequestsPerMinute)),
			max(config.RequestsPerMinute, gttsMaxBurst),
		),
		logger:      logger.New().With("engine", GTTSEngineID),
	}
}

func (e *GTTSEngine) ID() string   { return GTTSEngineID }
func (e *GTTSEngine) Name() string { return "Google Text-to-Speech (Online)" }
func (e *GTTSEngine) Kind() Kind   { return KindOnline }

// Available is always true; reachability is only known once a request is made.
func (e *GTTSEngine) Available(ctx context.Context) bool {
	return true
}

func (e *GTTSEngine) Synthesize(ctx context.Context, req Request) (*Result, error) {
	text, err := ValidateText(req.Text)
	if err != nil {
		return nil, err
	}

	lang := e.catalog.ResolveLanguage(req.Language)
	accent := lang.ResolveAccent(req.Accent)
	tld := e.catalog.SelectTLD(req.Language, req.Accent, req.Gender)

	chunks := splitText(text, maxChunkLength)
	if len(chunks) == 0 {
		return nil, ErrNoAudio
	}

	// one reservation per synthesis; WaitN fails at once when the wait would
	// outlast ctx
	if err := e.rateLimiter.WaitN(ctx, min(len(chunks), e.rateLimiter.Burst())); err != nil {
		return nil, fmt.Errorf("rate limited: %w", err)
	}

	e.logger.Debug("synthesizing", "lang", lang.Code, "tld", tld, "chunks", len(chunks))

	var audio bytes.Buffer
	for i, chunk := range chunks {
		data, err := e.fetchChunk(ctx, tld, lang.Code, chunk)
		if err != nil {
			return nil, fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		audio.Write(data)
	}

	if audio.Len() == 0 {
		return nil, ErrNoAudio
	}

	res := &Result{
		Audio:        audio.Bytes(),
		Format:       FormatMP3,
		VoiceName:    fmt.Sprintf("Google %s (%s - %s)", lang.Name, Title(req.Gender), accent.Name),
		ActualGender: req.Gender,
		Engine:       GTTSEngineID,
	}
	if !lang.GenderVariation {
		// one voice regardless of the requested gender
		res.VoiceName = fmt.Sprintf("Google %s (%s) - Default Voice", lang.Name, accent.Name)
		res.ActualGender = "default"
	}
	return res, nil
}

func (e *GTTSEngine) endpoint(tld string) string {
	base := e.baseURL
	if strings.Contains(base, "%s") {
		base = fmt.Sprintf(base, tld)
	}
	return base + gttsPath
}

func (e *GTTSEngine) fetchChunk(ctx context.Context, tld, lang, text string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	body, err := gttsPayload(text, lang, e.slow)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint(tld), strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=utf-8")
	req.Header.Set("Referer", "http://translate.google.com/")
	req.Header.Set("User-Agent", gttsUserAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("unexpected status %d from %s: %s", resp.StatusCode, tld, strings.TrimSpace(string(snippet)))
	}

	return gttsDecode(resp.Body)
}

// gttsPayload builds the form body of a batchexecute call.
func gttsPayload(text, lang string, slow bool) (string, error) {
	var speed interface{}
	if slow {
		speed = true
	}

	param, err := json.Marshal([]interface{}{text, lang, speed, "null"})
	if err != nil {
		return "", fmt.Errorf("failed to encode parameters: %w", err)
	}
	rpc, err := json.Marshal([]interface{}{[]interface{}{[]interface{}{gttsRPCID, string(param), nil, "generic"}}})
	if err != nil {
		return "", fmt.Errorf("failed to encode rpc: %w", err)
	}

	return "f.req=" + url.QueryEscape(string(rpc)) + "&", nil
}

// gttsDecode pulls the base64 audio out of a batchexecute response.
func gttsDecode(r io.Reader) ([]byte, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var audio bytes.Buffer
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, gttsRPCID) {
			continue
		}
		m := gttsAudioPattern.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("malformed response: %w", ErrNoAudio)
		}
		data, err := base64.StdEncoding.DecodeString(m[1])
		if err != nil {
			return nil, fmt.Errorf("failed to decode audio: %w", err)
		}
		audio.Write(data)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if audio.Len() == 0 {
		return nil, ErrNoAudio
	}
	return audio.Bytes(), nil
}
