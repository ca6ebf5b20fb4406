// Package ttstest provides a scriptable tts.Engine for tests.
package ttstest

import (
	"context"
	"sync"

	"github.com/tahcohcat/vocalize-web/internal/tts"
)

// Engine returns canned audio, or Err when set. It records every request.
type Engine struct {
	EngineID   string
	EngineKind tts.Kind
	Format     tts.Format
	Audio      []byte
	Err        error

	// Block makes Synthesize wait for its context to end.
	Block bool

	// VoiceList backs Voices and HasBothGenders.
	VoiceList []tts.Voice

	mu       sync.Mutex
	requests []tts.Request
}

func Online(id string) *Engine {
	return &Engine{EngineID: id, EngineKind: tts.KindOnline, Format: tts.FormatMP3, Audio: []byte("ID3-" + id)}
}

func Offline(id string) *Engine {
	return &Engine{EngineID: id, EngineKind: tts.KindOffline, Format: tts.FormatWAV, Audio: []byte("RIFF-" + id)}
}

func (e *Engine) ID() string                         { return e.EngineID }
func (e *Engine) Name() string                       { return "Fake " + e.EngineID }
func (e *Engine) Kind() tts.Kind                     { return e.EngineKind }
func (e *Engine) Available(ctx context.Context) bool { return e.Err == nil }

func (e *Engine) Synthesize(ctx context.Context, req tts.Request) (*tts.Result, error) {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	e.mu.Unlock()

	if e.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if e.Err != nil {
		return nil, e.Err
	}
	return &tts.Result{
		Audio:        append([]byte(nil), e.Audio...),
		Format:       e.Format,
		VoiceName:    e.Name() + " " + req.Gender,
		ActualGender: req.Gender,
		Engine:       e.EngineID,
	}, nil
}

// Requests returns a copy of the requests seen so far.
func (e *Engine) Requests() []tts.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]tts.Request(nil), e.requests...)
}

func (e *Engine) Voices(ctx context.Context) ([]tts.Voice, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	return e.VoiceList, nil
}

func (e *Engine) HasBothGenders(ctx context.Context) bool {
	var female, male bool
	for _, v := range e.VoiceList {
		female = female || v.Gender == "female"
		male = male || v.Gender == "male"
	}
	return female && male
}
