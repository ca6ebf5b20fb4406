package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	textlang "golang.org/x/text/language"
)

// MaxTextLength is the longest text, in characters, any engine accepts.
const MaxTextLength = 5000

var (
	ErrEmptyText         = errors.New("text cannot be empty")
	ErrTextTooLong       = fmt.Errorf("text too long: maximum %d characters allowed", MaxTextLength)
	ErrEngineUnavailable = errors.New("speech engine is not available")
	ErrNoAudio           = errors.New("engine produced no audio")
	ErrAllEnginesFailed  = errors.New("failed to generate speech with both engines")
	ErrUnknownEngine     = errors.New("unknown speech engine")
)

// Kind tells whether an engine needs the network.
type Kind string

const (
	KindOnline  Kind = "online"
	KindOffline Kind = "offline"
)

// Format is the container of the produced audio.
type Format string

const (
	FormatMP3 Format = "mp3"
	FormatWAV Format = "wav"
)

func (f Format) Ext() string {
	return string(f)
}

func (f Format) MIMEType() string {
	switch f {
	case FormatMP3:
		return "audio/mpeg"
	case FormatWAV:
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}

// Request carries the caller's voice preferences. Language, Accent and Gender
// are catalog keys ("english", "uk", "female"); Voice is an optional hint
// naming a specific offline voice.
type Request struct {
	Text     string
	Language string
	Accent   string
	Gender   string
	Voice    string
}

// Result is what an engine produced. Fields are exported so the cache can
// serialise it.
type Result struct {
	Audio        []byte
	Format       Format
	VoiceName    string
	ActualGender string
	Engine       string
}

// Engine is implemented by every speech backend.
type Engine interface {
	// ID is the stable identifier used in requests, e.g. "gtts".
	ID() string

	// Name is a human readable label.
	Name() string

	Kind() Kind

	Synthesize(ctx context.Context, req Request) (*Result, error)

	// Available reports whether the engine can currently serve requests.
	Available(ctx context.Context) bool
}

// ValidateText trims text and enforces the length limit.
func ValidateText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}
	if utf8.RuneCountInString(text) > MaxTextLength {
		return "", ErrTextTooLong
	}
	return text, nil
}

var titleCaser = cases.Title(textlang.Und)

// Title upper-cases the first letter of each word ("female" -> "Female").
func Title(s string) string {
	return titleCaser.String(s)
}
