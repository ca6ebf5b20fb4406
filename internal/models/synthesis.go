package models

import "time"

// Synthesis is one generated clip as recorded in the history table.
type Synthesis struct {
	ID              int64     `json:"id" db:"id"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	AudioID         string    `json:"audio_id" db:"audio_id"`
	TextPreview     string    `json:"text_preview" db:"text_preview"`
	TextLength      int       `json:"text_length" db:"text_length"`
	RequestedEngine string    `json:"requested_engine" db:"requested_engine"`
	EngineUsed      string    `json:"engine_used" db:"engine_used"`
	FallbackUsed    bool      `json:"fallback_used" db:"fallback_used"`
	Language        string    `json:"language" db:"language"`
	Accent          string    `json:"accent" db:"accent"`
	VoiceGender     string    `json:"voice_gender" db:"voice_gender"`
	ActualGender    string    `json:"actual_gender" db:"actual_gender"`
	VoiceUsed       string    `json:"voice_used" db:"voice_used"`
	AudioFormat     string    `json:"audio_format" db:"audio_format"`
	FileName        string    `json:"file_name" db:"file_name"`
	ByteSize        int64     `json:"byte_size" db:"byte_size"`
	DurationMS      int64     `json:"duration_ms" db:"duration_ms"`
}

// HistoryFilter narrows a history listing. Zero values match everything.
type HistoryFilter struct {
	Engine   string
	Language string
	Limit    int
	Offset   int
}

// HistoryStats summarises the history table.
type HistoryStats struct {
	Total     int            `json:"total"`
	Fallbacks int            `json:"fallbacks"`
	ByEngine  map[string]int `json:"by_engine"`
}
