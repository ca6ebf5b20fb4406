// Package catalog holds the static language, accent and voice tables used to
// pick regional variants for the speech engines.
package catalog

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/tahcohcat/vocalize-web/config"
)

const (
	GenderFemale = "female"
	GenderMale   = "male"

	DefaultLanguage = "english"
	DefaultAccent   = "usa"
	DefaultGender   = GenderFemale

	// defaultTLD is used when no voice table entry matches the request.
	defaultTLD = "com"
)

type Accent struct {
	Key  string `json:"-"`
	Name string `json:"name"`
	TLD  string `json:"tld"`
	Code string `json:"code"` // BCP-47, e.g. en-GB

	// VoiceTLDs maps a gender to the TLDs tried for that voice, best first.
	VoiceTLDs map[string][]string `json:"-"`
}

type Language struct {
	Key  string `json:"-"`
	Code string `json:"code"`
	Name string `json:"name"`

	// GenderVariation is false when the online engine speaks every gender
	// with the same voice for this language.
	GenderVariation bool `json:"-"`

	Accents []Accent `json:"-"`
}

type Catalog struct {
	languages []Language
	byKey     map[string]int
}

// New validates the given languages and indexes them, keeping declaration order.
func New(languages []Language) (*Catalog, error) {
	if len(languages) == 0 {
		return nil, fmt.Errorf("catalog needs at least one language")
	}

	c := &Catalog{byKey: make(map[string]int, len(languages))}
	for _, lang := range languages {
		if lang.Key == "" || lang.Code == "" {
			return nil, fmt.Errorf("language %q needs both a key and a code", lang.Key)
		}
		if _, dup := c.byKey[lang.Key]; dup {
			return nil, fmt.Errorf("language already registered: %s", lang.Key)
		}
		if len(lang.Accents) == 0 {
			return nil, fmt.Errorf("language %s has no accents", lang.Key)
		}
		seen := make(map[string]bool, len(lang.Accents))
		for _, accent := range lang.Accents {
			if accent.Key == "" || accent.TLD == "" {
				return nil, fmt.Errorf("language %s: accent %q needs a key and a tld", lang.Key, accent.Key)
			}
			if seen[accent.Key] {
				return nil, fmt.Errorf("language %s: accent already registered: %s", lang.Key, accent.Key)
			}
			seen[accent.Key] = true
		}
		c.byKey[lang.Key] = len(c.languages)
		c.languages = append(c.languages, lang)
	}
	return c, nil
}

// Default returns the built-in English/Marathi table.
func Default() *Catalog {
	c, err := New(builtinLanguages())
	if err != nil {
		// the built-in table is static; this only trips during development
		panic(fmt.Sprintf("invalid built-in catalog: %v", err))
	}
	return c
}

// FromConfig builds a catalog from configuration, or the built-in table when
// no languages are configured.
func FromConfig(cfg config.CatalogConfig) (*Catalog, error) {
	if len(cfg.Languages) == 0 {
		return Default(), nil
	}

	languages := lo.Map(cfg.Languages, func(lc config.LanguageConfig, _ int) Language {
		return Language{
			Key:             lc.Key,
			Code:            lc.Code,
			Name:            lc.Name,
			GenderVariation: lc.GenderVariation,
			Accents: lo.Map(lc.Accents, func(ac config.AccentConfig, _ int) Accent {
				return Accent{
					Key:       ac.Key,
					Name:      ac.Name,
					TLD:       ac.TLD,
					Code:      ac.Code,
					VoiceTLDs: ac.Voices,
				}
			}),
		}
	})
	return New(languages)
}

func (c *Catalog) Language(key string) (Language, bool) {
	i, ok := c.byKey[key]
	if !ok {
		return Language{}, false
	}
	return c.languages[i], true
}

// ResolveLanguage returns the language for key, falling back to English (or
// the first configured language when English is absent).
func (c *Catalog) ResolveLanguage(key string) Language {
	if lang, ok := c.Language(key); ok {
		return lang
	}
	if lang, ok := c.Language(DefaultLanguage); ok {
		return lang
	}
	return c.languages[0]
}

func (c *Catalog) Languages() []Language {
	return c.languages
}

func (c *Catalog) Keys() []string {
	return lo.Map(c.languages, func(l Language, _ int) string { return l.Key })
}

// VoiceCombinations counts every language/accent pair once per gender.
func (c *Catalog) VoiceCombinations() int {
	return lo.SumBy(c.languages, func(l Language) int { return len(l.Accents) * 2 })
}

// ByCode finds the language whose code matches the primary subtag of a
// locale such as "en-gb" or "mr".
func (c *Catalog) ByCode(code string) (Language, bool) {
	return lo.Find(c.languages, func(l Language) bool { return l.Code == code })
}

func (l Language) Accent(key string) (Accent, bool) {
	return lo.Find(l.Accents, func(a Accent) bool { return a.Key == key })
}

// ResolveAccent returns the accent for key, else "usa" when the language has
// it, else the first declared accent.
func (l Language) ResolveAccent(key string) Accent {
	if accent, ok := l.Accent(key); ok {
		return accent
	}
	if accent, ok := l.Accent(DefaultAccent); ok {
		return accent
	}
	return l.Accents[0]
}

// SelectTLD picks the Google domain used to bias the accent of the online
// voice. The voice table is consulted with the keys exactly as requested, so
// an unknown language or accent yields "com" rather than the resolved
// accent's domain.
func (c *Catalog) SelectTLD(language, accent, gender string) string {
	tlds := []string{defaultTLD}
	if lang, ok := c.Language(language); ok {
		if acc, ok := lang.Accent(accent); ok {
			if list, ok := acc.VoiceTLDs[gender]; ok {
				tlds = list
			}
		}
	}
	if len(tlds) > 0 {
		return tlds[0]
	}
	return c.ResolveLanguage(language).ResolveAccent(accent).TLD
}
