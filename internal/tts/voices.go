package tts

import (
	"bufio"
	"io"
	"strings"

	"github.com/samber/lo"

	"github.com/tahcohcat/vocalize-web/internal/catalog"
)

const (
	genderUnknown = "unknown"
	accentSystem  = "system"
)

// Voice is one voice installed on the host synthesizer.
type Voice struct {
	// ID is passed to the synthesizer to select the voice.
	ID   string `json:"id"`
	Name string `json:"name"`

	// Language is a catalog key when the voice's locale is known to the
	// catalog, else the raw language subtag.
	Language string `json:"language"`
	Accent   string `json:"accent"`
	Gender   string `json:"gender"`
}

var (
	femaleKeywords = []string{"female", "woman", "zira", "hazel", "susan", "anna", "eva", "cortana"}
	maleKeywords   = []string{"male", "man", "david", "mark", "george", "james"}

	regionAccents = map[string]string{
		"us": "usa",
		"gb": "uk",
		"in": "india",
	}
	accentKeywords = []struct {
		accent   string
		keywords []string
	}{
		{"usa", []string{"america", "united states", "_us", "(us"}},
		{"uk", []string{"british", "britain", "england", "_uk", "(uk"}},
		{"india", []string{"india"}},
	}
)

// parseVoices reads the table printed by `espeak-ng --voices`:
//
//	Pty Language       Age/Gender VoiceName          File                 Other Languages
//	 5  en-gb           --/M      English_(Great_Britain) gmw/en
func parseVoices(r io.Reader, cat *catalog.Catalog) ([]Voice, error) {
	var voices []Voice

	scanner := bufio.NewScanner(r)
	header := true
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if header {
			header = false
			if len(fields) > 0 && fields[0] == "Pty" {
				continue
			}
		}
		if len(fields) < 4 {
			continue
		}

		code := strings.ToLower(fields[1])
		name := strings.ReplaceAll(fields[3], "_", " ")
		voices = append(voices, classifyVoice(cat, code, fields[2], name))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return voices, nil
}

func classifyVoice(cat *catalog.Catalog, code, ageGender, name string) Voice {
	v := Voice{
		ID:     code,
		Name:   name,
		Gender: genderUnknown,
		Accent: accentSystem,
	}
	lower := strings.ToLower(name)

	// Age/Gender column, e.g. "--/F"
	switch {
	case strings.HasSuffix(ageGender, "/F"):
		v.Gender = catalog.GenderFemale
	case strings.HasSuffix(ageGender, "/M"):
		v.Gender = catalog.GenderMale
	case lo.SomeBy(femaleKeywords, func(k string) bool { return strings.Contains(lower, k) }):
		v.Gender = catalog.GenderFemale
	case lo.SomeBy(maleKeywords, func(k string) bool { return strings.Contains(lower, k) }):
		v.Gender = catalog.GenderMale
	}

	// en-gb-x-rp: language "en", region "gb"
	subtags := strings.Split(code, "-")
	primary, region := subtags[0], ""
	if len(subtags) > 1 {
		region = subtags[1]
	}
	v.Language = primary
	if lang, ok := cat.ByCode(primary); ok {
		v.Language = lang.Key
	}

	if accent, ok := regionAccents[region]; ok {
		v.Accent = accent
	} else {
		for _, ak := range accentKeywords {
			if lo.SomeBy(ak.keywords, func(k string) bool { return strings.Contains(lower, k) }) {
				v.Accent = ak.accent
				break
			}
		}
	}

	return v
}

// selectVoice narrows by language, accent and gender, relaxing one criterion
// at a time, and finally accepts any voice.
func selectVoice(voices []Voice, language, accent, gender string) (Voice, bool) {
	filters := []func(Voice) bool{
		func(v Voice) bool { return v.Language == language && v.Accent == accent && v.Gender == gender },
		func(v Voice) bool { return v.Language == language && v.Gender == gender },
		func(v Voice) bool { return v.Gender == gender },
		func(v Voice) bool { return v.Language == language },
	}
	for _, f := range filters {
		if v, ok := lo.Find(voices, f); ok {
			return v, true
		}
	}
	return defaultVoice(voices)
}

// defaultVoice prefers the first female voice.
func defaultVoice(voices []Voice) (Voice, bool) {
	if v, ok := lo.Find(voices, func(v Voice) bool { return v.Gender == catalog.GenderFemale }); ok {
		return v, true
	}
	if len(voices) > 0 {
		return voices[0], true
	}
	return Voice{}, false
}

func speaksLanguage(voices []Voice, language string) bool {
	return lo.SomeBy(voices, func(v Voice) bool { return v.Language == language })
}
