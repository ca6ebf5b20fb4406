package api

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/samber/lo"

	"github.com/tahcohcat/vocalize-web/internal/catalog"
	"github.com/tahcohcat/vocalize-web/internal/tts"
)

// CatalogHandler serves the read-only descriptors: languages, engines,
// voices and health.
type CatalogHandler struct {
	catalog      *catalog.Catalog
	orchestrator *tts.Orchestrator
}

func NewCatalogHandler(cat *catalog.Catalog, orchestrator *tts.Orchestrator) *CatalogHandler {
	return &CatalogHandler{catalog: cat, orchestrator: orchestrator}
}

func (h *CatalogHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/languages", h.Languages).Methods("GET")
	r.HandleFunc("/engines", h.Engines).Methods("GET")
	r.HandleFunc("/voices", h.Voices).Methods("GET")
	r.HandleFunc("/voice_capabilities", h.VoiceCapabilities).Methods("GET")
}

type languageView struct {
	Code    string                    `json:"code"`
	Name    string                    `json:"name"`
	Accents map[string]catalog.Accent `json:"accents"`
}

// GET /languages
func (h *CatalogHandler) Languages(w http.ResponseWriter, r *http.Request) {
	languages := make(map[string]languageView, len(h.catalog.Languages()))
	for _, lang := range h.catalog.Languages() {
		languages[lang.Key] = languageView{
			Code:    lang.Code,
			Name:    lang.Name,
			Accents: lo.KeyBy(lang.Accents, func(a catalog.Accent) string { return a.Key }),
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"languages": languages})
}

// GET /health
func (h *CatalogHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	engines := make(map[string]bool)
	for _, e := range h.orchestrator.Engines() {
		engines[e.ID()] = e.Available(ctx)
	}

	primary := h.orchestrator.Online().ID()
	if !engines[primary] {
		primary = h.orchestrator.Offline().ID()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":                   "healthy",
		"engines":                  engines,
		"primary_engine":           primary,
		"available_voices":         len(h.orchestrator.OfflineVoices(ctx)),
		"languages":                h.catalog.Keys(),
		"total_voice_combinations": h.catalog.VoiceCombinations(),
		"voice_limitations":        h.limitations(),
	})
}

// limitations lists the language/accent pairs where the online engine cannot
// tell the genders apart.
func (h *CatalogHandler) limitations() map[string]string {
	online := h.orchestrator.Online().ID()
	out := make(map[string]string)
	for _, lang := range h.catalog.Languages() {
		if !lang.GenderVariation {
			out[fmt.Sprintf("%s_%s", lang.Key, online)] = "Same voice for male/female"
			continue
		}
		for _, accent := range lang.Accents {
			female := h.catalog.SelectTLD(lang.Key, accent.Key, catalog.GenderFemale)
			male := h.catalog.SelectTLD(lang.Key, accent.Key, catalog.GenderMale)
			if female == male {
				out[fmt.Sprintf("%s_%s_%s", accent.Key, lang.Key, online)] = "Limited voice variation"
			}
		}
	}
	return out
}

type capability struct {
	OnlineDistinctVoices  bool    `json:"online_distinct_voices"`
	OfflineDistinctVoices bool    `json:"offline_distinct_voices"`
	RecommendedEngine     string  `json:"recommended_engine"`
	Limitation            *string `json:"limitation"`
}

// GET /voice_capabilities
func (h *CatalogHandler) VoiceCapabilities(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sameVoice := "Same voice for both genders"

	out := make(map[string]map[string]capability)
	for _, lang := range h.catalog.Languages() {
		distinct := h.orchestrator.HasDistinctVoices(ctx, lang.Key)
		recommended := h.orchestrator.Online().ID()
		if distinct {
			recommended = h.orchestrator.Offline().ID()
		}

		out[lang.Key] = make(map[string]capability, len(lang.Accents))
		for _, accent := range lang.Accents {
			c := capability{
				OnlineDistinctVoices:  lang.GenderVariation,
				OfflineDistinctVoices: distinct,
				RecommendedEngine:     recommended,
			}
			if !lang.GenderVariation {
				c.Limitation = &sameVoice
			}
			out[lang.Key][accent.Key] = c
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type engineInfo struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Description   string      `json:"description"`
	Quality       string      `json:"quality"`
	Speed         string      `json:"speed"`
	Languages     []string    `json:"languages"`
	VoiceOptions  []string    `json:"voice_options"`
	AccentSupport bool        `json:"accent_support"`
	VoicesDetail  []tts.Voice `json:"voices_detail,omitempty"`
	Limitations   string      `json:"limitations"`
}

var engineDescriptions = map[string]engineInfo{
	tts.GTTSEngineID: {
		Description: "High-quality online TTS (limited voice gender distinction)",
		Quality:     "high",
		Speed:       "medium",
		Limitations: "Same voice for male/female in some languages",
	},
	tts.GoogleEngineID: {
		Description: "Google Cloud neural voices selected by language, accent and gender",
		Quality:     "high",
		Speed:       "medium",
		Limitations: "Requires Google Cloud credentials",
	},
	tts.SystemEngineID: {
		Description: "Offline system-based TTS with distinct voices",
		Quality:     "medium",
		Speed:       "fast",
		Limitations: "Uses the voices installed on the server",
	},
}

// GET /engines
func (h *CatalogHandler) Engines(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var engines []engineInfo
	for _, e := range h.orchestrator.Engines() {
		info := engineDescriptions[e.ID()]
		info.ID = e.ID()
		info.Name = e.Name()

		if e.Kind() == tts.KindOnline {
			info.Languages = h.catalog.Keys()
			info.VoiceOptions = []string{catalog.GenderFemale, catalog.GenderMale}
			info.AccentSupport = true
			engines = append(engines, info)
			continue
		}

		// offline engines are listed only once they initialise
		if !e.Available(ctx) {
			continue
		}
		voices := h.orchestrator.OfflineVoices(ctx)
		info.VoicesDetail = voices
		info.VoiceOptions = voiceOptions(voices)
		info.Languages = h.offlineLanguages(voices)
		engines = append(engines, info)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"engines": engines})
}

func voiceOptions(voices []tts.Voice) []string {
	var options []string
	for _, gender := range []string{catalog.GenderFemale, catalog.GenderMale} {
		if lo.SomeBy(voices, func(v tts.Voice) bool { return v.Gender == gender }) {
			options = append(options, gender)
		}
	}
	if len(options) == 0 {
		options = []string{"default"}
	}
	return options
}

// offlineLanguages lists the catalog languages spoken by at least one voice.
func (h *CatalogHandler) offlineLanguages(voices []tts.Voice) []string {
	languages := lo.Filter(h.catalog.Keys(), func(key string, _ int) bool {
		return lo.SomeBy(voices, func(v tts.Voice) bool { return v.Language == key })
	})
	if len(languages) == 0 {
		return []string{catalog.DefaultLanguage}
	}
	return languages
}

// GET /voices
func (h *CatalogHandler) Voices(w http.ResponseWriter, r *http.Request) {
	online := make(map[string]map[string]map[string]string)
	for _, lang := range h.catalog.Languages() {
		online[lang.Key] = make(map[string]map[string]string, len(lang.Accents))
		for _, accent := range lang.Accents {
			if !lang.GenderVariation {
				def := fmt.Sprintf("Google %s (%s) - Default Voice", lang.Name, accent.Name)
				online[lang.Key][accent.Key] = map[string]string{
					catalog.GenderFemale: def,
					catalog.GenderMale:   def + " (Same as Female)",
				}
				continue
			}
			online[lang.Key][accent.Key] = map[string]string{
				catalog.GenderFemale: fmt.Sprintf("Google %s Female (%s)", lang.Name, accent.Name),
				catalog.GenderMale:   fmt.Sprintf("Google %s Male (%s) - Limited Variation", lang.Name, accent.Name),
			}
		}
	}

	voices := h.orchestrator.OfflineVoices(r.Context())
	names := func(keep func(tts.Voice) bool) []string {
		return lo.FilterMap(voices, func(v tts.Voice, _ int) (string, bool) { return v.Name, keep(v) })
	}
	offline := map[string][]string{
		catalog.GenderFemale: names(func(v tts.Voice) bool { return v.Gender == catalog.GenderFemale }),
		catalog.GenderMale:   names(func(v tts.Voice) bool { return v.Gender == catalog.GenderMale }),
		"other": names(func(v tts.Voice) bool {
			return v.Gender != catalog.GenderFemale && v.Gender != catalog.GenderMale
		}),
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		h.orchestrator.Online().ID():  online,
		h.orchestrator.Offline().ID(): offline,
	})
}
