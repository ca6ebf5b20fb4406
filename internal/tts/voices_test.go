package tts

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tahcohcat/vocalize-web/internal/catalog"
)

const espeakVoiceTable = `Pty Language       Age/Gender VoiceName          File                 Other Languages
 5  af              --/M      Afrikaans          gmw/af
 2  en-gb           --/M      English_(Great_Britain) gmw/en               (en 2)
 5  en-gb-x-rp      --/F      English_(Received_Pronunciation) gmw/en-GB-x-rp       (en 4)
 2  en-us           --/F      English_(America)  gmw/en-US            (en 3)
 5  en-029          --/-      Hazel_Caribbean    gmw/en-029           (en 10)
 5  mr              --/M      Marathi            inc/mr
`

func TestParseVoices(t *testing.T) {
	voices, err := parseVoices(strings.NewReader(espeakVoiceTable), catalog.Default())
	require.NoError(t, err)

	want := []Voice{
		{ID: "af", Name: "Afrikaans", Language: "af", Accent: "system", Gender: "male"},
		{ID: "en-gb", Name: "English (Great Britain)", Language: "english", Accent: "uk", Gender: "male"},
		{ID: "en-gb-x-rp", Name: "English (Received Pronunciation)", Language: "english", Accent: "uk", Gender: "female"},
		{ID: "en-us", Name: "English (America)", Language: "english", Accent: "usa", Gender: "female"},
		{ID: "en-029", Name: "Hazel Caribbean", Language: "english", Accent: "system", Gender: "female"},
		{ID: "mr", Name: "Marathi", Language: "marathi", Accent: "system", Gender: "male"},
	}
	if diff := cmp.Diff(want, voices); diff != "" {
		t.Errorf("parseVoices() mismatch (-want +got):\n%s", diff)
	}
}

func TestClassifyVoiceKeywords(t *testing.T) {
	cat := catalog.Default()

	testcases := []struct {
		name       string
		code       string
		ageGender  string
		voiceName  string
		wantGender string
		wantAccent string
	}{
		{"column wins", "en", "--/F", "David", "female", "system"},
		{"female keyword", "en", "--/-", "Microsoft Zira Desktop", "female", "system"},
		{"male keyword", "en", "--/-", "Microsoft David Desktop", "male", "system"},
		{"no hints", "en", "--/-", "Robot", "unknown", "system"},
		{"indian accent keyword", "en", "--/M", "Indian English", "male", "india"},
		{"british keyword", "en", "--/M", "British English", "male", "uk"},
		{"region subtag", "en-in", "--/F", "Voice", "female", "india"},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			v := classifyVoice(cat, tc.code, tc.ageGender, tc.voiceName)
			assert.Equal(t, tc.wantGender, v.Gender)
			assert.Equal(t, tc.wantAccent, v.Accent)
		})
	}
}

func TestSelectVoice(t *testing.T) {
	voices := []Voice{
		{ID: "en-gb", Language: "english", Accent: "uk", Gender: "male"},
		{ID: "en-us", Language: "english", Accent: "usa", Gender: "female"},
		{ID: "en-029", Language: "english", Accent: "system", Gender: "female"},
		{ID: "af", Language: "af", Accent: "system", Gender: "male"},
	}

	testcases := []struct {
		name                     string
		language, accent, gender string
		want                     string
	}{
		{"exact", "english", "usa", "female", "en-us"},
		{"language and gender", "english", "india", "male", "en-gb"},
		{"gender only", "marathi", "india", "male", "en-gb"},
		{"language without the gender", "english", "india", "robot", "en-gb"},
		{"default voice is the first female", "marathi", "india", "robot", "en-us"},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			v, ok := selectVoice(voices, tc.language, tc.accent, tc.gender)
			require.True(t, ok)
			assert.Equal(t, tc.want, v.ID)
		})
	}

	_, ok := selectVoice(nil, "english", "usa", "female")
	assert.False(t, ok)
}

func TestDefaultVoicePrefersFemale(t *testing.T) {
	v, ok := defaultVoice([]Voice{{ID: "a", Gender: "male"}, {ID: "b", Gender: "female"}})
	require.True(t, ok)
	assert.Equal(t, "b", v.ID)

	v, ok = defaultVoice([]Voice{{ID: "a", Gender: "male"}})
	require.True(t, ok)
	assert.Equal(t, "a", v.ID)
}
