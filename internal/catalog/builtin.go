package catalog

func builtinLanguages() []Language {
	return []Language{
		{
			Key:             "english",
			Code:            "en",
			Name:            "English",
			GenderVariation: true,
			Accents: []Accent{
				{
					Key:  "usa",
					Name: "American",
					TLD:  "com",
					Code: "en-US",
					VoiceTLDs: map[string][]string{
						GenderFemale: {"com"},
						GenderMale:   {"us", "com"},
					},
				},
				{
					Key:  "uk",
					Name: "British",
					TLD:  "co.uk",
					Code: "en-GB",
					VoiceTLDs: map[string][]string{
						GenderFemale: {"co.uk"},
						GenderMale:   {"co.uk", "ie"},
					},
				},
				{
					Key:  "india",
					Name: "Indian",
					TLD:  "co.in",
					Code: "en-IN",
					VoiceTLDs: map[string][]string{
						GenderFemale: {"co.in"},
						GenderMale:   {"co.in", "com.au"},
					},
				},
			},
		},
		{
			Key:             "marathi",
			Code:            "mr",
			Name:            "मराठी (Marathi)",
			GenderVariation: false,
			Accents: []Accent{
				{
					Key:  "india",
					Name: "Indian",
					TLD:  "co.in",
					Code: "mr-IN",
					// same voice for both genders
					VoiceTLDs: map[string][]string{
						GenderFemale: {"co.in"},
						GenderMale:   {"co.in"},
					},
				},
			},
		},
	}
}
