package prompts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPromptsAreStable(t *testing.T) {
	cases := []struct {
		name   string
		build  func() string
		marker string
	}{
		{"healthcare", Healthcare, HealthcareAssistantName},
		{"realestate", RealEstate, RealEstateAssistantName},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			first := tc.build()
			assert.NotEmpty(t, strings.TrimSpace(first))
			assert.Contains(t, first, tc.marker)
			for i := 0; i < 3; i++ {
				assert.Equal(t, first, tc.build())
			}
		})
	}
}

func TestHealthcarePromptCarriesKioskRules(t *testing.T) {
	p := Healthcare()
	assert.Contains(t, p, "Rajavej Chiang Mai Hospital")
	assert.Contains(t, p, "'Raad-Cha-Vate'")
	assert.Contains(t, p, "Ask only ONE question at a time")
	assert.Contains(t, p, "queue ticket will be generated")
}

func TestRealEstatePromptLimitsLength(t *testing.T) {
	assert.Contains(t, RealEstate(), "under 150 words")
}
