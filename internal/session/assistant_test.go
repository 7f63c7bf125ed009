package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/companion-gateway/internal/config"
)

func TestVoiceID(t *testing.T) {
	tests := []struct {
		voice, style, want string
	}{
		{"male", "casual", "2BJW5coyhAzSr8STdHbE"},
		{"male", "formal", "c6SfcYrb2t09NHXiT80T"},
		{"female", "casual", "ZIlrSGI4jZqobxRKprJz"},
		{"female", "formal", "sarah"},
		{"Female", "CASUAL", "ZIlrSGI4jZqobxRKprJz"},
		{"robot", "formal", "sarah"},
		{"male", "sarcastic", "sarah"},
	}

	for _, tt := range tests {
		t.Run(tt.voice+"_"+tt.style, func(t *testing.T) {
			assert.Equal(t, tt.want, VoiceID(tt.voice, tt.style))
		})
	}
}

func TestBuildAssistant(t *testing.T) {
	cfg := SessionConfig{Subject: "science", Topic: "photosynthesis", Voice: "male", Style: "formal"}

	assistant, overrides := BuildAssistant(DefaultAssistantSettings(), cfg)

	assert.Equal(t, "Companion", assistant.Name)
	assert.Contains(t, assistant.FirstMessage, "{{topic}}")
	assert.Equal(t, "deepgram", assistant.Transcriber.Provider)
	assert.Equal(t, "nova-3", assistant.Transcriber.Model)
	assert.Equal(t, "en", assistant.Transcriber.Language)

	assert.Equal(t, "11labs", assistant.Voice.Provider)
	assert.Equal(t, "c6SfcYrb2t09NHXiT80T", assistant.Voice.VoiceID)
	assert.Equal(t, 0.4, assistant.Voice.Stability)
	assert.Equal(t, 0.8, assistant.Voice.SimilarityBoost)
	assert.Equal(t, 1.0, assistant.Voice.Speed)
	assert.Equal(t, 0.5, assistant.Voice.Style)
	assert.True(t, assistant.Voice.UseSpeakerBoost)

	assert.Equal(t, "openai", assistant.Model.Provider)
	assert.Equal(t, "gpt-4", assistant.Model.Model)
	require.Len(t, assistant.Model.Messages, 1)
	assert.Equal(t, "system", assistant.Model.Messages[0].Role)
	for _, v := range []string{"{{ topic }}", "{{ subject }}", "{{ style }}"} {
		assert.Contains(t, assistant.Model.Messages[0].Content, v)
	}

	assert.Equal(t, map[string]string{"subject": "science", "topic": "photosynthesis", "style": "formal"}, overrides.VariableValues)
	assert.Equal(t, []string{"transcript"}, overrides.ClientMessages)
	assert.NotNil(t, overrides.ServerMessages)
	assert.Empty(t, overrides.ServerMessages)
}

func TestBuildAssistant_Defaults(t *testing.T) {
	assistant, overrides := BuildAssistant(DefaultAssistantSettings(), SessionConfig{Topic: "verbs"})

	assert.Equal(t, "sarah", assistant.Voice.VoiceID, "female formal by default")
	assert.Equal(t, "formal", overrides.VariableValues["style"])
}

func TestSettingsFromConfig(t *testing.T) {
	cfg := &config.Config{
		TranscriberProvider: "deepgram",
		TranscriberModel:    "nova-2",
		TranscriberLanguage: "de",
		VoiceProvider:       "11labs",
		ModelProvider:       "anthropic",
		ModelName:           "claude",
		DefaultVoice:        "male",
		DefaultStyle:        "casual",
	}

	s := SettingsFromConfig(cfg)
	assistant, _ := BuildAssistant(s, SessionConfig{})

	assert.Equal(t, "nova-2", assistant.Transcriber.Model)
	assert.Equal(t, "de", assistant.Transcriber.Language)
	assert.Equal(t, "anthropic", assistant.Model.Provider)
	assert.Equal(t, "2BJW5coyhAzSr8STdHbE", assistant.Voice.VoiceID)
}
