package session

import (
	"strings"

	"github.com/lexiqai/companion-gateway/internal/config"
	"github.com/lexiqai/companion-gateway/internal/realtime"
)

// fallbackVoiceID is used when the voice/style pair is not in the catalog.
const fallbackVoiceID = "sarah"

// voiceCatalog maps voice -> style -> backend voice ID.
var voiceCatalog = map[string]map[string]string{
	"male": {
		"casual": "2BJW5coyhAzSr8STdHbE",
		"formal": "c6SfcYrb2t09NHXiT80T",
	},
	"female": {
		"casual": "ZIlrSGI4jZqobxRKprJz",
		"formal": "sarah",
	},
}

const firstMessage = "Hello, let's start the session. Today we'll be talking about {{topic}}."

const tutorPrompt = `You are a highly knowledgeable tutor teaching a real-time voice session with a student. Your goal is to teach the student about the topic and subject.

Tutor Guidelines:
Stick to the given topic - {{ topic }} and subject - {{ subject }} and teach the student about it.
Keep the conversation flowing smoothly while maintaining control.
From time to time make sure that the student is following you and understands you.
Break down the topic into smaller parts and teach the student one part at a time.
Keep your style of conversation {{ style }}.
Keep your responses short, like in a real voice conversation.
Do not include any special characters in your responses - this is a voice conversation.`

// AssistantSettings are the deployment-wide parts of the assistant configuration.
type AssistantSettings struct {
	TranscriberProvider string
	TranscriberModel    string
	TranscriberLanguage string
	VoiceProvider       string
	ModelProvider       string
	ModelName           string
	DefaultVoice        string
	DefaultStyle        string
}

// DefaultAssistantSettings returns the settings used when nothing is configured.
func DefaultAssistantSettings() AssistantSettings {
	return AssistantSettings{
		TranscriberProvider: "deepgram",
		TranscriberModel:    "nova-3",
		TranscriberLanguage: "en",
		VoiceProvider:       "11labs",
		ModelProvider:       "openai",
		ModelName:           "gpt-4",
		DefaultVoice:        "female",
		DefaultStyle:        "formal",
	}
}

// SettingsFromConfig reads assistant settings from the service configuration.
func SettingsFromConfig(cfg *config.Config) AssistantSettings {
	return AssistantSettings{
		TranscriberProvider: cfg.TranscriberProvider,
		TranscriberModel:    cfg.TranscriberModel,
		TranscriberLanguage: cfg.TranscriberLanguage,
		VoiceProvider:       cfg.VoiceProvider,
		ModelProvider:       cfg.ModelProvider,
		ModelName:           cfg.ModelName,
		DefaultVoice:        cfg.DefaultVoice,
		DefaultStyle:        cfg.DefaultStyle,
	}
}

// VoiceID resolves a voice/style pair to a backend voice ID.
func VoiceID(voice, style string) string {
	if id, ok := voiceCatalog[strings.ToLower(voice)][strings.ToLower(style)]; ok {
		return id
	}
	return fallbackVoiceID
}

// BuildAssistant returns the assistant and per-call overrides a call for cfg is started with.
func BuildAssistant(s AssistantSettings, cfg SessionConfig) (realtime.AssistantConfig, realtime.Overrides) {
	voice := cfg.Voice
	if voice == "" {
		voice = s.DefaultVoice
	}
	style := cfg.Style
	if style == "" {
		style = s.DefaultStyle
	}

	assistant := realtime.AssistantConfig{
		Name:         "Companion",
		FirstMessage: firstMessage,
		Transcriber: realtime.Transcriber{
			Provider: s.TranscriberProvider,
			Model:    s.TranscriberModel,
			Language: s.TranscriberLanguage,
		},
		Voice: realtime.Voice{
			Provider:        s.VoiceProvider,
			VoiceID:         VoiceID(voice, style),
			Stability:       0.4,
			SimilarityBoost: 0.8,
			Speed:           1,
			Style:           0.5,
			UseSpeakerBoost: true,
		},
		Model: realtime.Model{
			Provider: s.ModelProvider,
			Model:    s.ModelName,
			Messages: []realtime.ModelMessage{
				{Role: "system", Content: tutorPrompt},
			},
		},
	}

	overrides := realtime.Overrides{
		VariableValues: map[string]string{
			"subject": cfg.Subject,
			"topic":   cfg.Topic,
			"style":   style,
		},
		ClientMessages: []string{realtime.MessageTypeTranscript},
		ServerMessages: []string{},
	}

	return assistant, overrides
}
