package deepgram

import (
	"github.com/koscakluka/ema-chat/core/texttospeech"
	"golang.org/x/text/language"
)

type deepgramVoice struct {
	model  string
	locale string
}

// Aura 2 has no Hindi voices, Hindi utterances fall back to the English
// ones.
var availableVoices = []deepgramVoice{
	{model: "aura-2-thalia-en", locale: "en-US"},
	{model: "aura-2-andromeda-en", locale: "en-US"},
	{model: "aura-2-helena-en", locale: "en-US"},
	{model: "aura-2-apollo-en", locale: "en-US"},
	{model: "aura-2-arcas-en", locale: "en-US"},
	{model: "aura-2-aries-en", locale: "en-US"},
	{model: "aura-2-draco-en", locale: "en-GB"},
	{model: "aura-2-pandora-en", locale: "en-GB"},
	{model: "aura-2-hyperion-en", locale: "en-AU"},
	{model: "aura-2-theia-en", locale: "en-AU"},
	{model: "aura-2-amalthea-en", locale: "en-PH"},
	{model: "aura-2-celeste-es", locale: "es-CO"},
	{model: "aura-2-estrella-es", locale: "es-MX"},
	{model: "aura-2-nestor-es", locale: "es-ES"},
}

const defaultVoiceModel = "aura-2-thalia-en"

// GetAvailableVoices returns the catalog of voices the client can speak
// with, default voice first.
func GetAvailableVoices() []texttospeech.Voice {
	voices := make([]texttospeech.Voice, 0, len(availableVoices))
	for _, voice := range availableVoices {
		voices = append(voices, texttospeech.Voice{
			Name:   voice.model,
			Locale: language.MustParse(voice.locale),
		})
	}
	return voices
}
