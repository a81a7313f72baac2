package voiceoutput

import (
	"github.com/koscakluka/ema-chat/core/language"
	"github.com/koscakluka/ema-chat/core/texttospeech"
)

// selectVoice prefers a voice with the exact regional locale of tag, then any
// voice of the same language, then the first voice.
func selectVoice(voices []texttospeech.Voice, tag language.Tag) (texttospeech.Voice, bool) {
	if len(voices) == 0 {
		return texttospeech.Voice{}, false
	}

	locale := tag.Locale()
	for _, voice := range voices {
		if voice.Locale == locale {
			return voice, true
		}
	}

	base := tag.Base()
	for _, voice := range voices {
		if voiceBase, confidence := voice.Locale.Base(); confidence != 0 && voiceBase == base {
			return voice, true
		}
	}

	return voices[0], true
}
