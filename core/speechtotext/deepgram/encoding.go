package deepgram

import (
	"fmt"

	"github.com/koscakluka/ema-chat/core/audio"
)

// validateEncoding reports whether deepgram can transcribe raw audio in the
// given encoding.
func validateEncoding(encoding audio.EncodingInfo) error {
	switch encoding.SampleRate {
	case 8000, 16000, 24000, 32000, 48000:
	default:
		return fmt.Errorf("unsupported sample rate %d", encoding.SampleRate)
	}

	switch encoding.Format {
	case audio.EncodingLinear16:
	case audio.EncodingALaw, audio.EncodingMulaw:
		if encoding.SampleRate != 8000 {
			return fmt.Errorf("unsupported sample rate for %s encoding", encoding.Format.Name())
		}
	default:
		return fmt.Errorf("unsupported encoding %q", encoding.Format.Name())
	}

	return nil
}
