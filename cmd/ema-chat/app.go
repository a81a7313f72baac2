package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	orchestration "github.com/koscakluka/ema-chat/core"
	"github.com/koscakluka/ema-chat/core/audio/miniaudio"
	"github.com/koscakluka/ema-chat/core/audio/portaudio"
	"github.com/koscakluka/ema-chat/core/backend"
	"github.com/koscakluka/ema-chat/core/language"
	deepgramstt "github.com/koscakluka/ema-chat/core/speechtotext/deepgram"
	deepgramtts "github.com/koscakluka/ema-chat/core/texttospeech/deepgram"
	"github.com/koscakluka/ema-chat/core/voiceinput"
	"github.com/koscakluka/ema-chat/core/voiceoutput"
	"github.com/koscakluka/ema-chat/internal/config"
	xlanguage "golang.org/x/text/language"
)

// audioDevice is a microphone and speaker in one.
type audioDevice interface {
	deepgramstt.AudioInput
	deepgramtts.AudioOutput
	Close()
}

// app holds every component of a running chat.
type app struct {
	backend        *backend.Client
	backendTimeout time.Duration
	orchestrator   *orchestration.Orchestrator
	device         audioDevice
	voiceInput     *voiceinput.Controller
	voiceOutput    *voiceoutput.Controller
	gesture        *voiceinput.Gesture
}

var errVoiceInputDisabled = errors.New("voice input is disabled")

func newApp(cfg config.Config, obs *observer) (*app, error) {
	client, err := backend.NewClient(cfg.Backend.URL)
	if err != nil {
		return nil, err
	}
	a := &app{backend: client, backendTimeout: cfg.Backend.Timeout()}

	opts := append(obs.orchestratorOptions(),
		orchestration.WithBackend(client),
		orchestration.WithSettleDelay(cfg.Chat.SettleDelay()),
		orchestration.WithModel(cfg.Chat.Model),
		orchestration.WithSessionLanguage(cfg.Chat.Language),
	)
	if cfg.Chat.Temperature != nil {
		opts = append(opts, orchestration.WithTemperature(*cfg.Chat.Temperature))
	}
	if cfg.Chat.MaxTokens > 0 {
		opts = append(opts, orchestration.WithMaxTokens(cfg.Chat.MaxTokens))
	}
	if cfg.Chat.TopP != nil {
		opts = append(opts, orchestration.WithTopP(*cfg.Chat.TopP))
	}

	if cfg.VoiceEnabled() {
		if err := a.initVoice(cfg, obs); err != nil {
			a.Close()
			return nil, err
		}
		opts = append(opts,
			orchestration.WithSpeaker(a.voiceOutput),
			orchestration.WithVoiceInput(a.voiceInput),
		)
	}

	a.orchestrator = orchestration.NewOrchestrator(opts...)
	return a, nil
}

func (a *app) initVoice(cfg config.Config, obs *observer) error {
	device, err := openAudioDevice(cfg.Audio)
	if err != nil {
		return err
	}
	a.device = device

	synthesizer, err := deepgramtts.NewTextToSpeechClient(
		deepgramtts.WithAPIKey(cfg.Deepgram.APIKey),
		deepgramtts.WithAudioOutput(device),
	)
	if err != nil {
		return fmt.Errorf("failed to create speech synthesizer: %w", err)
	}
	a.voiceOutput = voiceoutput.NewController(synthesizer,
		append(obs.voiceOutputOptions(), voiceoutput.WithEnabled(cfg.Voice.OutputEnabled))...,
	)

	recognizer, err := deepgramstt.NewTranscriptionClient(
		deepgramstt.WithAPIKey(cfg.Deepgram.APIKey),
		deepgramstt.WithModel(cfg.Deepgram.STTModel),
		deepgramstt.WithNoSpeechTimeout(cfg.Deepgram.NoSpeechTimeout()),
		deepgramstt.WithAudioInput(device),
	)
	if err != nil {
		return fmt.Errorf("failed to create speech recognizer: %w", err)
	}
	a.voiceInput = voiceinput.NewController(recognizer,
		append(obs.voiceInputOptions(),
			voiceinput.WithLanguage(recognitionLanguage(cfg.Voice.Language)),
			voiceinput.WithStateChangedCallback(func(state voiceinput.State) {
				listening := state == voiceinput.StateListening
				// Nil until the orchestrator exists, sessions cannot start
				// before that.
				if a.orchestrator != nil {
					a.orchestrator.SetListening(listening)
				}
				obs.send(listeningChangedMsg{listening: listening})
			}),
			voiceinput.WithTranscriptCallback(func(transcript string) {
				if err := a.orchestrator.Submit(context.Background(), transcript); err != nil {
					obs.send(noticeMsg{text: submitNotice(err)})
				}
			}),
		)...,
	)
	if cfg.Voice.InputEnabled {
		a.gesture = voiceinput.NewGesture(a.voiceInput, voiceinput.WithHoldThreshold(cfg.Voice.HoldThreshold()))
	}

	return nil
}

func openAudioDevice(cfg config.AudioConfig) (audioDevice, error) {
	switch cfg.Driver {
	case "portaudio":
		device, err := portaudio.NewClient(cfg.BufferSize)
		if err != nil {
			return nil, fmt.Errorf("failed to open portaudio device: %w", err)
		}
		return device, nil
	case "miniaudio":
		device, err := miniaudio.NewClient()
		if err != nil {
			return nil, fmt.Errorf("failed to open miniaudio device: %w", err)
		}
		return device, nil
	}
	return nil, fmt.Errorf("unsupported audio driver %q", cfg.Driver)
}

// recognitionLanguage maps a configured locale onto the languages replies are
// classified in.
func recognitionLanguage(locale string) language.Tag {
	tag, err := xlanguage.Parse(locale)
	if err != nil {
		return language.English
	}
	if base, _ := tag.Base(); base == language.Hindi.Base() {
		return language.Hindi
	}
	return language.English
}

// Close stops voice activity, waits for the live turn and releases the audio
// device.
func (a *app) Close() {
	if a.voiceInput != nil {
		if err := a.voiceInput.Stop(); err != nil {
			logger.Warn("failed to stop voice input", slog.String("error", err.Error()))
		}
	}
	if a.voiceOutput != nil {
		a.voiceOutput.Stop()
	}
	if a.orchestrator != nil {
		a.orchestrator.Close()
	}
	if a.device != nil {
		a.device.Close()
	}
}

// checkBackend reports backend readiness and the default model.
func (a *app) checkBackend(ctx context.Context) backendStatusMsg {
	ctx, cancel := context.WithTimeout(ctx, a.backendTimeout)
	defer cancel()

	health, err := a.backend.Health(ctx)
	if err != nil {
		logger.Warn("backend health check failed", slog.String("error", err.Error()))
		return backendStatusMsg{err: err}
	}

	status := backendStatusMsg{ready: health.Ready(), server: health.Metrics}
	models, err := a.backend.Models(ctx)
	if err != nil {
		logger.Warn("failed to list backend models", slog.String("error", err.Error()))
		status.err = err
		return status
	}
	status.defaultModel = models.Default
	status.models = len(models.Models)
	return status
}

func submitNotice(err error) string {
	switch {
	case errors.Is(err, orchestration.ErrTurnInProgress):
		return "Wait for the current reply to finish."
	case errors.Is(err, orchestration.ErrEmptyMessage):
		return "Nothing to send."
	case errors.Is(err, orchestration.ErrClosed):
		return "The conversation is closed."
	}
	return err.Error()
}

// ToggleListening taps the microphone gesture.
func (a *app) ToggleListening(ctx context.Context) error {
	if a.gesture == nil {
		return errVoiceInputDisabled
	}
	a.gesture.Press(ctx)
	a.gesture.Release()
	return nil
}

func (a *app) SpeechEnabled() bool {
	return a.voiceOutput.Enabled()
}

func (a *app) SetSpeechEnabled(enabled bool) {
	a.voiceOutput.SetEnabled(enabled)
}

func (a *app) StopSpeaking() {
	a.voiceOutput.Stop()
}
