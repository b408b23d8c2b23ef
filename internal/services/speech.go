package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// SystemSpeech speaks text through a command-line speech synthesizer. The text is written to the
// command's standard input; the literal "{voice}" in any argument is replaced with the requested voice.
type SystemSpeech struct {
	command string
	args    []string

	logger *slog.Logger
}

// Mute is a speech engine that says nothing. It is used when speech is disabled.
type Mute struct{}

const (
	voicePlaceholder = "{voice}"
	// speechWaitDelay bounds how long a killed synthesizer's children may hold its output open.
	speechWaitDelay = time.Second
)

// DefaultSpeechCommand returns the synthesizer found on a stock install of the current platform: "say" on
// macOS and "espeak-ng" elsewhere.
func DefaultSpeechCommand() (string, []string) {
	if runtime.GOOS == "darwin" {
		return "say", []string{"-v", voicePlaceholder, "-f", "-"}
	}
	return "espeak-ng", []string{"-v", voicePlaceholder, "--stdin"}
}

// DefaultSpeechVoices returns two distinct voices known to DefaultSpeechCommand's synthesizer, one for each
// model.
func DefaultSpeechVoices() (string, string) {
	if runtime.GOOS == "darwin" {
		return "Alex", "Samantha"
	}
	return "en+m3", "en+f3"
}

// NewSystemSpeech creates a new SystemSpeech running command with args. An empty command selects
// DefaultSpeechCommand.
func NewSystemSpeech(command string, args []string, logger *slog.Logger) SystemSpeech {
	if command == "" {
		command, args = DefaultSpeechCommand()
	}
	return SystemSpeech{
		command: command,
		args:    args,
		logger:  logger.With(slog.String("module", "speech")),
	}
}

// Speak blocks until the synthesizer has finished reading text. Cancelling ctx kills the synthesizer.
// When voice is empty, every argument holding the voice placeholder is dropped, along with the flag before
// a standalone placeholder, so the synthesizer falls back to its default voice.
func (s SystemSpeech) Speak(ctx context.Context, text, voice string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	cmd := exec.CommandContext(ctx, s.command, s.voiceArgs(voice)...)
	cmd.Stdin = strings.NewReader(text)
	cmd.WaitDelay = speechWaitDelay
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	s.logger.Debug("Speaking", slog.String("voice", voice), slog.Int("length", len(text)))

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && stderr.Len() > 0 {
			return fmt.Errorf("%s failed: %w: %s", s.command, err, strings.TrimSpace(stderr.String()))
		}
		return fmt.Errorf("%s failed: %w", s.command, err)
	}
	return nil
}

func (s SystemSpeech) voiceArgs(voice string) []string {
	args := make([]string, 0, len(s.args))
	for i, arg := range s.args {
		if voice == "" && strings.Contains(arg, voicePlaceholder) {
			// Drop the flag that introduced the voice, e.g. "-v". "--voice={voice}" goes as a whole.
			if arg == voicePlaceholder && len(args) > 0 && i > 0 && strings.HasPrefix(s.args[i-1], "-") {
				args = args[:len(args)-1]
			}
			continue
		}
		args = append(args, strings.ReplaceAll(arg, voicePlaceholder, voice))
	}
	return args
}

// Speak does nothing.
func (Mute) Speak(context.Context, string, string) error {
	return nil
}
