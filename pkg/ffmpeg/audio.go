package ffmpeg

import (
	"context"
	"time"
)

// SpeechAudio are the encoding settings for speech-to-text input: mono 16 kHz
// MP3 at 64 kbit/s, roughly 28 MB per hour.
func SpeechAudio() []Option {
	return []Option{
		NoVideo,
		AudioCodec("libmp3lame"),
		AudioBitrate("64k"),
		AudioChannels(1),
		AudioSampleRate(16000),
	}
}

// SpeechAudioBytesPerSecond is the nominal output rate of SpeechAudio.
const SpeechAudioBytesPerSecond = 64_000 / 8

// ExtractAudio writes the input's audio track as speech-tuned MP3.
func ExtractAudio(ctx context.Context, input, output string) error {
	return Run(ctx, input, output, append([]Option{LogLevel("error")}, SpeechAudio()...)...)
}

// ExtractAudioSegment writes [start, start+length) of the input's audio.
func ExtractAudioSegment(ctx context.Context, input, output string, start, length time.Duration) error {
	opts := []Option{LogLevel("error"), Seek(start), Duration(length)}
	return Run(ctx, input, output, append(opts, SpeechAudio()...)...)
}
