package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jfreymuth/pulse"
)

// Sink describes one Pulse output.
type Sink struct {
	ID      string
	Name    string
	Default bool
}

// ListSinks returns every Pulse output with the default flagged.
func ListSinks(_ context.Context) ([]Sink, error) {
	client, err := connect("audio-speakers")
	if err != nil {
		return nil, err
	}
	defer client.Close()

	defaultID := ""
	if sink, derr := client.DefaultSink(); derr == nil && sink != nil {
		defaultID = sink.ID()
	}

	sinks, err := client.ListSinks()
	if err != nil {
		return nil, fmt.Errorf("list sinks: %w", err)
	}

	out := make([]Sink, 0, len(sinks))
	for _, sink := range sinks {
		if sink == nil {
			continue
		}
		out = append(out, Sink{ID: sink.ID(), Name: sink.Name(), Default: sink.ID() == defaultID})
	}
	return out, nil
}

// CheckSink reports whether the configured output (or the default) exists.
func CheckSink(ctx context.Context, id string) error {
	sinks, err := ListSinks(ctx)
	if err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	for _, sink := range sinks {
		if id == "" || id == "default" {
			if sink.Default {
				return nil
			}
			continue
		}
		if sink.ID == id {
			return nil
		}
	}
	if id == "" || id == "default" {
		return fmt.Errorf("default audio sink is unavailable")
	}
	return fmt.Errorf("audio.output %q did not match any sink", id)
}

// Player plays mono PCM16LE clips on one Pulse sink.
type Player struct {
	SinkID    string
	MediaName string
}

// Play blocks until pcm has been played or ctx is done.
func (p Player) Play(ctx context.Context, pcm []byte, sampleRate int) error {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	media := p.MediaName
	if media == "" {
		media = "parley speech"
	}
	return PlaySamples(ctx, p.SinkID, samples, sampleRate, media)
}

// PlaySamples plays mono int16 samples and returns ctx.Err() when cut short.
func PlaySamples(ctx context.Context, sinkID string, samples []int16, sampleRate int, media string) error {
	if len(samples) == 0 {
		return nil
	}
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}

	client, err := connect("audio-speakers")
	if err != nil {
		return err
	}
	defer client.Close()

	opts := []pulse.PlaybackOption{
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(sampleRate),
		pulse.PlaybackLatency(0.05),
		pulse.PlaybackMediaName(media),
	}
	if id := strings.TrimSpace(sinkID); id != "" && id != "default" {
		sink, serr := client.SinkByID(id)
		if serr != nil {
			return fmt.Errorf("resolve sink %q: %w", id, serr)
		}
		opts = append(opts, pulse.PlaybackSink(sink))
	}

	var cancelled atomic.Bool
	cursor := 0
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if cancelled.Load() || cursor >= len(samples) {
			return 0, pulse.EndOfData
		}
		n := copy(buf, samples[cursor:])
		cursor += n
		if cursor >= len(samples) {
			return n, pulse.EndOfData
		}
		return n, nil
	})

	stream, err := client.NewPlayback(reader, opts...)
	if err != nil {
		return classifyPulseError("create pulse playback stream", err)
	}
	defer stream.Close()

	drained := make(chan struct{})
	stream.Start()
	go func() {
		stream.Drain()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		cancelled.Store(true)
		stream.Stop()
		select {
		case <-drained:
		case <-time.After(time.Second):
		}
		return ctx.Err()
	}

	if err := stream.Error(); err != nil {
		return fmt.Errorf("play stream: %w", err)
	}
	return nil
}
