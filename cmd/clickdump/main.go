// clickdump renders a few bars of the configured click track into a WAV
// file, using the same timing engine and click synthesis as live playback.
// Handy for listening tests and as an audible regression artifact.
package main

import (
	"flag"
	"math"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/pulsekit/pulse/audio"
	"github.com/pulsekit/pulse/logger"
	"github.com/pulsekit/pulse/rhythm"
)

var (
	flagOut         = flag.String("out", "clicktrack.wav", "output WAV path")
	flagBPM         = flag.Int("bpm", 120, "tempo in beats per minute")
	flagBeats       = flag.Int("beats", 4, "beats per bar")
	flagUnit        = flag.Int("unit", 4, "beat unit")
	flagSubdivision = flag.Int("subdivision", 0, "subdivision divisor (0, 2, 3 or 4)")
	flagBars        = flag.Int("bars", 4, "bars to render")
	flagRate        = flag.Int("rate", 44100, "sample rate")
)

func main() {
	flag.Parse()
	log := logger.GetProjectLogger()

	ts, err := rhythm.NewTimeSignature(*flagBeats, *flagUnit)
	if err != nil {
		log.Fatalf("invalid time signature. err='%v'", err)
	}
	cfg := rhythm.Config{
		BPM:           *flagBPM,
		TimeSignature: ts,
		Accents:       rhythm.PresetStandard.Pattern(ts.BeatsPerBar),
		Subdivision:   rhythm.SubdivisionFromDivisor(*flagSubdivision),
	}.Normalized()

	samples := render(cfg, *flagBars, *flagRate)
	if err := writeWAV(*flagOut, samples, *flagRate); err != nil {
		log.Fatalf("error writing %s. err='%v'", *flagOut, err)
	}
	log.Infof("wrote %d bars (%d samples) to %s", *flagBars, len(samples), *flagOut)
}

// render drives the engine over a fake timeline and pulls the renderer the
// way the device callback would.
func render(cfg rhythm.Config, bars, sampleRate int) []float64 {
	renderer := audio.NewRenderer(audio.SynthesizeClickSet(sampleRate))

	epoch := time.Unix(0, 0)
	engine := rhythm.NewEngine()
	engine.Arm(cfg, epoch)

	total := time.Duration(bars*cfg.TicksPerBar()) * cfg.TickInterval()
	events := engine.Tick(epoch.Add(total-time.Nanosecond), nil)

	frames := int(total.Seconds()*float64(sampleRate)) + sampleRate/10
	out := make([]float64, 0, frames)
	buf := make([][2]float64, 512)
	idx := 0
	for len(out) < frames {
		// Top the queue up with events due within the next second so long
		// renders never overflow the bounded click queue.
		horizon := int64(len(out) + sampleRate)
		for idx < len(events) {
			ev := events[idx]
			frame := int64(math.Round(ev.Time.Sub(epoch).Seconds() * float64(sampleRate)))
			if frame >= horizon {
				break
			}
			kind := audio.ClickSubdivision
			switch {
			case ev.OnBeat && ev.Accent:
				kind = audio.ClickAccent
			case ev.OnBeat:
				kind = audio.ClickNormal
			}
			renderer.Schedule(audio.ScheduledClick{Kind: kind, Frame: frame})
			idx++
		}
		n, _ := renderer.Stream(buf)
		for i := 0; i < n; i++ {
			out = append(out, buf[i][0])
		}
	}
	return out[:frames]
}

func writeWAV(path string, samples []float64, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           make([]int, len(samples)),
		SourceBitDepth: 16,
	}
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		buf.Data[i] = int(s * 32767)
	}
	if err := enc.Write(buf); err != nil {
		return err
	}
	return enc.Close()
}
