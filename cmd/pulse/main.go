package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/pulsekit/pulse/clock"
	"github.com/pulsekit/pulse/config"
	"github.com/pulsekit/pulse/logger"
	"github.com/pulsekit/pulse/metronome"
	"github.com/pulsekit/pulse/peersync"
	"github.com/pulsekit/pulse/pitch"
	"github.com/pulsekit/pulse/preset"
	"github.com/pulsekit/pulse/rhythm"
)

var (
	flagBPM         = flag.Int("bpm", 120, "tempo in beats per minute (20-300)")
	flagBeats       = flag.Int("beats", 4, "beats per bar (1-32)")
	flagUnit        = flag.Int("unit", 4, "beat unit (2, 4, 8 or 16)")
	flagSubdivision = flag.Int("subdivision", 0, "subdivision divisor (0, 2, 3 or 4)")
	flagDB          = flag.String("db", preset.DefaultDBFile, "preset database path")
	flagPresetName  = flag.String("preset", "", "start from a named preset")
	flagTuner       = flag.Bool("tuner", false, "run the chromatic tuner alongside the metronome")
	flagSyncListen  = flag.String("sync-listen", "", "local UDP address for peer sync (e.g. :9021)")
	flagSyncHost    = flag.String("sync-host", "", "peer host for sync")
	flagSyncPort    = flag.Int("sync-port", 9021, "peer port for sync")
)

func main() {
	flag.Parse()
	ctx := context.Background()
	Run(ctx)
}

// Run starts the metronome and blocks until interrupted.
func Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := logger.GetProjectLogger()
	wg := sync.WaitGroup{}

	m := metronome.New(config.DefaultEngineConfig())
	m.Register(beatPrinter{log: log})

	applyFlags(m, log)

	// Pair with the wearable peer when requested.
	if *flagSyncListen != "" && *flagSyncHost != "" {
		log.Info("Connecting peer sync channel...")
		ch, err := peersync.NewOSCChannel(*flagSyncListen, *flagSyncHost, *flagSyncPort)
		if err != nil {
			log.Errorf("could not open sync channel: %v", err)
		} else {
			defer ch.Close()
			syncer := peersync.NewSyncer(m, ch, clock.Real(), nil)
			m.AttachSyncer(syncer)
			wg.Add(1)
			go syncer.Run(ctx, &wg)
			syncer.Ping()
		}
	}

	if err := m.Start(); err != nil {
		log.Warnf("started without audio: %v", err)
	}

	if *flagTuner {
		if err := m.StartTuner(); err != nil {
			log.Warnf("tuner unavailable: %v", err)
		}
	}

	// handle CTRL+C interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	log.Println("shutting down pulse")
	m.StopTuner()
	m.Stop()
	cancel()
	wg.Wait()
}

func applyFlags(m *metronome.Metronome, log *logrus.Logger) {
	if *flagPresetName != "" {
		store, err := preset.Open(*flagDB)
		if err != nil {
			log.Fatalf("error opening preset store. err='%v'", err)
		}
		defer store.Close()
		presets, err := store.List()
		if err != nil {
			log.Fatalf("error listing presets. err='%v'", err)
		}
		for i := range presets {
			if presets[i].Name == *flagPresetName {
				m.ApplyPreset(&presets[i])
				if err := store.SetLastUsed(presets[i].ID); err != nil {
					log.Warnf("could not record last-used preset: %v", err)
				}
				return
			}
		}
		log.Fatalf("no preset named %q", *flagPresetName)
	}

	ts, err := rhythm.NewTimeSignature(*flagBeats, *flagUnit)
	if err != nil {
		log.Fatalf("invalid time signature. err='%v'", err)
	}
	m.SetTimeSignature(ts)
	m.SetBPM(*flagBPM)
	m.SetSubdivision(rhythm.SubdivisionFromDivisor(*flagSubdivision))
}

// beatPrinter logs engine events for headless runs.
type beatPrinter struct {
	log *logrus.Logger
}

func (p beatPrinter) OnBeat(bar uint64, beat int, accent bool, _ float64) {
	p.log.WithFields(logrus.Fields{"bar": bar, "beat": beat, "accent": accent}).Debug("beat")
}

func (p beatPrinter) OnSubdivision(index int) {
	p.log.WithField("index", index).Trace("subdivision")
}

func (p beatPrinter) OnStateChange(cfg rhythm.Config, playing bool) {
	p.log.WithFields(logrus.Fields{"bpm": cfg.BPM, "playing": playing}).Info("state")
}

func (p beatPrinter) OnPitch(reading pitch.Reading, note pitch.Note, cents float64, accuracy pitch.Accuracy) {
	p.log.WithFields(logrus.Fields{
		"freq":     reading.Frequency,
		"note":     note.Name,
		"octave":   note.Octave,
		"cents":    cents,
		"accuracy": accuracy.String(),
	}).Info("pitch")
}
