package metronome

import (
	"context"
	"sync"

	"github.com/pulsekit/pulse/audio"
	"github.com/pulsekit/pulse/haptic"
	"github.com/pulsekit/pulse/logger"
	"github.com/pulsekit/pulse/pitch"
)

// CaptureOpener acquires a capture source at a sample rate. The default is
// the microphone; tests inject synthetic sources.
type CaptureOpener func(sampleRate int) (audio.CaptureSource, error)

func defaultCaptureOpener(sampleRate int) (audio.CaptureSource, error) {
	return audio.OpenMic(sampleRate)
}

// tunerSession holds the capture + analysis workers while the tuner runs.
type tunerSession struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
	source audio.CaptureSource
	worker *pitch.Worker
}

// StartTuner acquires the capture device and launches the analysis chain.
// Detections reach observers through OnPitch; an in-tune detection also
// fires the InTune haptic (rate-limited by the haptic engine). When the
// microphone cannot be acquired the tuner stays idle and the error conveys
// the reason.
func (m *Metronome) StartTuner() error {
	m.mu.Lock()
	if m.tuner != nil {
		m.mu.Unlock()
		return nil
	}
	opener := m.captureOpener
	m.mu.Unlock()
	if opener == nil {
		opener = defaultCaptureOpener
	}

	source, err := opener(m.engCfg.SampleRate)
	if err != nil {
		logger.GetProjectLogger().WithField("err", err).Warn("tuner capture unavailable")
		return err
	}

	detector := pitch.NewDetector(m.engCfg.SampleRate)
	classifier := pitch.NewClassifier(m.engCfg.ReferencePitch, m.engCfg.InTuneCents, m.engCfg.CloseCents)
	input := audio.NewInput(source, m.clk, m.engCfg.AnalysisBlockSize)

	notify := func(res pitch.Result) {
		if res.Accuracy == pitch.AccuracyInTune && m.engCfg.HapticEnabled {
			m.hap.Play(haptic.KindInTune)
		}
		m.notifier.each(func(o Observer) {
			o.OnPitch(res.Reading, res.Note, res.Note.Cents, res.Accuracy)
		})
	}
	worker := pitch.NewWorker(detector, classifier, input.Blocks(), notify)

	ctx, cancel := context.WithCancel(context.Background())
	session := &tunerSession{cancel: cancel, source: source, worker: worker}
	session.wg.Add(2)
	go input.Run(ctx, &session.wg)
	go worker.Run(ctx, &session.wg)

	m.mu.Lock()
	m.tuner = session
	m.classifier = classifier
	m.mu.Unlock()

	logger.GetProjectLogger().Info("tuner started")
	return nil
}

// StopTuner tears the analysis chain down and releases the capture device.
func (m *Metronome) StopTuner() {
	m.mu.Lock()
	session := m.tuner
	m.tuner = nil
	m.classifier = nil
	m.mu.Unlock()
	if session == nil {
		return
	}

	session.cancel()
	if err := session.source.Close(); err != nil {
		logger.GetProjectLogger().WithField("err", err).Warn("closing capture source")
	}
	session.wg.Wait()
	logger.GetProjectLogger().Info("tuner stopped")
}

// TunerStatus reports the tuner session state.
func (m *Metronome) TunerStatus() pitch.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tuner == nil {
		return pitch.StatusIdle
	}
	return m.tuner.worker.Status()
}

// SetReferencePitch retunes the classifier of a running tuner session and
// the config used for future sessions. Clamped into [415, 466].
func (m *Metronome) SetReferencePitch(hz float64) {
	m.mu.Lock()
	if hz < pitch.MinReferencePitch {
		hz = pitch.MinReferencePitch
	}
	if hz > pitch.MaxReferencePitch {
		hz = pitch.MaxReferencePitch
	}
	m.engCfg.ReferencePitch = hz
	if m.classifier != nil {
		m.classifier.SetReferencePitch(hz)
	}
	m.mu.Unlock()
}
