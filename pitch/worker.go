package pitch

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pulsekit/pulse/audio"
	"github.com/pulsekit/pulse/logger"
)

// Status is the tuner session state exposed to the host, including the
// reason the tuner is idle.
type Status int

const (
	StatusIdle Status = iota
	StatusListening
	StatusPermissionDenied
)

func (s Status) String() string {
	switch s {
	case StatusListening:
		return "listening"
	case StatusPermissionDenied:
		return "permission_denied"
	default:
		return "idle"
	}
}

// Result is one validated detection delivered to the host.
type Result struct {
	Reading  Reading
	Note     Note
	Accuracy Accuracy
}

// Worker consumes capture blocks and runs the detection chain off the device
// callback timeline. Only readings that pass the validity gate and classify
// onto the MIDI range are delivered.
type Worker struct {
	detector   *Detector
	classifier *Classifier
	blocks     <-chan audio.Block
	notify     func(Result)

	status atomic.Int32
}

// NewWorker wires a detector and classifier to a block queue. notify is
// invoked on the worker goroutine; observers must not block it.
func NewWorker(detector *Detector, classifier *Classifier, blocks <-chan audio.Block, notify func(Result)) *Worker {
	return &Worker{
		detector:   detector,
		classifier: classifier,
		blocks:     blocks,
		notify:     notify,
	}
}

// Status returns the session state.
func (w *Worker) Status() Status {
	return Status(w.status.Load())
}

// SetStatus records the session state, e.g. StatusPermissionDenied when the
// capture device could not be acquired.
func (w *Worker) SetStatus(s Status) {
	w.status.Store(int32(s))
}

// Run processes blocks until the context is done or the queue closes.
func (w *Worker) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	defer w.status.Store(int32(StatusIdle))

	w.status.Store(int32(StatusListening))
	log := logger.GetProjectLogger()
	log.Info("pitch analysis started")

	for {
		select {
		case <-ctx.Done():
			log.Info("pitch analysis stopped")
			return
		case block, ok := <-w.blocks:
			if !ok {
				return
			}
			w.analyze(block)
		}
	}
}

func (w *Worker) analyze(block audio.Block) {
	reading, ok := w.detector.Process(block.Samples, block.Time)
	if !ok || !reading.Valid() {
		return
	}
	note, ok := w.classifier.Classify(reading.Frequency)
	if !ok {
		return
	}
	if w.notify != nil {
		w.notify(Result{
			Reading:  reading,
			Note:     note,
			Accuracy: w.classifier.Accuracy(note.Cents),
		})
	}
}
