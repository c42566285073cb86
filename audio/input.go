package audio

import (
	"context"
	"sync"
	"time"

	"github.com/MarkKremer/microphone/v2"
	"github.com/gopxl/beep/v2"
	"github.com/pkg/errors"

	"github.com/pulsekit/pulse/clock"
	"github.com/pulsekit/pulse/logger"
)

// Capture sizing. Device frames are pulled in small chunks and re-blocked
// into fixed analysis windows.
const (
	captureChunkFrames = 512
	blockQueueCap      = 4
)

// Block is one analysis window of mono samples stamped with the capture
// clock. Samples are owned by the receiver.
type Block struct {
	Samples []float64
	Time    time.Time
}

// CaptureSource abstracts the device stream so tests can feed synthetic
// blocks. The microphone implementation satisfies it directly.
type CaptureSource interface {
	Stream(samples [][2]float64) (n int, ok bool)
	Err() error
	Close() error
}

// MicSource opens the default capture device through portaudio.
type MicSource struct {
	stream *microphone.Streamer
}

// OpenMic initializes the capture backend and starts the default input
// stream in mono at the requested rate.
func OpenMic(sampleRate int) (*MicSource, error) {
	if err := microphone.Init(); err != nil {
		return nil, errors.Wrap(ErrAudioUnavailable, err.Error())
	}
	stream, _, err := microphone.OpenDefaultStream(beep.SampleRate(sampleRate), 1)
	if err != nil {
		microphone.Terminate()
		return nil, errors.Wrap(ErrMicPermissionDenied, err.Error())
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		microphone.Terminate()
		return nil, errors.Wrap(ErrAudioUnavailable, err.Error())
	}
	return &MicSource{stream: stream}, nil
}

func (m *MicSource) Stream(samples [][2]float64) (int, bool) {
	return m.stream.Stream(samples)
}

func (m *MicSource) Err() error {
	return m.stream.Err()
}

func (m *MicSource) Close() error {
	err := m.stream.Close()
	microphone.Terminate()
	return err
}

// Input pulls device frames off the capture callback path and re-blocks them
// into analysis windows on a drop-oldest queue. The heavy analysis never runs
// on the device timeline; it consumes Blocks from its own worker.
type Input struct {
	source    CaptureSource
	clk       clock.PassiveSource
	blockSize int

	blocks chan Block

	mu      sync.Mutex
	started bool
}

// NewInput wraps a capture source. blockSize is the analysis window length in
// samples (typically 4096).
func NewInput(source CaptureSource, clk clock.PassiveSource, blockSize int) *Input {
	return &Input{
		source:    source,
		clk:       clk,
		blockSize: blockSize,
		blocks:    make(chan Block, blockQueueCap),
	}
}

// Blocks returns the queue of completed analysis windows.
func (in *Input) Blocks() <-chan Block {
	return in.blocks
}

// Run pulls frames until the context is done. It publishes a full block as
// soon as it is assembled; when the consumer lags, the oldest block is
// dropped so the tuner always analyzes fresh signal.
func (in *Input) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	in.mu.Lock()
	if in.started {
		in.mu.Unlock()
		return
	}
	in.started = true
	in.mu.Unlock()

	log := logger.GetProjectLogger()
	log.WithField("block_size", in.blockSize).Info("audio capture started")

	chunk := make([][2]float64, captureChunkFrames)
	block := make([]float64, 0, in.blockSize)

	for {
		select {
		case <-ctx.Done():
			log.Info("audio capture stopped")
			return
		default:
		}

		n, ok := in.source.Stream(chunk)
		if !ok {
			if err := in.source.Err(); err != nil {
				log.WithField("err", err).Warn("capture stream ended")
			}
			return
		}
		for i := 0; i < n; i++ {
			block = append(block, chunk[i][0])
			if len(block) < in.blockSize {
				continue
			}
			out := make([]float64, in.blockSize)
			copy(out, block)
			block = block[:0]
			in.publish(Block{Samples: out, Time: in.clk.Now()})
		}
	}
}

func (in *Input) publish(b Block) {
	for {
		select {
		case in.blocks <- b:
			return
		default:
			// Queue full: discard the oldest block.
			select {
			case <-in.blocks:
			default:
			}
		}
	}
}
