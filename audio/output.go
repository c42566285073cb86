package audio

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/pkg/errors"

	"github.com/pulsekit/pulse/logger"
)

// Errors surfaced by the device layer.
var (
	ErrAudioUnavailable    = errors.New("audio device unavailable")
	ErrMicPermissionDenied = errors.New("microphone permission denied")
	ErrNotOpen             = errors.New("audio output not open")
)

// Queue and mix bounds, fixed at open so the render callback never allocates.
const (
	clickQueueCap   = 256
	maxClickVoices  = 16
	speakerBufferMs = 50
)

// ScheduledClick is one queued click, timed in device frames.
type ScheduledClick struct {
	Kind  ClickKind
	Frame int64
}

// voice is an in-flight click: the shared PCM buffer and the playback cursor.
type voice struct {
	buf []float64
	pos int
}

// Renderer mixes scheduled clicks into the output stream. It implements
// beep.Streamer and owns the device clock: a frame counter advanced by every
// Stream call. Clicks are received over a bounded channel so the scheduler
// timeline never shares a lock with the audio callback.
type Renderer struct {
	set    *ClickSet
	queue  chan ScheduledClick
	next   ScheduledClick
	hasNxt bool
	voices [maxClickVoices]voice

	frames    atomic.Int64
	suspended atomic.Bool
	dropped   atomic.Int64
}

// NewRenderer builds a renderer around a click set. Exported so tests and the
// offline click dump can drive Stream without a device.
func NewRenderer(set *ClickSet) *Renderer {
	return &Renderer{
		set:   set,
		queue: make(chan ScheduledClick, clickQueueCap),
	}
}

// Schedule enqueues a click. It never blocks; when the queue is full the
// click is counted as dropped and the caller may report it.
func (r *Renderer) Schedule(c ScheduledClick) bool {
	select {
	case r.queue <- c:
		return true
	default:
		r.dropped.Add(1)
		return false
	}
}

// Frames returns the device clock in frames rendered since open.
func (r *Renderer) Frames() int64 {
	return r.frames.Load()
}

// Dropped returns the number of clicks rejected by a full queue.
func (r *Renderer) Dropped() int64 {
	return r.dropped.Load()
}

// SetSuspended toggles silent output. While suspended the frame counter keeps
// advancing (the device clock does not stop) but queued clicks are discarded.
func (r *Renderer) SetSuspended(v bool) {
	r.suspended.Store(v)
	if v {
		r.Clear()
	}
}

// Clear drains the queue and kills active voices.
func (r *Renderer) Clear() {
	for {
		select {
		case <-r.queue:
		default:
			r.hasNxt = false
			for i := range r.voices {
				r.voices[i] = voice{}
			}
			return
		}
	}
}

// Stream renders the next len(samples) frames. Clicks whose scheduled frame
// falls inside this buffer start at their exact offset; clicks already in the
// past start at offset zero (played immediately).
func (r *Renderer) Stream(samples [][2]float64) (int, bool) {
	n := len(samples)
	base := r.frames.Load()
	for i := range samples {
		samples[i][0] = 0
		samples[i][1] = 0
	}

	if r.suspended.Load() {
		r.frames.Add(int64(n))
		return n, true
	}

	// Continue voices already in progress.
	for i := range r.voices {
		v := &r.voices[i]
		if v.buf == nil {
			continue
		}
		v.pos = mix(samples, 0, v.buf, v.pos)
		if v.pos >= len(v.buf) {
			v.buf = nil
		}
	}

	// Activate clicks due within this buffer.
	for {
		if !r.hasNxt {
			select {
			case r.next = <-r.queue:
				r.hasNxt = true
			default:
			}
			if !r.hasNxt {
				break
			}
		}
		off := r.next.Frame - base
		if off >= int64(n) {
			break
		}
		if off < 0 {
			off = 0
		}
		r.startVoice(samples, int(off), r.set.Buffer(r.next.Kind))
		r.hasNxt = false
	}

	r.frames.Add(int64(n))
	return n, true
}

func (r *Renderer) startVoice(samples [][2]float64, off int, buf []float64) {
	pos := mix(samples, off, buf, 0)
	if pos >= len(buf) {
		return
	}
	for i := range r.voices {
		if r.voices[i].buf == nil {
			r.voices[i] = voice{buf: buf, pos: pos}
			return
		}
	}
	// Voice table exhausted: the tail of this click is dropped. Sixteen
	// concurrent sub-30ms transients cannot happen at legal tick rates.
	r.dropped.Add(1)
}

// mix adds src[pos:] into samples[off:] on both channels and returns the new
// source position.
func mix(samples [][2]float64, off int, src []float64, pos int) int {
	n := len(samples) - off
	if rem := len(src) - pos; rem < n {
		n = rem
	}
	for i := 0; i < n; i++ {
		samples[off+i][0] += src[pos+i]
		samples[off+i][1] += src[pos+i]
	}
	return pos + n
}

// Err implements beep.Streamer.
func (r *Renderer) Err() error {
	return nil
}

// Output is the device-facing playback layer: it owns the click buffers and
// the scheduled-click queue and keeps the device clock readable for the
// lookahead loop.
type Output struct {
	mu         sync.Mutex
	sampleRate int
	set        *ClickSet
	renderer   *Renderer
	open       bool
}

// NewOutput returns a closed output.
func NewOutput() *Output {
	return &Output{}
}

// Open acquires the speaker at the given sample rate and pre-renders the
// click set. Device failure maps to ErrAudioUnavailable; the metronome keeps
// running without audio.
func (o *Output) Open(sampleRate int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.open {
		return nil
	}

	o.sampleRate = sampleRate
	o.set = SynthesizeClickSet(sampleRate)
	o.renderer = NewRenderer(o.set)

	sr := beep.SampleRate(sampleRate)
	if err := speaker.Init(sr, sr.N(speakerBufferMs*time.Millisecond)); err != nil {
		return errors.Wrap(ErrAudioUnavailable, err.Error())
	}
	speaker.Play(o.renderer)
	o.open = true
	logger.GetProjectLogger().WithField("sample_rate", sampleRate).Info("audio output open")
	return nil
}

// SampleRate returns the open rate, or zero when closed.
func (o *Output) SampleRate() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sampleRate
}

// AudioClockNow reads the device clock in seconds.
func (o *Output) AudioClockNow() float64 {
	o.mu.Lock()
	r, sr := o.renderer, o.sampleRate
	o.mu.Unlock()
	if r == nil || sr == 0 {
		return 0
	}
	return float64(r.Frames()) / float64(sr)
}

// ScheduleClick enqueues a click at an absolute device-clock time in seconds.
// Times already in the past play immediately.
func (o *Output) ScheduleClick(kind ClickKind, audioTime float64) error {
	o.mu.Lock()
	r, sr := o.renderer, o.sampleRate
	o.mu.Unlock()
	if r == nil {
		return ErrNotOpen
	}
	frame := int64(math.Round(audioTime * float64(sr)))
	if !r.Schedule(ScheduledClick{Kind: kind, Frame: frame}) {
		logger.GetProjectLogger().WithField("kind", kind.String()).Warn("click queue full, dropping click")
	}
	return nil
}

// Suspend silences the device and clears the queue, e.g. when the process is
// hidden without a keep-alive capability.
func (o *Output) Suspend() {
	o.mu.Lock()
	r := o.renderer
	o.mu.Unlock()
	if r != nil {
		speaker.Lock()
		r.SetSuspended(true)
		speaker.Unlock()
	}
}

// Resume re-enables rendering after Suspend. The lookahead loop re-primes the
// queue on its next iteration.
func (o *Output) Resume() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.renderer != nil {
		o.renderer.SetSuspended(false)
	}
}

// Drain clears any queued clicks without closing the device.
func (o *Output) Drain() {
	o.mu.Lock()
	r := o.renderer
	o.mu.Unlock()
	if r != nil {
		speaker.Lock()
		r.Clear()
		speaker.Unlock()
	}
}

// Close drains and releases the device. An audio-session interruption is
// handled as Close followed by Open.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.open {
		return nil
	}
	speaker.Clear()
	speaker.Close()
	o.open = false
	o.renderer = nil
	o.set = nil
	o.sampleRate = 0
	return nil
}
