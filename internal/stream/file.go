package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Defaults for FileProducer options.
const (
	DefaultReadSize    = 16384
	DefaultBufferCount = 3
)

// Options sizes a FileProducer.
type Options struct {
	// ReadSize is the chunk size in bytes.
	ReadSize int
	// BufferCount is the number of chunks in flight between reader and sink.
	BufferCount int
	// ProgressEvery reports progress after this many chunks; zero disables it.
	ProgressEvery int
	// AwaitReady gates writes on sink credits. A run starts with
	// BufferCount credits, each write spends one and each Ready returns one.
	AwaitReady bool
	// BytesPerSecond paces writes to the sink; zero writes as fast as
	// possible. SetSampleRate replaces it for later runs.
	BytesPerSecond int64
}

// FileProducer streams waveform files into a sink through a ring of buffers.
type FileProducer struct {
	opts   Options
	sink   io.Writer
	cb     Callbacks
	logger *zap.Logger

	rate atomic.Int64

	mu   sync.Mutex
	runs map[Handle]*run
}

// Compile-time assertion that FileProducer implements Producer
var _ Producer = (*FileProducer)(nil)

var _ RateSetter = (*FileProducer)(nil)

type run struct {
	handle Handle
	path   string
	src    io.ReadCloser

	ctx    context.Context
	cancel context.CancelFunc
	rate   int64
	ready  chan struct{}
	done   chan struct{}

	mu      sync.Mutex
	stopped bool
}

type chunk struct {
	buf []byte
	n   int
}

// NewFileProducer creates a producer writing to sink.
func NewFileProducer(opts Options, sink io.Writer, cb Callbacks, logger *zap.Logger) *FileProducer {
	if opts.ReadSize <= 0 {
		opts.ReadSize = DefaultReadSize
	}
	if opts.BufferCount <= 0 {
		opts.BufferCount = DefaultBufferCount
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &FileProducer{
		opts:   opts,
		sink:   sink,
		cb:     cb,
		logger: logger,
		runs:   make(map[Handle]*run),
	}
	p.rate.Store(opts.BytesPerSecond)
	return p
}

// SetSampleRate paces runs started after this call at hz I/Q samples per
// second. Zero disables pacing.
func (p *FileProducer) SetSampleRate(hz uint32) {
	p.rate.Store(int64(hz) * BytesPerSample)
}

// Start opens path and begins production on a new goroutine.
func (p *FileProducer) Start(path string) (Handle, error) {
	src, err := Open(path)
	if err != nil {
		return "", &FileOpenError{Path: path, Err: err}
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		handle: Handle(uuid.NewString()),
		path:   path,
		src:    src,
		ctx:    ctx,
		cancel: cancel,
		rate:   p.rate.Load(),
		ready:  make(chan struct{}, p.opts.BufferCount),
		done:   make(chan struct{}),
	}
	if p.opts.AwaitReady {
		for i := 0; i < p.opts.BufferCount; i++ {
			r.ready <- struct{}{}
		}
	}

	p.mu.Lock()
	p.runs[r.handle] = r
	p.mu.Unlock()

	p.logger.Debug("stream started", zap.String("run", string(r.handle)), zap.String("path", path))

	go p.produce(r)

	return r.handle, nil
}

// Stop cancels the run and waits for its goroutine to exit. Unknown or
// finished handles are ignored.
func (p *FileProducer) Stop(h Handle) {
	p.mu.Lock()
	r := p.runs[h]
	delete(p.runs, h)
	p.mu.Unlock()

	if r == nil {
		return
	}

	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()

	r.cancel()
	<-r.done

	p.logger.Debug("stream stopped", zap.String("run", string(h)))
}

// Ready returns one write credit to the run when AwaitReady is set. Credits
// beyond BufferCount are dropped.
func (p *FileProducer) Ready(h Handle) {
	p.mu.Lock()
	r := p.runs[h]
	p.mu.Unlock()

	if r == nil {
		return
	}

	select {
	case r.ready <- struct{}{}:
	default:
	}
}

// Active returns the number of runs in progress.
func (p *FileProducer) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.runs)
}

func (p *FileProducer) produce(r *run) {
	var wg sync.WaitGroup
	defer close(r.done)
	defer func() { _ = r.src.Close() }()
	defer wg.Wait()
	defer r.cancel()

	free := make(chan []byte, p.opts.BufferCount)
	for i := 0; i < p.opts.BufferCount; i++ {
		free <- make([]byte, p.opts.ReadSize)
	}
	filled := make(chan chunk, p.opts.BufferCount)
	readErr := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(filled)
		p.read(r, free, filled, readErr)
	}()

	var written int64
	chunks := 0
	started := time.Now()

	for c := range filled {
		if p.opts.AwaitReady {
			select {
			case <-r.ready:
			case <-r.ctx.Done():
				return
			}
		}

		if _, err := p.sink.Write(c.buf[:c.n]); err != nil {
			p.finish(r, ReasonReadError, &ReadError{Path: r.path, Offset: written, Err: err})
			return
		}
		written += int64(c.n)
		chunks++

		select {
		case free <- c.buf:
		default:
		}

		if p.opts.ProgressEvery > 0 && chunks%p.opts.ProgressEvery == 0 && p.cb.Progress != nil {
			p.cb.Progress(r.handle, written)
		}

		if !p.pace(r.ctx, r.rate, started, written) {
			return
		}
	}

	if r.ctx.Err() != nil {
		return
	}

	if err := <-readErr; err != nil {
		p.finish(r, ReasonReadError, &ReadError{Path: r.path, Offset: written, Err: err})
		return
	}
	p.finish(r, ReasonEndOfFile, nil)
}

// read fills free buffers from the source until EOF, error or cancellation.
// It sends exactly one value on readErr unless cancelled.
func (p *FileProducer) read(r *run, free <-chan []byte, filled chan<- chunk, readErr chan<- error) {
	for {
		var buf []byte
		select {
		case buf = <-free:
		case <-r.ctx.Done():
			return
		}

		n, err := io.ReadFull(r.src, buf)
		if n > 0 {
			select {
			case filled <- chunk{buf: buf, n: n}:
			case <-r.ctx.Done():
				return
			}
		}

		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			readErr <- nil
			return
		}
		if err != nil {
			readErr <- err
			return
		}
	}
}

// pace sleeps until written bytes are due at rate bytes per second. It
// returns false if the run was cancelled while waiting.
func (p *FileProducer) pace(ctx context.Context, rate int64, started time.Time, written int64) bool {
	if rate <= 0 {
		return ctx.Err() == nil
	}

	due := started.Add(time.Duration(written) * time.Second / time.Duration(rate))
	wait := time.Until(due)
	if wait <= 0 {
		return ctx.Err() == nil
	}

	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// finish reports completion unless the run was stopped first.
func (p *FileProducer) finish(r *run, reason CompletionReason, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return
	}

	p.mu.Lock()
	delete(p.runs, r.handle)
	p.mu.Unlock()

	if err != nil {
		p.logger.Warn("stream failed", zap.String("run", string(r.handle)), zap.Error(err))
	} else {
		p.logger.Debug("stream finished", zap.String("run", string(r.handle)), zap.String("reason", string(reason)))
	}

	if p.cb.Done != nil {
		p.cb.Done(r.handle, reason, err)
	}
}
