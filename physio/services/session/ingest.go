package session

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const DefaultIdleTimeout = 30 * time.Second

var errConsumed = errors.New("stream already consumed")

type fragment struct {
	text string
	err  error
}

// Ingester turns a completion body into UTF-8 text fragments. It is single-use:
// the body is read by exactly one consumer, once.
//
// Multi-byte sequences split across network reads are held back until complete,
// so fragments are always valid text regardless of chunk boundaries. A silence
// longer than the idle timeout (before the first byte or between bytes) ends the
// stream with ErrStreamTimeout.
type Ingester struct {
	body        io.ReadCloser
	decoded     io.Reader
	idleTimeout time.Duration

	mu      sync.Mutex
	started bool

	frags      chan fragment
	abortCh    chan struct{}
	quit       chan struct{}
	readerDone chan struct{}
	finished   chan struct{}
	abortOnce  sync.Once
	stopOnce   sync.Once
}

func NewIngester(body io.ReadCloser, idleTimeout time.Duration) *Ingester {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Ingester{
		body:        body,
		decoded:     transform.NewReader(body, unicode.UTF8.NewDecoder()),
		idleTimeout: idleTimeout,
		frags:       make(chan fragment),
		abortCh:     make(chan struct{}),
		quit:        make(chan struct{}),
		readerDone:  make(chan struct{}),
		finished:    make(chan struct{}),
	}
}

// Fragments yields text as it arrives. The sequence ends without an error on a
// graceful end of stream, or with exactly one error (transport failure, idle
// timeout, abort or context cancellation). A second call yields an error.
func (in *Ingester) Fragments(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		in.consume(ctx, yield, nil)
	}
}

// Run is the callback form of Fragments: onChunk for every fragment, then either
// onDone or onError exactly once. Nothing fires after the terminal callback, and
// nothing fires once Abort has returned.
func (in *Ingester) Run(ctx context.Context, onChunk func(string), onDone func(), onError func(error)) {
	in.consume(ctx, func(text string, err error) bool {
		if err != nil {
			onError(err)
			return false
		}
		onChunk(text)
		return true
	}, onDone)
}

// Abort stops the read and returns once no further fragment or callback can be
// delivered. It is idempotent. It must not be called from inside a callback or
// the consuming loop of Fragments.
func (in *Ingester) Abort() {
	in.abortOnce.Do(func() { close(in.abortCh) })

	in.mu.Lock()
	started := in.started
	in.started = true
	in.mu.Unlock()

	if !started {
		in.stop(false)
		close(in.finished)
		return
	}
	<-in.finished
}

func (in *Ingester) begin() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.started {
		return false
	}
	in.started = true
	return true
}

func (in *Ingester) consume(ctx context.Context, yield func(string, error) bool, onEnd func()) {
	if !in.begin() {
		yield("", newError(ErrStreamTransport, "stream unavailable", errConsumed))
		return
	}
	defer close(in.finished)
	defer in.stop(true)

	go in.read()

	idle := time.NewTimer(in.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-in.abortCh:
			yield("", newError(ErrStreamTransport, "stream aborted", ErrAborted))
			return
		default:
		}

		select {
		case f, ok := <-in.frags:
			if !ok {
				if onEnd != nil {
					onEnd()
				}
				return
			}
			if f.err != nil {
				yield("", newError(ErrStreamTransport, "read failed", f.err))
				return
			}
			idle.Reset(in.idleTimeout)
			if !yield(f.text, nil) {
				return
			}
		case <-idle.C:
			yield("", newError(ErrStreamTimeout, "no data received within "+in.idleTimeout.String(), nil))
			return
		case <-in.abortCh:
			yield("", newError(ErrStreamTransport, "stream aborted", ErrAborted))
			return
		case <-ctx.Done():
			yield("", newError(ErrStreamTransport, "stream cancelled", errors.Join(ErrAborted, ctx.Err())))
			return
		}
	}
}

func (in *Ingester) read() {
	defer close(in.readerDone)
	defer close(in.frags)

	buf := make([]byte, 4096)
	for {
		n, err := in.decoded.Read(buf)
		if n > 0 {
			select {
			case in.frags <- fragment{text: string(buf[:n])}:
			case <-in.quit:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				select {
				case in.frags <- fragment{err: err}:
				case <-in.quit:
				}
			}
			return
		}
	}
}

// stop releases the body; wait blocks until the reader goroutine has exited.
func (in *Ingester) stop(wait bool) {
	in.stopOnce.Do(func() {
		close(in.quit)
		in.body.Close()
	})
	if wait {
		<-in.readerDone
	}
}
