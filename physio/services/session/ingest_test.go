package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, in *Ingester, ctx context.Context) ([]string, error) {
	t.Helper()
	var parts []string
	for text, err := range in.Fragments(ctx) {
		if err != nil {
			return parts, err
		}
		parts = append(parts, text)
	}
	return parts, nil
}

func TestIngesterYieldsFragmentsInOrder(t *testing.T) {
	in := NewIngester(newChunkReader("Hola, ", "¿cómo ", "estás?"), time.Second)

	parts, err := collect(t, in, context.Background())

	require.NoError(t, err)
	assert.Equal(t, "Hola, ¿cómo estás?", joinFragments(parts))
}

func TestIngesterHoldsBackSplitRunes(t *testing.T) {
	// "é" is 0xC3 0xA9; the network splits it across two reads
	body := newChunkReader("caf\xc3", "\xa9 listo", "\xe2\x9c", "\x93")
	in := NewIngester(body, time.Second)

	parts, err := collect(t, in, context.Background())

	require.NoError(t, err)
	for _, p := range parts {
		assert.True(t, utf8.ValidString(p), "fragment %q is not valid UTF-8", p)
	}
	assert.Equal(t, "café listo✓", joinFragments(parts))
}

func TestIngesterTransportError(t *testing.T) {
	body := newChunkReader("parcial")
	body.err = errors.New("connection reset")
	in := NewIngester(body, time.Second)

	parts, err := collect(t, in, context.Background())

	assert.Equal(t, []string{"parcial"}, parts)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStreamTransport)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestIngesterIdleTimeout(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	in := NewIngester(pr, 50*time.Millisecond)

	start := time.Now()
	_, err := collect(t, in, context.Background())

	assert.ErrorIs(t, err, ErrStreamTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestIngesterIdleTimeoutResetsOnData(t *testing.T) {
	pr, pw := io.Pipe()
	in := NewIngester(pr, 200*time.Millisecond)
	go func() {
		for _, s := range []string{"a", "b", "c"} {
			time.Sleep(80 * time.Millisecond)
			pw.Write([]byte(s))
		}
		pw.Close()
	}()

	parts, err := collect(t, in, context.Background())

	require.NoError(t, err)
	assert.Equal(t, "abc", joinFragments(parts))
}

func TestIngesterRunCallsDoneOnce(t *testing.T) {
	in := NewIngester(newChunkReader("uno", "dos"), time.Second)
	var chunks []string
	done, failed := 0, 0

	in.Run(context.Background(),
		func(s string) { chunks = append(chunks, s) },
		func() { done++ },
		func(error) { failed++ },
	)

	assert.Equal(t, "unodos", joinFragments(chunks))
	assert.Equal(t, 1, done)
	assert.Equal(t, 0, failed)
}

func TestIngesterAbortStopsDelivery(t *testing.T) {
	pr, pw := io.Pipe()
	in := NewIngester(pr, time.Second)

	var mu sync.Mutex
	var chunks []string
	var errs []error
	got := make(chan struct{}, 1)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		in.Run(context.Background(),
			func(s string) {
				mu.Lock()
				chunks = append(chunks, s)
				mu.Unlock()
				got <- struct{}{}
			},
			func() { t.Error("onDone after abort") },
			func(err error) {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			},
		)
	}()

	_, err := pw.Write([]byte("primero"))
	require.NoError(t, err)
	<-got

	in.Abort()
	in.Abort()

	mu.Lock()
	seen := len(chunks)
	mu.Unlock()
	_, err = pw.Write([]byte("tarde"))
	assert.Error(t, err, "body must be closed after abort")

	<-finished
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, seen, len(chunks))
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrAborted)
}

func TestIngesterAbortBeforeConsume(t *testing.T) {
	body := newChunkReader("nunca")
	in := NewIngester(body, time.Second)

	in.Abort()

	_, err := collect(t, in, context.Background())
	assert.ErrorIs(t, err, ErrStreamTransport)
	assert.True(t, body.closed)
}

func TestIngesterIsSingleUse(t *testing.T) {
	in := NewIngester(newChunkReader("una vez"), time.Second)

	_, err := collect(t, in, context.Background())
	require.NoError(t, err)

	_, err = collect(t, in, context.Background())
	assert.ErrorIs(t, err, errConsumed)
}

func TestIngesterContextCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	in := NewIngester(pr, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := collect(t, in, ctx)

	assert.ErrorIs(t, err, ErrAborted)
	assert.ErrorIs(t, err, context.Canceled)
}
