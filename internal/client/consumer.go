package client

import (
	"context"
	"errors"
	"io"
	"strings"
	"unicode/utf8"
)

const defaultReadSize = 4 * 1024

// Outcome is how a consumed stream ended.
type Outcome int

const (
	// OutcomeCompleted means the stream reached EOF.
	OutcomeCompleted Outcome = iota
	// OutcomeCancelled means the caller stopped consuming; partial text is final.
	OutcomeCancelled
	// OutcomeFailed means the stream broke; partial text is kept.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "failed"
	}
}

// Consumer decodes a UTF-8 byte stream into text chunks.
type Consumer struct {
	readSize int
}

func NewConsumer() *Consumer {
	return &Consumer{readSize: defaultReadSize}
}

type readResult struct {
	data []byte
	err  error
}

// Consume passes every decoded chunk of body to sink, in order, until EOF, an error or ctx
// cancellation. A multi-byte character split across reads is held back until it is complete.
// Cancellation is not an error: it returns OutcomeCancelled and nil. Once ctx is done no further
// chunk reaches sink. The caller owns body and must close it to release a blocked read.
func (c *Consumer) Consume(ctx context.Context, body io.Reader, sink func(chunk string)) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return OutcomeCancelled, nil
	}

	done := make(chan struct{})
	defer close(done)
	reads := make(chan readResult)

	go func() {
		for {
			buf := make([]byte, c.readSize)
			n, err := body.Read(buf)
			select {
			case reads <- readResult{data: buf[:n], err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	var pending []byte
	emit := func(data []byte, final bool) {
		pending = append(pending, data...)
		var text []byte
		if final {
			text, pending = pending, nil
		} else {
			text, pending = splitIncomplete(pending)
		}
		if len(text) > 0 {
			sink(strings.ToValidUTF8(string(text), string(utf8.RuneError)))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return OutcomeCancelled, nil
		case r := <-reads:
			if ctx.Err() != nil {
				return OutcomeCancelled, nil
			}
			switch {
			case r.err == nil:
				emit(r.data, false)
			case errors.Is(r.err, io.EOF):
				emit(r.data, true)
				return OutcomeCompleted, nil
			default:
				if ctx.Err() != nil {
					return OutcomeCancelled, nil
				}
				emit(r.data, true)
				return OutcomeFailed, r.err
			}
		}
	}
}

// splitIncomplete separates a trailing partial UTF-8 sequence from the complete prefix.
func splitIncomplete(b []byte) (complete, rest []byte) {
	limit := len(b) - utf8.UTFMax
	if limit < 0 {
		limit = 0
	}
	for i := len(b) - 1; i >= limit; i-- {
		if utf8.RuneStart(b[i]) {
			if utf8.FullRune(b[i:]) {
				return b, nil
			}
			head := make([]byte, i)
			copy(head, b[:i])
			tail := make([]byte, len(b)-i)
			copy(tail, b[i:])
			return head, tail
		}
	}
	return b, nil
}
