// Package chat runs the interactive query shell on top of the router.
package chat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/supacrawl/internal/router"
)

// Prompt is printed before each line is read.
const Prompt = "query> "

const banner = `supacrawl chat
Ask about crawled pages in plain language, or type "help" for commands and "quit" to leave.`

// maxLineBytes caps one input line. Longer lines are discarded whole.
const maxLineBytes = 1 << 20

const tooLongMessage = "Input too long, ignored."

// Handler answers one line of input.
type Handler interface {
	Handle(ctx context.Context, input string) router.Response
}

// REPL reads queries from in and writes answers to out.
type REPL struct {
	handler Handler
	in      io.Reader
	out     io.Writer
	logger  *zap.Logger
}

// New creates a REPL.
func New(handler Handler, in io.Reader, out io.Writer, logger *zap.Logger) (*REPL, error) {
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	if in == nil || out == nil {
		return nil, errors.New("input and output are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &REPL{handler: handler, in: in, out: out, logger: logger}, nil
}

// Run loops until quit, end of input or ctx cancellation. Query failures are
// printed and never end the loop; only a broken output stream is returned.
func (r *REPL) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	lines, scanErr := r.scan(ctx)

	if err := r.print(banner + "\n\n"); err != nil {
		return err
	}
	for {
		if err := r.print(Prompt); err != nil {
			return err
		}
		var (
			line inputLine
			ok   bool
		)
		select {
		case <-ctx.Done():
			return r.print("\nGoodbye!\n")
		case line, ok = <-lines:
		}
		if !ok {
			if err := <-scanErr; err != nil {
				r.logger.Warn("reading input failed", zap.Error(err))
			}
			return r.print("\nGoodbye!\n")
		}

		if line.tooLong {
			r.logger.Warn("input line discarded", zap.Int("max_bytes", maxLineBytes))
			if err := r.print(tooLongMessage + "\n\n"); err != nil {
				return err
			}
			continue
		}
		text := strings.TrimSpace(line.text)
		if text == "" {
			continue
		}
		resp := r.handler.Handle(ctx, text)
		if err := r.print(resp.Text + "\n\n"); err != nil {
			return err
		}
		if resp.Quit {
			return nil
		}
	}
}

type inputLine struct {
	text    string
	tooLong bool
}

func (r *REPL) scan(ctx context.Context) (<-chan inputLine, <-chan error) {
	lines := make(chan inputLine)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		br := bufio.NewReaderSize(r.in, 64*1024)
		for {
			line, err := readLine(br)
			if err != nil {
				if errors.Is(err, io.EOF) {
					err = nil
				}
				errc <- err
				return
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				errc <- nil
				return
			}
		}
	}()
	return lines, errc
}

// readLine returns the next newline-terminated line. A final line without a
// newline is returned before io.EOF.
func readLine(br *bufio.Reader) (inputLine, error) {
	var (
		buf     []byte
		tooLong bool
		read    bool
	)
	for {
		chunk, err := br.ReadSlice('\n')
		read = read || len(chunk) > 0
		if !tooLong {
			if len(buf)+len(chunk) > maxLineBytes {
				tooLong = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		switch {
		case err == nil:
			return inputLine{text: string(buf), tooLong: tooLong}, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && read:
			return inputLine{text: string(buf), tooLong: tooLong}, nil
		default:
			return inputLine{}, err
		}
	}
}

func (r *REPL) print(s string) error {
	if _, err := io.WriteString(r.out, s); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
