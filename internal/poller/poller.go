package poller

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/MimeLyc/webp-autogen/internal/convert"
	"github.com/MimeLyc/webp-autogen/internal/i18n"
	"github.com/MimeLyc/webp-autogen/pkg/log"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	DefaultDelay = time.Second
	// RedrawStep is how many percentage points progress must advance before
	// it is reported again.
	RedrawStep = 5
)

var (
	// ErrBusy is returned by Run while another run is polling.
	ErrBusy = errors.New("conversion already in progress")
	// ErrStalled means images remain but a batch converted none of them.
	ErrStalled = errors.New("conversion stalled: remaining images could not be converted")
)

type State int

const (
	StateIdle State = iota
	StatePolling
	StateDone
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// BatchClient runs one batch on the server.
type BatchClient interface {
	ConvertBatch(ctx context.Context) (convert.BatchResult, error)
}

// BatchFunc adapts an in-process batch runner to BatchClient.
type BatchFunc func(ctx context.Context) (convert.BatchResult, error)

func (f BatchFunc) ConvertBatch(ctx context.Context) (convert.BatchResult, error) {
	return f(ctx)
}

type Option func(*Poller)

func WithDelay(d time.Duration) Option {
	return func(p *Poller) {
		p.delay = d
	}
}

// OnProgress is called with the bar percentage whenever it is redrawn.
func OnProgress(fn func(percent int)) Option {
	return func(p *Poller) {
		p.onProgress = fn
	}
}

// OnStatus is called with every batch response.
func OnStatus(fn func(res convert.BatchResult)) Option {
	return func(p *Poller) {
		p.onStatus = fn
	}
}

// OnNotice receives the user-facing completion and error messages.
func OnNotice(fn func(msg string)) Option {
	return func(p *Poller) {
		p.onNotice = fn
	}
}

func WithLanguage(tag language.Tag) Option {
	return func(p *Poller) {
		p.printer = i18n.Printer(tag)
	}
}

// Poller drives the batch endpoint until nothing remains.
// It moves Idle -> Polling -> Done or Error and can be run again afterwards.
type Poller struct {
	client     BatchClient
	delay      time.Duration
	printer    *message.Printer
	onProgress func(int)
	onStatus   func(convert.BatchResult)
	onNotice   func(string)

	mu           sync.Mutex
	state        State
	err          error
	lastProgress int
}

func New(client BatchClient, opts ...Option) *Poller {
	p := &Poller{
		client:     client,
		delay:      DefaultDelay,
		printer:    i18n.Printer(language.English),
		onProgress: func(int) {},
		onStatus:   func(convert.BatchResult) {},
		onNotice:   func(string) {},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Err is the error that moved the poller into StateError.
func (p *Poller) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Run polls until the server reports nothing remaining and returns the last
// batch result.
func (p *Poller) Run(ctx context.Context) (convert.BatchResult, error) {
	p.mu.Lock()
	if p.state == StatePolling {
		p.mu.Unlock()
		return convert.BatchResult{}, ErrBusy
	}
	p.state = StatePolling
	p.err = nil
	p.lastProgress = 0
	p.mu.Unlock()

	p.onProgress(0)

	var timer *time.Timer
	for {
		res, err := p.client.ConvertBatch(ctx)
		if err != nil {
			return res, p.fail(err)
		}
		p.onStatus(res)

		if res.Total <= 0 {
			p.onNotice(p.printer.Sprintf(i18n.MsgNoImages))
			p.finish(StateDone)
			return res, nil
		}

		p.redraw(percentOf(res))

		if res.Remaining <= 0 {
			p.fill()
			p.onNotice(p.printer.Sprintf(i18n.MsgCompleted))
			p.finish(StateDone)
			return res, nil
		}
		if res.ConvertedNow == 0 {
			return res, p.fail(fmt.Errorf("%w (%d failed, %d remaining)", ErrStalled, res.FailedNow, res.Remaining))
		}

		if timer == nil {
			timer = time.NewTimer(p.delay)
			defer timer.Stop()
		} else {
			timer.Reset(p.delay)
		}
		select {
		case <-ctx.Done():
			return res, p.fail(ctx.Err())
		case <-timer.C:
		}
	}
}

func percentOf(res convert.BatchResult) int {
	return int(math.Round(float64(res.Converted) / float64(res.Total) * 100))
}

func (p *Poller) redraw(percent int) {
	p.mu.Lock()
	advance := percent >= p.lastProgress+RedrawStep
	if advance {
		p.lastProgress = percent
	}
	p.mu.Unlock()

	if advance {
		p.onProgress(percent)
	}
}

// fill forces the bar to 100% unless it is already there.
func (p *Poller) fill() {
	p.mu.Lock()
	full := p.lastProgress >= 100
	p.lastProgress = 100
	p.mu.Unlock()

	if !full {
		p.onProgress(100)
	}
}

func (p *Poller) fail(err error) error {
	log.Warn("WebP conversion polling stopped: %v", err)
	p.onNotice(p.printer.Sprintf(i18n.MsgConvertError) + " " + err.Error())

	p.mu.Lock()
	p.state = StateError
	p.err = err
	p.mu.Unlock()
	return err
}

func (p *Poller) finish(state State) {
	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
}
