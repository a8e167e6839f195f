package cli

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pterm/pterm"
)

type progressSpinner interface {
	Stop() error
	Success(...any)
	Fail(...any)
	UpdateText(string)
}

type progressSpinnerFactory func(w io.Writer, text string) (progressSpinner, error)

var defaultSpinnerFactory progressSpinnerFactory = func(w io.Writer, text string) (progressSpinner, error) {
	spinner, err := pterm.DefaultSpinner.
		WithWriter(w).
		WithRemoveWhenDone(false).
		WithStyle(pterm.NewStyle(pterm.FgCyan)).
		WithText(text).
		Start()
	if err != nil {
		return nil, err
	}
	return spinner, nil
}

// stageProgress shows one spinner per stage of a calibration run: collecting boards, solving and
// writing results. A disabled stageProgress records the stages but prints nothing.
type stageProgress struct {
	mu       sync.Mutex
	out      io.Writer
	factory  progressSpinnerFactory
	disabled bool

	stage   string
	started time.Time
	spinner progressSpinner
	done    []string
}

func newStageProgress(out io.Writer, enabled bool) *stageProgress {
	return &stageProgress{out: out, factory: defaultSpinnerFactory, disabled: !enabled}
}

// Start finishes nothing: a running stage is stopped without a result and stage starts.
func (p *stageProgress) Start(stage string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	p.stage = stage
	p.started = time.Now()
	if p.disabled {
		return nil
	}
	spinner, err := p.factory(p.out, stage)
	if err != nil {
		return fmt.Errorf("failed to start spinner: %w", err)
	}
	p.spinner = spinner
	return nil
}

// Update replaces the text of the running stage.
func (p *stageProgress) Update(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.spinner != nil {
		p.spinner.UpdateText(text)
	}
}

// Complete ends the running stage successfully with msg and the elapsed time.
func (p *stageProgress) Complete(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stage == "" {
		return
	}
	p.done = append(p.done, p.stage)
	elapsed := time.Since(p.started).Round(time.Millisecond)
	if p.spinner != nil {
		p.spinner.Success(fmt.Sprintf("%s (%s)", msg, elapsed))
		p.spinner = nil
	}
	p.stage = ""
}

// Fail ends the running stage with err.
func (p *stageProgress) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stage == "" {
		return
	}
	if p.spinner != nil {
		p.spinner.Fail(fmt.Sprintf("%s: %v", p.stage, err))
		p.spinner = nil
	}
	p.stage = ""
}

// Stop stops any running spinner.
func (p *stageProgress) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *stageProgress) stopLocked() {
	if p.spinner != nil {
		//nolint:errcheck
		p.spinner.Stop()
		p.spinner = nil
	}
}

// Completed returns the stages that completed, in order.
func (p *stageProgress) Completed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.done...)
}
