package framefilter

import (
	"image"

	"github.com/pkg/errors"

	"go.viam.com/camcal/logging"
)

// Pipeline runs frames through a chain of processors.
type Pipeline struct {
	types  []string
	stages []FrameProcessor
	logger logging.Logger
}

// NewPipeline builds every transformation, in order.
func NewPipeline(transformations []Transformation, logger logging.Logger) (*Pipeline, error) {
	if len(transformations) == 0 {
		return nil, errors.New("pipeline has no transforms in it")
	}
	if logger == nil {
		logger = logging.NewBlankLogger("framefilter")
	}
	p := &Pipeline{logger: logger}
	for i, tr := range transformations {
		stage, err := New(tr, logger)
		if err != nil {
			return nil, errors.Wrapf(err, "pipeline stage %d", i)
		}
		p.types = append(p.types, tr.Type)
		p.stages = append(p.stages, stage)
	}
	return p, nil
}

// Stages returns the processors of the pipeline, in order.
func (p *Pipeline) Stages() []FrameProcessor {
	return p.stages
}

// Process runs the frame through every stage. When a stage fails, the pipeline stops and returns
// the frame that stage was given along with its error.
func (p *Pipeline) Process(frame image.Image) Result {
	for i, stage := range p.stages {
		res := stage.Process(frame)
		if res.Err != nil {
			p.logger.Debugw("pipeline stage failed", "stage", i, "type", p.types[i], "error", res.Err)
			return Result{Frame: frame, Err: errors.Wrapf(res.Err, "pipeline stage %d (%s)", i, p.types[i])}
		}
		frame = res.Frame
	}
	return Result{Frame: frame}
}
