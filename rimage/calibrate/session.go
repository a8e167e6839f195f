package calibrate

import (
	"image"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/camcal/logging"
	"go.viam.com/camcal/rimage"
	"go.viam.com/camcal/rimage/transform"
)

// SessionState is the calibration progress of a session.
type SessionState int

const (
	// StateSearching means no board has been accepted yet.
	StateSearching SessionState = iota
	// StateAccumulating means at least one board was accepted and the target is not reached.
	StateAccumulating
	// StateSolved means the camera is calibrated and frames are undistorted.
	StateSolved
)

func (s SessionState) String() string {
	switch s {
	case StateSearching:
		return "searching"
	case StateAccumulating:
		return "accumulating"
	case StateSolved:
		return "solved"
	default:
		return "unknown"
	}
}

// Outcome says what happened to a frame.
type Outcome int

const (
	// OutcomeNoBoard means the frame was searched and no complete board was found.
	OutcomeNoBoard Outcome = iota
	// OutcomeBoardFound means the frame's board was accepted as an observation.
	OutcomeBoardFound
	// OutcomeCalibrated means the frame's board completed the target and the camera was solved.
	OutcomeCalibrated
	// OutcomeUndistorted means the frame was undistorted with the session's calibration.
	OutcomeUndistorted
	// OutcomeFailed means the frame could not be processed; see FrameResult.Err.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNoBoard:
		return "no_board"
	case OutcomeBoardFound:
		return "board_found"
	case OutcomeCalibrated:
		return "calibrated"
	case OutcomeUndistorted:
		return "undistorted"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// FrameResult is what a session hands back for every frame. Frame is the frame to display: the
// input itself unless it was undistorted, and nil only when the input was not a grayscale frame.
// Err carries the per-frame failure, if any; it never means the session is unusable.
type FrameResult struct {
	Frame   *image.Gray
	State   SessionState
	Outcome Outcome
	Err     error
}

// Notifier is told about calibration progress.
type Notifier interface {
	// OnBoardFound is called every time a board is accepted.
	OnBoardFound()
	// OnCalibrationFinished is called once per solved calibration with its RMS reprojection error.
	OnCalibrationFinished(reprojectionError float64)
}

// NotifierFuncs is a Notifier built from optional functions.
type NotifierFuncs struct {
	BoardFound          func()
	CalibrationFinished func(reprojectionError float64)
}

// OnBoardFound calls BoardFound if set.
func (n NotifierFuncs) OnBoardFound() {
	if n.BoardFound != nil {
		n.BoardFound()
	}
}

// OnCalibrationFinished calls CalibrationFinished if set.
func (n NotifierFuncs) OnCalibrationFinished(reprojectionError float64) {
	if n.CalibrationFinished != nil {
		n.CalibrationFinished(reprojectionError)
	}
}

// SessionConfig is the immutable configuration of a session.
type SessionConfig struct {
	Board             BoardGeometry
	TargetSampleCount int
	Detector          DetectorConfig
	Solver            SolverConfig
}

// DefaultSessionConfig returns the default configuration for a board.
func DefaultSessionConfig(board BoardGeometry) SessionConfig {
	return SessionConfig{
		Board:             board,
		TargetSampleCount: DefaultTargetSampleCount,
		Detector:          DefaultDetectorConfig(),
		Solver:            DefaultSolverConfig(),
	}
}

// Validate returns every problem with the configuration.
func (cfg SessionConfig) Validate() error {
	var err error
	err = multierr.Append(err, cfg.Board.Validate())
	if cfg.TargetSampleCount < 1 {
		err = multierr.Append(err, errors.Errorf("target sample count must be at least 1, got %d", cfg.TargetSampleCount))
	}
	err = multierr.Append(err, cfg.Detector.Validate())
	err = multierr.Append(err, cfg.Solver.Validate())
	return err
}

// SessionStats are counters about the frames a session has seen.
type SessionStats struct {
	FramesProcessed int
	FramesFailed    int
	BoardsFound     int
	StartedAt       time.Time
	SolvedAt        time.Time
	SolveDuration   time.Duration
}

// Option configures the collaborators of a session.
type Option func(*Session)

// WithLogger sets the logger; the session logs to its "calibration" sublogger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Session) {
		s.logger = logger.Sublogger("calibration")
	}
}

// WithNotifier sets who is told about accepted boards and finished calibrations.
func WithNotifier(n Notifier) Option {
	return func(s *Session) {
		s.notifier = n
	}
}

// WithArtifactSink sets where the artifact is written once the calibration is solved.
func WithArtifactSink(sink ArtifactSink) Option {
	return func(s *Session) {
		s.sink = sink
	}
}

// WithClock sets the clock used for timestamps and durations.
func WithClock(c clock.Clock) Option {
	return func(s *Session) {
		s.clock = c
	}
}

// Session turns a stream of grayscale frames into a camera calibration: it accumulates board
// observations while SEARCHING or ACCUMULATING, solves once the target sample count is reached, and
// undistorts every later frame. A Session serves one stream and is not safe for concurrent use.
type Session struct {
	id       string
	cfg      SessionConfig
	logger   logging.Logger
	notifier Notifier
	sink     ArtifactSink
	clock    clock.Clock

	detector *Detector
	acc      *Accumulator

	state     SessionState
	result    *CalibrationResult
	model     *transform.PinholeCameraModel
	maps      transform.MapCache
	thumbnail *image.Gray
	notified  bool
	stats     SessionStats
}

// NewSession validates cfg and returns a session in the SEARCHING state. An invalid configuration is
// the only error a session ever returns outside of a FrameResult.
func NewSession(cfg SessionConfig, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid calibration session config")
	}
	s := &Session{
		id:       uuid.NewString(),
		cfg:      cfg,
		notifier: NotifierFuncs{},
		clock:    clock.New(),
		state:    StateSearching,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.NewBlankLogger("calibration")
	}
	detector, err := NewDetector(cfg.Detector, s.logger.Sublogger("detector"))
	if err != nil {
		return nil, err
	}
	acc, err := NewAccumulator(cfg.Board, cfg.TargetSampleCount)
	if err != nil {
		return nil, err
	}
	s.detector, s.acc = detector, acc
	s.stats.StartedAt = s.clock.Now()
	s.logger.Infow("calibration session started", "session", s.id,
		"board", []int{cfg.Board.Width, cfg.Board.Height}, "target", acc.Target())
	return s, nil
}

// ID returns the session identifier used in logs and artifacts.
func (s *Session) ID() string {
	return s.id
}

// Config returns the session configuration.
func (s *Session) Config() SessionConfig {
	return s.cfg
}

// State returns the current state.
func (s *Session) State() SessionState {
	return s.state
}

// Count returns the number of accepted observations.
func (s *Session) Count() int {
	return s.acc.Count()
}

// Target returns the number of observations needed to solve.
func (s *Session) Target() int {
	return s.acc.Target()
}

// Observations returns a copy of the accepted observations.
func (s *Session) Observations() ObservationSet {
	return s.acc.Observations()
}

// Result returns the calibration, or nil before the session is solved.
func (s *Session) Result() *CalibrationResult {
	return s.result
}

// Map returns the undistortion map currently cached, or nil.
func (s *Session) Map() *transform.UndistortionMap {
	return s.maps.Current()
}

// Stats returns the frame counters.
func (s *Session) Stats() SessionStats {
	return s.stats
}

// LastBoardThumbnail returns an inverted, downscaled copy of the last frame whose board was
// accepted, or nil.
func (s *Session) LastBoardThumbnail() *image.Gray {
	return s.thumbnail
}

// Reset discards every observation and the calibration and returns to SEARCHING.
func (s *Session) Reset() {
	s.acc.Reset()
	s.state = StateSearching
	s.result = nil
	s.model = nil
	s.maps.Clear()
	s.thumbnail = nil
	s.notified = false
	s.stats.SolvedAt = time.Time{}
	s.stats.SolveDuration = 0
	s.logger.Infow("calibration session reset", "session", s.id)
}

// Process handles one frame. Every failure is contained in the returned FrameResult.
func (s *Session) Process(frame image.Image) FrameResult {
	s.stats.FramesProcessed++
	gray, ok := frame.(*image.Gray)
	if !ok || gray == nil || gray.Bounds().Empty() {
		err := NewUnsupportedFrameFormatError(frame)
		return s.fail(FrameResult{State: s.state, Outcome: OutcomeFailed, Err: err})
	}

	if s.state == StateSolved {
		return s.undistort(gray, OutcomeUndistorted)
	}

	det, found, err := s.detector.Detect(gray, s.cfg.Board)
	if err != nil {
		return s.fail(FrameResult{Frame: gray, State: s.state, Outcome: OutcomeFailed, Err: err})
	}
	if !found || !s.acc.Accept(det.Corners) {
		return FrameResult{Frame: gray, State: s.state, Outcome: OutcomeNoBoard}
	}

	s.stats.BoardsFound++
	if s.state == StateSearching {
		s.state = StateAccumulating
		s.logger.Infow("first board found", "session", s.id)
	}
	s.logger.Debugw("board accepted", "session", s.id, "count", s.acc.Count(), "target", s.acc.Target())
	if thumb, err := rimage.ScaleGray(rimage.InvertGray(gray), 0.3); err == nil {
		s.thumbnail = thumb
	}
	s.notifier.OnBoardFound()

	if !s.acc.TargetReached() {
		return FrameResult{Frame: gray, State: s.state, Outcome: OutcomeBoardFound}
	}
	if err := s.solve(gray.Bounds().Size()); err != nil {
		return s.fail(FrameResult{Frame: gray, State: s.state, Outcome: OutcomeBoardFound, Err: err})
	}
	return s.undistort(gray, OutcomeCalibrated)
}

// solve runs the solver on every accepted observation. On failure the session stays ACCUMULATING and
// the next accepted board retries.
func (s *Session) solve(size image.Point) error {
	start := s.clock.Now()
	result, err := Solve(s.acc.Observations(), size, s.cfg.Solver)
	if err != nil {
		return errors.Wrap(err, "calibration solve failed")
	}
	s.stats.SolveDuration = s.clock.Since(start)
	s.stats.SolvedAt = s.clock.Now()
	s.result = result
	s.state = StateSolved
	s.logger.Infow("calibration solved", "session", s.id, "rms", result.RMS,
		"camera_matrix", result.CameraMatrix, "distortion", result.Distortion,
		"iterations", result.Iterations, "duration", s.stats.SolveDuration)

	if s.sink != nil {
		artifact := NewArtifact(result, s.cfg.Board, s.id, s.stats.SolvedAt)
		if err := s.sink.WriteArtifact(artifact); err != nil {
			s.logger.Warnw("cannot write calibration artifact", "session", s.id, "error", err)
		}
	}
	if !s.notified {
		s.notified = true
		s.notifier.OnCalibrationFinished(result.RMS)
	}
	return nil
}

// undistort remaps the frame with the cached map, building it when the frame size changes. When the
// map cannot be built the frame is returned unmodified and the build is retried on the next frame.
func (s *Session) undistort(gray *image.Gray, outcome Outcome) FrameResult {
	size := gray.Bounds().Size()
	if s.model == nil {
		model, err := s.result.Model()
		if err != nil {
			return s.fail(FrameResult{Frame: gray, State: s.state, Outcome: outcome, Err: &MapBuildError{Size: size, Err: err}})
		}
		s.model = model
	}
	m, err := s.maps.Get(s.model, size)
	if err != nil {
		return s.fail(FrameResult{Frame: gray, State: s.state, Outcome: outcome, Err: err})
	}
	out, err := m.Apply(gray)
	if err != nil {
		return s.fail(FrameResult{Frame: gray, State: s.state, Outcome: outcome, Err: err})
	}
	return FrameResult{Frame: out, State: s.state, Outcome: outcome}
}

func (s *Session) fail(res FrameResult) FrameResult {
	s.stats.FramesFailed++
	s.logger.Warnw("frame failed", "session", s.id, "state", s.state.String(), "error", res.Err)
	return res
}
