package driver

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State is a step of a build attempt
type State int

const (
	Idle State = iota
	ExtractingInfo
	LinkingRuntime
	AcquiringLock
	Compiling
	WritingObject
	WritingSidecar
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ExtractingInfo:
		return "extracting info"
	case LinkingRuntime:
		return "linking runtime"
	case AcquiringLock:
		return "acquiring lock"
	case Compiling:
		return "compiling"
	case WritingObject:
		return "writing object"
	case WritingSidecar:
		return "writing sidecar"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no transition leaves s
func (s State) Terminal() bool {
	return s == Done || s == Failed
}

// Result describes a finished attempt
type Result struct {
	BuildID    string
	ObjectPath string
	// InfoPath is empty for builds that embed the record
	InfoPath string
	CacheHit bool
	// States lists every state the attempt went through, Idle first
	States   []State
	Duration time.Duration
}

// attempt tracks one build through the state machine
type attempt struct {
	log    *zap.Logger
	state  State
	start  time.Time
	result *Result
}

func (d *Driver) begin(op, name string) *attempt {
	id := uuid.NewString()
	return &attempt{
		log: d.logger.With(
			zap.String("build_id", id),
			zap.String("op", op),
			zap.String("unit", name),
		),
		state:  Idle,
		start:  time.Now(),
		result: &Result{BuildID: id, States: []State{Idle}},
	}
}

func (a *attempt) enter(s State) {
	a.log.Debug("state transition", zap.Stringer("from", a.state), zap.Stringer("to", s))
	a.state = s
	a.result.States = append(a.result.States, s)
}

// fail moves the attempt to Failed and returns its only error
func (a *attempt) fail(kind ErrorKind, path string, err error) (*Result, error) {
	be := &BuildError{State: a.state, Kind: kind, Path: path, Err: err}
	a.log.Error("build failed",
		zap.Stringer("state", a.state),
		zap.String("kind", string(kind)),
		zap.String("path", path),
		zap.Error(err),
	)
	a.enter(Failed)
	return nil, be
}

func (a *attempt) done(hit bool) (*Result, error) {
	a.result.CacheHit = hit
	a.result.Duration = time.Since(a.start)
	a.enter(Done)
	if hit {
		a.log.Info("cache hit", zap.String("object", a.result.ObjectPath))
	} else {
		a.log.Info("built", zap.String("object", a.result.ObjectPath), zap.Duration("duration", a.result.Duration))
	}
	return a.result, nil
}
