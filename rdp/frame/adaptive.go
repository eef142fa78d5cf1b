package frame

import "time"

// Frame-interval levels in milliseconds, finest to coarsest; roughly
// 30/25/20/15 FPS targets.
var frameIntervalLevels = [4]time.Duration{
	33 * time.Millisecond,
	40 * time.Millisecond,
	50 * time.Millisecond,
	66 * time.Millisecond,
}

// Adaptive controller tuning. The streak thresholds are asymmetric on
// purpose: the controller backs off after 3 slow encodes but needs 20 fast
// ones to recover, so it degrades quickly under load and does not
// oscillate around the budget.
const (
	jpegQualityMax      = 92
	jpegQualityMin      = 75
	jpegQualityStepDown = 5
	jpegQualityStepUp   = 3

	overBudgetStreakThreshold  = 3
	underBudgetStreakThreshold = 20
)

// FullFrameThresholdPercent is the share of the desktop the merged dirty
// area must cover to promote a frame to a keyframe.
const FullFrameThresholdPercent = 45

// KeyframeInterval is the maximum time between keyframes.
const KeyframeInterval = 2 * time.Second

// Adaptive keeps per-frame encode latency within the frame-interval budget
// by stepping between interval levels and adjusting JPEG quality. It is a
// hysteresis controller, not a PID loop.
type Adaptive struct {
	level             int
	jpegQuality       int
	overBudgetStreak  int
	underBudgetStreak int
}

// NewAdaptive returns a controller at the finest interval level and
// maximum JPEG quality.
func NewAdaptive() *Adaptive {
	return &Adaptive{jpegQuality: jpegQualityMax}
}

// Interval returns the current target frame interval.
func (a *Adaptive) Interval() time.Duration {
	return frameIntervalLevels[a.level]
}

// Quality returns the current JPEG quality.
func (a *Adaptive) Quality() int {
	return a.jpegQuality
}

// DefaultCodec returns the codec for the current level: Raw at the finest
// level for minimum encode latency, JPEG at every coarser level.
func (a *Adaptive) DefaultCodec() Codec {
	if a.level == 0 {
		return CodecRaw
	}
	return CodecJPEG
}

// Observe records the encode duration of one emitted-or-attempted frame
// and steps the interval level and quality when a streak threshold is
// reached.
func (a *Adaptive) Observe(encodeTime time.Duration) {
	if encodeTime > a.Interval() {
		a.overBudgetStreak++
		a.underBudgetStreak = 0
	} else {
		a.underBudgetStreak++
		a.overBudgetStreak = 0
	}

	if a.overBudgetStreak >= overBudgetStreakThreshold {
		if a.level+1 < len(frameIntervalLevels) {
			a.level++
		}
		a.jpegQuality = max(a.jpegQuality-jpegQualityStepDown, jpegQualityMin)
		a.overBudgetStreak = 0
	} else if a.underBudgetStreak >= underBudgetStreakThreshold {
		if a.level > 0 {
			a.level--
		}
		a.jpegQuality = min(a.jpegQuality+jpegQualityStepUp, jpegQualityMax)
		a.underBudgetStreak = 0
	}
}
