// Package recovery classifies change stream failures and detects gaps.
package recovery

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/syntrixbase/postfeed/internal/feed/events"
	"go.mongodb.org/mongo-driver/mongo"
)

// GapThreshold is the default time gap that triggers a gap detection alert.
const GapThreshold = 5 * time.Minute

// Server error codes meaning the stream cannot resume from the given token.
const (
	codeInvalidResumeToken      = 260
	codeChangeStreamFatalError  = 280
	codeChangeStreamHistoryLost = 286
)

// GapDetector detects time gaps in the event stream.
type GapDetector struct {
	threshold time.Duration
	logger    *slog.Logger

	lastEventTime time.Time
	gapsDetected  int
}

// NewGapDetector creates a new gap detector. A zero threshold uses GapThreshold.
func NewGapDetector(threshold time.Duration, logger *slog.Logger) *GapDetector {
	if threshold == 0 {
		threshold = GapThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GapDetector{
		threshold: threshold,
		logger:    logger.With("component", "gap-detector"),
	}
}

// RecordEvent records an event and reports whether it arrived after a gap.
func (g *GapDetector) RecordEvent(evt *events.ChangeEvent) bool {
	if evt.ClusterTime.IsZero() {
		return false
	}
	eventTime := time.Unix(int64(evt.ClusterTime.T), 0)

	if g.lastEventTime.IsZero() {
		g.lastEventTime = eventTime
		return false
	}

	gap := eventTime.Sub(g.lastEventTime)
	g.lastEventTime = eventTime
	if gap < g.threshold {
		return false
	}

	g.gapsDetected++
	g.logger.Warn("gap detected in event stream",
		"gap", gap.String(),
		"threshold", g.threshold.String(),
		"eventId", evt.EventID,
	)
	return true
}

// GapsDetected returns the number of gaps detected.
func (g *GapDetector) GapsDetected() int {
	return g.gapsDetected
}

// Action represents the action to take on error.
type Action int

const (
	// ActionNone means no action is needed.
	ActionNone Action = iota

	// ActionReconnect means reopen the change stream from the checkpoint.
	ActionReconnect

	// ActionRestart means drop the checkpoint and watch from now.
	ActionRestart
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionReconnect:
		return "reconnect"
	case ActionRestart:
		return "restart"
	default:
		return "unknown"
	}
}

// Classify decides how the source recovers from a change stream error.
// Every failure is retried; only a lost resume point discards the checkpoint.
func Classify(err error) Action {
	if err == nil {
		return ActionNone
	}
	if IsResumeTokenError(err) {
		return ActionRestart
	}
	return ActionReconnect
}

// IsResumeTokenError reports whether the server rejected the resume token.
func IsResumeTokenError(err error) bool {
	var se mongo.ServerError
	if errors.As(err, &se) {
		if se.HasErrorCode(codeChangeStreamHistoryLost) ||
			se.HasErrorCode(codeInvalidResumeToken) ||
			se.HasErrorCode(codeChangeStreamFatalError) {
			return true
		}
	}

	// Older servers only report these as messages
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"resume token was not found",
		"resume point may no longer be in the oplog",
		"changestreamhistorylost",
		"changestreamfatalerror",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
