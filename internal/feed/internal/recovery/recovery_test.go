package recovery

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/syntrixbase/postfeed/internal/feed/events"
	"go.mongodb.org/mongo-driver/mongo"
)

func eventAt(sec uint32) *events.ChangeEvent {
	evt := events.NewChangeEvent("e", events.OperationInsert, "p1", nil, nil)
	evt.ClusterTime = events.ClusterTime{T: sec}
	return evt
}

func TestGapDetector(t *testing.T) {
	t.Parallel()
	g := NewGapDetector(0, nil)
	assert.Equal(t, GapThreshold, g.threshold)

	assert.False(t, g.RecordEvent(eventAt(1000)), "first event never a gap")
	assert.False(t, g.RecordEvent(eventAt(1060)))
	assert.True(t, g.RecordEvent(eventAt(1060+uint32(GapThreshold.Seconds()))))
	assert.Equal(t, 1, g.GapsDetected())

	// Events without cluster time are ignored
	assert.False(t, g.RecordEvent(events.NewChangeEvent("e", events.OperationInsert, "p1", nil, nil)))
	assert.Equal(t, 1, g.GapsDetected())
}

func TestAction_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "none", ActionNone.String())
	assert.Equal(t, "reconnect", ActionReconnect.String())
	assert.Equal(t, "restart", ActionRestart.String())
	assert.Equal(t, "unknown", Action(99).String())
}

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want Action
	}{
		{"nil", nil, ActionNone},
		{"network", errors.New("connection reset by peer"), ActionReconnect},
		{"history lost code", mongo.CommandError{Code: 286, Name: "ChangeStreamHistoryLost"}, ActionRestart},
		{"invalid token code", mongo.CommandError{Code: 260}, ActionRestart},
		{"fatal code", mongo.CommandError{Code: 280}, ActionRestart},
		{"other server code", mongo.CommandError{Code: 11600, Name: "InterruptedAtShutdown"}, ActionReconnect},
		{"wrapped code", fmt.Errorf("change stream error: %w", mongo.CommandError{Code: 286}), ActionRestart},
		{"message only", errors.New("the resume point may no longer be in the oplog"), ActionRestart},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
