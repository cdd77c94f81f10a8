package api

import (
	"time"

	log "github.com/sirupsen/logrus"
)

type moveRequestMetrics struct {
	logger        *log.Logger
	start         time.Time
	loadDuration  time.Duration
	moveDuration  time.Duration
	workspaceID   string
	taskID        string
	from          string
	to            string
	errorStage    string
	rolledBackTo  string
	failedInPhase string
}

func newMoveRequestMetrics(logger *log.Logger, workspaceID, taskID string) *moveRequestMetrics {
	return &moveRequestMetrics{
		logger:      logger,
		start:       time.Now(),
		workspaceID: workspaceID,
		taskID:      taskID,
	}
}

func (m *moveRequestMetrics) ObserveLoad(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.loadDuration = duration
}

func (m *moveRequestMetrics) ObserveMove(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.moveDuration = duration
}

func (m *moveRequestMetrics) SetTransition(from, to string) {
	m.from = from
	m.to = to
}

func (m *moveRequestMetrics) SetRollback(phase, restoredTo string) {
	m.failedInPhase = phase
	m.rolledBackTo = restoredTo
}

func (m *moveRequestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *moveRequestMetrics) Log(status int, err error) {
	if m == nil || m.logger == nil {
		return
	}

	fields := log.Fields{
		"route":     "/api/workspaces/:workspaceId/tasks/:taskId/move",
		"status":    status,
		"workspace": m.workspaceID,
		"task":      m.taskID,
		"total_ms":  durationToMillis(time.Since(m.start)),
	}
	if m.from != "" || m.to != "" {
		fields["from"] = m.from
		fields["to"] = m.to
	}
	if m.loadDuration > 0 {
		fields["load_ms"] = durationToMillis(m.loadDuration)
	}
	if m.moveDuration > 0 {
		fields["move_ms"] = durationToMillis(m.moveDuration)
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if m.failedInPhase != "" {
		fields["failed_phase"] = m.failedInPhase
		fields["restored_to"] = m.rolledBackTo
	}
	if err != nil {
		fields["error"] = err.Error()
	}

	m.logger.WithFields(fields).Info("move.request.metrics")
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
