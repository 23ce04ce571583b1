package api

import (
	"time"

	log "github.com/sirupsen/logrus"
)

type createRequestMetrics struct {
	logger         *log.Logger
	start          time.Time
	createDuration time.Duration
	template       string
	errorStage     string
}

func newCreateRequestMetrics(logger *log.Logger) *createRequestMetrics {
	return &createRequestMetrics{
		logger: logger,
		start:  time.Now(),
	}
}

func (m *createRequestMetrics) ObserveCreate(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.createDuration = duration
}

func (m *createRequestMetrics) SetTemplate(template string) {
	m.template = template
}

func (m *createRequestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *createRequestMetrics) Log(status int, err error) {
	if m == nil || m.logger == nil {
		return
	}

	fields := log.Fields{
		"route":    "/api/rooms",
		"status":   status,
		"total_ms": durationToMillis(time.Since(m.start)),
		"template": m.template,
	}
	if m.createDuration > 0 {
		fields["create_ms"] = durationToMillis(m.createDuration)
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}

	m.logger.WithFields(fields).Info("rooms.request.metrics")
}

// sessionMetrics summarizes one WebSocket connection when it ends.
type sessionMetrics struct {
	logger       *log.Logger
	start        time.Time
	roomID       string
	sessionID    string
	isAdmin      bool
	frames       int
	commands     int
	malformed    int
	invalid      int
	rateLimited  int
	closeReason  string
	reconnecting bool
}

func newSessionMetrics(logger *log.Logger, roomID string) *sessionMetrics {
	return &sessionMetrics{
		logger: logger,
		start:  time.Now(),
		roomID: roomID,
	}
}

func (m *sessionMetrics) SetSession(id string, isAdmin bool) {
	m.sessionID = id
	m.isAdmin = isAdmin
}

func (m *sessionMetrics) SetReconnecting(reconnecting bool) {
	m.reconnecting = reconnecting
}

func (m *sessionMetrics) Frame()       { m.frames++ }
func (m *sessionMetrics) Command()     { m.commands++ }
func (m *sessionMetrics) Malformed()   { m.malformed++ }
func (m *sessionMetrics) Invalid()     { m.invalid++ }
func (m *sessionMetrics) RateLimited() { m.rateLimited++ }

func (m *sessionMetrics) SetCloseReason(reason string) {
	if reason == "" || m.closeReason != "" {
		return
	}
	m.closeReason = reason
}

func (m *sessionMetrics) Log() {
	if m == nil || m.logger == nil {
		return
	}

	fields := log.Fields{
		"room":         m.roomID,
		"admin":        m.isAdmin,
		"duration_ms":  durationToMillis(time.Since(m.start)),
		"frames":       m.frames,
		"commands":     m.commands,
		"reconnecting": m.reconnecting,
		"close_reason": m.closeReason,
	}
	if m.sessionID != "" {
		fields["session"] = m.sessionID
	}
	if m.malformed > 0 {
		fields["malformed"] = m.malformed
	}
	if m.invalid > 0 {
		fields["invalid"] = m.invalid
	}
	if m.rateLimited > 0 {
		fields["rate_limited"] = m.rateLimited
	}

	m.logger.WithFields(fields).Info("ws.session.metrics")
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
