package queue

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type JobKind string

const (
	JobKindEscalationFirst  JobKind = "escalation:first"
	JobKindEscalationSecond JobKind = "escalation:second"
	JobKindEscalationFinal  JobKind = "escalation:final"
	JobKindAutoClose        JobKind = "autoclose"
)

// EscalationKinds lists the escalation levels in firing order.
var EscalationKinds = []JobKind{
	JobKindEscalationFirst,
	JobKindEscalationSecond,
	JobKindEscalationFinal,
}

func (k JobKind) Valid() bool {
	switch k {
	case JobKindEscalationFirst, JobKindEscalationSecond, JobKindEscalationFinal, JobKindAutoClose:
		return true
	}
	return false
}

func (k JobKind) IsEscalation() bool {
	return strings.HasPrefix(string(k), "escalation:")
}

// Job is a delayed unit of timer work. Its Key is derived from (kind, ticket),
// so scheduling the same job twice replaces the first one.
type Job struct {
	Kind        JobKind   `json:"kind"`
	TicketID    int64     `json:"ticket_id"`
	ThreadID    int64     `json:"thread_id,omitempty"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Attempt     int       `json:"attempt"`
	TraceID     string    `json:"trace_id,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

func (j Job) Key() string {
	return JobKey(j.Kind, j.TicketID)
}

func JobKey(kind JobKind, ticketID int64) string {
	return fmt.Sprintf("%s:%d", kind, ticketID)
}

// ParseJobKey splits a key produced by JobKey.
func ParseJobKey(key string) (JobKind, int64, error) {
	idx := strings.LastIndex(key, ":")
	if idx <= 0 || idx == len(key)-1 {
		return "", 0, fmt.Errorf("malformed job key %q", key)
	}
	kind := JobKind(key[:idx])
	if !kind.Valid() {
		return "", 0, fmt.Errorf("unknown job kind in key %q", key)
	}
	ticketID, err := strconv.ParseInt(key[idx+1:], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("parsing ticket id in key %q: %w", key, err)
	}
	return kind, ticketID, nil
}

func encodeJob(job Job) (string, error) {
	if job.Attempt <= 0 {
		job.Attempt = 1
	}
	b, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("encoding job: %w", err)
	}
	return string(b), nil
}

func decodeJob(payload string) (Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return Job{}, fmt.Errorf("decoding job: %w", err)
	}
	if !job.Kind.Valid() {
		return Job{}, fmt.Errorf("unknown job kind %q", job.Kind)
	}
	if job.TicketID == 0 {
		return Job{}, fmt.Errorf("missing ticket_id")
	}
	if job.Attempt <= 0 {
		job.Attempt = 1
	}
	return job, nil
}
