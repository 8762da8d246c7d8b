// Package events provides an event system for cluster lifecycle and result notifications.
package events

import "time"

// EventType represents the type of event
type EventType string

const (
	// EventExperimentStart is emitted when a configuration of the matrix begins
	EventExperimentStart EventType = "experiment_start"
	// EventWorkerState is emitted on every worker lifecycle transition
	EventWorkerState EventType = "worker_state"
	// EventBootstrapReady is emitted once the bootstrap has self-joined
	EventBootstrapReady EventType = "bootstrap_ready"
	// EventWorkerResult is emitted when a worker's workload has finished
	EventWorkerResult EventType = "worker_result"
	// EventExperimentResult is emitted when a configuration's result is recorded
	EventExperimentResult EventType = "experiment_result"
	// EventMatrixComplete is emitted after the last configuration
	EventMatrixComplete EventType = "matrix_complete"
)

// Event represents a lifecycle or result event
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	NodeID    string    `json:"node_id,omitempty"`
	Data      EventData `json:"data,omitempty"`
}

// EventData contains event-specific data
type EventData struct {
	K           int     `json:"k,omitempty"`
	Consistency string  `json:"consistency,omitempty"`
	Role        string  `json:"role,omitempty"`
	From        string  `json:"from,omitempty"`
	State       string  `json:"state,omitempty"`
	Endpoint    string  `json:"endpoint,omitempty"`
	Workers     int     `json:"workers,omitempty"`
	Count       int     `json:"count,omitempty"`
	Duration    float64 `json:"duration_sec,omitempty"`
	Throughput  float64 `json:"throughput,omitempty"`
	Configs     int     `json:"configs,omitempty"`
	Error       string  `json:"error,omitempty"`
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// NewExperimentStartEvent creates an experiment start event
func NewExperimentStartEvent(k int, consistency string, workers int) Event {
	return Event{
		Type:      EventExperimentStart,
		Timestamp: time.Now(),
		Data: EventData{
			K:           k,
			Consistency: consistency,
			Workers:     workers,
		},
	}
}

// NewWorkerStateEvent creates a worker state transition event
func NewWorkerStateEvent(nodeID, role, from, to string, cause error) Event {
	return Event{
		Type:      EventWorkerState,
		Timestamp: time.Now(),
		NodeID:    nodeID,
		Data: EventData{
			Role:  role,
			From:  from,
			State: to,
			Error: errString(cause),
		},
	}
}

// NewBootstrapReadyEvent creates a bootstrap ready event
func NewBootstrapReadyEvent(nodeID, endpoint string) Event {
	return Event{
		Type:      EventBootstrapReady,
		Timestamp: time.Now(),
		NodeID:    nodeID,
		Data: EventData{
			Endpoint: endpoint,
		},
	}
}

// NewWorkerResultEvent creates a worker result event
func NewWorkerResultEvent(nodeID string, count int, duration time.Duration, rate float64, err error) Event {
	return Event{
		Type:      EventWorkerResult,
		Timestamp: time.Now(),
		NodeID:    nodeID,
		Data: EventData{
			Count:      count,
			Duration:   duration.Seconds(),
			Throughput: rate,
			Error:      errString(err),
		},
	}
}

// NewExperimentResultEvent creates an experiment result event
func NewExperimentResultEvent(k int, consistency string, inserted int, throughput float64, err error) Event {
	return Event{
		Type:      EventExperimentResult,
		Timestamp: time.Now(),
		Data: EventData{
			K:           k,
			Consistency: consistency,
			Count:       inserted,
			Throughput:  throughput,
			Error:       errString(err),
		},
	}
}

// NewMatrixCompleteEvent creates a matrix complete event
func NewMatrixCompleteEvent(configs int) Event {
	return Event{
		Type:      EventMatrixComplete,
		Timestamp: time.Now(),
		Data: EventData{
			Configs: configs,
		},
	}
}
