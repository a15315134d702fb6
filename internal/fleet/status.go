package fleet

import (
	"github.com/nextlevelbuilder/herdctl/internal/bus"
	"github.com/nextlevelbuilder/herdctl/internal/scheduler"
	"github.com/nextlevelbuilder/herdctl/pkg/protocol"
)

// AgentInfo is a consistent snapshot of one controller.
type AgentInfo struct {
	QualifiedName  string               `json:"qualified_name"`
	Description    string               `json:"description,omitempty"`
	Status         string               `json:"status"` // idle|running
	RunningCount   int                  `json:"running_count"`
	MaxConcurrent  int                  `json:"max_concurrent"`
	SessionID      string               `json:"session_id,omitempty"`
	LastJobID      string               `json:"last_job_id,omitempty"`
	ContextPercent float64              `json:"context_percent,omitempty"`
	Schedules      []scheduler.Snapshot `json:"schedules,omitempty"`
}

// Info snapshots the controller's observable state.
func (c *Controller) Info() AgentInfo {
	c.mu.Lock()
	info := AgentInfo{
		QualifiedName:  c.agent.QualifiedName,
		Description:    c.agent.Description,
		Status:         "idle",
		RunningCount:   c.runningCount,
		MaxConcurrent:  c.agent.MaxConcurrent,
		SessionID:      c.sessionID,
		LastJobID:      c.lastJobID,
		ContextPercent: c.contextPercent,
	}
	if info.MaxConcurrent < 1 {
		info.MaxConcurrent = 1
	}
	if c.runningCount > 0 {
		info.Status = "running"
	}
	schedules := c.schedules
	c.mu.Unlock()

	for _, s := range schedules {
		info.Schedules = append(info.Schedules, s.Snapshot())
	}
	return info
}

// Status assembles the whole-fleet snapshot.
func (m *Manager) Status() bus.FleetStatusPayload {
	m.mu.Lock()
	payload := bus.FleetStatusPayload{
		Status:      m.status,
		TotalAgents: len(m.order),
		StartedAt:   m.startedAt,
		StoppedAt:   m.stoppedAt,
		LastError:   m.lastError,
	}
	controllers := m.snapshotControllersLocked()
	m.mu.Unlock()

	for _, c := range controllers {
		info := c.Info()
		if info.RunningCount > 0 {
			payload.RunningAgents++
		} else {
			payload.IdleAgents++
		}
		payload.RunningJobs += info.RunningCount
		payload.TotalSchedules += len(info.Schedules)
		for _, s := range info.Schedules {
			if s.Status == scheduler.StatusRunning {
				payload.RunningSchedules++
			}
		}
	}
	return payload
}

func (m *Manager) publishStatus() {
	m.bus.Publish(protocol.EventFleetStatus, m.Status())
}

// AgentInfos returns every agent snapshot in declaration order.
func (m *Manager) AgentInfos() []AgentInfo {
	m.mu.Lock()
	controllers := m.snapshotControllersLocked()
	m.mu.Unlock()

	out := make([]AgentInfo, 0, len(controllers))
	for _, c := range controllers {
		out = append(out, c.Info())
	}
	return out
}

// AgentInfoByName returns one agent snapshot.
func (m *Manager) AgentInfoByName(qualifiedName string) (AgentInfo, error) {
	c, err := m.controller(qualifiedName)
	if err != nil {
		return AgentInfo{}, err
	}
	return c.Info(), nil
}

// Schedules returns every schedule snapshot in agent-declaration order.
func (m *Manager) Schedules() []scheduler.Snapshot {
	m.mu.Lock()
	sched := m.sched
	m.mu.Unlock()
	if sched == nil {
		return nil
	}
	return sched.Snapshots()
}
