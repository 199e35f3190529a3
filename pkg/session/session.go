// Package session groups captured requests into sessions: runs of traffic
// from the same (agent, host) pair separated by less than a 30-minute
// inactivity window.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Window is the sliding inactivity window that bounds a session.
const Window = 30 * time.Minute

// Info describes one tracked session.
type Info struct {
	SessionID    string
	Agent        string
	Host         string
	StartedAt    time.Time
	LastActive   time.Time
	RequestCount int
	Protocol     string
	APIProvider  string
}

// Tracker maintains the in-memory session map. It is not safe for concurrent
// use; the flow controller serializes access under its own lock.
type Tracker struct {
	sessions       map[string]*Info
	agentHostIndex map[string][]string
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		sessions:       make(map[string]*Info),
		agentHostIndex: make(map[string][]string),
	}
}

// Track attributes one request at time now to a session for (agent, host),
// creating a new session when the most recent one has gone stale. The
// returned Info is live; callers must not retain it across Track calls.
func (t *Tracker) Track(agent, host, protocol, apiProvider string, now time.Time) *Info {
	indexKey := agent + ":" + host

	candidates := t.agentHostIndex[indexKey]
	for i := len(candidates) - 1; i >= 0; i-- {
		s, ok := t.sessions[candidates[i]]
		if !ok {
			continue
		}
		if now.Sub(s.LastActive) < Window {
			s.LastActive = now
			s.RequestCount++
			if protocol != "" && s.Protocol == "" {
				s.Protocol = protocol
			}
			if apiProvider != "" && s.APIProvider == "" {
				s.APIProvider = apiProvider
			}
			return s
		}
	}

	s := &Info{
		SessionID:    generateSessionID(agent, host, now),
		Agent:        agent,
		Host:         host,
		StartedAt:    now,
		LastActive:   now,
		RequestCount: 1,
		Protocol:     protocol,
		APIProvider:  apiProvider,
	}
	t.sessions[s.SessionID] = s
	t.agentHostIndex[indexKey] = append(t.agentHostIndex[indexKey], s.SessionID)
	return s
}

// Session returns the session with the given id, or nil.
func (t *Tracker) Session(sessionID string) *Info {
	return t.sessions[sessionID]
}

// ActiveSessions returns all sessions still inside the window at time now.
func (t *Tracker) ActiveSessions(now time.Time) []*Info {
	var active []*Info
	for _, s := range t.sessions {
		if now.Sub(s.LastActive) < Window {
			active = append(active, s)
		}
	}
	return active
}

// SessionsForAgent returns every tracked session for an agent, active or not.
func (t *Tracker) SessionsForAgent(agent string) []*Info {
	var out []*Info
	for _, s := range t.sessions {
		if s.Agent == agent {
			out = append(out, s)
		}
	}
	return out
}

// ExpireSessions drops sessions whose last activity is at least a full
// window old and returns how many were dropped.
func (t *Tracker) ExpireSessions(now time.Time) int {
	var expired []string
	for id, s := range t.sessions {
		if now.Sub(s.LastActive) >= Window {
			expired = append(expired, id)
		}
	}

	for _, id := range expired {
		s := t.sessions[id]
		delete(t.sessions, id)

		indexKey := s.Agent + ":" + s.Host
		ids := t.agentHostIndex[indexKey]
		for i, candidate := range ids {
			if candidate == id {
				ids = append(ids[:i], ids[i+1:]...)
				break
			}
		}
		if len(ids) == 0 {
			delete(t.agentHostIndex, indexKey)
		} else {
			t.agentHostIndex[indexKey] = ids
		}
	}

	return len(expired)
}

// Count returns the number of tracked sessions, active or not.
func (t *Tracker) Count() int {
	return len(t.sessions)
}

// generateSessionID derives a stable id from the session's identity tuple:
// the first 16 hex characters of sha256("agent:host:start").
func generateSessionID(agent, host string, start time.Time) string {
	raw := fmt.Sprintf("%s:%s:%d", agent, host, start.UnixNano())
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])[:16]
}
