// Package registry persists the project catalogue and worker slots. The
// worker-state file is the orchestrator's private bookkeeping; the tracker
// stays the source of truth for issue state.
package registry

import "time"

// Slot is one worker position at (project, role, level, index).
//
// Invariants: an active slot has IssueID, SessionKey and StartTime set; an
// inactive slot may keep its SessionKey for reuse but never an IssueID.
type Slot struct {
	Active        bool       `json:"active"`
	IssueID       *int       `json:"issueId,omitempty"`
	SessionKey    string     `json:"sessionKey,omitempty"`
	StartTime     *time.Time `json:"startTime,omitempty"`
	PreviousLabel string     `json:"previousLabel,omitempty"`
}

// RoleWorker maps a competence level to its ordered slot sequence.
type RoleWorker map[string][]*Slot

// ChannelBinding ties a project to a chat channel. Channels[0] is the
// primary; notify:<channelId> labels on an issue override it.
type ChannelBinding struct {
	ChannelID string   `json:"channelId"`
	Channel   string   `json:"channel"`
	Name      string   `json:"name,omitempty"`
	AccountID string   `json:"accountId,omitempty"`
	Events    []string `json:"events,omitempty"`
}

// Project is one orchestrated repository. Repo is the local checkout path;
// Remote is the forge path ("owner/name" or "group/project") the tracker
// adapter talks to.
type Project struct {
	Slug         string                `json:"slug"`
	Name         string                `json:"name"`
	Repo         string                `json:"repo"`
	Remote       string                `json:"remote,omitempty"`
	BaseBranch   string                `json:"baseBranch,omitempty"`
	DeployBranch string                `json:"deployBranch,omitempty"`
	Provider     string                `json:"provider"`
	Channels     []ChannelBinding      `json:"channels,omitempty"`
	Workers      map[string]RoleWorker `json:"workers,omitempty"`
}

// File is the persisted shape of the worker-state store.
type File struct {
	Projects map[string]*Project `json:"projects"`
}

// Worker returns the role's worker map without mutating the project. A role
// with no recorded slots yields an empty RoleWorker.
func (p *Project) Worker(role string) RoleWorker {
	if p.Workers == nil {
		return RoleWorker{}
	}
	if w, ok := p.Workers[role]; ok {
		return w
	}
	return RoleWorker{}
}

// Slot returns the slot at (role, level, index), or nil if unallocated.
func (p *Project) Slot(role, level string, index int) *Slot {
	slots := p.Worker(role)[level]
	if index < 0 || index >= len(slots) {
		return nil
	}
	return slots[index]
}

// PrimaryChannel returns the first channel binding, if any.
func (p *Project) PrimaryChannel() *ChannelBinding {
	if len(p.Channels) == 0 {
		return nil
	}
	return &p.Channels[0]
}

// ActiveIssueIDs returns the issue ids held by active slots across all roles.
func (p *Project) ActiveIssueIDs() map[int]bool {
	out := make(map[int]bool)
	for _, rw := range p.Workers {
		for _, slots := range rw {
			for _, s := range slots {
				if s != nil && s.Active && s.IssueID != nil {
					out[*s.IssueID] = true
				}
			}
		}
	}
	return out
}
