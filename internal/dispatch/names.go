package dispatch

import "fmt"

// slotRoster provides stable, human-friendly slot names. Slot identity on
// the tracker and in session keys comes from these, so order must never
// change; append only.
var slotRoster = []string{
	"cordelia",
	"rosalind",
	"orsino",
	"viola",
	"malvolio",
	"feste",
	"olivia",
	"sebastian",
}

// SlotName returns the stable name for a slot index. Indexes past the roster
// wrap with a numeric suffix so they stay unique.
func SlotName(index int) string {
	if index < 0 {
		index = 0
	}
	if index < len(slotRoster) {
		return slotRoster[index]
	}
	return fmt.Sprintf("%s-%d", slotRoster[index%len(slotRoster)], index/len(slotRoster))
}

// SessionKey derives the deterministic session key for a slot. Deterministic
// keys let the orchestrator reuse sessions without coordinating with the
// session layer.
func SessionKey(agentID, projectName, role, level string, slotIndex int) string {
	if agentID == "" {
		agentID = "unknown"
	}
	return fmt.Sprintf("agent:%s:subagent:%s-%s-%s-%s", agentID, projectName, role, level, SlotName(slotIndex))
}

// RoleSlotLabel is the role:level:<slotName> label applied at dispatch.
func RoleSlotLabel(role, level string, slotIndex int) string {
	return fmt.Sprintf("%s:%s:%s", role, level, SlotName(slotIndex))
}
