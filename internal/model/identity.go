package model

type Capability string

const (
	CapView              Capability = "view"
	CapCreate            Capability = "create"
	CapEdit              Capability = "edit"
	CapIssue             Capability = "issue"
	CapDelete            Capability = "delete"
	CapViewDonorInfo     Capability = "view_donor_info"
	CapUpdateTestResults Capability = "update_test_results"
	CapViewAudit         Capability = "view_audit"
	CapSweep             Capability = "sweep"
)

// Identity is supplied by the caller for every ledger or reporting call.
// Nothing in the core reads the actor from ambient state.
type Identity struct {
	ActorID      string       `json:"actor_id"`
	ActorName    string       `json:"actor_name"`
	Role         string       `json:"role"`
	Capabilities []Capability `json:"capabilities"`
	IPAddress    string       `json:"ip_address"`
	UserAgent    string       `json:"user_agent"`
}

func (i Identity) Can(c Capability) bool {
	for _, have := range i.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// SystemIdentity is used by scheduled jobs such as the expiry sweep.
func SystemIdentity(name string) Identity {
	return Identity{
		ActorID:      "system",
		ActorName:    name,
		Role:         "system",
		Capabilities: []Capability{CapView, CapSweep},
		IPAddress:    "127.0.0.1",
		UserAgent:    name,
	}
}

// DefaultRoleCapabilities is used when the configuration does not define roles.
func DefaultRoleCapabilities() map[string][]Capability {
	return map[string][]Capability{
		"admin": {
			CapView, CapCreate, CapEdit, CapIssue, CapDelete,
			CapViewDonorInfo, CapUpdateTestResults, CapViewAudit, CapSweep,
		},
		"manager": {
			CapView, CapCreate, CapEdit, CapIssue,
			CapViewDonorInfo, CapUpdateTestResults, CapViewAudit, CapSweep,
		},
		"technician": {CapView, CapCreate, CapUpdateTestResults},
		"viewer":     {CapView},
	}
}
