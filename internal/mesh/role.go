package mesh

// ShouldInitiate reports whether the local peer starts the handshake with
// remoteID. Both ends evaluate it with their own id first, so for distinct
// ids exactly one side gets true and no coordination message is needed.
func ShouldInitiate(localID, remoteID string) bool {
	return localID > remoteID
}

// role selects how a new connection picks its initiator flag.
type role int

const (
	roleResolve role = iota
	roleInitiator
	roleAnswerer
)

func roleFor(initiator bool) role {
	if initiator {
		return roleInitiator
	}
	return roleAnswerer
}

func (r role) initiator(localID, remoteID string) bool {
	switch r {
	case roleInitiator:
		return true
	case roleAnswerer:
		return false
	default:
		return ShouldInitiate(localID, remoteID)
	}
}
