// Copyright 2025 Wellspring Authors
//
// Membership resolution - turns a pool's admin roster plus bilateral
// member/admin attestations into the membership set consulted by
// CanShare and EnforceRules.
// Per Wellspring Protocol Section 4.7, "Membership".

package pool

// Attestation is the minimal shape ResolveMembership needs from a
// "member_of" connection thought's corroborating attestations: who
// attested, about whom, and whether it was an acceptance (weight > 0)
// or a revocation (weight <= 0).
type Attestation struct {
	AttesterCID string
	SubjectCID  string
	PoolCID     string
	Weight      float64
}

// ResolveMembership recomputes poolCID's membership set from scratch
// given the pool's admin identity and the full set of member/admin
// attestations seen so far, then installs the result on the engine.
// Membership requires a bilateral pair: the candidate attests
// membership of themselves to the pool, and the pool admin attests
// back (or the candidate IS the admin). A later attestation from
// either side with Weight <= 0 revokes.
func (e *Engine) ResolveMembership(poolCID, adminCID string, attestations []Attestation) {
	bySubject := make(map[string][]Attestation)
	for _, a := range attestations {
		if a.PoolCID != poolCID {
			continue
		}
		bySubject[a.SubjectCID] = append(bySubject[a.SubjectCID], a)
	}

	members := make(map[string]struct{})
	members[adminCID] = struct{}{}

	for subject, list := range bySubject {
		if subject == adminCID {
			continue
		}
		if hasBilateralAcceptance(list, subject, adminCID) {
			members[subject] = struct{}{}
		}
	}

	e.mu.Lock()
	e.members[poolCID] = members
	e.mu.Unlock()
}

// hasBilateralAcceptance reports whether list contains both a
// self-attestation from subject with positive weight and an admin
// attestation about subject with positive weight, with the admin's
// being the most recent word on the subject (list is assumed to be in
// chronological order as ingested; the last admin attestation wins).
func hasBilateralAcceptance(list []Attestation, subject, adminCID string) bool {
	selfAccepted := false
	adminWeight := 0.0
	adminSpoke := false

	for _, a := range list {
		switch a.AttesterCID {
		case subject:
			selfAccepted = a.Weight > 0
		case adminCID:
			adminWeight = a.Weight
			adminSpoke = true
		}
	}
	return selfAccepted && adminSpoke && adminWeight > 0
}
