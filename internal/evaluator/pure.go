// Package evaluator is the authoritative runtime-status machine. It is
// split, deliberately, into pure decision functions (this file) and an
// orchestrator (orchestrator.go) that wires those decisions to the store,
// the connection manager, and the config publisher.
package evaluator

import "relay/internal/domain"

// MasterInput is the evaluator's view of one Master account.
type MasterInput struct {
	EnabledFlag    bool
	IsOnline       bool
	IsTradeAllowed bool
}

// EvaluateMaster decides a Master's runtime status. The checks are ordered:
// an operator's intent (enabled_flag) wins over connectivity, which wins
// over the EA's own algo-trading toggle.
func EvaluateMaster(in MasterInput) (status int, warnings []string) {
	switch {
	case !in.EnabledFlag:
		return domain.StatusOff, []string{domain.WarnMasterIntentOff}
	case !in.IsOnline:
		return domain.StatusOff, []string{domain.WarnMasterOffline}
	case !in.IsTradeAllowed:
		return domain.StatusOff, []string{domain.WarnMasterAlgoOff}
	default:
		return domain.StatusConnected, nil
	}
}

// MasterStatus names one Master account's evaluated status, as seen from a
// Slave's cluster snapshot.
type MasterStatus struct {
	MasterAccount string
	Status        int
}

// SlaveInput is the evaluator's view of one (Master, Slave) membership.
type SlaveInput struct {
	EnabledFlag     bool
	IsOnline        bool
	IsTradeAllowed  bool
	ClusterSnapshot []MasterStatus
}

// EvaluateSlave decides one membership's runtime status. Unlike
// EvaluateMaster, a fully-healthy Slave can still land on Standby if any of
// its Masters isn't Connected.
func EvaluateSlave(in SlaveInput) (status int, warnings []string) {
	switch {
	case !in.EnabledFlag:
		return domain.StatusOff, []string{domain.WarnSlaveIntentOff}
	case !in.IsOnline:
		return domain.StatusOff, []string{domain.WarnSlaveOffline}
	case !in.IsTradeAllowed:
		return domain.StatusOff, []string{domain.WarnSlaveAlgoOff}
	}

	if len(in.ClusterSnapshot) == 0 {
		return domain.StatusStandby, []string{domain.WarnNoMasterAssigned}
	}

	var unavailable []string
	for _, m := range in.ClusterSnapshot {
		if m.Status != domain.StatusConnected {
			unavailable = append(unavailable, domain.MasterUnavailable(m.MasterAccount))
		}
	}
	if len(unavailable) == 0 {
		return domain.StatusConnected, nil
	}
	return domain.StatusStandby, unavailable
}

// AllowNewOrders reports whether a Slave at slaveStatus, attached to
// cluster, is currently eligible to receive new trade signals.
func AllowNewOrders(slaveStatus int, cluster []MasterStatus) bool {
	if slaveStatus != domain.StatusConnected {
		return false
	}
	for _, m := range cluster {
		if m.Status != domain.StatusConnected {
			return false
		}
	}
	return true
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
