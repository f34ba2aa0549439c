// Package roleobserver adapts github.com/hashicorp/raft leadership-change
// notifications into epoch bumps for the progress vector (C4) and the
// replicated log manager (C6). It is a narrow observer: this module does
// not implement any part of raft's own replication or election protocol; it
// only watches raft.Raft's leadership channel and turns transitions into
// UpdateEpoch records.
//
// Grounded in the teacher fsm.go's use of hashicorp/raft as the
// cluster-membership/leadership substrate above this package's own
// replicated-log core.
package roleobserver

import (
	"context"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"

	"github.com/liftbridge-io/replog/epoch"
)

// EpochBumper receives the new epoch and whether this replica is now
// primary, once a leadership change is observed.
type EpochBumper func(newDataLossVersion, newConfigurationVersion int64, isPrimary bool, primaryReplicaID int64)

// LeadershipSource is the slice of raft.Raft this package depends on. A
// real *raft.Raft satisfies it; tests can substitute a bare channel.
type LeadershipSource interface {
	LeaderCh() <-chan bool
}

// Observer watches a raft.Raft's leadership channel and calls an
// EpochBumper on every transition.
type Observer struct {
	raftNode LeadershipSource
	bump     EpochBumper
	log      hclog.Logger

	replicaID       int64
	dataLossVersion int64
	configVersion   int64
}

// New returns an Observer over raftNode. replicaID identifies this process
// for PrimaryReplicaID stamping when it becomes leader. dataLossVersion is
// the current epoch's data-loss component, bumped only by an operator-
// initiated data-loss recovery, never by ordinary leadership churn.
func New(raftNode LeadershipSource, replicaID int64, dataLossVersion int64, bump EpochBumper, log hclog.Logger) *Observer {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Observer{
		raftNode:        raftNode,
		bump:            bump,
		log:             log,
		replicaID:       replicaID,
		dataLossVersion: dataLossVersion,
	}
}

// NewFromRaft is New specialized to a concrete *raft.Raft node, the
// production entry point.
func NewFromRaft(raftNode *raft.Raft, replicaID int64, dataLossVersion int64, bump EpochBumper, log hclog.Logger) *Observer {
	return New(raftNode, replicaID, dataLossVersion, bump, log)
}

// Run blocks, dispatching to bump on every leadership transition, until ctx
// is done.
func (o *Observer) Run(ctx context.Context) {
	ch := o.raftNode.LeaderCh()
	for {
		select {
		case isLeader := <-ch:
			o.configVersion++
			o.log.Info("leadership transition observed", "is_leader", isLeader, "configuration_version", o.configVersion)
			o.bump(o.dataLossVersion, o.configVersion, isLeader, o.replicaID)
		case <-ctx.Done():
			return
		}
	}
}

// BumpDataLoss records an operator-initiated data-loss recovery: the next
// leadership transition will be stamped with a higher DataLossVersion,
// forcing FindCopyMode to treat prior history as untrustworthy across it.
func (o *Observer) BumpDataLoss() epoch.Epoch {
	o.dataLossVersion++
	o.configVersion++
	return epoch.Epoch{DataLossVersion: o.dataLossVersion, ConfigurationVersion: o.configVersion}
}
