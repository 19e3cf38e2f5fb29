// Package migration implements the loadlevel-driven migration
// decision procedure (spec.md §4.4) and the ACCEPT_BUCKET/CONTROL_BUCKET
// protocol state machines (spec.md §4.5, §4.6) that carry it out.
package migration

import (
	"sort"

	"github.com/opencluster/opencluster/internal/bucket"
)

// LoadInfo is a node's {primary_count, secondary_count, transferring}
// triple, as gossiped by LOADLEVELS (spec.md §4.3).
type LoadInfo struct {
	Primary      int
	Secondary    int
	Transferring bool
}

// Total returns Primary + Secondary.
func (l LoadInfo) Total() int { return l.Primary + l.Secondary }

// ActionKind identifies which of the three migration moves (or none)
// the decision procedure chose.
type ActionKind int

const (
	ActionNone ActionKind = iota
	// ActionSwitch asks the target to promote its secondary copy of
	// BucketIndex to primary, demoting the local copy to secondary.
	ActionSwitch
	// ActionNoBackupFill streams BucketIndex, a no-backup local
	// primary, to the target as a fresh secondary.
	ActionNoBackupFill
	// ActionTransferForBalance streams BucketIndex, a local primary,
	// to the target to rebalance load.
	ActionTransferForBalance
)

func (k ActionKind) String() string {
	switch k {
	case ActionSwitch:
		return "switch"
	case ActionNoBackupFill:
		return "no-backup-fill"
	case ActionTransferForBalance:
		return "transfer-for-balance"
	default:
		return "none"
	}
}

// Action is the decision procedure's output.
type Action struct {
	Kind        ActionKind
	BucketIndex uint64
}

// DecideParams bundles everything the decision procedure (spec.md
// §4.4) needs to evaluate one peer on one loadlevel tick.
type DecideParams struct {
	Local       LoadInfo
	Target      LoadInfo
	TargetName  string
	Mask        uint64
	ActiveNodes int
	Buckets     *bucket.Table
	// NodeTotal returns the gossiped Total() load of the named peer,
	// used by the transfer-for-balance rule to compare the target
	// against a candidate bucket's existing backup node. It must
	// return 0 for unknown names so the comparison is conservative
	// (never treats "unknown" as heavier than the target).
	NodeTotal func(name string) int
}

// Decide runs the three-step migration decision procedure against one
// peer and returns the single action (if any) to take this tick.
// Non-goal buckets — not present locally, already in transfer, or
// tagged LastBucket from the previous tick — are never selected.
func Decide(p DecideParams) Action {
	if a, ok := decideSwitch(p); ok {
		return a
	}
	if a, ok := decideNoBackupFill(p); ok {
		return a
	}
	if a, ok := decideTransferForBalance(p); ok {
		return a
	}
	return Action{Kind: ActionNone}
}

// eligibleIndices returns every bucket index in ascending order that
// satisfies pred, skipping buckets already mid-transfer or marked
// LastBucket (the tie-break spec.md §4.4 describes).
func eligibleIndices(tbl *bucket.Table, pred func(*bucket.Bucket) bool) []uint64 {
	var out []uint64
	for _, b := range tbl.All() {
		if b.InTransfer() || b.LastBucket {
			continue
		}
		if pred(b) {
			out = append(out, b.Index)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func decideSwitch(p DecideParams) (Action, bool) {
	if !(p.Local.Primary-1 >= p.Local.Secondary+1 && p.Target.Secondary > p.Target.Primary) {
		return Action{}, false
	}
	idxs := eligibleIndices(p.Buckets, func(b *bucket.Bucket) bool {
		return b.Level == bucket.LevelPrimary && b.BackupNode == p.TargetName
	})
	if len(idxs) == 0 {
		return Action{}, false
	}
	return Action{Kind: ActionSwitch, BucketIndex: idxs[0]}, true
}

func decideNoBackupFill(p DecideParams) (Action, bool) {
	if !(uint64(p.Target.Total()) < p.Mask+1) {
		return Action{}, false
	}
	idxs := eligibleIndices(p.Buckets, func(b *bucket.Bucket) bool {
		return b.NoBackup()
	})
	if len(idxs) == 0 {
		return Action{}, false
	}
	return Action{Kind: ActionNoBackupFill, BucketIndex: idxs[0]}, true
}

func decideTransferForBalance(p DecideParams) (Action, bool) {
	ideal := int((p.Mask + 1) * 2 / uint64(p.ActiveNodes))
	if p.Local.Total() <= ideal || p.Local.Primary-1 <= p.Target.Primary {
		return Action{}, false
	}
	targetTotal := p.Target.Total()
	idxs := eligibleIndices(p.Buckets, func(b *bucket.Bucket) bool {
		if b.Level != bucket.LevelPrimary || b.BackupNode == "" {
			return false
		}
		return p.NodeTotal(b.BackupNode) > targetTotal
	})
	if len(idxs) == 0 {
		return Action{}, false
	}
	return Action{Kind: ActionTransferForBalance, BucketIndex: idxs[0]}, true
}
