package iblt

import (
	"bytes"

	"go.uber.org/zap"
)

// PeelStats describes the outcome of one decode.
type PeelStats struct {
	// Peeled is the number of items passed to the visitor.
	Peeled int
	// Stale is the number of queued buckets that were no longer pure by the
	// time they were popped.
	Stale int
	// Aborted is set when the queue guard stopped peeling early. This only
	// happens on corrupt or adversarial input.
	Aborted bool
	// Remaining is the number of buckets left with a nonzero checksum or
	// count after peeling.
	Remaining int
}

// List decodes the table by peeling, calling visit once for every item it
// recovers. local is true for items that were inserted into this table (or
// present only in the minuend of a Subtract) and false for items that were
// removed (or present only in the subtrahend).
//
// List is destructive: each recovered item is removed from the table right
// after visit returns, so the visitor still sees the item in the table.
// Clone the table first, or use Decode, to keep it. Each key passed to visit
// is a fresh slice the visitor may retain.
//
// List returns true if the table was fully decoded. A false result is not an
// error: every item already passed to visit is genuine with high
// probability, but the rest of the difference could not be recovered.
func (t *Table) List(visit func(key []byte, local bool)) bool {
	complete, _ := t.ListWithStats(visit)
	return complete
}

// ListWithStats is like List but also reports decode statistics.
func (t *Table) ListWithStats(visit func(key []byte, local bool)) (bool, PeelStats) {
	// Each pop is either an initially pure bucket or one pushed by a peel,
	// and a table with no more items than buckets peels at most buckets
	// items.
	return t.peel(visit, t.buckets, t.buckets*(t.hashes+1))
}

// peel runs the peeling decoder. Peeling stops early once the queue holds
// more than maxQueue entries or more than maxPops entries have been popped.
func (t *Table) peel(visit func(key []byte, local bool), maxQueue, maxPops int) (bool, PeelStats) {
	var stats PeelStats

	queue := make([]int, 0, t.buckets)
	for b := 0; b < t.buckets; b++ {
		if t.pure(b) {
			queue = append(queue, b)
		}
	}

	pops := 0
	for len(queue) > 0 {
		b := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		if pops++; pops > maxPops {
			stats.Aborted = true
			break
		}

		// Peeling another item may have changed this bucket since it was
		// queued.
		if !t.pure(b) {
			stats.Stale++
			continue
		}

		key := bytes.Clone(t.bucketKey(b))
		check := t.checkHash[b]
		count := t.count[b]

		visit(key, count == 1)
		stats.Peeled++

		idx := seed(check)
		for rangeI := 0; rangeI < t.hashes; rangeI++ {
			var target int
			idx, target = nextBucket(idx, t.buckets)
			t.apply(target, check, -count, key)
			if t.pure(target) {
				if len(queue) > maxQueue {
					stats.Aborted = true
					continue
				}
				queue = append(queue, target)
			}
		}

		if stats.Aborted {
			break
		}
	}

	for b := 0; b < t.buckets; b++ {
		if t.checkHash[b] != 0 || t.count[b] != 0 {
			stats.Remaining++
		}
	}
	complete := stats.Remaining == 0

	switch {
	case stats.Aborted:
		t.logger.Warn("iblt peel aborted by queue guard",
			zap.Stringer("table", t),
			zap.Int("peeled", stats.Peeled),
			zap.Int("stale", stats.Stale),
			zap.Int("remaining", stats.Remaining),
		)
	case !complete:
		t.logger.Debug("iblt decode incomplete",
			zap.Stringer("table", t),
			zap.Int("peeled", stats.Peeled),
			zap.Int("remaining", stats.Remaining),
		)
	}

	return complete, stats
}

// Decode decodes a copy of the table, leaving t untouched. Keys only on the
// local side are returned in local, keys only on the remote side in remote.
func (t *Table) Decode() (local, remote [][]byte, complete bool) {
	complete = t.Clone().List(func(key []byte, isLocal bool) {
		if isLocal {
			local = append(local, key)
		} else {
			remote = append(remote, key)
		}
	})
	return local, remote, complete
}

// pure reports whether bucket b holds exactly one item, inserted or removed,
// whose checksum matches.
func (t *Table) pure(b int) bool {
	c := t.count[b]
	if c != 1 && c != -1 {
		return false
	}
	return checksum(t.bucketKey(b)) == t.checkHash[b]
}
