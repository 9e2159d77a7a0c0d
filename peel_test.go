package iblt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type listed struct {
	key   []byte
	local bool
}

func listAll(t *Table) ([]listed, bool) {
	var items []listed
	complete := t.List(func(key []byte, local bool) {
		items = append(items, listed{key, local})
	})
	return items, complete
}

func TestListSingleItem(t *testing.T) {
	tbl := New(64, 16, 3)
	key := bytes.Repeat([]byte{1}, 16)
	tbl.Insert(key)

	items, complete := listAll(tbl)
	require.True(t, complete)
	require.Equal(t, []listed{{key, true}}, items)
	require.True(t, tbl.IsEmpty())
}

func TestListSingleRemovedItem(t *testing.T) {
	tbl := New(64, 16, 3)
	key := bytes.Repeat([]byte{2}, 16)
	tbl.Remove(key)

	items, complete := listAll(tbl)
	require.True(t, complete)
	require.Equal(t, []listed{{key, false}}, items)
	require.True(t, tbl.IsEmpty())
}

func TestListEmpty(t *testing.T) {
	items, complete := listAll(New(64, 16, 3))
	require.True(t, complete)
	require.Empty(t, items)
}

func TestListVisitorOwnsKey(t *testing.T) {
	tbl := New(64, 16, 3)
	keys := randomKeys(10, 16, 11)
	for _, k := range keys {
		tbl.Insert(k)
	}

	var got [][]byte
	complete := tbl.List(func(key []byte, _ bool) {
		got = append(got, key)
	})
	require.True(t, complete)
	require.ElementsMatch(t, keys, got)
}

func TestListSkipsStaleEntries(t *testing.T) {
	tbl := New(64, 16, 3)

	// Find a key landing in three distinct buckets. All three start out
	// pure; peeling the key from one of them empties the other two, which
	// are still queued.
	var key []byte
	for _, k := range randomKeys(100, 16, 12) {
		if len(targets(tbl, k)) == 3 {
			key = k
			break
		}
	}
	require.NotNil(t, key)
	tbl.Insert(key)

	var items []listed
	complete, stats := tbl.ListWithStats(func(k []byte, local bool) {
		items = append(items, listed{k, local})
	})
	require.True(t, complete)
	require.Equal(t, []listed{{key, true}}, items)
	require.Equal(t, PeelStats{Peeled: 1, Stale: 2}, stats)
}

func TestListReconcile(t *testing.T) {
	cases := []struct {
		buckets, shared, missing, extra int
	}{
		{64, 1000, 10, 0},
		{64, 1000, 0, 10},
		{256, 5000, 50, 50},
		{1024, 20_000, 300, 100},
	}
	for i, c := range cases {
		t.Run(fmt.Sprintf("%d/%d/%d/%d", c.buckets, c.shared, c.missing, c.extra), func(t *testing.T) {
			keys := randomKeys(c.shared+c.missing+c.extra, 16, int64(100+i))
			shared := keys[:c.shared]
			missing := keys[c.shared : c.shared+c.missing]
			extra := keys[c.shared+c.missing:]

			local := New(c.buckets, 16, 3)
			remote := New(c.buckets, 16, 3)
			for _, k := range shared {
				local.Insert(k)
				remote.Insert(k)
			}
			for _, k := range missing {
				remote.Insert(k)
			}
			for _, k := range extra {
				local.Insert(k)
			}

			// local - remote: extra is local, missing is remote.
			diff := local.Clone()
			diff.Subtract(remote)
			gotLocal, gotRemote, complete := diff.Decode()
			require.True(t, complete)
			require.ElementsMatch(t, extra, gotLocal)
			require.ElementsMatch(t, missing, gotRemote)

			// remote - local flips the signs.
			diff = remote.Clone()
			diff.Subtract(local)
			gotLocal, gotRemote, complete = diff.Decode()
			require.True(t, complete)
			require.ElementsMatch(t, missing, gotLocal)
			require.ElementsMatch(t, extra, gotRemote)
		})
	}
}

func TestListReconcileLarge(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping large reconciliation in short mode")
	}

	const (
		buckets = 16384
		total   = 16000
		missing = 1024
	)
	keys := randomKeys(total, 16, 42)

	remote := New(buckets, 16, 3)
	local := New(buckets, 16, 3)
	for i, k := range keys {
		remote.Insert(k)
		if i >= missing {
			local.Insert(k)
		}
	}

	local.Subtract(remote)
	items, complete := listAll(local)
	require.True(t, complete)
	require.Len(t, items, missing)

	want := make(map[string]struct{}, missing)
	for _, k := range keys[:missing] {
		want[string(k)] = struct{}{}
	}
	for _, it := range items {
		require.False(t, it.local)
		_, ok := want[string(it.key)]
		require.True(t, ok, "unexpected key %x", it.key)
		delete(want, string(it.key))
	}
	require.Empty(t, want)
	require.True(t, local.IsEmpty())
}

func TestListIncompleteReportsGenuineItems(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	tbl := New(16, 16, 3, WithLogger(zap.New(core)))

	keys := randomKeys(40, 16, 13)
	inserted := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		tbl.Insert(k)
		inserted[string(k)] = struct{}{}
	}

	var items []listed
	complete, stats := tbl.ListWithStats(func(k []byte, local bool) {
		items = append(items, listed{k, local})
	})
	require.False(t, complete)
	require.False(t, stats.Aborted)
	require.NotZero(t, stats.Remaining)
	require.Len(t, items, stats.Peeled)
	for _, it := range items {
		require.True(t, it.local)
		require.Contains(t, inserted, string(it.key))
	}

	entries := logs.FilterMessage("iblt decode incomplete").All()
	require.Len(t, entries, 1)
	require.Equal(t, zapcore.DebugLevel, entries[0].Level)
	require.Equal(t, "iblt<16,16,3>", entries[0].ContextMap()["table"])
}

func TestListCompleteDoesNotLog(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	tbl := New(64, 16, 3, WithLogger(zap.New(core)))
	tbl.Insert(bytes.Repeat([]byte{3}, 16))

	require.True(t, tbl.List(func([]byte, bool) {}))
	require.Zero(t, logs.Len())
}

func TestPeelGuardAborts(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	tbl := New(64, 16, 3, WithLogger(zap.New(core)))
	for _, k := range randomKeys(2, 16, 14) {
		tbl.Insert(k)
	}

	var pure int
	for b := 0; b < tbl.buckets; b++ {
		if tbl.pure(b) {
			pure++
		}
	}
	require.GreaterOrEqual(t, pure, 2)

	var visited int
	complete, stats := tbl.peel(func([]byte, bool) { visited++ }, tbl.buckets, 1)
	require.False(t, complete)
	require.True(t, stats.Aborted)
	require.Equal(t, 1, stats.Peeled)
	require.Equal(t, 1, visited)
	require.Equal(t, 1, logs.FilterMessage("iblt peel aborted by queue guard").Len())
}

func TestPeelQueueGuardFinishesItem(t *testing.T) {
	tbl := New(64, 16, 3)

	// Find two keys with three distinct buckets each that share exactly one
	// bucket. Peeling either key makes the shared bucket pure, which is the
	// push the queue cap rejects.
	var a, b []byte
	var shared int
	keys := randomKeys(2000, 16, 17)
search:
	for i, ka := range keys {
		ta := targets(tbl, ka)
		if len(ta) != 3 {
			continue
		}
		for _, kb := range keys[i+1:] {
			tb := targets(tbl, kb)
			if len(tb) != 3 {
				continue
			}
			var common []int
			for bkt := range tb {
				if _, ok := ta[bkt]; ok {
					common = append(common, bkt)
				}
			}
			if len(common) == 1 {
				a, b, shared = ka, kb, common[0]
				break search
			}
		}
	}
	require.NotNil(t, a)
	tbl.Insert(a)
	tbl.Insert(b)

	core, logs := observer.New(zapcore.DebugLevel)
	tbl.logger = zap.New(core)

	// The four private buckets start out queued, so a cap of zero rejects the
	// first push made while peeling.
	var items []listed
	complete, stats := tbl.peel(func(k []byte, local bool) {
		items = append(items, listed{k, local})
	}, 0, tbl.buckets*4)

	require.False(t, complete)
	require.True(t, stats.Aborted)
	require.Equal(t, 1, stats.Peeled)
	require.Zero(t, stats.Stale)
	require.Equal(t, 3, stats.Remaining)
	require.Len(t, items, 1)
	require.True(t, items[0].local)

	peeled, left := a, b
	if !bytes.Equal(items[0].key, a) {
		peeled, left = b, a
	}
	require.Equal(t, peeled, items[0].key)

	// The peeled item is gone from every one of its buckets; the shared
	// bucket now holds only the other key.
	for bkt := range targets(tbl, peeled) {
		if bkt == shared {
			continue
		}
		require.Zero(t, tbl.checkHash[bkt], "bucket %d", bkt)
		require.Zero(t, tbl.count[bkt], "bucket %d", bkt)
		require.Equal(t, make([]byte, 16), tbl.bucketKey(bkt), "bucket %d", bkt)
	}
	require.True(t, tbl.pure(shared))
	require.Equal(t, left, tbl.bucketKey(shared))
	require.Equal(t, checksum(left), tbl.checkHash[shared])

	require.Equal(t, 1, logs.FilterMessage("iblt peel aborted by queue guard").Len())
}

func TestListVisitsBeforeRemoving(t *testing.T) {
	tbl := New(64, 16, 3)
	key := bytes.Repeat([]byte{6}, 16)
	tbl.Insert(key)

	var sawItem bool
	complete := tbl.List(func([]byte, bool) {
		sawItem = !tbl.IsEmpty()
	})
	require.True(t, complete)
	require.True(t, sawItem, "visitor should run before the item is removed")
	require.True(t, tbl.IsEmpty())
}

func TestListCorruptInputNeverPanics(t *testing.T) {
	const buckets, itemBytes = 32, 8
	size := SizeBytes(buckets, itemBytes)
	f := fuzz.NewWithSeed(15).NilChance(0).NumElements(size, size)

	for rangeI := 0; rangeI < 200; rangeI++ {
		var buf []byte
		f.Fuzz(&buf)
		// Make counts +-1 and give every other bucket a matching checksum so
		// that peeling actually runs over the garbage.
		keys := buf[buckets*(checkBytes+countBytes):]
		for b := 0; b < buckets; b++ {
			buf[buckets*checkBytes+b] = []byte{0x01, 0xFF}[buf[buckets*checkBytes+b]&1]
			if b%2 == 0 {
				binary.LittleEndian.PutUint32(buf[b*checkBytes:], checksum(keys[b*itemBytes:(b+1)*itemBytes]))
			}
		}

		tbl, ok := FromBytes(buckets, itemBytes, 3, buf)
		require.True(t, ok)
		require.NotPanics(t, func() {
			tbl.ListWithStats(func([]byte, bool) {})
		})
	}
}

func TestDecodeLeavesTableIntact(t *testing.T) {
	tbl := New(64, 16, 3)
	keys := randomKeys(5, 16, 16)
	for _, k := range keys[:3] {
		tbl.Insert(k)
	}
	for _, k := range keys[3:] {
		tbl.Remove(k)
	}
	before := tbl.Bytes()

	local, remote, complete := tbl.Decode()
	require.True(t, complete)
	require.ElementsMatch(t, keys[:3], local)
	require.ElementsMatch(t, keys[3:], remote)
	require.Equal(t, before, tbl.Bytes())
}
