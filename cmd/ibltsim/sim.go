package main

import (
	"encoding/binary"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jcalabro/iblt"
)

// experiment describes one reconciliation scenario between a local and a
// remote peer.
type experiment struct {
	Buckets   int
	ItemBytes int
	Hashes    int
	// Shared is the number of keys held by both peers.
	Shared int
	// Diff is the size of the symmetric difference.
	Diff int
	// LocalShare is the fraction of Diff held only by the local peer. The
	// rest is held only by the remote peer.
	LocalShare float64
	Trials     int
	Seed       uint64
}

func (e experiment) validate() error {
	switch {
	case e.Buckets <= 0:
		return errors.New("buckets must be positive")
	case e.ItemBytes <= 0:
		return errors.New("item-bytes must be positive")
	case e.Hashes <= 0:
		return errors.New("hashes must be positive")
	case e.Shared < 0 || e.Diff < 0:
		return errors.New("set sizes must not be negative")
	case e.LocalShare < 0 || e.LocalShare > 1:
		return fmt.Errorf("local-share must be within [0, 1], got %v", e.LocalShare)
	case e.Trials <= 0:
		return errors.New("trials must be positive")
	}
	return nil
}

// trialResult is the outcome of reconciling once.
type trialResult struct {
	Complete bool
	// Recovered counts keys reported with the correct side.
	Recovered int
	// Wrong counts keys reported that are not in the difference or are
	// reported with the wrong side.
	Wrong    int
	Stats    iblt.PeelStats
	WireSize int
}

// summary aggregates the results of all trials of an experiment.
type summary struct {
	Trials    int
	Complete  int
	Recovered int
	Wrong     int
	Aborted   int
	WireSize  int
	RawSize   int
}

func (s summary) successRate() float64 {
	if s.Trials == 0 {
		return 0
	}
	return float64(s.Complete) / float64(s.Trials)
}

// run executes every trial of the experiment.
func (e experiment) run(logger *zap.Logger) (summary, error) {
	if err := e.validate(); err != nil {
		return summary{}, err
	}

	s := summary{
		Trials:  e.Trials,
		RawSize: (e.Shared + e.Diff) * e.ItemBytes,
	}
	for trial := 0; trial < e.Trials; trial++ {
		res, err := e.runTrial(uint64(trial), logger)
		if err != nil {
			return summary{}, err
		}
		if res.Complete {
			s.Complete++
		}
		if res.Stats.Aborted {
			s.Aborted++
		}
		s.Recovered += res.Recovered
		s.Wrong += res.Wrong
		s.WireSize = res.WireSize
	}

	logger.Debug("experiment finished",
		zap.Int("buckets", e.Buckets),
		zap.Int("diff", e.Diff),
		zap.Int("complete", s.Complete),
		zap.Int("trials", s.Trials),
	)
	return s, nil
}

// runTrial builds both peers' tables, ships the remote one through its wire
// encoding, and decodes the difference on the local side.
func (e experiment) runTrial(trial uint64, logger *zap.Logger) (trialResult, error) {
	opts := []iblt.Option{iblt.WithLogger(logger.Named("iblt"))}
	local := iblt.New(e.Buckets, e.ItemBytes, e.Hashes, opts...)
	remote := iblt.New(e.Buckets, e.ItemBytes, e.Hashes, opts...)

	localOnly := int(float64(e.Diff)*e.LocalShare + 0.5)

	// expected maps each differing key to true if only the local peer holds it.
	expected := make(map[string]bool, e.Diff)
	for i, n := 0, e.Shared+e.Diff; i < n; i++ {
		key := deriveKey(e.Seed, trial, uint64(i), e.ItemBytes)
		switch {
		case i < e.Shared:
			local.Insert(key)
			remote.Insert(key)
		case i < e.Shared+localOnly:
			local.Insert(key)
			expected[string(key)] = true
		default:
			remote.Insert(key)
			expected[string(key)] = false
		}
	}

	wire, err := remote.MarshalBinary()
	if err != nil {
		return trialResult{}, fmt.Errorf("encoding remote table: %w", err)
	}
	received, ok := iblt.FromBytes(e.Buckets, e.ItemBytes, e.Hashes, wire, opts...)
	if !ok {
		return trialResult{}, fmt.Errorf("decoding remote table of %d bytes", len(wire))
	}

	local.Subtract(received)

	res := trialResult{WireSize: len(wire)}
	res.Complete, res.Stats = local.ListWithStats(func(key []byte, onlyLocal bool) {
		side, found := expected[string(key)]
		if found && side == onlyLocal {
			res.Recovered++
			delete(expected, string(key))
			return
		}
		res.Wrong++
	})
	return res, nil
}

// deriveKey deterministically derives an item key of the given length from
// the experiment seed, trial number, and item index.
func deriveKey(seed, trial, index uint64, itemBytes int) []byte {
	var buf [32]byte
	binary.LittleEndian.PutUint64(buf[0:8], seed)
	binary.LittleEndian.PutUint64(buf[8:16], trial)
	binary.LittleEndian.PutUint64(buf[16:24], index)

	out := make([]byte, 0, itemBytes+16)
	for chunk := uint64(0); len(out) < itemBytes; chunk++ {
		binary.LittleEndian.PutUint64(buf[24:32], chunk)
		k := iblt.ContentKey(buf[:])
		out = append(out, k[:]...)
	}
	return out[:itemBytes]
}
