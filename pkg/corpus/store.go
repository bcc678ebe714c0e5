package corpus

import (
	"context"
	"fmt"
	"log"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// Admission defaults. The benign gate is deliberately the stricter one:
// a poisoned benign sample teaches the detector to excuse attacks, while a
// poisoned attack sample at worst causes an extra warn.
const (
	DefaultAttackFloor   = 0.70
	DefaultBenignCeiling = 0.10
	DefaultDedupeMin     = 0.92
	DefaultMaxSamples    = 10000
)

// Config tunes the store. A nil Embedding falls back to lexical overlap
// similarity, which keeps the loop functional with no embedding backend.
type Config struct {
	Embedding     chromem.EmbeddingFunc
	AttackFloor   float64 // minimum fused score for attack admission
	BenignCeiling float64 // maximum fused score for benign admission
	DedupeMin     float64 // similarity at which a new sample is a duplicate
	MaxSamples    int     // per-partition cap
}

// Stats counts what happened to offered samples since startup.
type Stats struct {
	AttackCount   int    `json:"attack_count"`
	BenignCount   int    `json:"benign_count"`
	Admitted      uint64 `json:"admitted"`
	RejectedScore uint64 `json:"rejected_score"`
	RejectedDupe  uint64 `json:"rejected_duplicate"`
	RejectedFull  uint64 `json:"rejected_full"`
}

// Store holds the two partitions and enforces admission control on every
// write: score floors, near-duplicate suppression, and a size cap.
type Store struct {
	attack index
	benign index
	cfg    Config

	mu    sync.Mutex
	stats Stats
}

// NewStore builds the store. With an embedding func both partitions are
// chromem collections; without one they are lexical indexes.
func NewStore(cfg Config) (*Store, error) {
	if cfg.AttackFloor == 0 {
		cfg.AttackFloor = DefaultAttackFloor
	}
	if cfg.BenignCeiling == 0 {
		cfg.BenignCeiling = DefaultBenignCeiling
	}
	if cfg.DedupeMin == 0 {
		cfg.DedupeMin = DefaultDedupeMin
	}
	if cfg.MaxSamples == 0 {
		cfg.MaxSamples = DefaultMaxSamples
	}

	s := &Store{cfg: cfg}
	if cfg.Embedding != nil {
		db := chromem.NewDB()
		attack, err := newChromemIndex(db, "attack_samples", cfg.Embedding)
		if err != nil {
			return nil, err
		}
		benign, err := newChromemIndex(db, "benign_samples", cfg.Embedding)
		if err != nil {
			return nil, err
		}
		s.attack, s.benign = attack, benign
	} else {
		s.attack, s.benign = newLexicalIndex(), newLexicalIndex()
	}
	return s, nil
}

func (s *Store) partition(p Partition) (index, error) {
	switch p {
	case PartitionAttack:
		return s.attack, nil
	case PartitionBenign:
		return s.benign, nil
	}
	return nil, fmt.Errorf("corpus: unknown partition %q", p)
}

// Observe offers a sample for admission. It returns whether the sample was
// admitted; a false with nil error means admission control declined it.
func (s *Store) Observe(ctx context.Context, sample Sample) (bool, error) {
	ix, err := s.partition(sample.Partition)
	if err != nil {
		return false, err
	}
	if sample.Text == "" {
		return false, nil
	}

	switch sample.Partition {
	case PartitionAttack:
		if sample.Score < s.cfg.AttackFloor {
			s.count(func(st *Stats) { st.RejectedScore++ })
			return false, nil
		}
	case PartitionBenign:
		if sample.Score > s.cfg.BenignCeiling {
			s.count(func(st *Stats) { st.RejectedScore++ })
			return false, nil
		}
	}

	if ix.Count() >= s.cfg.MaxSamples {
		s.count(func(st *Stats) { st.RejectedFull++ })
		return false, nil
	}

	// Write-time dedupe: a near-identical sample adds recall risk without
	// adding knowledge.
	hits, err := ix.Query(ctx, sample.Text, 1)
	if err != nil {
		return false, err
	}
	if len(hits) > 0 && hits[0].Similarity >= s.cfg.DedupeMin {
		s.count(func(st *Stats) { st.RejectedDupe++ })
		return false, nil
	}

	if err := ix.Add(ctx, sample); err != nil {
		return false, err
	}
	s.count(func(st *Stats) { st.Admitted++ })
	return true, nil
}

// QueryAttack returns the closest attack samples to the text.
func (s *Store) QueryAttack(ctx context.Context, text string, n int) ([]Hit, error) {
	return s.attack.Query(ctx, text, n)
}

// QueryBenign returns the closest benign samples to the text.
func (s *Store) QueryBenign(ctx context.Context, text string, n int) ([]Hit, error) {
	return s.benign.Query(ctx, text, n)
}

// Consolidate merges near-duplicate samples that slipped past write-time
// dedupe (concurrent admissions of similar texts). Only the lexical indexes
// need it; the embedding path serializes writes per partition.
func (s *Store) Consolidate(ctx context.Context) int {
	removed := 0
	for _, ix := range []index{s.attack, s.benign} {
		lex, ok := ix.(*lexicalIndex)
		if !ok {
			continue
		}
		removed += consolidateLexical(lex, s.cfg.DedupeMin)
	}
	if removed > 0 {
		log.Printf("[CORPUS] consolidation removed %d near-duplicate samples", removed)
	}
	return removed
}

// consolidateLexical keeps the earliest of each near-duplicate cluster.
func consolidateLexical(ix *lexicalIndex, dedupeMin float64) int {
	samples := ix.snapshot()
	drop := make(map[string]bool)
	for i := range samples {
		if drop[samples[i].sample.ID] {
			continue
		}
		for j := i + 1; j < len(samples); j++ {
			if drop[samples[j].sample.ID] {
				continue
			}
			if jaccard(samples[i].tokens, samples[j].tokens) >= dedupeMin {
				drop[samples[j].sample.ID] = true
			}
		}
	}
	if len(drop) > 0 {
		ix.remove(drop)
	}
	return len(drop)
}

// Stats snapshots admission accounting and partition sizes.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	st := s.stats
	s.mu.Unlock()
	st.AttackCount = s.attack.Count()
	st.BenignCount = s.benign.Count()
	return st
}

func (s *Store) count(f func(*Stats)) {
	s.mu.Lock()
	f(&s.stats)
	s.mu.Unlock()
}
