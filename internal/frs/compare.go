package frs

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// CompareResult is the outcome of a 1:1 comparison.
type CompareResult struct {
	Match      bool    `json:"match"`
	Confidence float64 `json:"confidence"`
	SourceFace Face    `json:"source_face"`
	TargetFace Face    `json:"target_face"`
}

// TargetResult is one slot of a 1:N search. Error is set when detection or
// verification failed for this target; the slot still occupies its place in
// the result list.
type TargetResult struct {
	Index      int     `json:"index"`
	Match      bool    `json:"match"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error,omitempty"`
}

// SearchResult is the outcome of a 1:N search, sorted by descending
// confidence.
type SearchResult struct {
	TotalTargets int            `json:"total_targets"`
	MatchCount   int            `json:"match_count"`
	Results      []TargetResult `json:"results"`
}

// PairResult is one cell of an N:N cross-product.
type PairResult struct {
	SourceIndex int     `json:"source_index"`
	TargetIndex int     `json:"target_index"`
	Match       bool    `json:"match"`
	Confidence  float64 `json:"confidence"`
	Error       string  `json:"error,omitempty"`
}

// BatchSummary aggregates an N:N batch.
type BatchSummary struct {
	TotalComparisons int `json:"total_comparisons"`
	Matches          int `json:"matches"`
	NonMatches       int `json:"non_matches"`
	Errors           int `json:"errors"`
}

// BatchResult is the outcome of an N:N comparison.
type BatchResult struct {
	Summary BatchSummary `json:"summary"`
	Pairs   []PairResult `json:"pairs"`
}

// CompareOne runs a 1:1 comparison. Either image yielding zero faces fails
// fast with ErrNoFaceDetected before any verification call.
func (c *Client) CompareOne(ctx context.Context, source, target []byte) (CompareResult, error) {
	sourceFaces, err := c.Detect(ctx, source)
	if err != nil {
		return CompareResult{}, err
	}
	if len(sourceFaces) == 0 {
		return CompareResult{}, fmt.Errorf("source image: %w", ErrNoFaceDetected)
	}
	targetFaces, err := c.Detect(ctx, target)
	if err != nil {
		return CompareResult{}, err
	}
	if len(targetFaces) == 0 {
		return CompareResult{}, fmt.Errorf("target image: %w", ErrNoFaceDetected)
	}

	score, err := c.Verify(ctx, sourceFaces[0].ID, targetFaces[0].ID)
	if err != nil {
		return CompareResult{}, err
	}
	return CompareResult{
		Match:      score >= c.matchThreshold,
		Confidence: score,
		SourceFace: sourceFaces[0],
		TargetFace: targetFaces[0],
	}, nil
}

// SearchMany runs a 1:N search: one source face against every target image.
// Per-target failures fill that target's error slot and never abort the
// batch. Results come back sorted by descending confidence.
func (c *Client) SearchMany(ctx context.Context, source []byte, targets [][]byte) (SearchResult, error) {
	sourceFaces, err := c.Detect(ctx, source)
	if err != nil {
		return SearchResult{}, err
	}
	if len(sourceFaces) == 0 {
		return SearchResult{}, fmt.Errorf("source image: %w", ErrNoFaceDetected)
	}
	sourceID := sourceFaces[0].ID

	results := make([]TargetResult, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target []byte) {
			defer wg.Done()
			results[i] = c.searchOneTarget(ctx, sourceID, i, target)
		}(i, target)
	}
	wg.Wait()

	matchCount := 0
	for _, r := range results {
		if r.Match {
			matchCount++
		}
	}
	sort.SliceStable(results, func(a, b int) bool {
		return results[a].Confidence > results[b].Confidence
	})

	return SearchResult{
		TotalTargets: len(targets),
		MatchCount:   matchCount,
		Results:      results,
	}, nil
}

func (c *Client) searchOneTarget(ctx context.Context, sourceID string, index int, target []byte) TargetResult {
	faces, err := c.Detect(ctx, target)
	if err != nil {
		return TargetResult{Index: index, Error: err.Error()}
	}
	if len(faces) == 0 {
		return TargetResult{Index: index, Error: ErrNoFaceDetected.Error()}
	}
	score, err := c.Verify(ctx, sourceID, faces[0].ID)
	if err != nil {
		return TargetResult{Index: index, Error: err.Error()}
	}
	return TargetResult{
		Index:      index,
		Match:      score >= c.matchThreshold,
		Confidence: score,
	}
}

// detection is the per-image outcome of the batch detect phase.
type detection struct {
	faceID string
	err    string
}

// CompareBatch runs the full N:N cross-product between two image sets.
// Detection runs in parallel per image; pairs where either side has no
// face short-circuit to an error slot without a verify call; remaining
// pairs verify in parallel.
func (c *Client) CompareBatch(ctx context.Context, setA, setB [][]byte) (BatchResult, error) {
	detectionsA := c.detectAll(ctx, setA)
	detectionsB := c.detectAll(ctx, setB)

	pairs := make([]PairResult, len(setA)*len(setB))
	var wg sync.WaitGroup
	for i := range setA {
		for j := range setB {
			slot := i*len(setB) + j
			a, b := detectionsA[i], detectionsB[j]

			if a.err != "" || b.err != "" {
				reason := a.err
				side := "source"
				if reason == "" {
					reason = b.err
					side = "target"
				}
				pairs[slot] = PairResult{
					SourceIndex: i,
					TargetIndex: j,
					Error:       fmt.Sprintf("%s image: %s", side, reason),
				}
				continue
			}

			wg.Add(1)
			go func(slot, i, j int, aID, bID string) {
				defer wg.Done()
				score, err := c.Verify(ctx, aID, bID)
				if err != nil {
					pairs[slot] = PairResult{SourceIndex: i, TargetIndex: j, Error: err.Error()}
					return
				}
				pairs[slot] = PairResult{
					SourceIndex: i,
					TargetIndex: j,
					Match:       score >= c.matchThreshold,
					Confidence:  score,
				}
			}(slot, i, j, a.faceID, b.faceID)
		}
	}
	wg.Wait()

	summary := BatchSummary{TotalComparisons: len(pairs)}
	for _, p := range pairs {
		switch {
		case p.Error != "":
			summary.Errors++
		case p.Match:
			summary.Matches++
		default:
			summary.NonMatches++
		}
	}
	return BatchResult{Summary: summary, Pairs: pairs}, nil
}

func (c *Client) detectAll(ctx context.Context, images [][]byte) []detection {
	out := make([]detection, len(images))
	var wg sync.WaitGroup
	for i, image := range images {
		wg.Add(1)
		go func(i int, image []byte) {
			defer wg.Done()
			faces, err := c.Detect(ctx, image)
			if err != nil {
				out[i] = detection{err: err.Error()}
				return
			}
			if len(faces) == 0 {
				out[i] = detection{err: ErrNoFaceDetected.Error()}
				return
			}
			out[i] = detection{faceID: faces[0].ID}
		}(i, image)
	}
	wg.Wait()
	return out
}
