package frs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine simulates the upstream detect/verify API. Image payloads are
// interpreted as directives: "face:<id>" yields one face, "none" yields
// zero faces, "fail" returns a 500. Verify returns the score registered
// for the (id, id) pair, defaulting to 0.1.
type fakeEngine struct {
	scores      map[string]float64
	verifyCalls atomic.Int64
	detectCalls atomic.Int64
}

func (e *fakeEngine) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/detect", func(w http.ResponseWriter, r *http.Request) {
		e.detectCalls.Add(1)
		_ = r.ParseMultipartForm(1 << 20)
		f, _, err := r.FormFile("image")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		body, _ := io.ReadAll(f)
		directive := string(body)
		switch {
		case directive == "fail":
			w.WriteHeader(http.StatusInternalServerError)
		case directive == "none":
			_ = json.NewEncoder(w).Encode(detectResponse{})
		default:
			id := directive[len("face:"):]
			_ = json.NewEncoder(w).Encode(detectResponse{Faces: []Face{{ID: id, Confidence: 0.99}}})
		}
	})
	mux.HandleFunc("/verify", func(w http.ResponseWriter, r *http.Request) {
		e.verifyCalls.Add(1)
		var req verifyRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		score, ok := e.scores[req.FaceID1+"/"+req.FaceID2]
		if !ok {
			score = 0.1
		}
		_ = json.NewEncoder(w).Encode(verifyResponse{Similarity: score})
	})
	return mux
}

func newTestClient(t *testing.T, engine *fakeEngine) *Client {
	t.Helper()
	srv := httptest.NewServer(engine.handler())
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL, MatchThreshold: 0.72})
	require.NoError(t, err)
	return c
}

func img(directive string) []byte { return []byte(directive) }

func TestNewValidation(t *testing.T) {
	_, err := New(Config{MatchThreshold: 0.72})
	assert.Error(t, err)
	_, err = New(Config{BaseURL: "http://x", MatchThreshold: 0})
	assert.Error(t, err)
	_, err = New(Config{BaseURL: "http://x", MatchThreshold: 1.5})
	assert.Error(t, err)
}

func TestCompareOneMatch(t *testing.T) {
	engine := &fakeEngine{scores: map[string]float64{"a/b": 0.85}}
	c := newTestClient(t, engine)

	res, err := c.CompareOne(context.Background(), img("face:a"), img("face:b"))
	require.NoError(t, err)
	assert.True(t, res.Match)
	assert.InDelta(t, 0.85, res.Confidence, 1e-9)
	assert.Equal(t, "a", res.SourceFace.ID)
}

func TestCompareOneBelowThreshold(t *testing.T) {
	engine := &fakeEngine{scores: map[string]float64{"a/b": 0.5}}
	c := newTestClient(t, engine)

	res, err := c.CompareOne(context.Background(), img("face:a"), img("face:b"))
	require.NoError(t, err)
	assert.False(t, res.Match)
}

func TestCompareOneNoFaceFailsFast(t *testing.T) {
	engine := &fakeEngine{}
	c := newTestClient(t, engine)

	_, err := c.CompareOne(context.Background(), img("none"), img("face:b"))
	require.ErrorIs(t, err, ErrNoFaceDetected)
	// Zero faces in the source must short-circuit before verify.
	assert.Zero(t, engine.verifyCalls.Load())
}

func TestCompareOneUpstreamFailureIsNotDomainError(t *testing.T) {
	engine := &fakeEngine{}
	c := newTestClient(t, engine)

	_, err := c.CompareOne(context.Background(), img("fail"), img("face:b"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoFaceDetected)
	var ue *UpstreamError
	assert.ErrorAs(t, err, &ue)
	assert.Equal(t, http.StatusInternalServerError, ue.Status)
}

func TestSearchManyPartialFailures(t *testing.T) {
	engine := &fakeEngine{scores: map[string]float64{
		"src/t1": 0.9,
		"src/t2": 0.4,
	}}
	c := newTestClient(t, engine)

	// Three targets: two with a face, one without.
	res, err := c.SearchMany(context.Background(), img("face:src"),
		[][]byte{img("face:t1"), img("none"), img("face:t2")})
	require.NoError(t, err)

	assert.Equal(t, 3, res.TotalTargets)
	assert.Equal(t, 1, res.MatchCount)
	assert.EqualValues(t, 2, engine.verifyCalls.Load())

	// Sorted by descending confidence; the faceless target carries an error
	// slot with match=false.
	require.Len(t, res.Results, 3)
	assert.InDelta(t, 0.9, res.Results[0].Confidence, 1e-9)
	assert.True(t, res.Results[0].Match)

	var errored *TargetResult
	for i := range res.Results {
		if res.Results[i].Error != "" {
			errored = &res.Results[i]
		}
	}
	require.NotNil(t, errored)
	assert.Equal(t, 1, errored.Index)
	assert.False(t, errored.Match)
	assert.Contains(t, errored.Error, "no face detected")
}

func TestSearchManySourceNoFace(t *testing.T) {
	engine := &fakeEngine{}
	c := newTestClient(t, engine)

	_, err := c.SearchMany(context.Background(), img("none"), [][]byte{img("face:t1")})
	assert.ErrorIs(t, err, ErrNoFaceDetected)
}

func TestCompareBatchFacelessImageVoidsOnlyItsPairs(t *testing.T) {
	engine := &fakeEngine{scores: map[string]float64{
		"a1/b1": 0.8,
		"a1/b2": 0.3,
	}}
	c := newTestClient(t, engine)

	// a2 has no faces; every pair involving it must be an error slot while
	// a1's pairs proceed normally.
	res, err := c.CompareBatch(context.Background(),
		[][]byte{img("face:a1"), img("none")},
		[][]byte{img("face:b1"), img("face:b2")})
	require.NoError(t, err)

	assert.Equal(t, 4, res.Summary.TotalComparisons)
	assert.Equal(t, 1, res.Summary.Matches)
	assert.Equal(t, 1, res.Summary.NonMatches)
	assert.Equal(t, 2, res.Summary.Errors)

	for _, p := range res.Pairs {
		if p.SourceIndex == 1 {
			assert.False(t, p.Match)
			assert.Contains(t, p.Error, "no face detected")
		}
	}
	// Only a1's two pairs reach verification.
	assert.EqualValues(t, 2, engine.verifyCalls.Load())
}

func TestCompareBatchTransportErrorPerSlot(t *testing.T) {
	engine := &fakeEngine{scores: map[string]float64{"a1/b1": 0.9}}
	c := newTestClient(t, engine)

	res, err := c.CompareBatch(context.Background(),
		[][]byte{img("face:a1"), img("fail")},
		[][]byte{img("face:b1")})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Summary.TotalComparisons)
	assert.Equal(t, 1, res.Summary.Matches)
	assert.Equal(t, 1, res.Summary.Errors)
}

func TestVideoSubmitAndPoll(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/videos", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_ = json.NewEncoder(w).Encode(VideoJob{JobID: "job-1", Status: "queued"})
	})
	mux.HandleFunc("/videos/job-1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(VideoJob{JobID: "job-1", Status: "processing", Progress: 0.4})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL, MatchThreshold: 0.72})
	require.NoError(t, err)

	job, err := c.SubmitVideo(context.Background(), []byte("video-bytes"), "clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.JobID)

	job, err = c.VideoJobStatus(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "processing", job.Status)
	assert.InDelta(t, 0.4, job.Progress, 1e-9)
}

func TestUpstreamErrorMessage(t *testing.T) {
	e := &UpstreamError{Op: "verify", Status: 503}
	assert.Equal(t, "frs verify: upstream status 503", e.Error())
	e = &UpstreamError{Op: "detect", Err: fmt.Errorf("dial tcp: refused")}
	assert.Contains(t, e.Error(), "dial tcp")
}
