package frs

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/url"
)

// VideoJob is the engine's view of an asynchronous video analysis job.
type VideoJob struct {
	JobID    string  `json:"job_id"`
	Status   string  `json:"status"` // queued, processing, completed, failed
	Progress float64 `json:"progress,omitempty"`
	Error    string  `json:"error,omitempty"`
	Result   any     `json:"result,omitempty"`
}

// SubmitVideo uploads a video for asynchronous analysis and returns the
// created job. Uploads use the long-timeout client.
func (c *Client) SubmitVideo(ctx context.Context, video []byte, filename string) (VideoJob, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("video", filename)
	if err != nil {
		return VideoJob{}, &UpstreamError{Op: "video.submit", Err: err}
	}
	if _, err := part.Write(video); err != nil {
		return VideoJob{}, &UpstreamError{Op: "video.submit", Err: err}
	}
	if err := mw.Close(); err != nil {
		return VideoJob{}, &UpstreamError{Op: "video.submit", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/videos", &buf)
	if err != nil {
		return VideoJob{}, &UpstreamError{Op: "video.submit", Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req)

	var job VideoJob
	if err := c.do(c.videoClient, req, "video.submit", &job); err != nil {
		return VideoJob{}, err
	}
	return job, nil
}

// VideoJobStatus polls the state of a previously submitted job.
func (c *Client) VideoJobStatus(ctx context.Context, jobID string) (VideoJob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/videos/"+url.PathEscape(jobID), nil)
	if err != nil {
		return VideoJob{}, &UpstreamError{Op: "video.status", Err: err}
	}
	c.authorize(req)

	var job VideoJob
	if err := c.do(c.httpClient, req, "video.status", &job); err != nil {
		return VideoJob{}, err
	}
	return job, nil
}
