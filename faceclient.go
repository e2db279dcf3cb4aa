package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// FaceAuthenticator asks the remote face-recognition service for a verdict.
type FaceAuthenticator interface {
	RequestFaceUnlock(ctx context.Context) (Verdict, error)
}

// maxFaceResponse bounds how much of a reply body is read.
const maxFaceResponse = 64 << 10

// FaceClient talks to the face-recognition service over HTTP.  It performs
// exactly one request per call; retry policy belongs to the controller.
type FaceClient struct {
	baseURL string
	http    *http.Client
}

// NewFaceClient returns a client for the service at baseURL.  Every request
// is bounded by timeout.
func NewFaceClient(baseURL string, timeout time.Duration) *FaceClient {
	return &FaceClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type faceUnlockResponse struct {
	Status string `json:"status"`
}

// RequestFaceUnlock posts to /face_unlock and classifies the reply.  Any
// outcome other than a well-formed SUCCESS or FAILURE yields VerdictError
// with an error wrapping ErrRemoteAuth.
func (c *FaceClient) RequestFaceUnlock(ctx context.Context) (Verdict, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/face_unlock", nil)
	if err != nil {
		return VerdictError, fmt.Errorf("%w: build request: %v", ErrRemoteAuth, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return VerdictError, fmt.Errorf("%w: request failed: %v", ErrRemoteAuth, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return VerdictError, fmt.Errorf("%w: service returned %s", ErrRemoteAuth, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFaceResponse))
	if err != nil {
		return VerdictError, fmt.Errorf("%w: read response: %v", ErrRemoteAuth, err)
	}
	var payload faceUnlockResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return VerdictError, fmt.Errorf("%w: invalid JSON response: %v", ErrRemoteAuth, err)
	}
	switch payload.Status {
	case "SUCCESS":
		return VerdictSuccess, nil
	case "FAILURE":
		return VerdictFailure, nil
	case "ERROR":
		return VerdictError, fmt.Errorf("%w: service reported an error", ErrRemoteAuth)
	default:
		return VerdictError, fmt.Errorf("%w: unexpected status %q", ErrRemoteAuth, payload.Status)
	}
}
