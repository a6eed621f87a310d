package fraudscan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPScorer calls the external fraud-scoring model over HTTP. The model is
// a black box here: ordered messages in, a score with rationale out.
type HTTPScorer struct {
	url        string
	httpClient *http.Client
}

func NewHTTPScorer(url string) *HTTPScorer {
	return &HTTPScorer{
		url: url,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type scoreRequest struct {
	RoomID   string          `json:"roomId"`
	Messages []ScanCandidate `json:"messages"`
}

// Score submits one conversation group for classification. Cancellation of
// ctx aborts the call and surfaces as an error, so the caller treats a stuck
// scorer as a batch failure rather than a silent drop.
func (s *HTTPScorer) Score(ctx context.Context, candidates []ScanCandidate) (ScoreResult, error) {
	if len(candidates) == 0 {
		return ScoreResult{}, fmt.Errorf("fraudscan: empty scoring group")
	}

	body, err := json.Marshal(scoreRequest{
		RoomID:   candidates[0].RoomID,
		Messages: candidates,
	})
	if err != nil {
		return ScoreResult{}, fmt.Errorf("fraudscan: marshal score request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return ScoreResult{}, fmt.Errorf("fraudscan: build score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return ScoreResult{}, fmt.Errorf("fraudscan: call scorer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return ScoreResult{}, fmt.Errorf("fraudscan: scorer returned %d: %s", resp.StatusCode, raw)
	}

	var result ScoreResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return ScoreResult{}, fmt.Errorf("fraudscan: decode score response: %w", err)
	}
	return result, nil
}
