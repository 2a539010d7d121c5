package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/gradeflow/grading-pipeline/internal/models"
)

type SubmissionClient interface {
	GetSubmission(ctx context.Context, submissionID string) (*models.SubmissionEventData, error)
}

type submissionClient struct {
	baseURL    string
	retryCount int
	retryDelay time.Duration
	client     *http.Client
	logger     zerolog.Logger
}

func NewSubmissionClient(baseURL string, timeout time.Duration, retryCount int, retryDelay time.Duration, logger zerolog.Logger) SubmissionClient {
	return &submissionClient{
		baseURL:    baseURL,
		retryCount: retryCount,
		retryDelay: retryDelay,
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// GetSubmission fetches answers when the submission.submitted event carried
// none.
func (c *submissionClient) GetSubmission(ctx context.Context, submissionID string) (*models.SubmissionEventData, error) {
	url := fmt.Sprintf("%s/api/v1/submissions/%s", c.baseURL, submissionID)

	var submission *models.SubmissionEventData
	var lastErr error

	for i := 0; i <= c.retryCount; i++ {
		if i > 0 {
			c.logger.Warn().Int("attempt", i).Msg("Retrying submission fetch")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(i)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
		if err != nil {
			lastErr = fmt.Errorf("failed to create request: %w", err)
			continue
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("failed to fetch submission: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			if err := json.NewDecoder(resp.Body).Decode(&submission); err != nil {
				resp.Body.Close()
				lastErr = fmt.Errorf("failed to decode submission response: %w", err)
				continue
			}
			resp.Body.Close()

			return submission, nil
		}

		if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			return nil, fmt.Errorf("submission %s: %w", submissionID, ErrNotFound)
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("submission service returned status %d: %s", resp.StatusCode, string(body))
	}

	return nil, fmt.Errorf("failed to get submission after %d attempts: %w", c.retryCount+1, lastErr)
}
