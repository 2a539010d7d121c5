package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/gradeflow/grading-pipeline/internal/models"
)

// ErrNotFound marks a referenced entity that does not exist (yet) on the
// owning service. Treated as retryable: the entity may simply not have
// propagated.
var ErrNotFound = errors.New("not found")

type AssessmentResponse struct {
	AssessmentID  string               `json:"assessment_id"`
	Title         string               `json:"title"`
	Questions     []models.Question    `json:"questions"`
	GradingConfig models.GradingConfig `json:"grading_config"`
}

type AssessmentClient interface {
	GetAssessment(ctx context.Context, assessmentID string) (*AssessmentResponse, error)
}

type assessmentClient struct {
	baseURL    string
	retryCount int
	retryDelay time.Duration
	client     *http.Client
	logger     zerolog.Logger
}

func NewAssessmentClient(baseURL string, timeout time.Duration, retryCount int, retryDelay time.Duration, logger zerolog.Logger) AssessmentClient {
	return &assessmentClient{
		baseURL:    baseURL,
		retryCount: retryCount,
		retryDelay: retryDelay,
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

func (c *assessmentClient) GetAssessment(ctx context.Context, assessmentID string) (*AssessmentResponse, error) {
	url := fmt.Sprintf("%s/api/v1/assessments/%s", c.baseURL, assessmentID)

	var assessment *AssessmentResponse
	var lastErr error

	for i := 0; i <= c.retryCount; i++ {
		if i > 0 {
			c.logger.Warn().Int("attempt", i).Msg("Retrying assessment fetch")
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
			lastErr = fmt.Errorf("failed to fetch assessment: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			if err := json.NewDecoder(resp.Body).Decode(&assessment); err != nil {
				resp.Body.Close()
				lastErr = fmt.Errorf("failed to decode assessment response: %w", err)
				continue
			}
			resp.Body.Close()

			c.logger.Debug().
				Str("assessment_id", assessmentID).
				Int("questions", len(assessment.Questions)).
				Msg("Got assessment")

			return assessment, nil
		}

		if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			return nil, fmt.Errorf("assessment %s: %w", assessmentID, ErrNotFound)
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("assessment service returned status %d: %s", resp.StatusCode, string(body))
	}

	return nil, fmt.Errorf("failed to get assessment after %d attempts: %w", c.retryCount+1, lastErr)
}
