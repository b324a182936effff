// Package kling implements the asynchronous omni-image adapter. Unlike the
// video families it has its own endpoint and its own terse status vocabulary
// (succeed/failed), so it carries a separate normalization table.
package kling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"vivagen/internal/domain"
	"vivagen/internal/infra"
	"vivagen/internal/providers"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("kling: api key is required")

// PollInterval is the fixed polling cadence for omni-image tasks.
const PollInterval = 3 * time.Second

// Options configures the omni-image client.
type Options struct {
	APIKey         string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client submits asynchronous omni-image tasks and checks their status.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

// SubmitRequest captures the inputs for one omni-image variant.
type SubmitRequest struct {
	Prompt      string
	AspectRatio string
	Resolution  string
	References  []domain.ReferenceImage
}

type createTaskRequest struct {
	ModelName   string      `json:"model_name"`
	Prompt      string      `json:"prompt"`
	N           int         `json:"n"`
	AspectRatio string      `json:"aspect_ratio"`
	Resolution  string      `json:"resolution"`
	ImageList   []imageItem `json:"image_list"`
}

type imageItem struct {
	Image string `json:"image"`
}

type taskEnvelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		TaskID        string `json:"task_id"`
		TaskStatus    string `json:"task_status"`
		TaskStatusMsg string `json:"task_status_msg"`
		TaskResult    struct {
			Images []struct {
				URL string `json:"url"`
			} `json:"images"`
		} `json:"task_result"`
	} `json:"data"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = infra.FixedBaseURL
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// Submit creates an omni-image task and returns its task id.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (providers.Submission, error) {
	if !c.HasCredentials() {
		return providers.Submission{}, ErrMissingAPIKey
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return providers.Submission{}, errors.New("kling: prompt is required")
	}
	images := make([]imageItem, 0, len(req.References))
	for _, ref := range req.References {
		if src := ref.Source(); src != "" {
			images = append(images, imageItem{Image: src})
		}
	}
	payload := createTaskRequest{
		ModelName:   domain.OmniImageModelID,
		Prompt:      req.Prompt,
		N:           1,
		AspectRatio: req.AspectRatio,
		Resolution:  strings.ToLower(req.Resolution),
		ImageList:   images,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return providers.Submission{}, fmt.Errorf("kling: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/kling/v1/images/omni-image", bytes.NewReader(body))
	if err != nil {
		return providers.Submission{}, fmt.Errorf("kling: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	envelope, err := c.do(httpReq)
	if err != nil {
		return providers.Submission{}, err
	}
	if envelope.Code != 0 {
		msg := strings.TrimSpace(envelope.Message)
		if msg == "" {
			msg = fmt.Sprintf("code %d", envelope.Code)
		}
		return providers.Submission{}, fmt.Errorf("kling: %s", msg)
	}
	taskID := strings.TrimSpace(envelope.Data.TaskID)
	if taskID == "" {
		return providers.Submission{}, errors.New("kling: no task id returned")
	}
	c.logger.Debug().Str("task_id", taskID).Msg("kling: task accepted")
	return providers.Submission{Kind: providers.SubmissionAccepted, TaskID: taskID}, nil
}

// PollOnce performs a single status check. Only succeed and failed are
// terminal; any other task_status keeps the task running.
func (c *Client) PollOnce(ctx context.Context, taskID string) (providers.PollResult, error) {
	endpoint := c.baseURL + "/kling/v1/images/omni-image/" + url.PathEscape(taskID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return providers.PollResult{}, fmt.Errorf("kling: build poll request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	envelope, err := c.do(httpReq)
	if err != nil {
		return providers.PollResult{}, err
	}
	switch strings.ToLower(envelope.Data.TaskStatus) {
	case "succeed":
		var resultURL string
		if images := envelope.Data.TaskResult.Images; len(images) > 0 {
			resultURL = strings.TrimSpace(images[0].URL)
		}
		return providers.PollResult{State: providers.StateSucceeded, URL: resultURL}, nil
	case "failed":
		return providers.PollResult{State: providers.StateFailed, Reason: strings.TrimSpace(envelope.Data.TaskStatusMsg)}, nil
	default:
		return providers.PollResult{State: providers.StateRunning}, nil
	}
}

func (c *Client) do(httpReq *http.Request) (*taskEnvelope, error) {
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("kling: http request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("kling: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var detail taskEnvelope
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Message != "" {
			return nil, fmt.Errorf("kling: %s (code %d)", detail.Message, detail.Code)
		}
		return nil, fmt.Errorf("kling: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var envelope taskEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("kling: decode response: %w", err)
	}
	return &envelope, nil
}

var _ providers.TaskPoller = (*Client)(nil)
