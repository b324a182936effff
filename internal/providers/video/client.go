// Package video implements the asynchronous video adapter family. Task
// creation splits into two request shapes (JSON body vs multipart form) but
// both converge on the same normalized status vocabulary.
package video

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"vivagen/internal/domain"
	"vivagen/internal/infra"
	"vivagen/internal/providers"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("video: api key is required")

// PollInterval is the fixed polling cadence for every video family task.
const PollInterval = 5 * time.Second

// Options configures the video client.
type Options struct {
	APIKey         string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client submits asynchronous video generation tasks and checks their status.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

// SubmitRequest captures the inputs for one video variant.
type SubmitRequest struct {
	ModelID     string
	Prompt      string
	AspectRatio string
	Seconds     int
	References  []domain.ReferenceImage
}

type createTaskRequest struct {
	Model          string   `json:"model"`
	Prompt         string   `json:"prompt"`
	Images         []string `json:"images"`
	AspectRatio    string   `json:"aspect_ratio"`
	EnhancePrompt  *bool    `json:"enhance_prompt,omitempty"`
	EnableUpsample *bool    `json:"enable_upsample,omitempty"`
	Size           string   `json:"size,omitempty"`
	Duration       int      `json:"duration,omitempty"`
}

var (
	successStatuses = map[string]bool{"completed": true, "succeeded": true, "success": true, "done": true}
	failureStatuses = map[string]bool{"failed": true, "error": true, "rejected": true}
)

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

// JSONFamily reports whether the model creates tasks through the JSON-body
// endpoint. Everything else goes through the multipart form endpoint.
func JSONFamily(modelID string) bool {
	return strings.HasPrefix(modelID, "veo") ||
		strings.HasPrefix(modelID, "grok") ||
		strings.HasPrefix(modelID, "jimeng")
}

// Submit creates a generation task and returns its task id.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (providers.Submission, error) {
	if !c.HasCredentials() {
		return providers.Submission{}, ErrMissingAPIKey
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return providers.Submission{}, errors.New("video: prompt is required")
	}
	var (
		raw []byte
		err error
	)
	if JSONFamily(req.ModelID) {
		raw, err = c.createJSONTask(ctx, req)
	} else {
		raw, err = c.createMultipartTask(ctx, req)
	}
	if err != nil {
		return providers.Submission{}, err
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return providers.Submission{}, fmt.Errorf("video: decode response: %w", err)
	}
	taskID := taskIDFrom(decoded)
	if taskID == "" {
		return providers.Submission{}, errors.New("video: no task id returned")
	}
	c.logger.Debug().Str("model", req.ModelID).Str("task_id", taskID).Msg("video: task accepted")
	return providers.Submission{Kind: providers.SubmissionAccepted, TaskID: taskID}, nil
}

// PollerFor binds a poll endpoint to the model's family. JSON-family tasks are
// queried through /v1/video/query, multipart-family tasks through /v1/videos.
func (c *Client) PollerFor(modelID string) providers.TaskPoller {
	return taskPoller{client: c, viaQuery: JSONFamily(modelID)}
}

func (c *Client) createJSONTask(ctx context.Context, req SubmitRequest) ([]byte, error) {
	images := make([]string, 0, len(req.References))
	for _, ref := range req.References {
		if src := ref.Source(); src != "" {
			images = append(images, src)
		}
	}
	payload := createTaskRequest{
		Model:       req.ModelID,
		Prompt:      req.Prompt,
		Images:      images,
		AspectRatio: req.AspectRatio,
	}
	switch {
	case strings.HasPrefix(req.ModelID, "veo"):
		yes := true
		payload.EnhancePrompt = &yes
		payload.EnableUpsample = &yes
	case strings.HasPrefix(req.ModelID, "grok"):
		payload.Size = "720P"
	case strings.HasPrefix(req.ModelID, "jimeng"):
		payload.Duration = req.Seconds
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("video: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/video/create", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("video: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	return c.do(httpReq)
}

func (c *Client) createMultipartTask(ctx context.Context, req SubmitRequest) ([]byte, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	fields := map[string]string{
		"model":     req.ModelID,
		"prompt":    req.Prompt,
		"seconds":   strconv.Itoa(req.Seconds),
		"size":      strings.ReplaceAll(req.AspectRatio, ":", "x"),
		"watermark": "false",
	}
	for name, value := range fields {
		if err := form.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("video: write form field: %w", err)
		}
	}
	if len(req.References) > 0 {
		data, err := c.referenceBytes(ctx, req.References[0])
		if err != nil {
			return nil, err
		}
		if len(data) > 0 {
			part, err := form.CreateFormFile("input_reference", "reference.png")
			if err != nil {
				return nil, fmt.Errorf("video: create form file: %w", err)
			}
			if _, err := part.Write(data); err != nil {
				return nil, fmt.Errorf("video: write reference: %w", err)
			}
		}
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("video: finish form: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/videos", &buf)
	if err != nil {
		return nil, fmt.Errorf("video: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", form.FormDataContentType())
	return c.do(httpReq)
}

// referenceBytes resolves a reference image to raw bytes, downloading it when
// only a remote URL is known.
func (c *Client) referenceBytes(ctx context.Context, ref domain.ReferenceImage) ([]byte, error) {
	if len(ref.Data) > 0 {
		return ref.Data, nil
	}
	target := strings.TrimSpace(ref.URL)
	if target == "" {
		return nil, nil
	}
	parsed, err := url.Parse(target)
	if err != nil || parsed.Scheme == "" {
		return nil, fmt.Errorf("video: invalid reference url: %s", target)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("video: build download request: %w", err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("video: download reference: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("video: reference download status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("video: read reference: %w", err)
	}
	return data, nil
}

func (c *Client) do(httpReq *http.Request) ([]byte, error) {
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("video: http request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("video: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		if reason := errorReason(raw); reason != "" {
			return nil, fmt.Errorf("video: %s", reason)
		}
		return nil, fmt.Errorf("video: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}

type taskPoller struct {
	client   *Client
	viaQuery bool
}

// PollOnce performs a single status check for the task and normalizes the
// provider's vocabulary. Unrecognized statuses are reported as still running,
// never as terminal.
func (p taskPoller) PollOnce(ctx context.Context, taskID string) (providers.PollResult, error) {
	c := p.client
	endpoint := c.baseURL + "/v1/videos/" + url.PathEscape(taskID)
	if p.viaQuery {
		endpoint = c.baseURL + "/v1/video/query?id=" + url.QueryEscape(taskID)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return providers.PollResult{}, fmt.Errorf("video: build poll request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	raw, err := c.do(httpReq)
	if err != nil {
		return providers.PollResult{}, err
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return providers.PollResult{}, fmt.Errorf("video: decode poll response: %w", err)
	}

	rawStatus := strings.ToLower(statusFrom(decoded))
	resultURL := resultURLFrom(decoded)
	switch {
	case successStatuses[rawStatus]:
		return providers.PollResult{State: providers.StateSucceeded, URL: resultURL}, nil
	case failureStatuses[rawStatus]:
		return providers.PollResult{State: providers.StateFailed, Reason: errorReason(raw)}, nil
	default:
		return providers.PollResult{State: providers.StateRunning}, nil
	}
}

func taskIDFrom(decoded map[string]any) string {
	for _, key := range []string{"id", "task_id", "taskId"} {
		if id := stringAt(decoded, key); id != "" {
			return id
		}
	}
	if nested, ok := decoded["data"].(map[string]any); ok {
		for _, key := range []string{"id", "task_id", "taskId"} {
			if id := stringAt(nested, key); id != "" {
				return id
			}
		}
	}
	return ""
}

func statusFrom(decoded map[string]any) string {
	if s := stringAt(decoded, "status"); s != "" {
		return s
	}
	if s := stringAt(decoded, "state"); s != "" {
		return s
	}
	if nested, ok := decoded["data"].(map[string]any); ok {
		return stringAt(nested, "status")
	}
	return ""
}

func resultURLFrom(decoded map[string]any) string {
	for _, key := range []string{"video_url", "url", "uri"} {
		if u := stringAt(decoded, key); u != "" {
			return u
		}
	}
	if nested, ok := decoded["data"].(map[string]any); ok {
		for _, key := range []string{"url", "video_url"} {
			if u := stringAt(nested, key); u != "" {
				return u
			}
		}
	}
	return ""
}

func stringAt(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		// Some providers hand back numeric task ids.
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

func errorReason(raw []byte) string {
	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &nested); err != nil {
		return ""
	}
	if msg := strings.TrimSpace(nested.Error.Message); msg != "" {
		return msg
	}
	return strings.TrimSpace(nested.Message)
}
