// Package image implements the synchronous image adapter family. All models
// here answer in the same call; the two request shapes (structured multimodal
// parts vs chat-completion content arrays) converge on the response extractor.
package image

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"vivagen/internal/domain"
	"vivagen/internal/extract"
	"vivagen/internal/infra"
	"vivagen/internal/providers"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("image: api key is required")

// Options configures the synchronous image client.
type Options struct {
	APIKey         string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client submits synchronous image generation requests.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

// SubmitRequest captures the inputs for one image variant.
type SubmitRequest struct {
	ModelID     string
	Prompt      string
	AspectRatio string
	ImageSize   string
	References  []domain.ReferenceImage
}

type generateContentRequest struct {
	Contents         []contentEntry   `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type contentEntry struct {
	Parts []contentPart `json:"parts"`
}

type contentPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generationConfig struct {
	ResponseModalities []string    `json:"responseModalities"`
	ImageConfig        imageConfig `json:"imageConfig"`
}

type imageConfig struct {
	AspectRatio string `json:"aspectRatio"`
	ImageSize   string `json:"imageSize,omitempty"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string     `json:"role"`
	Content []chatPart `json:"content"`
}

type chatPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 120 * time.Second
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

// Submit issues one generation call and returns the immediate result. Gemini
// models go through the structured generateContent endpoint first and fall
// back to the chat-completions shape when no image can be extracted; every
// other model uses the chat-completions shape directly. An empty URL on a nil
// error means the provider answered but nothing extractable was present.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (providers.Submission, error) {
	if !c.HasCredentials() {
		return providers.Submission{}, ErrMissingAPIKey
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return providers.Submission{}, errors.New("image: prompt is required")
	}

	if strings.HasPrefix(req.ModelID, "gemini") {
		url, err := c.generateContent(ctx, req)
		if err != nil {
			return providers.Submission{}, err
		}
		if url == "" {
			// Some deployments expose the same model only through the chat
			// endpoint convention.
			c.logger.Debug().Str("model", req.ModelID).Msg("image: no inline result, trying chat endpoint")
			url, err = c.chatCompletion(ctx, req)
			if err != nil {
				return providers.Submission{}, err
			}
		}
		return providers.Submission{Kind: providers.SubmissionImmediate, URL: url}, nil
	}

	url, err := c.chatCompletion(ctx, req)
	if err != nil {
		return providers.Submission{}, err
	}
	return providers.Submission{Kind: providers.SubmissionImmediate, URL: url}, nil
}

func (c *Client) generateContent(ctx context.Context, req SubmitRequest) (string, error) {
	parts := []contentPart{{Text: req.Prompt}}
	for _, ref := range req.References {
		if len(ref.Data) > 0 {
			mime := ref.MIME
			if mime == "" {
				mime = "image/png"
			}
			parts = append(parts, contentPart{InlineData: &inlineData{
				MIMEType: mime,
				Data:     inlineBase64(ref),
			}})
		}
	}
	size := req.ImageSize
	if strings.EqualFold(size, "AUTO") {
		size = ""
	}
	payload := generateContentRequest{
		Contents: []contentEntry{{Parts: parts}},
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"IMAGE"},
			ImageConfig:        imageConfig{AspectRatio: req.AspectRatio, ImageSize: size},
		},
	}
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, req.ModelID)
	decoded, err := c.postJSON(ctx, endpoint, payload)
	if err != nil {
		return "", err
	}
	if url := inlineDataURI(decoded); url != "" {
		return url, nil
	}
	url, _ := extract.ImageURL(decoded)
	return url, nil
}

func (c *Client) chatCompletion(ctx context.Context, req SubmitRequest) (string, error) {
	content := []chatPart{{Type: "text", Text: req.Prompt + " --aspect-ratio " + req.AspectRatio}}
	for _, ref := range req.References {
		if src := ref.Source(); src != "" {
			content = append(content, chatPart{Type: "image_url", ImageURL: &chatImageURL{URL: src}})
		}
	}
	payload := chatRequest{
		Model:    req.ModelID,
		Messages: []chatMessage{{Role: "user", Content: content}},
		Stream:   false,
	}
	decoded, err := c.postJSON(ctx, c.baseURL+"/v1/chat/completions", payload)
	if err != nil {
		return "", err
	}
	if url, ok := extract.ImageURL(decoded); ok {
		return url, nil
	}
	url, _ := extract.ImageURL(messageContent(decoded))
	return url, nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload any) (map[string]any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("image: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("image: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("image: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("image: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		if reason := providerErrorReason(raw); reason != "" {
			return nil, fmt.Errorf("image: %s", reason)
		}
		return nil, fmt.Errorf("image: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("image: decode response: %w", err)
	}
	return decoded, nil
}

// inlineDataURI walks candidates[0].content.parts for an inlineData payload
// and renders it as a data URI.
func inlineDataURI(decoded map[string]any) string {
	candidates, _ := decoded["candidates"].([]any)
	if len(candidates) == 0 {
		return ""
	}
	first, _ := candidates[0].(map[string]any)
	content, _ := first["content"].(map[string]any)
	parts, _ := content["parts"].([]any)
	for _, p := range parts {
		part, ok := p.(map[string]any)
		if !ok {
			continue
		}
		data, ok := part["inlineData"].(map[string]any)
		if !ok {
			data, ok = part["inline_data"].(map[string]any)
		}
		if !ok {
			continue
		}
		mime, _ := data["mimeType"].(string)
		if mime == "" {
			mime, _ = data["mime_type"].(string)
		}
		b64, _ := data["data"].(string)
		if b64 == "" {
			continue
		}
		if mime == "" {
			mime = "image/png"
		}
		return "data:" + mime + ";base64," + b64
	}
	return ""
}

// messageContent digs out choices[0].message.content for a focused second
// extraction pass over chat responses.
func messageContent(decoded map[string]any) any {
	choices, _ := decoded["choices"].([]any)
	if len(choices) == 0 {
		return nil
	}
	first, _ := choices[0].(map[string]any)
	message, _ := first["message"].(map[string]any)
	if message == nil {
		return nil
	}
	return message["content"]
}

// providerErrorReason pulls a human-readable message out of an error payload.
func providerErrorReason(raw []byte) string {
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

func inlineBase64(ref domain.ReferenceImage) string {
	src := ref.Source()
	if idx := strings.Index(src, ";base64,"); idx >= 0 {
		return src[idx+len(";base64,"):]
	}
	return src
}
