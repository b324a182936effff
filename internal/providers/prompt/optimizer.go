// Package prompt rewrites a user's draft prompt into a richer generation
// prompt through the gateway's chat-completions endpoint.
package prompt

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

	"vivagen/internal/domain"
	"vivagen/internal/infra"
)

// OptimizerModel is the chat model used for prompt rewriting.
const OptimizerModel = "gemini-3-flash-preview"

const imageSystemPrompt = `你是一位专业的AI绘画提示词工程师。
请将用户的输入（可能是简短的中文或英文）改写成一段高质量、细节丰富的中文绘画提示词。
扩展核心元素：主体、风格、光影、构图和氛围。
不要包含任何宽高比参数（如 --ar, --aspect-ratio）。
只输出优化后的提示词文本，不要输出其他任何解释。`

const videoSystemPrompt = `你是一位专业的AI视频提示词专家。请根据用户的输入，生成一段完整、连贯、高质量的中文视频生成提示词。
该提示词应包含主体描述、场景细节、光影氛围、镜头语言（如运镜方式）和视频风格。
要求：
1. 直接输出最终的提示词段落。
2. 不要包含任何分析、解释、标题或分点（如"核心主题"、"画面细节"等）。
3. 确保提示词适合Sora 2或Veo等模型理解。
4. 仅输出提示词本身。`

// Options configures the optimizer client.
type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
}

// Optimizer performs prompt rewriting calls.
type Optimizer struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// NewOptimizer constructs an optimizer with sane defaults.
func NewOptimizer(opts Options) (*Optimizer, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("prompt: api key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = infra.FixedBaseURL
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = OptimizerModel
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Optimizer{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
	}, nil
}

// Optimize rewrites the draft for the given generation category and returns
// the improved prompt text.
func (o *Optimizer) Optimize(ctx context.Context, kind domain.AssetKind, draft string) (string, error) {
	draft = strings.TrimSpace(draft)
	if draft == "" {
		return "", domain.ErrEmptyPrompt
	}
	system := imageSystemPrompt
	if kind == domain.AssetKindVideo {
		system = videoSystemPrompt
	}
	payload := chatRequest{
		Model: o.model,
		Messages: []message{
			{Role: "system", Content: system},
			{Role: "user", Content: draft},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("prompt: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("prompt: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("prompt: http request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("prompt: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("prompt: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("prompt: decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", errors.New("prompt: empty response")
	}
	optimized := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if optimized == "" {
		return "", errors.New("prompt: empty response")
	}
	return optimized, nil
}
