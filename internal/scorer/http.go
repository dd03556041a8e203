package scorer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"yqhp/optimization-engine/internal/config"
	"yqhp/optimization-engine/pkg/logger"
	"yqhp/optimization-engine/pkg/types"
)

const defaultRemoteTimeout = 30 * time.Second

// HTTPScorer calls a remote evaluation service over HTTP.
// 请求格式：POST {base_url}/score，JSON 请求体 {artifact}。
type HTTPScorer struct {
	baseURL string
	timeout time.Duration
	client  *fasthttp.Client
	log     logger.Logger
}

// scoreRequest is the wire format sent to the remote service.
type scoreRequest struct {
	Artifact *types.Artifact `json:"artifact"`
}

// scoreResponse is the wire format returned by the remote service.
type scoreResponse struct {
	Score *types.ScoreResult `json:"score"`
	Error string             `json:"error,omitempty"`
}

// NewHTTPScorer creates a scorer backed by a remote service.
func NewHTTPScorer(cfg *config.RemoteConfig, log logger.Logger) *HTTPScorer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	return &HTTPScorer{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: timeout,
		client: &fasthttp.Client{
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		},
		log: logger.OrNop(log),
	}
}

// Score posts the artifact to the remote service.
func (s *HTTPScorer) Score(ctx context.Context, artifact *types.Artifact) (*types.ScoreResult, error) {
	if artifact == nil {
		return nil, fmt.Errorf("artifact cannot be nil")
	}

	body, err := json.Marshal(scoreRequest{Artifact: artifact})
	if err != nil {
		return nil, fmt.Errorf("编码请求失败: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(s.baseURL + "/score")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	deadline := time.Now().Add(s.timeout)
	if err := s.client.DoDeadline(req, resp, deadline); err != nil {
		if err == fasthttp.ErrTimeout {
			return nil, fmt.Errorf("请求超时（超时时间: %s）", s.timeout)
		}
		return nil, fmt.Errorf("HTTP 请求失败: %w", err)
	}

	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("远端返回状态码 %d", resp.StatusCode())
	}

	var out scoreResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("远端 score 失败: %s", out.Error)
	}
	if out.Score == nil {
		return nil, fmt.Errorf("远端 score 未返回结果")
	}

	return out.Score, nil
}
