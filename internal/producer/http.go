package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"yqhp/optimization-engine/internal/config"
	"yqhp/optimization-engine/pkg/logger"
	"yqhp/optimization-engine/pkg/types"
)

const defaultRemoteTimeout = 30 * time.Second

// HTTPProducer calls a remote extraction service over HTTP.
// 请求格式：POST {base_url}/produce，JSON 请求体 {input, context}。
type HTTPProducer struct {
	baseURL string
	timeout time.Duration
	client  *fasthttp.Client
	log     logger.Logger
}

// produceRequest is the wire format sent to the remote service.
type produceRequest struct {
	Input   string                `json:"input"`
	Context *types.ProduceContext `json:"context,omitempty"`
}

// produceResponse is the wire format returned by the remote service.
type produceResponse struct {
	Artifact *types.Artifact `json:"artifact"`
	Error    string          `json:"error,omitempty"`
}

// NewHTTPProducer creates a producer backed by a remote service.
func NewHTTPProducer(cfg *config.RemoteConfig, log logger.Logger) *HTTPProducer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	return &HTTPProducer{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: timeout,
		client: &fasthttp.Client{
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		},
		log: logger.OrNop(log),
	}
}

// Produce posts the input and refinement context to the remote service.
func (p *HTTPProducer) Produce(ctx context.Context, input string, pctx *types.ProduceContext) (*types.Artifact, error) {
	body, err := json.Marshal(produceRequest{Input: input, Context: pctx})
	if err != nil {
		return nil, fmt.Errorf("编码请求失败: %w", err)
	}

	respBody, err := p.post(p.baseURL+"/produce", body)
	if err != nil {
		return nil, err
	}

	var resp produceResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("远端 produce 失败: %s", resp.Error)
	}
	if resp.Artifact == nil {
		return nil, fmt.Errorf("远端 produce 未返回产物")
	}

	if resp.Artifact.ID == "" {
		resp.Artifact.ID = uuid.New().String()
	}
	return resp.Artifact, nil
}

// post 发送 JSON POST 请求。请求对象取自 fasthttp 对象池。
func (p *HTTPProducer) post(url string, body []byte) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	deadline := time.Now().Add(p.timeout)
	if err := p.client.DoDeadline(req, resp, deadline); err != nil {
		if err == fasthttp.ErrTimeout {
			return nil, fmt.Errorf("请求超时（超时时间: %s）", p.timeout)
		}
		return nil, fmt.Errorf("HTTP 请求失败: %w", err)
	}

	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("远端返回状态码 %d", resp.StatusCode())
	}

	out := make([]byte, len(resp.Body()))
	copy(out, resp.Body())
	return out, nil
}
