package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"github.com/dushixiang/argus/internal/config"
	"github.com/dushixiang/argus/internal/diagnose"
)

const systemPrompt = "你是一名 Linux 运维助手。根据给出的主机健康诊断结果，用中文给出简短的处置建议，不超过五条。"

// Ollama 可选的本地大模型顾问。
// 顾问只产出参考建议写入日志，不参与任何告警或自愈决策，
// 服务不可达时探针照常运行。
type Ollama struct {
	cfg    config.AdvisorConfig
	client *http.Client
	logger *zap.Logger
}

// NewOllama 创建顾问客户端
func NewOllama(logger *zap.Logger, cfg config.AdvisorConfig) *Ollama {
	return &Ollama{
		cfg:    cfg,
		client: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		logger: logger,
	}
}

// baseURL 规范化服务地址，允许配置省略协议前缀
func (o *Ollama) baseURL() string {
	host := o.cfg.Host
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return host
	}
	return "http://" + host
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
}

// Probe 启动时探测 Ollama 服务可达性，带退避重试。
// 探测失败只降级为「顾问不可用」，不是致命错误。
func (o *Ollama) Probe(ctx context.Context) bool {
	if !o.cfg.Enabled {
		return false
	}
	b := &backoff.Backoff{Min: time.Second, Max: 10 * time.Second, Factor: 2, Jitter: true}
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(b.Duration()):
			case <-ctx.Done():
				return false
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL()+"/api/tags", nil)
		if err != nil {
			return false
		}
		resp, err := o.client.Do(req)
		if err != nil {
			o.logger.Debug("顾问服务探测失败", zap.String("host", o.cfg.Host), zap.Error(err))
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			o.logger.Info("顾问服务可用",
				zap.String("host", o.cfg.Host),
				zap.String("model", o.cfg.Model))
			return true
		}
	}
	o.logger.Warn("顾问服务不可达，本次运行不提供处置建议", zap.String("host", o.cfg.Host))
	return false
}

// Advise 就一次异常诊断结果向模型征求处置建议
func (o *Ollama) Advise(ctx context.Context, result diagnose.Result) (string, error) {
	var sb strings.Builder
	sb.WriteString("主机当前健康状态: " + result.Overall.String() + "\n")
	for _, check := range result.NonNominal() {
		sb.WriteString(fmt.Sprintf("- [%s] %s: %s\n", check.Status, check.Subsystem, check.Summary))
	}

	body, err := json.Marshal(chatRequest{
		Model: o.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: sb.String()},
		},
		Stream: false,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL()+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("请求顾问服务失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("顾问服务返回状态码 %d", resp.StatusCode)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("解析顾问响应失败: %w", err)
	}
	return strings.TrimSpace(out.Message.Content), nil
}
