// Package inference — клиент сервера моделей по протоколу KServe v2 (Triton, KServe, MLServer).
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/DRSN-tech/visual-search/internal/cfg"
	"github.com/DRSN-tech/visual-search/internal/embedding"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/DRSN-tech/visual-search/pkg/jitter"
	"github.com/DRSN-tech/visual-search/pkg/logger"
	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
)

const (
	imageInput  = "pixel_values"
	imageOutput = "image_embeds"
	textInput   = "text"
	textOutput  = "text_embeds"

	maxErrorBody = 4 << 10
)

// Client реализует embedding.Model поверх HTTP API сервера моделей.
type Client struct {
	http    *http.Client
	baseURL string
	cfg     *cfg.EmbeddingCfg
	logger  logger.Logger
	cb      circuitbreaker.CircuitBreaker[any]

	mu        sync.RWMutex
	modelName string
	inputSize int
}

func NewClient(httpClient *http.Client, cfg *cfg.EmbeddingCfg, logger logger.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.InferenceTimeout}
	}

	cb := circuitbreaker.Builder[any]().
		WithFailureRateThreshold(50, 10, time.Minute).
		WithSuccessThresholdRatio(3, 5).
		WithDelay(10 * time.Second).
		OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			logger.Warnf("inference circuit breaker changed state from %s to %s", event.OldState, event.NewState)
		}).
		Build()

	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(cfg.InferenceURL, "/"),
		cfg:     cfg,
		logger:  logger,
		cb:      cb,
	}
}

// ServedModelName переводит идентификатор модели в имя в репозитории сервера:
// "openai/clip-vit-base-patch32" -> "openai_clip-vit-base-patch32".
func ServedModelName(modelID string) string {
	return strings.NewReplacer("/", "_", ":", "_").Replace(modelID)
}

// Load дожидается готовности сервера, загружает модель на устройство и читает метаданные.
// Для "auto" сначала пробуется GPU, при неудаче используется CPU.
func (c *Client) Load(ctx context.Context, modelID string, device string) (*embedding.ModelInfo, error) {
	const op = "Client.Load"

	name := ServedModelName(modelID)

	if err := c.waitReady(ctx); err != nil {
		return nil, e.Wrap(op, e.Mark(e.ErrModelLoad, err))
	}

	loadedOn, err := c.loadOnDevice(ctx, name, device)
	if err != nil {
		return nil, e.Wrap(op, e.Mark(e.ErrModelLoad, err))
	}

	meta, err := c.metadata(ctx, name)
	if err != nil {
		return nil, e.Wrap(op, e.Mark(e.ErrModelLoad, err))
	}

	dim, inputSize, err := meta.dimensions()
	if err != nil {
		return nil, e.Wrap(op, e.Mark(e.ErrModelLoad, err))
	}

	c.mu.Lock()
	c.modelName = name
	c.inputSize = inputSize
	c.mu.Unlock()

	return &embedding.ModelInfo{
		ModelID:   modelID,
		Device:    loadedOn,
		Dimension: dim,
		InputSize: inputSize,
	}, nil
}

func (c *Client) loadOnDevice(ctx context.Context, name string, device string) (string, error) {
	if device != embedding.DeviceAuto {
		return device, c.loadModel(ctx, name, device)
	}

	if err := c.loadModel(ctx, name, "cuda:0"); err == nil {
		return "cuda:0", nil
	} else {
		c.logger.Warnf("model %s failed to load on GPU, falling back to CPU: %v", name, err)
	}

	return embedding.DeviceCPU, c.loadModel(ctx, name, embedding.DeviceCPU)
}

// waitReady опрашивает /v2/health/ready с экспоненциальной задержкой.
func (c *Client) waitReady(ctx context.Context) error {
	const (
		baseDelay = 500 * time.Millisecond
		maxDelay  = 10 * time.Second
	)

	attempts := max(c.cfg.MaxRetries, 1)
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		lastErr = c.do(ctx, http.MethodGet, "/v2/health/ready", nil, nil)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts-1 {
			break
		}

		sleep := jitter.ExponentialBackoff(baseDelay, maxDelay, attempt, jitter.DefaultJitter)
		c.logger.Warnf("inference server not ready, retrying in %v (attempt %d): %v", sleep, attempt+1, lastErr)
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("inference server not ready after %d attempts: %w", attempts, lastErr)
}

func (c *Client) loadModel(ctx context.Context, name string, device string) error {
	override, err := json.Marshal(instanceGroupConfig(device))
	if err != nil {
		return err
	}

	body := map[string]any{
		"parameters": map[string]any{"config": string(override)},
	}

	return c.do(ctx, http.MethodPost, "/v2/repository/models/"+name+"/load", body, nil)
}

func (c *Client) metadata(ctx context.Context, name string) (*modelMetadata, error) {
	var meta modelMetadata
	if err := c.do(ctx, http.MethodGet, "/v2/models/"+name, nil, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// EncodeImages отправляет батч тензоров CHW и возвращает эмбеддинги изображений.
func (c *Client) EncodeImages(ctx context.Context, pixels [][]float32) ([][]float32, error) {
	const op = "Client.EncodeImages"

	name, size := c.served()
	plane := 3 * size * size

	flat := make([]float32, 0, len(pixels)*plane)
	for i, p := range pixels {
		if len(p) != plane {
			return nil, e.Wrap(op, fmt.Errorf("%w: tensor %d has %d values, want %d", e.ErrInferenceRejected, i, len(p), plane))
		}
		flat = append(flat, p...)
	}

	req := &inferRequest{
		Inputs: []inferTensor{{
			Name:     imageInput,
			Shape:    []int{len(pixels), 3, size, size},
			Datatype: "FP32",
			Data:     flat,
		}},
		Outputs: []inferOutputSpec{{Name: imageOutput}},
	}

	vectors, err := c.infer(ctx, name, req, imageOutput, len(pixels))
	if err != nil {
		return nil, e.Wrap(op, err)
	}
	return vectors, nil
}

// EncodeTexts отправляет тексты; токенизация выполняется ансамблем на стороне сервера.
func (c *Client) EncodeTexts(ctx context.Context, texts []string) ([][]float32, error) {
	const op = "Client.EncodeTexts"

	name, _ := c.served()
	req := &inferRequest{
		Inputs: []inferTensor{{
			Name:     textInput,
			Shape:    []int{len(texts)},
			Datatype: "BYTES",
			Data:     texts,
		}},
		Outputs: []inferOutputSpec{{Name: textOutput}},
	}

	vectors, err := c.infer(ctx, name, req, textOutput, len(texts))
	if err != nil {
		return nil, e.Wrap(op, err)
	}
	return vectors, nil
}

// Unload выгружает модель из сервера.
func (c *Client) Unload(ctx context.Context) error {
	name, _ := c.served()
	if name == "" {
		return nil
	}
	if err := c.do(ctx, http.MethodPost, "/v2/repository/models/"+name+"/unload", map[string]any{}, nil); err != nil {
		return e.Wrap("Client.Unload", err)
	}
	return nil
}

// infer выполняет запрос через circuit breaker. Постоянные ошибки не учитываются
// breaker'ом и возвращаются как есть.
func (c *Client) infer(ctx context.Context, name string, req *inferRequest, output string, n int) ([][]float32, error) {
	if name == "" {
		return nil, e.Wrap("model is not loaded", e.ErrModelLoad)
	}

	var (
		res          inferResponse
		permanentErr error
	)
	err := failsafe.Run(func() error {
		err := c.do(ctx, http.MethodPost, "/v2/models/"+name+"/infer", req, &res)
		if err != nil && e.IsPermanent(err) {
			permanentErr = err
			return nil
		}
		return err
	}, c.cb)
	if permanentErr != nil {
		return nil, permanentErr
	}
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return nil, e.Mark(e.ErrTransient, err)
	}
	if err != nil {
		return nil, err
	}

	return res.vectors(output, n)
}

func (c *Client) served() (string, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.inputSize == 0 {
		return c.modelName, embedding.DefaultInputSize
	}
	return c.modelName, c.inputSize
}

// do выполняет JSON-запрос и классифицирует ошибки транспорта и статусы ответа.
func (c *Client) do(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return e.Mark(e.ErrTransient, ctx.Err())
		}
		return e.Mark(e.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return classifyStatus(resp.StatusCode, parseServerError(msg))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return e.Mark(e.ErrTransient, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func classifyStatus(status int, msg string) error {
	err := fmt.Errorf("inference server returned %d: %s", status, msg)
	lower := strings.ToLower(msg)

	switch {
	case status == http.StatusTooManyRequests,
		status == http.StatusServiceUnavailable,
		status == http.StatusInsufficientStorage,
		strings.Contains(lower, "out of memory"),
		strings.Contains(lower, "resource exhausted"):
		return e.Mark(e.ErrResourceExhausted, err)
	case status >= http.StatusInternalServerError:
		return e.Mark(e.ErrTransient, err)
	case status == http.StatusRequestTimeout:
		return e.Mark(e.ErrTransient, err)
	default:
		return e.Mark(e.ErrInferenceRejected, err)
	}
}

func parseServerError(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(body))
}

// instanceGroupConfig — переопределение конфигурации модели Triton для выбранного устройства.
func instanceGroupConfig(device string) map[string]any {
	group := map[string]any{"count": 1, "kind": "KIND_CPU"}

	if idx, ok := gpuIndex(device); ok {
		group["kind"] = "KIND_GPU"
		group["gpus"] = []int{idx}
	}

	return map[string]any{"instance_group": []any{group}}
}

func gpuIndex(device string) (int, bool) {
	switch device {
	case "cuda", "gpu":
		return 0, true
	}
	for _, prefix := range []string{"cuda:", "gpu:"} {
		if rest, ok := strings.CutPrefix(device, prefix); ok {
			n, err := strconv.Atoi(rest)
			return n, err == nil
		}
	}
	return 0, false
}
