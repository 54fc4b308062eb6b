package inference

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DRSN-tech/visual-search/internal/cfg"
	"github.com/DRSN-tech/visual-search/internal/embedding"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/DRSN-tech/visual-search/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const servedName = "openai_clip-vit-base-patch32"

// fakeServer — минимальный сервер KServe v2 с моделью размерности 4 и входом 2x2.
type fakeServer struct {
	mu          sync.Mutex
	notReady    int
	gpuFails    bool
	inferStatus int
	inferBody   string
	loads       []string
	unloaded    bool
	lastInfer   map[string]any
}

func (f *fakeServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v2/health/ready", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.notReady > 0 {
			f.notReady--
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("POST /v2/repository/models/{model}/load", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Parameters struct {
				Config string `json:"config"`
			} `json:"parameters"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		f.mu.Lock()
		defer f.mu.Unlock()
		f.loads = append(f.loads, body.Parameters.Config)
		if f.gpuFails && strings.Contains(body.Parameters.Config, "KIND_GPU") {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"no GPU available"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("POST /v2/repository/models/{model}/unload", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.unloaded = true
		f.mu.Unlock()
	})

	mux.HandleFunc("GET /v2/models/{model}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, servedName, r.PathValue("model"))
		_, _ = w.Write([]byte(`{
			"name": "` + servedName + `",
			"inputs": [{"name":"pixel_values","datatype":"FP32","shape":[-1,3,2,2]},{"name":"text","datatype":"BYTES","shape":[-1]}],
			"outputs": [{"name":"image_embeds","datatype":"FP32","shape":[-1,4]},{"name":"text_embeds","datatype":"FP32","shape":[-1,4]}]
		}`))
	})

	mux.HandleFunc("POST /v2/models/{model}/infer", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		f.mu.Lock()
		f.lastInfer = req
		status, body := f.inferStatus, f.inferBody
		f.mu.Unlock()

		if status != 0 {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(body))
			return
		}

		input := req["inputs"].([]any)[0].(map[string]any)
		n := int(input["shape"].([]any)[0].(float64))
		output := "image_embeds"
		if input["name"] == "text" {
			output = "text_embeds"
		}

		flat := make([]float32, 0, n*4)
		for i := 0; i < n; i++ {
			flat = append(flat, float32(i+1), 0, 0, 1)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"outputs": []map[string]any{{"name": output, "datatype": "FP32", "shape": []int{n, 4}, "data": flat}},
		})
	})

	return mux
}

func newTestClient(t *testing.T, f *fakeServer) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	return NewClient(srv.Client(), &cfg.EmbeddingCfg{
		InferenceURL:     srv.URL + "/",
		InferenceTimeout: time.Second,
		MaxRetries:       3,
	}, logger.NewNop())
}

// ========================== Load ==========================

func TestLoad_ReadsMetadata(t *testing.T) {
	f := &fakeServer{notReady: 1}
	c := newTestClient(t, f)

	info, err := c.Load(context.Background(), "openai/clip-vit-base-patch32", embedding.DeviceCPU)
	require.NoError(t, err)

	assert.Equal(t, 4, info.Dimension)
	assert.Equal(t, 2, info.InputSize)
	assert.Equal(t, embedding.DeviceCPU, info.Device)
	require.Len(t, f.loads, 1)
	assert.Contains(t, f.loads[0], "KIND_CPU")
}

func TestLoad_AutoFallsBackToCPU(t *testing.T) {
	f := &fakeServer{gpuFails: true}
	c := newTestClient(t, f)

	info, err := c.Load(context.Background(), "openai/clip-vit-base-patch32", embedding.DeviceAuto)
	require.NoError(t, err)

	assert.Equal(t, embedding.DeviceCPU, info.Device)
	require.Len(t, f.loads, 2)
	assert.Contains(t, f.loads[0], "KIND_GPU")
	assert.Contains(t, f.loads[1], "KIND_CPU")
}

func TestLoad_ServerNeverReady(t *testing.T) {
	f := &fakeServer{notReady: 100}
	c := newTestClient(t, f)
	c.cfg.MaxRetries = 1

	_, err := c.Load(context.Background(), "openai/clip-vit-base-patch32", embedding.DeviceCPU)
	assert.ErrorIs(t, err, e.ErrModelLoad)
}

// ========================== Encode ==========================

func TestEncodeImages(t *testing.T) {
	f := &fakeServer{}
	c := newTestClient(t, f)
	_, err := c.Load(context.Background(), "openai/clip-vit-base-patch32", embedding.DeviceCPU)
	require.NoError(t, err)

	tensor := make([]float32, 3*2*2)
	vectors, err := c.EncodeImages(context.Background(), [][]float32{tensor, tensor})
	require.NoError(t, err)

	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{1, 0, 0, 1}, vectors[0])
	assert.Equal(t, []float32{2, 0, 0, 1}, vectors[1])

	input := f.lastInfer["inputs"].([]any)[0].(map[string]any)
	assert.Equal(t, "pixel_values", input["name"])
	assert.Equal(t, "FP32", input["datatype"])
	assert.Equal(t, []any{2.0, 3.0, 2.0, 2.0}, input["shape"])
}

func TestEncodeImages_WrongTensorSize(t *testing.T) {
	c := newTestClient(t, &fakeServer{})
	_, err := c.Load(context.Background(), "openai/clip-vit-base-patch32", embedding.DeviceCPU)
	require.NoError(t, err)

	_, err = c.EncodeImages(context.Background(), [][]float32{make([]float32, 5)})
	assert.ErrorIs(t, err, e.ErrInferenceRejected)
}

func TestEncodeTexts(t *testing.T) {
	f := &fakeServer{}
	c := newTestClient(t, f)
	_, err := c.Load(context.Background(), "openai/clip-vit-base-patch32", embedding.DeviceCPU)
	require.NoError(t, err)

	vectors, err := c.EncodeTexts(context.Background(), []string{"red dress"})
	require.NoError(t, err)
	require.Len(t, vectors, 1)

	input := f.lastInfer["inputs"].([]any)[0].(map[string]any)
	assert.Equal(t, "BYTES", input["datatype"])
	assert.Equal(t, []any{"red dress"}, input["data"])
}

func TestEncode_NotLoaded(t *testing.T) {
	c := newTestClient(t, &fakeServer{})

	_, err := c.EncodeTexts(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, e.ErrModelLoad)
}

func TestEncode_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		want      error
		retryable bool
	}{
		{name: "out of memory", status: http.StatusInternalServerError, body: `{"error":"CUDA out of memory"}`, want: e.ErrResourceExhausted, retryable: true},
		{name: "overloaded", status: http.StatusServiceUnavailable, body: `{"error":"busy"}`, want: e.ErrResourceExhausted, retryable: true},
		{name: "server error", status: http.StatusBadGateway, body: "bad gateway", want: e.ErrTransient, retryable: true},
		{name: "rejected", status: http.StatusBadRequest, body: `{"error":"unexpected shape"}`, want: e.ErrInferenceRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeServer{}
			c := newTestClient(t, f)
			_, err := c.Load(context.Background(), "openai/clip-vit-base-patch32", embedding.DeviceCPU)
			require.NoError(t, err)

			f.inferStatus, f.inferBody = tt.status, tt.body
			_, err = c.EncodeTexts(context.Background(), []string{"x"})
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.retryable, e.IsRetryable(err))
		})
	}
}

func TestUnload(t *testing.T) {
	f := &fakeServer{}
	c := newTestClient(t, f)

	require.NoError(t, c.Unload(context.Background()))
	assert.False(t, f.unloaded)

	_, err := c.Load(context.Background(), "openai/clip-vit-base-patch32", embedding.DeviceCPU)
	require.NoError(t, err)
	require.NoError(t, c.Unload(context.Background()))
	assert.True(t, f.unloaded)
}

func TestInstanceGroupConfig(t *testing.T) {
	group := instanceGroupConfig("cuda:2")["instance_group"].([]any)[0].(map[string]any)
	assert.Equal(t, "KIND_GPU", group["kind"])
	assert.Equal(t, []int{2}, group["gpus"])

	group = instanceGroupConfig("cpu")["instance_group"].([]any)[0].(map[string]any)
	assert.Equal(t, "KIND_CPU", group["kind"])
	assert.NotContains(t, group, "gpus")
}
