//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cloo-solutions/kbindex/internal/api/handlers"
	"github.com/cloo-solutions/kbindex/internal/billing"
	"github.com/cloo-solutions/kbindex/internal/config"
	"github.com/cloo-solutions/kbindex/internal/jobs"
	"github.com/cloo-solutions/kbindex/internal/logger"
	"github.com/cloo-solutions/kbindex/internal/model"
	"github.com/cloo-solutions/kbindex/internal/openai"
	"github.com/cloo-solutions/kbindex/internal/repository"
	"github.com/cloo-solutions/kbindex/internal/server"
	"github.com/cloo-solutions/kbindex/internal/service"
	"github.com/cloo-solutions/kbindex/internal/storage"
	"github.com/cloo-solutions/kbindex/internal/testutil"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	testTeam   = "team-e2e"
	testToken  = "kbx_e2e_token"
	otherTeam  = "team-other"
	otherToken = "kbx_e2e_other"
	vectorDims = 1536
)

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	RustFSC      *testutil.RustFSContainer
	Pool         *pgxpool.Pool
	ServerURL    string
	ServerCloser func()
	S3Client     *storage.S3Client
	FakeOpenAI   *httptest.Server
	BinaryDir    string
	AuthToken    string
	HTTPClient   *http.Client
}

// SetupE2EEnv starts Postgres, RustFS and a fake embedding provider, then
// runs the API server with the training dispatcher and rebuild drainer.
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	s3C := testutil.NewRustFSContainer(ctx, t)
	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        s3C.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     testutil.RustFSAccessKey,
		SecretAccessKey: testutil.RustFSSecretKey,
		Bucket:          "test-imports",
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("failed to create S3 client: %v", err)
	}
	if err := s3Client.EnsureBucket(ctx); err != nil {
		t.Fatalf("failed to create bucket: %v", err)
	}

	fake := httptest.NewServer(http.HandlerFunc(fakeEmbeddings))

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}

	env := &E2ETestEnv{
		T:          t,
		Ctx:        ctx,
		PostgresC:  pgC,
		RustFSC:    s3C,
		Pool:       pool,
		S3Client:   s3Client,
		FakeOpenAI: fake,
		AuthToken:  testToken,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
	env.ServerURL, env.ServerCloser = startServer(t, pool, s3Client, fake.URL, port)
	return env
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.FakeOpenAI != nil {
		e.FakeOpenAI.Close()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.RustFSC != nil {
		e.RustFSC.Terminate(e.Ctx)
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
	if e.BinaryDir != "" {
		os.RemoveAll(e.BinaryDir)
	}
}

// BuildBinaries builds the kbindex client binary
func (e *E2ETestEnv) BuildBinaries() {
	tmpDir, err := os.MkdirTemp("", "kbindex-e2e-*")
	if err != nil {
		e.T.Fatalf("failed to create temp dir: %v", err)
	}
	e.BinaryDir = tmpDir

	cmd := exec.Command("go", "build", "-o", filepath.Join(tmpDir, "kbindex"), "./cmd/kbindex")
	cmd.Dir = "../.."
	if out, err := cmd.CombinedOutput(); err != nil {
		e.T.Fatalf("failed to build kbindex: %v\n%s", err, out)
	}
}

// RunCLI runs the kbindex CLI with stdin input
func (e *E2ETestEnv) RunCLI(input string, args ...string) (string, error) {
	cmd := exec.Command(filepath.Join(e.BinaryDir, "kbindex"), args...)
	cmd.Dir = e.T.TempDir()
	cmd.Stdin = strings.NewReader(input)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("KBINDEX_API_KEY=%s", e.AuthToken),
		fmt.Sprintf("KBINDEX_API_URL=%s", e.ServerURL),
	)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// APIResponse represents a standard API response
type APIResponse struct {
	StatusCode int
	Data       json.RawMessage `json:"data"`
	Error      string          `json:"error,omitempty"`
	Code       string          `json:"code,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}

func (e *E2ETestEnv) Get(path, authToken string) (*APIResponse, error) {
	return e.doRequest(http.MethodGet, path, nil, authToken)
}

func (e *E2ETestEnv) Post(path string, body interface{}, authToken string) (*APIResponse, error) {
	return e.doRequest(http.MethodPost, path, body, authToken)
}

func (e *E2ETestEnv) Delete(path, authToken string) (*APIResponse, error) {
	return e.doRequest(http.MethodDelete, path, nil, authToken)
}

// doRequest returns the decoded envelope for every status; only transport
// and decoding failures are errors.
func (e *E2ETestEnv) doRequest(method, path string, body interface{}, authToken string) (*APIResponse, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(e.Ctx, method, e.ServerURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	apiResp := APIResponse{StatusCode: resp.StatusCode}
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}
	return &apiResp, nil
}

// MustData fails the test unless the response has the wanted status, then
// decodes its data into out.
func (e *E2ETestEnv) MustData(resp *APIResponse, err error, status int, out interface{}) {
	e.T.Helper()
	if err != nil {
		e.T.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != status {
		e.T.Fatalf("expected HTTP %d, got %d: %s", status, resp.StatusCode, resp.Error)
	}
	if out != nil {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			e.T.Fatalf("failed to decode data: %v", err)
		}
	}
}

// WaitIdle polls the training status until no job is queued or running and
// no row waits for a rebuild.
func (e *E2ETestEnv) WaitIdle(datasetID string, timeout time.Duration) map[string]interface{} {
	e.T.Helper()
	deadline := time.Now().Add(timeout)
	var status map[string]interface{}
	for time.Now().Before(deadline) {
		resp, err := e.Get("/datasets/"+datasetID+"/training/status", e.AuthToken)
		e.MustData(resp, err, http.StatusOK, &status)
		if status["pending"] == float64(0) && status["claimed"] == float64(0) && status["rebuilding"] == float64(0) {
			return status
		}
		time.Sleep(200 * time.Millisecond)
	}
	e.T.Fatalf("dataset %s not idle after %v: %v", datasetID, timeout, status)
	return nil
}

// startServer wires the same services as the serve command, with the model
// client pointed at the fake provider.
func startServer(t *testing.T, pool *pgxpool.Pool, s3Client *storage.S3Client, openAIURL string, port int) (string, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	log := logger.Nop()

	vectorCfg := config.VectorConfig{Dimensions: vectorDims, Precision: "full", Index: "hnsw", Metric: "cosine", Probes: 100}
	vectors := repository.NewVectorStore(pool, vectorCfg)
	if err := vectors.EnsureSchema(ctx); err != nil {
		cancel()
		t.Fatalf("failed to prepare vector table: %v", err)
	}

	models, err := model.Default()
	if err != nil {
		cancel()
		t.Fatalf("failed to load models: %v", err)
	}

	datasets := repository.NewDatasetRepository(pool)
	jobRepo := repository.NewTrainingJobRepository(pool)
	txRunner := repository.NewTxRunner(pool, vectorCfg)
	biller := billing.NewBiller(repository.NewUsageRepository(pool), nil, billing.DefaultConfig(), log)
	client := openai.NewClient(openai.Config{APIKey: "test", BaseURL: openAIURL, RequestsPerSecond: 100}, models)

	trainingCfg := config.TrainingConfig{
		ChunkSize:          128,
		ChunkOverlap:       0.15,
		RetryCount:         3,
		DefaultVectorModel: "text-embedding-3-small",
		DefaultQAModel:     "gpt-4o-mini",
		MaxObjectBytes:     1 << 20,
	}
	rebuildCfg := config.RebuildConfig{BatchSize: 5, RetryCount: 10, PollInterval: 200 * time.Millisecond, VectorDimensions: vectorDims}

	datasetSvc := service.NewDatasetService(datasets, models, trainingCfg.DefaultVectorModel, trainingCfg.DefaultQAModel).
		WithVectorDimensions(vectorDims)
	dataSvc := service.NewDataService(txRunner, log)
	trainingSvc := service.NewTrainingService(datasets, jobRepo, models, s3Client, trainingCfg, log)
	rebuildSvc := service.NewRebuildCoordinator(datasets, models, txRunner, rebuildCfg, log)
	searchSvc := service.NewSearchService(datasets, client, vectors, biller, config.SearchConfig{DefaultLimit: 10, DefaultMaxTokens: 3000}, log)
	authSvc := service.NewAuthService(map[string]string{testToken: testTeam, otherToken: otherTeam})

	processor := service.NewTrainingProcessor(datasets, client, client, biller, txRunner, trainingCfg.RetryCount, log)
	dispatcher := jobs.NewDispatcher(jobRepo, processor, config.DispatcherConfig{
		Workers:            4,
		LeaseDuration:      30 * time.Second,
		LeaseRenewInterval: 10 * time.Second,
		IdleBackoffMin:     50 * time.Millisecond,
		IdleBackoffMax:     200 * time.Millisecond,
		Pause:              time.Second,
		RetryCount:         trainingCfg.RetryCount,
	}, log)
	drainer := jobs.NewPoller("rebuild", rebuildSvc, rebuildCfg.PollInterval, log)
	go dispatcher.Start(ctx)
	go drainer.Start(ctx)

	router := server.NewRouter(server.RouterConfig{
		Logger:          log,
		AuthValidator:   authSvc,
		HealthHandler:   handlers.NewHealthHandler(pool, dispatcher),
		DatasetHandler:  handlers.NewDatasetHandler(datasetSvc),
		TrainingHandler: handlers.NewTrainingHandler(trainingSvc),
		DataHandler:     handlers.NewDataHandler(dataSvc),
		RebuildHandler:  handlers.NewRebuildHandler(rebuildSvc),
		SearchHandler:   handlers.NewSearchHandler(searchSvc),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(t, serverURL, 10*time.Second)

	return serverURL, func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		srv.Shutdown(shutdownCtx)
		cancel()
		dispatcher.Stop()
		drainer.Stop()
	}
}

// fakeEmbeddings answers OpenAI style embedding requests with hashed
// bag-of-words vectors, so texts sharing words land close together.
func fakeEmbeddings(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/embeddings") {
		http.Error(w, `{"error":{"message":"not found"}}`, http.StatusNotFound)
		return
	}
	var req struct {
		Input []string `json:"input"`
		Model string   `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":{"message":"bad request"}}`, http.StatusBadRequest)
		return
	}

	type item struct {
		Object    string    `json:"object"`
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	}
	data := make([]item, len(req.Input))
	tokens := 0
	for i, text := range req.Input {
		data[i] = item{Object: "embedding", Embedding: hashEmbedding(text), Index: i}
		tokens += len(strings.Fields(text))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"object": "list",
		"data":   data,
		"model":  req.Model,
		"usage":  map[string]int{"prompt_tokens": tokens, "total_tokens": tokens},
	})
}

func hashEmbedding(text string) []float32 {
	vec := make([]float32, vectorDims)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,;:!?\"'()")
		if word == "" {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(word))
		vec[h.Sum32()%vectorDims]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not start within %v", timeout)
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func jsonUnmarshal(s string, out interface{}) error {
	return json.Unmarshal([]byte(strings.TrimSpace(s)), out)
}
