package registry_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/config"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/directive"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/dsl"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/registry"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/scenario"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/secrets"
	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/storage/storagetest"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func newTestServer(t *testing.T) (*httptest.Server, *registry.Registry, *storagetest.Memory) {
	t.Helper()
	cfg := config.Default()
	cfg.SetupStateTimeout = config.Duration(10 * time.Second)
	cfg.ExceptionStateTimeout = config.Duration(500 * time.Millisecond)
	cfg.CompletedStateTimeout = config.Duration(time.Minute)

	mem := storagetest.New()
	factory := registry.NewEngineFactory(registry.Collaborators{
		Config:  cfg,
		Facade:  dsl.New(time.Second, zerolog.Nop()),
		Storage: mem,
		Vault:   secrets.Static{},
		Runner:  scenario.Steps{},
	}, zerolog.Nop())

	reg := registry.New(factory, zerolog.Nop())
	srv := httptest.NewServer(registry.Handler(reg, zerolog.Nop()))
	t.Cleanup(srv.Close)
	return srv, reg, mem
}

func initializeTest(t *testing.T, srv *httptest.Server) uuid.UUID {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/v1/test/initialize", "application/json", bytes.NewBufferString("{}"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	id, err := uuid.Parse(body["test-id"])
	require.NoError(t, err)
	return id
}

func startTest(t *testing.T, srv *httptest.Server, id uuid.UUID) *http.Response {
	t.Helper()
	payload, err := json.Marshal(map[string]string{
		"test-id":            id.String(),
		"block-storage-path": "s3://probe-bundles/tests/" + id.String(),
		"test-type":          "kafka",
	})
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/api/v1/test/start", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp
}

func getStatus(t *testing.T, srv *httptest.Server, id uuid.UUID) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(srv.URL + "/api/v1/test/" + id.String() + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestInitializeAndStatus(t *testing.T) {
	srv, _, _ := newTestServer(t)
	id := initializeTest(t, srv)

	code, body := getStatus(t, srv, id)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Uninitialized", body["state"])
	assert.Equal(t, "Uninitialized", body["current-phase"])
	assert.Equal(t, float64(0), body["progress-percent"])
}

func TestStartRunsToCompleted(t *testing.T) {
	srv, _, mem := newTestServer(t)
	id := initializeTest(t, srv)
	mem.Seed(id, &directive.BlockStorageDirective{
		Bucket:      "probe-bundles",
		EvidenceDir: t.TempDir(),
	})

	resp := startTest(t, srv, id)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var started map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))
	assert.Equal(t, true, started["accepted"])
	assert.Equal(t, "kafka", started["test-type"])

	require.Eventually(t, func() bool {
		_, body := getStatus(t, srv, id)
		return body["state"] == "Completed"
	}, 15*time.Second, 50*time.Millisecond)

	_, body := getStatus(t, srv, id)
	assert.Equal(t, "Completed", body["current-phase"])
	assert.Equal(t, float64(100), body["progress-percent"])
	assert.Contains(t, mem.Evidence(id), scenario.ReportFile)
}

func TestStartUnknownIDRejected(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := startTest(t, srv, uuid.New())
	defer resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, false, body["accepted"])
}

func TestStartTwiceRejected(t *testing.T) {
	srv, _, mem := newTestServer(t)
	id := initializeTest(t, srv)
	mem.Seed(id, &directive.BlockStorageDirective{Bucket: "probe-bundles", EvidenceDir: t.TempDir()})

	first := startTest(t, srv, id)
	first.Body.Close()
	require.Equal(t, http.StatusOK, first.StatusCode)

	second := startTest(t, srv, id)
	defer second.Body.Close()
	assert.Equal(t, http.StatusConflict, second.StatusCode)
}

func TestStartRejectsBadStoragePath(t *testing.T) {
	srv, _, _ := newTestServer(t)
	id := initializeTest(t, srv)

	payload, _ := json.Marshal(map[string]string{
		"test-id":            id.String(),
		"block-storage-path": "ftp://nope",
	})
	resp, err := http.Post(srv.URL+"/api/v1/test/start", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteRemovesRecord(t *testing.T) {
	srv, _, _ := newTestServer(t)
	id := initializeTest(t, srv)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/test/"+id.String(), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	code, _ := getStatus(t, srv, id)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestDeleteCancelsRunningTest(t *testing.T) {
	srv, reg, mem := newTestServer(t)
	id := initializeTest(t, srv)
	mem.Seed(id, &directive.BlockStorageDirective{Bucket: "probe-bundles", EvidenceDir: t.TempDir()})

	resp := startTest(t, srv, id)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/test/"+id.String(), nil)
	require.NoError(t, err)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	del.Body.Close()

	// the record disappears once the engine reports Deleted
	require.Eventually(t, func() bool {
		code, _ := getStatus(t, srv, id)
		return code == http.StatusNotFound
	}, 15*time.Second, 50*time.Millisecond)
	assert.Empty(t, reg.ListActive())
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
}

func TestListActive(t *testing.T) {
	srv, reg, _ := newTestServer(t)
	a := initializeTest(t, srv)
	b := initializeTest(t, srv)

	active := reg.ListActive()
	assert.ElementsMatch(t, []uuid.UUID{a, b}, active)
}
