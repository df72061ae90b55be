package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weave/internal/storage"
)

func newTestServer(t *testing.T) (*httptest.Server, storage.DeploymentRepository) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	repo := storage.NewMemoryDeploymentRepository()
	svc, err := NewService(repo)
	require.NoError(t, err)
	engine := gin.New()
	engine.Use(CorrelationMiddleware())
	svc.RegisterRoutes(engine)
	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)
	return srv, repo
}

func postJSON(t *testing.T, url string, body map[string]any) (*http.Response, map[string]any) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func register(t *testing.T, srv *httptest.Server, id string) map[string]any {
	t.Helper()
	resp, body := postJSON(t, srv.URL+"/deployments/register", map[string]any{
		"deployment_id":   id,
		"deployment_name": "worker",
		"host":            "10.0.0.1",
		"port":            8000,
		"ttl_seconds":     60,
		"metadata":        map[string]any{"env": "prod"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return body
}

func TestRegisterReturnsStoredLease(t *testing.T) {
	srv, _ := newTestServer(t)

	body := register(t, srv, "x")
	assert.Equal(t, "x", body["deployment_id"])
	assert.Equal(t, true, body["is_alive"])
	assert.Equal(t, float64(60), body["ttl_seconds"])
	assert.NotEmpty(t, body["last_heartbeat"])
}

func TestRegisterIsIdempotent(t *testing.T) {
	srv, repo := newTestServer(t)

	register(t, srv, "x")
	resp, _ := postJSON(t, srv.URL+"/deployments/register", map[string]any{
		"deployment_id": "x",
		"host":          "10.0.0.2",
		"port":          9000,
		"ttl_seconds":   30,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	leases, err := repo.ListAll(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, leases, 1)
	assert.Equal(t, "10.0.0.2", leases[0].Host)
	assert.Equal(t, 30, leases[0].TTLSeconds)
}

func TestRegisterRejectsMissingFields(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, body := postJSON(t, srv.URL+"/deployments/register", map[string]any{"host": "h"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, body["error"])
	assert.NotEmpty(t, body["correlation_id"])
}

func TestHeartbeatRefreshesAndRejectsUnknown(t *testing.T) {
	srv, _ := newTestServer(t)
	register(t, srv, "x")

	resp, body := postJSON(t, srv.URL+"/deployments/x/heartbeat", map[string]any{})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, _ = postJSON(t, srv.URL+"/deployments/ghost/heartbeat", map[string]any{})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListHonorsIncludeDead(t *testing.T) {
	srv, repo := newTestServer(t)
	register(t, srv, "live")
	require.NoError(t, repo.Upsert(context.Background(), &storage.Deployment{
		DeploymentID: "dead", Host: "h", Port: 1, TTLSeconds: 0,
	}))

	get := func(url string) map[string]any {
		resp, err := http.Get(url)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		return body
	}

	body := get(srv.URL + "/deployments")
	assert.Equal(t, float64(1), body["count"])

	body = get(srv.URL + "/deployments?include_dead=true")
	assert.Equal(t, float64(2), body["count"])
}

func TestGetAndDelete(t *testing.T) {
	srv, _ := newTestServer(t)
	register(t, srv, "x")

	resp, err := http.Get(srv.URL + "/deployments/x")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/deployments/x", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/deployments/x")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	req, _ = http.NewRequest(http.MethodDelete, srv.URL+"/deployments/x", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthCountsActiveLeases(t *testing.T) {
	srv, repo := newTestServer(t)
	register(t, srv, "live")
	require.NoError(t, repo.Upsert(context.Background(), &storage.Deployment{
		DeploymentID: "dead", Host: "h", Port: 1, TTLSeconds: 0,
	}))

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(2), body["registered"])
	assert.Equal(t, float64(1), body["active"])
}

func TestSweeperRemovesExpiredLeases(t *testing.T) {
	gin.SetMode(gin.TestMode)
	repo := storage.NewMemoryDeploymentRepository()
	svc, err := NewService(repo)
	require.NoError(t, err)

	require.NoError(t, repo.Upsert(context.Background(), &storage.Deployment{
		DeploymentID: "expired", Host: "h", Port: 1, TTLSeconds: 0,
	}))
	require.NoError(t, repo.Upsert(context.Background(), &storage.Deployment{
		DeploymentID: "fresh", Host: "h", Port: 1, TTLSeconds: 60,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.StartSweeper(ctx, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		_, err := repo.Get(context.Background(), "expired")
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)

	_, err = repo.Get(context.Background(), "fresh")
	assert.NoError(t, err)
}

func TestClientStartHeartbeatsAndStops(t *testing.T) {
	var registers, heartbeats, deletes atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/deployments/register":
			registers.Add(1)
		case r.Method == http.MethodPost && r.URL.Path == "/deployments/agent-1/heartbeat":
			heartbeats.Add(1)
		case r.Method == http.MethodDelete && r.URL.Path == "/deployments/agent-1":
			deletes.Add(1)
		default:
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, `{"status":"ok"}`)
	}))
	defer srv.Close()

	client, err := NewClient(ClientConfig{
		RegistryURL:       srv.URL,
		DeploymentID:      "agent-1",
		Host:              "10.0.0.1",
		Port:              8000,
		TTLSeconds:        1,
		HeartbeatInterval: 20 * time.Millisecond,
	}, nil)
	require.NoError(t, err)

	require.NoError(t, client.Start(context.Background()))
	require.Eventually(t, func() bool { return heartbeats.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)

	client.Stop()
	assert.Equal(t, int64(1), registers.Load())
	assert.Equal(t, int64(1), deletes.Load())

	// No more heartbeats after Stop.
	settled := heartbeats.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, settled, heartbeats.Load())
}

func TestClientValidatesConfig(t *testing.T) {
	_, err := NewClient(ClientConfig{DeploymentID: "x"}, nil)
	require.Error(t, err)
	_, err = NewClient(ClientConfig{RegistryURL: "http://r"}, nil)
	require.Error(t, err)

	// Heartbeat interval must stay under the TTL.
	_, err = NewClient(ClientConfig{
		RegistryURL:       "http://r",
		DeploymentID:      "x",
		TTLSeconds:        1,
		HeartbeatInterval: 2 * time.Second,
	}, nil)
	require.Error(t, err)
}

func TestClientResolvesEndpointFromMetadata(t *testing.T) {
	client, err := NewClient(ClientConfig{
		RegistryURL:  "http://r",
		DeploymentID: "x",
		Metadata:     map[string]any{"host": "meta-host", "port": float64(9100)},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "meta-host", client.cfg.Host)
	assert.Equal(t, 9100, client.cfg.Port)

	client, err = NewClient(ClientConfig{RegistryURL: "http://r", DeploymentID: "x"}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, client.cfg.Host)
	assert.Equal(t, DefaultAgentPort, client.cfg.Port)
}
