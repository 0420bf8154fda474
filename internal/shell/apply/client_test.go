package apply

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/industriverse/industriverse-sub007/internal/core/plan"
	"github.com/industriverse/industriverse-sub007/internal/shell/engine"
)

func testStep() plan.Step {
	return plan.Step{
		ID:     "api",
		NodeID: "api",
		Action: plan.ActionDeploy,
		Phase:  1,
	}
}

func TestNewHTTPApplier_DefaultConfig(t *testing.T) {
	client := NewHTTPApplier(DefaultConfig())

	assert.NotNil(t, client)
	assert.Equal(t, "http://localhost:9090", client.baseURL)
	assert.NotNil(t, client.httpClient)
}

func TestHTTPApplier_Apply_Success(t *testing.T) {
	var received stepRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/apply", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		err := json.NewDecoder(r.Body).Decode(&received)
		require.NoError(t, err)

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPApplier(Config{BaseURL: server.URL, APIKey: "test-key"})

	err := client.Apply(context.Background(), testStep())
	require.NoError(t, err)

	assert.Equal(t, "api", received.StepID)
	assert.Equal(t, "deploy", received.Action)
	assert.Equal(t, 1, received.Phase)
}

func TestHTTPApplier_Revert_SendsRollbackAction(t *testing.T) {
	var received stepRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/revert", r.URL.Path)
		err := json.NewDecoder(r.Body).Decode(&received)
		require.NoError(t, err)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPApplier(Config{BaseURL: server.URL})

	err := client.Revert(context.Background(), testStep())
	require.NoError(t, err)
	assert.Equal(t, "rollback", received.Action)
}

func TestHTTPApplier_Apply_ServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewHTTPApplier(Config{BaseURL: server.URL})

	err := client.Apply(context.Background(), testStep())
	require.Error(t, err)
	assert.True(t, engine.IsTransient(err))
	assert.Contains(t, err.Error(), "503")
}

func TestHTTPApplier_Apply_ClientErrorIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown node kind", http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	client := NewHTTPApplier(Config{BaseURL: server.URL})

	err := client.Apply(context.Background(), testStep())
	require.Error(t, err)
	assert.False(t, engine.IsTransient(err))
	assert.Contains(t, err.Error(), "422")
}

func TestHTTPApplier_Apply_NetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := NewHTTPApplier(Config{BaseURL: server.URL, Timeout: time.Second})

	err := client.Apply(context.Background(), testStep())
	require.Error(t, err)
	assert.True(t, engine.IsTransient(err))
}

func TestNoOpApplier(t *testing.T) {
	client := NewNoOpApplier()

	assert.NoError(t, client.Apply(context.Background(), testStep()))
	assert.NoError(t, client.Revert(context.Background(), testStep()))
}
