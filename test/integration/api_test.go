// Package integration provides end-to-end tests for the relay API.
// Tests run the enqueue, dispatch and reconcile flows against both PostgreSQL and MySQL.
package integration

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allisson/relay/internal/app"
	"github.com/allisson/relay/internal/config"
	"github.com/allisson/relay/internal/integration"
	"github.com/allisson/relay/internal/outbox/domain"
	outboxHTTP "github.com/allisson/relay/internal/outbox/http"
	"github.com/allisson/relay/internal/outbox/http/dto"
	"github.com/allisson/relay/internal/testutil"
)

const adminToken = "integration-admin-token"

// webhookReceiver is a downstream HTTP endpoint that records what it receives.
// Payloads whose stable resource ID is listed in reject get a 422.
type webhookReceiver struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   [][]byte
	reject   map[string]bool
}

func (w *webhookReceiver) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	w.mu.Lock()
	w.requests = append(w.requests, r)
	w.bodies = append(w.bodies, body)
	w.mu.Unlock()

	var envelope integration.Envelope
	_ = json.Unmarshal(body, &envelope)
	if w.reject[envelope.StableResourceID] {
		rw.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = rw.Write([]byte(`{"error":"invalid recipient"}`))
		return
	}
	rw.WriteHeader(http.StatusAccepted)
	_, _ = rw.Write([]byte(`{"accepted":true}`))
}

func (w *webhookReceiver) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.requests)
}

// integrationTestContext holds all dependencies and state for integration testing.
type integrationTestContext struct {
	container *app.Container
	db        *sql.DB
	server    *httptest.Server
	webhook   *httptest.Server
	receiver  *webhookReceiver
	dbDriver  string
	cancel    context.CancelFunc
}

// makeRequest performs an HTTP request and returns the response and body.
func (ctx *integrationTestContext) makeRequest(
	t *testing.T,
	method, path string,
	body interface{},
	useAuth bool,
) (*http.Response, []byte) {
	t.Helper()

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		require.NoError(t, err, "failed to marshal request body")
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, ctx.server.URL+path, bodyReader)
	require.NoError(t, err, "failed to create request")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if useAuth {
		req.Header.Set("Authorization", "Bearer "+adminToken)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	//nolint:gosec // controlled test environment with localhost URLs
	resp, err := client.Do(req)
	require.NoError(t, err, "failed to perform request")

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "failed to read response body")
	if closeErr := resp.Body.Close(); closeErr != nil {
		t.Logf("Warning: failed to close response body: %v", closeErr)
	}

	return resp, respBody
}

// writeIntegrationsFile routes resend through the log sender and acme_crm through
// the webhook receiver. slack has no sender, so notifications stay queued.
func writeIntegrationsFile(t *testing.T, webhookURL string) string {
	t.Helper()

	content := fmt.Sprintf(`default:
  max_retries: 3
integrations:
  resend:
    sender:
      type: log
  acme_crm:
    safe_requests_per_second: 20
    max_retries: 2
    sender:
      type: webhook
      url: %s
      headers:
        X-Tenant: integration-tests
`, webhookURL)

	path := filepath.Join(t.TempDir(), "integrations.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// setupIntegrationTest initializes all components for integration testing.
func setupIntegrationTest(t *testing.T, dbDriver string) *integrationTestContext {
	t.Helper()

	gin.SetMode(gin.TestMode)

	var db *sql.DB
	var dsn string
	if dbDriver == "postgres" {
		db = testutil.SetupPostgresDB(t)
		dsn = testutil.GetPostgresTestDSN()
	} else {
		db = testutil.SetupMySQLDB(t)
		dsn = testutil.GetMySQLTestDSN()
	}

	receiver := &webhookReceiver{reject: map[string]bool{"contact:rejected": true}}
	webhook := httptest.NewServer(receiver)

	adminTokenHash, err := outboxHTTP.HashAdminToken(adminToken)
	require.NoError(t, err, "failed to hash admin token")

	cfg := &config.Config{
		DBDriver:               dbDriver,
		DBConnectionString:     dsn,
		DBMaxOpenConnections:   10,
		DBMaxIdleConnections:   5,
		DBConnMaxLifetime:      time.Hour,
		ServerHost:             "localhost",
		ServerPort:             8080,
		LogLevel:               "error",
		AdminTokenHash:         adminTokenHash,
		IntegrationsFile:       writeIntegrationsFile(t, webhook.URL),
		DispatchBatchSize:      50,
		DispatchLease:          2 * time.Minute,
		ReconcileStaleAfter:    6 * time.Hour,
		ReconcileConcurrency:   2,
		LockTTL:                time.Minute,
		NotifyChannels:         "slack",
		WebhookSigningSecret:   "integration-signing-secret",
		CircuitBreakerFailures: 5,
		CircuitBreakerTimeout:  30 * time.Second,
	}

	container := app.NewContainer(cfg)

	serverCtx, cancel := context.WithCancel(context.Background())
	httpSrv, err := container.HTTPServer(serverCtx)
	require.NoError(t, err, "failed to get HTTP server")

	handler := httpSrv.GetHandler()
	require.NotNil(t, handler, "handler should not be nil after SetupRouter")

	testServer := httptest.NewServer(handler)

	t.Logf("Integration test setup complete for %s", dbDriver)

	return &integrationTestContext{
		container: container,
		db:        db,
		server:    testServer,
		webhook:   webhook,
		receiver:  receiver,
		dbDriver:  dbDriver,
		cancel:    cancel,
	}
}

// teardownIntegrationTest cleans up all resources.
func teardownIntegrationTest(t *testing.T, ctx *integrationTestContext) {
	t.Helper()

	if ctx.server != nil {
		ctx.server.Close()
	}
	if ctx.webhook != nil {
		ctx.webhook.Close()
	}
	if ctx.cancel != nil {
		ctx.cancel()
	}

	if ctx.container != nil {
		// The container owns a second connection pool; the http server was never started.
		if err := ctx.container.Shutdown(context.Background()); err != nil {
			t.Logf("Warning: container shutdown error: %v", err)
		}
	}

	if ctx.db != nil {
		testutil.TeardownDB(t, ctx.db)
	}
}

func enqueue(t *testing.T, ctx *integrationTestContext, integrationID, resourceID string, payload string) (int, dto.EnqueueResponse) {
	t.Helper()

	resp, body := ctx.makeRequest(t, http.MethodPost, "/v1/outbox/items", dto.EnqueueRequest{
		IntegrationID:    integrationID,
		Operation:        "sync",
		StableResourceID: resourceID,
		Payload:          json.RawMessage(payload),
	}, false)

	var response dto.EnqueueResponse
	if resp.StatusCode < 300 {
		require.NoError(t, json.Unmarshal(body, &response), string(body))
	}
	return resp.StatusCode, response
}

func dispatch(t *testing.T, ctx *integrationTestContext, integrationID string) dto.DispatchResponse {
	t.Helper()

	resp, body := ctx.makeRequest(t, http.MethodPost, "/v1/outbox/dispatch",
		dto.DispatchRequest{IntegrationID: integrationID}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var response dto.DispatchResponse
	require.NoError(t, json.Unmarshal(body, &response))
	return response
}

func getItem(t *testing.T, ctx *integrationTestContext, id string) dto.OutboxItemResponse {
	t.Helper()

	resp, body := ctx.makeRequest(t, http.MethodGet, "/v1/outbox/items/"+id, nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var response dto.OutboxItemResponse
	require.NoError(t, json.Unmarshal(body, &response))
	return response
}

func TestIntegration_Outbox(t *testing.T) {
	drivers := []struct {
		name string
		skip func(t *testing.T)
	}{
		{name: "postgres", skip: testutil.SkipIfNoPostgres},
		{name: "mysql", skip: testutil.SkipIfNoMySQL},
	}

	for _, driver := range drivers {
		t.Run(driver.name, func(t *testing.T) {
			driver.skip(t)

			ctx := setupIntegrationTest(t, driver.name)
			defer teardownIntegrationTest(t, ctx)

			t.Run("health and readiness", func(t *testing.T) {
				resp, _ := ctx.makeRequest(t, http.MethodGet, "/health", nil, false)
				assert.Equal(t, http.StatusOK, resp.StatusCode)

				resp, body := ctx.makeRequest(t, http.MethodGet, "/ready", nil, false)
				assert.Equal(t, http.StatusOK, resp.StatusCode)
				assert.Contains(t, string(body), `"database":"ok"`)
			})

			t.Run("admin routes require the token", func(t *testing.T) {
				resp, _ := ctx.makeRequest(t, http.MethodPost, "/v1/outbox/dispatch", nil, false)
				assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			})

			t.Run("enqueue is idempotent", func(t *testing.T) {
				status, first := enqueue(t, ctx, "resend", "order:1001:confirmation", `{"to":"ana@example.com"}`)
				require.Equal(t, http.StatusCreated, status)
				assert.False(t, first.Existed)
				assert.Equal(t, "queued", first.Status)

				status, second := enqueue(t, ctx, "resend", "order:1001:confirmation", `{"to":"ana@example.com"}`)
				require.Equal(t, http.StatusOK, status)
				assert.True(t, second.Existed)
				assert.Equal(t, first.OutboxID, second.OutboxID)

				assert.Equal(t, 1, testutil.CountOutboxItems(t, ctx.db, ctx.dbDriver, "resend", "queued"))
			})

			t.Run("enqueue rejects invalid input", func(t *testing.T) {
				status, _ := enqueue(t, ctx, "Not Valid", "order:1", `{}`)
				assert.Equal(t, http.StatusUnprocessableEntity, status)
			})

			t.Run("dispatch delivers through the log sender", func(t *testing.T) {
				result := dispatch(t, ctx, "resend")
				assert.Equal(t, 1, result.Total)
				assert.Equal(t, 1, result.Sent)
				require.Len(t, result.Items, 1)

				item := getItem(t, ctx, result.Items[0].OutboxID)
				assert.Equal(t, "sent", item.Status)
				assert.Equal(t, 1, item.AttemptCount)
				assert.NotNil(t, item.SentAt)

				// Nothing is due any more.
				again := dispatch(t, ctx, "resend")
				assert.Equal(t, 0, again.Total)
			})

			t.Run("dispatch signs webhook deliveries", func(t *testing.T) {
				status, created := enqueue(t, ctx, "acme_crm", "contact:42", `{"email":"bo@example.com"}`)
				require.Equal(t, http.StatusCreated, status)

				result := dispatch(t, ctx, "acme_crm")
				assert.Equal(t, 1, result.Sent)
				require.Equal(t, 1, ctx.receiver.count())

				req := ctx.receiver.requests[0]
				assert.Equal(t, "integration-tests", req.Header.Get("X-Tenant"))
				assert.NotEmpty(t, req.Header.Get(integration.SignatureHeader))
				assert.NotEmpty(t, req.Header.Get(integration.IdempotencyKeyHeader))

				item := getItem(t, ctx, created.OutboxID)
				assert.Equal(t, "sent", item.Status)
				assert.Contains(t, string(item.ProviderResponse), "accepted")
			})

			t.Run("permanent failure dead-letters and notifies", func(t *testing.T) {
				status, created := enqueue(t, ctx, "acme_crm", "contact:rejected", `{"email":"nope"}`)
				require.Equal(t, http.StatusCreated, status)

				result := dispatch(t, ctx, "acme_crm")
				assert.Equal(t, 1, result.DeadLettered)

				item := getItem(t, ctx, created.OutboxID)
				assert.Equal(t, "dead_letter", item.Status)
				require.NotNil(t, item.LastError)
				assert.Contains(t, *item.LastError, "422")

				// The failure is escalated as a notify item on the slack channel.
				assert.Equal(t, 1, testutil.CountOutboxItems(t, ctx.db, ctx.dbDriver, "slack", "queued"))

				resp, body := ctx.makeRequest(t, http.MethodGet,
					"/v1/outbox/items?status=dead_letter&integration_id=acme_crm", nil, true)
				require.Equal(t, http.StatusOK, resp.StatusCode)
				var list dto.ListOutboxItemsResponse
				require.NoError(t, json.Unmarshal(body, &list))
				assert.Len(t, list.Data, 1)
			})

			t.Run("reconcile re-enqueues lost operations", func(t *testing.T) {
				// Already sent: the send log entry must not be re-enqueued.
				testutil.CreateTestSendLog(t, ctx.db, ctx.dbDriver, testutil.SendLog{
					IntegrationID:    "resend",
					Operation:        "send_email",
					StableResourceID: "order:1001:confirmation",
					Payload:          `{"to":"ana@example.com"}`,
				})
				// Lost: pending downstream, unknown to the outbox.
				testutil.CreateTestSendLog(t, ctx.db, ctx.dbDriver, testutil.SendLog{
					IntegrationID:    "resend",
					Operation:        "send_email",
					StableResourceID: "order:1002:confirmation",
					Payload:          `{"to":"bo@example.com"}`,
				})

				resp, body := ctx.makeRequest(t, http.MethodPost, "/v1/outbox/reconcile/resend", nil, true)
				require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

				var result dto.ReconcileResponse
				require.NoError(t, json.Unmarshal(body, &result))
				assert.True(t, result.Success)
				assert.Equal(t, 1, result.Fixed)
				assert.Equal(t, 2, result.Checked)

				assert.Equal(t, 1, testutil.CountOutboxItems(t, ctx.db, ctx.dbDriver, "resend", "queued"))

				// A second pass finds the lost operation already enqueued.
				resp, body = ctx.makeRequest(t, http.MethodPost, "/v1/outbox/reconcile/resend", nil, true)
				require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
				require.NoError(t, json.Unmarshal(body, &result))
				assert.Equal(t, 0, result.Fixed)

				resp, body = ctx.makeRequest(t, http.MethodGet, "/v1/outbox/reconcile-runs?integration_id=resend", nil, true)
				require.Equal(t, http.StatusOK, resp.StatusCode)
				var runs dto.ListReconcileRunsResponse
				require.NoError(t, json.Unmarshal(body, &runs))
				require.Len(t, runs.Data, 2)
				for _, run := range runs.Data {
					assert.Equal(t, "success", run.Status)
					assert.NotNil(t, run.FinishedAt)
				}
			})

			t.Run("policy reflects the integrations file", func(t *testing.T) {
				resp, body := ctx.makeRequest(t, http.MethodGet, "/v1/integrations/acme_crm/policy", nil, true)
				require.Equal(t, http.StatusOK, resp.StatusCode)

				var policy dto.PolicyResponse
				require.NoError(t, json.Unmarshal(body, &policy))
				assert.True(t, policy.Configured)
				assert.Equal(t, "webhook", policy.Sender)
				assert.Equal(t, 20.0, policy.SafeRequestsPerSecond)
				assert.Equal(t, 2, policy.MaxRetries)
			})

			t.Run("enqueue joins the caller transaction", func(t *testing.T) {
				txManager, err := ctx.container.TxManager()
				require.NoError(t, err)
				outboxUseCase, err := ctx.container.OutboxUseCase()
				require.NoError(t, err)

				input := domain.EnqueueInput{
					IntegrationID:    "postmark",
					Operation:        "send_email",
					StableResourceID: "order:tx-1",
					Payload:          json.RawMessage(`{"to":"tx@example.com"}`),
				}

				err = txManager.WithTx(context.Background(), func(txCtx context.Context) error {
					if _, err := outboxUseCase.Enqueue(txCtx, input); err != nil {
						return err
					}
					return assert.AnError
				})
				require.ErrorIs(t, err, assert.AnError)
				assert.Equal(t, 0, testutil.CountOutboxItems(t, ctx.db, ctx.dbDriver, "postmark", "queued"))

				err = txManager.WithTx(context.Background(), func(txCtx context.Context) error {
					_, err := outboxUseCase.Enqueue(txCtx, input)
					return err
				})
				require.NoError(t, err)
				assert.Equal(t, 1, testutil.CountOutboxItems(t, ctx.db, ctx.dbDriver, "postmark", "queued"))
			})
		})
	}
}
