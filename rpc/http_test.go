package rpc

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nftescrow/core/events"
	"nftescrow/core/state"
	"nftescrow/crypto"
	"nftescrow/native/bank"
	"nftescrow/native/escrow"
	"nftescrow/native/nft"
	"nftescrow/observability/logging"
	"nftescrow/storage"
	"nftescrow/storage/journal"
)

const testSecret = "test-secret-0123456789"

var (
	testLedger   = [20]byte{0xEE}
	testAdmin    = [20]byte{0xAD}
	testSeller   = [20]byte{0x51}
	testBuyer    = [20]byte{0xB1}
	testRegistry = [20]byte{0x77}
)

type testEnv struct {
	t        *testing.T
	server   *Server
	handler  http.Handler
	ledger   *escrow.Ledger
	registry *nft.Registry
	vault    *bank.Vault
	bus      *events.Bus
	now      int64
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithConfig(t, ServerConfig{JWTSecret: testSecret})
}

func newTestEnvWithConfig(t *testing.T, cfg ServerConfig) *testEnv {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	manager := state.NewManager(db)

	vault := bank.NewVault(manager)
	require.NoError(t, vault.Credit(testBuyer, big.NewInt(1000)))

	registry := nft.NewRegistry(testRegistry, "collectibles", manager)
	require.NoError(t, registry.Seed(testSeller, big.NewInt(0)))
	require.NoError(t, registry.Seed(testSeller, big.NewInt(1)))
	directory := nft.NewDirectory(registry)

	j, err := journal.Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	bus := events.NewBus(16, j)

	env := &testEnv{t: t, registry: registry, vault: vault, bus: bus, now: 1_700_000_000}
	ledger := escrow.NewLedger(testLedger, testAdmin)
	ledger.SetState(manager)
	ledger.SetCustody(directory)
	ledger.SetValueTransfer(vault)
	ledger.SetEmitter(bus)
	ledger.SetNowFunc(func() int64 { return env.now })
	env.ledger = ledger

	server, err := NewServer(Deps{
		Ledger:     ledger,
		Registries: directory,
		Vault:      vault,
		Journal:    j,
		Bus:        bus,
	}, cfg)
	require.NoError(t, err)
	env.server = server
	env.handler = server.Handler()
	return env
}

func (e *testEnv) token(subject [20]byte) string {
	e.t.Helper()
	token, err := IssueToken(testSecret, subject, time.Hour)
	require.NoError(e.t, err)
	return token
}

// call posts a JSON-RPC request and decodes the response. An empty token sends
// no Authorization header.
func (e *testEnv) call(token, method string, params interface{}) (*httptest.ResponseRecorder, RPCResponse) {
	e.t.Helper()
	req := RPCRequest{JSONRPC: jsonRPCVersion, Method: method, ID: 1}
	if params != nil {
		raw, err := json.Marshal(params)
		require.NoError(e.t, err)
		req.Params = []json.RawMessage{raw}
	}
	body, err := json.Marshal(req)
	require.NoError(e.t, err)
	httpReq := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	httpReq.RemoteAddr = "192.0.2.1:5000"
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	e.handler.ServeHTTP(recorder, httpReq)
	var resp RPCResponse
	require.NoError(e.t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	return recorder, resp
}

func decodeResult(t *testing.T, resp RPCResponse, out interface{}) {
	t.Helper()
	require.Nil(t, resp.Error)
	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, "ok", recorder.Body.String())
	require.NotEmpty(t, recorder.Header().Get(requestIDHeader))
}

func TestRequestIDEchoed(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, req)
	require.Equal(t, "abc-123", recorder.Header().Get(requestIDHeader))
}

func TestNewServerRequiresSecret(t *testing.T) {
	db := storage.NewMemDB()
	manager := state.NewManager(db)
	_, err := NewServer(Deps{
		Ledger:     escrow.NewLedger(testLedger, testAdmin),
		Registries: nft.NewDirectory(),
		Vault:      bank.NewVault(manager),
	}, ServerConfig{})
	require.Error(t, err)
}

func TestUnknownMethod(t *testing.T) {
	env := newTestEnv(t)
	recorder, resp := env.call("", "escrow_unknown", nil)
	require.Equal(t, http.StatusNotFound, recorder.Code)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestMalformedPayload(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("{not json"))
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, req)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	var resp RPCResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	require.Equal(t, codeParseError, resp.Error.Code)
}

func TestEmptyBody(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("  "))
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, req)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestUnknownParamFieldRejected(t *testing.T) {
	env := newTestEnv(t)
	_, resp := env.call("", "escrow_get", map[string]interface{}{"id": "1", "extra": true})
	require.NotNil(t, resp.Error)
	require.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestMutatingCallRequiresToken(t *testing.T) {
	env := newTestEnv(t)
	recorder, resp := env.call("", "escrow_cancel", map[string]string{"id": "1"})
	require.Equal(t, http.StatusUnauthorized, recorder.Code)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeUnauthorized, resp.Error.Code)
}

func TestTokenSignedWithOtherSecretRejected(t *testing.T) {
	env := newTestEnv(t)
	token, err := IssueToken("another-secret-value", testSeller, time.Hour)
	require.NoError(t, err)
	recorder, resp := env.call(token, "escrow_cancel", map[string]string{"id": "1"})
	require.Equal(t, http.StatusUnauthorized, recorder.Code)
	require.Equal(t, codeUnauthorized, resp.Error.Code)
}

func TestRequestLogsMaskCredentials(t *testing.T) {
	env := newTestEnv(t)
	var buf bytes.Buffer
	env.server.logger = slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	token, err := IssueToken("another-secret-value", testSeller, time.Hour)
	require.NoError(t, err)
	env.call(token, "escrow_cancel", map[string]string{"id": "1"})
	env.call("", "escrow_fee", map[string]string{})

	require.NotContains(t, buf.String(), token)
	require.NotContains(t, buf.String(), "192.0.2.1")

	var lines []map[string]any
	for _, raw := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var line map[string]any
		require.NoError(t, json.Unmarshal(raw, &line))
		lines = append(lines, line)
	}
	require.Len(t, lines, 3)
	require.Equal(t, "rpc authentication failed", lines[0]["msg"])
	require.Equal(t, "escrow_cancel", lines[0]["method"])
	require.Equal(t, "Bearer "+logging.RedactedValue, lines[0]["authorization"])
	require.Equal(t, "rpc call", lines[1]["msg"])
	require.Equal(t, "rpc call", lines[2]["msg"])
	require.Equal(t, "escrow_fee", lines[2]["method"])
	require.Equal(t, logging.RedactedValue, lines[2]["remote"])
}

func TestRateLimitRejectsBurst(t *testing.T) {
	env := newTestEnvWithConfig(t, ServerConfig{JWTSecret: testSecret, RateLimitPerMinute: 1, RateLimitBurst: 2})
	for i := 0; i < 2; i++ {
		recorder, _ := env.call("", "escrow_fee", map[string]string{})
		require.Equal(t, http.StatusOK, recorder.Code)
	}
	recorder, resp := env.call("", "escrow_fee", map[string]string{})
	require.Equal(t, http.StatusTooManyRequests, recorder.Code)
	require.Equal(t, codeRateLimited, resp.Error.Code)
}

func TestRateLimiterDisabled(t *testing.T) {
	limiter := newRateLimiter(0, 0)
	require.Nil(t, limiter)
	require.True(t, limiter.allow("198.51.100.1", time.Now()))
}

func TestClientSourcePrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "10.0.0.5:1234"
	require.Equal(t, "10.0.0.5", clientSource(req))
	req.Header.Set("X-Forwarded-For", " 203.0.113.9 , 10.0.0.1")
	require.Equal(t, "203.0.113.9", clientSource(req))
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.call("", "escrow_fee", map[string]string{})
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Contains(t, recorder.Body.String(), "nftescrow_rpc_requests_total")
}

func TestBankBalance(t *testing.T) {
	env := newTestEnv(t)
	var result bankBalanceResult
	_, resp := env.call("", "bank_balance", map[string]string{"address": crypto.FormatAddress(testBuyer)})
	decodeResult(t, resp, &result)
	require.Equal(t, "1000", result.Balance)
}

func TestNFTApproveAndOwnerOf(t *testing.T) {
	env := newTestEnv(t)
	params := map[string]string{
		"registry": crypto.FormatAddress(testRegistry),
		"assetId":  "0",
		"operator": crypto.FormatAddress(testLedger),
	}
	recorder, resp := env.call(env.token(testBuyer), "nft_approve", params)
	require.Equal(t, http.StatusForbidden, recorder.Code)
	require.Equal(t, codeForbidden, resp.Error.Code)

	var owner nftOwnerResult
	_, resp = env.call(env.token(testSeller), "nft_approve", params)
	decodeResult(t, resp, &owner)
	require.Equal(t, crypto.FormatAddress(testSeller), owner.Owner)
	require.Equal(t, crypto.FormatAddress(testLedger), owner.Approved)

	recorder, resp = env.call("", "nft_ownerOf", map[string]string{
		"registry": crypto.FormatAddress(testRegistry),
		"assetId":  "99",
	})
	require.Equal(t, http.StatusNotFound, recorder.Code)
	require.Equal(t, codeNotFound, resp.Error.Code)
}

func TestNFTUnknownRegistry(t *testing.T) {
	env := newTestEnv(t)
	recorder, resp := env.call("", "nft_ownerOf", map[string]string{
		"registry": crypto.FormatAddress([20]byte{0x01}),
		"assetId":  "0",
	})
	require.Equal(t, http.StatusNotFound, recorder.Code)
	require.Equal(t, codeNotFound, resp.Error.Code)
}

func TestNFTSetApprovalForAll(t *testing.T) {
	env := newTestEnv(t)
	_, resp := env.call(env.token(testSeller), "nft_setApprovalForAll", map[string]interface{}{
		"registry": crypto.FormatAddress(testRegistry),
		"operator": crypto.FormatAddress(testLedger),
		"approved": true,
	})
	require.Nil(t, resp.Error)
	approved, err := env.registry.IsApprovedForAll(testSeller, testLedger)
	require.NoError(t, err)
	require.True(t, approved)
}

func TestEventsWebSocketUnavailableWithoutBus(t *testing.T) {
	env := newTestEnv(t)
	env.server.bus = nil
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/ws/events", nil))
	require.Equal(t, http.StatusServiceUnavailable, recorder.Code)
}

func TestEventsWebSocketRejectsBadFilter(t *testing.T) {
	env := newTestEnv(t)
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/ws/events?id=nope", nil))
	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func bigInt(v int64) *big.Int { return big.NewInt(v) }
