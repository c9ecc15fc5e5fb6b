package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/payguard/x402-go"
	"github.com/payguard/x402-go/encoding"
	"github.com/payguard/x402-go/ratelimit"
)

const (
	testAsset = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
	testPayTo = "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0"
	testPayer = "0x857b06519E91e3A54538791bDbb0E22373e36b66"
)

// stubFacilitator accepts every payment unless configured otherwise. The
// zero value is ready to use.
type stubFacilitator struct {
	mu          sync.Mutex
	verifyCalls int
	settleCalls int
	rejectAll   bool
	settleFail  bool
}

func (s *stubFacilitator) Verify(ctx context.Context, payment x402.PaymentPayload, requirement x402.PaymentRequirement) (*x402.VerifyResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifyCalls++
	if s.rejectAll {
		return &x402.VerifyResponse{IsValid: false, InvalidReason: "invalid_signature"}, nil
	}
	return &x402.VerifyResponse{IsValid: true, Payer: testPayer}, nil
}

func (s *stubFacilitator) Settle(ctx context.Context, payment x402.PaymentPayload, requirement x402.PaymentRequirement) (*x402.SettlementResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settleCalls++
	if s.settleFail {
		return &x402.SettlementResponse{Success: false, ErrorReason: "insufficient_funds", Network: requirement.Network}, nil
	}
	return &x402.SettlementResponse{
		Success:     true,
		Transaction: "0xabc123",
		Network:     requirement.Network,
		Payer:       testPayer,
	}, nil
}

func (s *stubFacilitator) Supported(ctx context.Context) (*x402.SupportedResponse, error) {
	return &x402.SupportedResponse{Version: 1}, nil
}

func (s *stubFacilitator) calls() (verify, settle int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verifyCalls, s.settleCalls
}

// cannedMCPHandler replies with a fixed message the way an MCP streamable
// HTTP endpoint would, and counts invocations.
type cannedMCPHandler struct {
	mu       sync.Mutex
	calls    int
	response string
}

func (h *cannedMCPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	h.calls++
	h.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(h.response))
}

func (h *cannedMCPHandler) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

const (
	cannedResult = `{"jsonrpc":"2.0","id":1,"result":{"content":[{"type":"text","text":"done"}]}}`
	cannedError  = `{"jsonrpc":"2.0","id":1,"error":{"code":-32603,"message":"tool exploded"}}`
)

func testRequirement() x402.PaymentRequirement {
	return x402.PaymentRequirement{
		Scheme:            "exact",
		Network:           "base-sepolia",
		MaxAmountRequired: "10000",
		Asset:             testAsset,
		PayTo:             testPayTo,
		MaxTimeoutSeconds: 300,
		Extra:             map[string]interface{}{"name": "USDC", "version": "2"},
	}
}

func testHandlerConfig(fac x402.Facilitator) *Config {
	return &Config{
		Facilitator: fac,
		PaymentTools: map[string][]x402.PaymentRequirement{
			"search": {testRequirement()},
		},
	}
}

// testPayment builds a payment valid for the next five minutes.
func testPayment(t *testing.T) x402.PaymentPayload {
	t.Helper()
	return x402.PaymentPayload{
		X402Version: 1,
		Scheme:      "exact",
		Network:     "base-sepolia",
		Account: &x402.AccountPayload{
			Signature: "0x1b2c3d",
			Authorization: x402.AccountAuthorization{
				From:        testPayer,
				To:          testPayTo,
				Value:       "10000",
				ValidAfter:  strconv.FormatInt(time.Now().Add(-time.Minute).Unix(), 10),
				ValidBefore: strconv.FormatInt(time.Now().Add(5*time.Minute).Unix(), 10),
				Nonce:       "0xf3746613c2d920b5fdabc0856f2aeb2d4f88ee6037b8cc5d04a71a4462f13480",
			},
		},
	}
}

// callToolBody builds a tools/call JSON-RPC request. A non-nil payment is
// placed into params._meta["x402/payment"].
func callToolBody(t *testing.T, tool string, payment interface{}) []byte {
	t.Helper()
	params := map[string]interface{}{
		"name":      tool,
		"arguments": map[string]interface{}{"query": "go"},
	}
	if payment != nil {
		params["_meta"] = map[string]interface{}{MetaKeyPayment: payment}
	}
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params":  params,
	})
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}
	return body
}

func postJSON(handler http.Handler, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// rpcErrorOf parses the JSON-RPC error out of a response body.
func rpcErrorOf(t *testing.T, body []byte) (int, string, x402.PaymentRequirementsResponse) {
	t.Helper()
	var resp struct {
		Error struct {
			Code    int             `json:"code"`
			Message string          `json:"message"`
			Data    json.RawMessage `json:"data"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("Failed to parse error response: %v", err)
	}

	var data x402.PaymentRequirementsResponse
	if len(resp.Error.Data) > 0 {
		if err := json.Unmarshal(resp.Error.Data, &data); err != nil {
			t.Fatalf("Failed to parse error data: %v", err)
		}
	}
	return resp.Error.Code, resp.Error.Message, data
}

func TestX402Handler_FreeToolPassthrough(t *testing.T) {
	inner := &cannedMCPHandler{response: cannedResult}
	handler, err := NewX402Handler(inner, testHandlerConfig(&stubFacilitator{}))
	if err != nil {
		t.Fatalf("NewX402Handler() error = %v", err)
	}

	rec := postJSON(handler, callToolBody(t, "echo", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
	if inner.callCount() != 1 {
		t.Errorf("Expected inner handler to run once, got %d calls", inner.callCount())
	}
	if rec.Body.String() != cannedResult {
		t.Errorf("Expected free tool response to pass through unmodified, got %s", rec.Body.String())
	}
}

func TestX402Handler_NonToolsCallPassthrough(t *testing.T) {
	inner := &cannedMCPHandler{response: cannedResult}
	handler, err := NewX402Handler(inner, testHandlerConfig(&stubFacilitator{}))
	if err != nil {
		t.Fatalf("NewX402Handler() error = %v", err)
	}

	body := []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
	postJSON(handler, body)

	if inner.callCount() != 1 {
		t.Errorf("Expected initialize to pass through, got %d inner calls", inner.callCount())
	}
}

func TestX402Handler_NonPostPassthrough(t *testing.T) {
	inner := &cannedMCPHandler{response: cannedResult}
	handler, err := NewX402Handler(inner, testHandlerConfig(&stubFacilitator{}))
	if err != nil {
		t.Fatalf("NewX402Handler() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if inner.callCount() != 1 {
		t.Errorf("Expected GET to pass through, got %d inner calls", inner.callCount())
	}
}

func TestX402Handler_MissingPaymentReturns402(t *testing.T) {
	inner := &cannedMCPHandler{response: cannedResult}
	handler, err := NewX402Handler(inner, testHandlerConfig(&stubFacilitator{}))
	if err != nil {
		t.Fatalf("NewX402Handler() error = %v", err)
	}

	rec := postJSON(handler, callToolBody(t, "search", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Expected HTTP status 200 for JSON-RPC error, got %d", rec.Code)
	}
	if inner.callCount() != 0 {
		t.Errorf("Expected tool not to run without payment, got %d inner calls", inner.callCount())
	}

	code, message, data := rpcErrorOf(t, rec.Body.Bytes())
	if code != rpcCodePaymentRequired {
		t.Errorf("Error code mismatch: got %d, want %d", code, rpcCodePaymentRequired)
	}
	if message != "Payment required" {
		t.Errorf("Error message mismatch: got %q, want %q", message, "Payment required")
	}
	if data.X402Version != x402.SupportedVersion {
		t.Errorf("x402Version mismatch: got %d, want %d", data.X402Version, x402.SupportedVersion)
	}
	if len(data.Accepts) != 1 {
		t.Fatalf("Expected 1 accepted requirement, got %d", len(data.Accepts))
	}
	if data.Accepts[0].Resource != "mcp://tools/search" {
		t.Errorf("Resource mismatch: got %q, want %q", data.Accepts[0].Resource, "mcp://tools/search")
	}
}

func TestX402Handler_InvalidPaymentMetadata(t *testing.T) {
	inner := &cannedMCPHandler{response: cannedResult}
	handler, err := NewX402Handler(inner, testHandlerConfig(&stubFacilitator{}))
	if err != nil {
		t.Fatalf("NewX402Handler() error = %v", err)
	}

	rec := postJSON(handler, callToolBody(t, "search", 12345))

	code, _, data := rpcErrorOf(t, rec.Body.Bytes())
	if code != rpcCodePaymentRequired {
		t.Errorf("Error code mismatch: got %d, want %d", code, rpcCodePaymentRequired)
	}
	if data.Error != "Invalid payment" {
		t.Errorf("Data error mismatch: got %q, want %q", data.Error, "Invalid payment")
	}
	if inner.callCount() != 0 {
		t.Errorf("Expected tool not to run with invalid payment, got %d inner calls", inner.callCount())
	}
}

func TestX402Handler_PaidToolCall(t *testing.T) {
	fac := &stubFacilitator{}
	inner := &cannedMCPHandler{response: cannedResult}
	handler, err := NewX402Handler(inner, testHandlerConfig(fac))
	if err != nil {
		t.Fatalf("NewX402Handler() error = %v", err)
	}

	rec := postJSON(handler, callToolBody(t, "search", testPayment(t)))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if inner.callCount() != 1 {
		t.Errorf("Expected tool to run once, got %d inner calls", inner.callCount())
	}

	var resp struct {
		Result struct {
			Meta map[string]json.RawMessage `json:"_meta"`
		} `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	receipt, ok := resp.Result.Meta[MetaKeyPaymentResponse]
	if !ok {
		t.Fatalf("Expected settlement receipt in result._meta, got %s", rec.Body.String())
	}
	var settlement x402.SettlementResponse
	if err := json.Unmarshal(receipt, &settlement); err != nil {
		t.Fatalf("Failed to parse settlement receipt: %v", err)
	}
	if !settlement.Success {
		t.Error("Expected successful settlement in receipt")
	}
	if settlement.Transaction != "0xabc123" {
		t.Errorf("Transaction mismatch: got %q, want %q", settlement.Transaction, "0xabc123")
	}

	header := rec.Header().Get("X-PAYMENT-RESPONSE")
	if header == "" {
		t.Fatal("Expected X-PAYMENT-RESPONSE header")
	}
	decoded, err := encoding.DecodeSettlement(header)
	if err != nil {
		t.Fatalf("DecodeSettlement() error = %v", err)
	}
	if decoded.Transaction != "0xabc123" {
		t.Errorf("Header transaction mismatch: got %q, want %q", decoded.Transaction, "0xabc123")
	}

	verify, settle := fac.calls()
	if verify != 1 {
		t.Errorf("Expected 1 verify call, got %d", verify)
	}
	if settle != 1 {
		t.Errorf("Expected 1 settle call, got %d", settle)
	}
}

func TestX402Handler_EnvelopePaymentForm(t *testing.T) {
	fac := &stubFacilitator{}
	inner := &cannedMCPHandler{response: cannedResult}
	handler, err := NewX402Handler(inner, testHandlerConfig(fac))
	if err != nil {
		t.Fatalf("NewX402Handler() error = %v", err)
	}

	envelope, err := encoding.EncodePayment(testPayment(t))
	if err != nil {
		t.Fatalf("EncodePayment() error = %v", err)
	}
	rec := postJSON(handler, callToolBody(t, "search", envelope))

	if inner.callCount() != 1 {
		t.Fatalf("Expected tool to run for base64 payment form: %s", rec.Body.String())
	}
	verify, settle := fac.calls()
	if verify != 1 || settle != 1 {
		t.Errorf("Expected 1 verify and 1 settle call, got %d and %d", verify, settle)
	}
}

func TestX402Handler_VerifyOnlyMode(t *testing.T) {
	fac := &stubFacilitator{}
	config := testHandlerConfig(fac)
	config.VerifyOnly = true
	inner := &cannedMCPHandler{response: cannedResult}
	handler, err := NewX402Handler(inner, config)
	if err != nil {
		t.Fatalf("NewX402Handler() error = %v", err)
	}

	rec := postJSON(handler, callToolBody(t, "search", testPayment(t)))

	if inner.callCount() != 1 {
		t.Fatalf("Expected tool to run in verify-only mode: %s", rec.Body.String())
	}
	verify, settle := fac.calls()
	if verify != 1 {
		t.Errorf("Expected 1 verify call, got %d", verify)
	}
	if settle != 0 {
		t.Errorf("Expected no settle calls in verify-only mode, got %d", settle)
	}
	if rec.Header().Get("X-PAYMENT-RESPONSE") != "" {
		t.Error("Expected no settlement header in verify-only mode")
	}
	if bytes.Contains(rec.Body.Bytes(), []byte(MetaKeyPaymentResponse)) {
		t.Error("Expected no settlement receipt in verify-only mode")
	}
}

func TestX402Handler_ToolErrorNotSettled(t *testing.T) {
	fac := &stubFacilitator{}
	inner := &cannedMCPHandler{response: cannedError}
	handler, err := NewX402Handler(inner, testHandlerConfig(fac))
	if err != nil {
		t.Fatalf("NewX402Handler() error = %v", err)
	}

	rec := postJSON(handler, callToolBody(t, "search", testPayment(t)))

	if rec.Body.String() != cannedError {
		t.Errorf("Expected tool error to pass through unmodified, got %s", rec.Body.String())
	}
	verify, settle := fac.calls()
	if verify != 1 {
		t.Errorf("Expected 1 verify call, got %d", verify)
	}
	if settle != 0 {
		t.Errorf("Expected no settle calls for failed tool, got %d", settle)
	}
}

func TestX402Handler_SettlementFailureReturns402(t *testing.T) {
	fac := &stubFacilitator{settleFail: true}
	inner := &cannedMCPHandler{response: cannedResult}
	handler, err := NewX402Handler(inner, testHandlerConfig(fac))
	if err != nil {
		t.Fatalf("NewX402Handler() error = %v", err)
	}

	rec := postJSON(handler, callToolBody(t, "search", testPayment(t)))

	code, _, data := rpcErrorOf(t, rec.Body.Bytes())
	if code != rpcCodePaymentRequired {
		t.Errorf("Error code mismatch: got %d, want %d", code, rpcCodePaymentRequired)
	}
	if data.Error != "Payment settlement failed" {
		t.Errorf("Data error mismatch: got %q, want %q", data.Error, "Payment settlement failed")
	}
}

func TestX402Handler_RateLimited(t *testing.T) {
	fac := &stubFacilitator{rejectAll: true}
	config := testHandlerConfig(fac)
	config.RateLimiter = ratelimit.NewMemoryLimiter(1, time.Minute)
	inner := &cannedMCPHandler{response: cannedResult}
	handler, err := NewX402Handler(inner, config)
	if err != nil {
		t.Fatalf("NewX402Handler() error = %v", err)
	}

	rec := postJSON(handler, callToolBody(t, "search", testPayment(t)))
	code, _, _ := rpcErrorOf(t, rec.Body.Bytes())
	if code != rpcCodePaymentRequired {
		t.Fatalf("First attempt error code mismatch: got %d, want %d", code, rpcCodePaymentRequired)
	}

	rec = postJSON(handler, callToolBody(t, "search", testPayment(t)))
	code, message, _ := rpcErrorOf(t, rec.Body.Bytes())
	if code != rpcCodeTooManyAttempts {
		t.Errorf("Second attempt error code mismatch: got %d, want %d", code, rpcCodeTooManyAttempts)
	}
	if message != "Too many payment attempts" {
		t.Errorf("Error message mismatch: got %q, want %q", message, "Too many payment attempts")
	}
}

func TestX402Handler_ParseErrorOnGarbage(t *testing.T) {
	inner := &cannedMCPHandler{response: cannedResult}
	handler, err := NewX402Handler(inner, testHandlerConfig(&stubFacilitator{}))
	if err != nil {
		t.Fatalf("NewX402Handler() error = %v", err)
	}

	rec := postJSON(handler, []byte("not json"))

	code, _, _ := rpcErrorOf(t, rec.Body.Bytes())
	if code != rpcCodeParseError {
		t.Errorf("Error code mismatch: got %d, want %d", code, rpcCodeParseError)
	}
	if inner.callCount() != 0 {
		t.Errorf("Expected inner handler not to run on parse error, got %d calls", inner.callCount())
	}
}

func TestNewX402Handler_InvalidRequirement(t *testing.T) {
	config := &Config{
		PaymentTools: map[string][]x402.PaymentRequirement{
			"search": {{
				Scheme:            "exact",
				Network:           "base-sepolia",
				MaxAmountRequired: "10000",
				Asset:             testAsset,
				PayTo:             "not-an-address",
			}},
		},
	}
	if _, err := NewX402Handler(&cannedMCPHandler{}, config); err == nil {
		t.Error("Expected error for invalid tool requirement")
	}
}
