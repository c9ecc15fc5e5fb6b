package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/payguard/x402-go"
	"github.com/payguard/x402-go/encoding"
	httpx402 "github.com/payguard/x402-go/http"
	"github.com/payguard/x402-go/internal/helpers"
)

// Metadata keys of the x402 MCP convention.
const (
	// MetaKeyPayment is where clients place their payment payload in
	// tools/call params._meta.
	MetaKeyPayment = "x402/payment"

	// MetaKeyPaymentResponse is where the settlement receipt is returned
	// in result._meta.
	MetaKeyPaymentResponse = "x402/payment-response"
)

// JSON-RPC error codes. Payment errors reuse the HTTP status numbers the
// x402 convention established; transport and server errors use the
// standard JSON-RPC range.
const (
	rpcCodeParseError      = -32700
	rpcCodeInvalidParams   = -32602
	rpcCodeInternalError   = -32603
	rpcCodePaymentRequired = 402
	rpcCodeTooManyAttempts = 429
)

// X402Handler wraps an MCP streamable HTTP handler and enforces payment
// on gated tools/call requests. Every other request passes through
// untouched: GET streams, session management, initialize, free tools.
//
// Verified payment details are stored on the request context before the
// tool runs, so tool handlers can read the payer with
// http.PaymentFromContext.
type X402Handler struct {
	inner   http.Handler
	handler *httpx402.PaymentHandler
	tools   map[string][]x402.PaymentRequirement
	logger  *slog.Logger
}

// NewX402Handler wraps an existing MCP HTTP handler with payment gating
// configured from config. Use X402Server instead when you also want tool
// registration; this constructor serves setups that build their own
// mcp-go server.
func NewX402Handler(mcpHandler http.Handler, config *Config) (*X402Handler, error) {
	if config == nil {
		config = DefaultConfig()
	}
	handler, err := httpx402.NewPaymentHandler(config.handlerConfig())
	if err != nil {
		return nil, err
	}
	return newX402Handler(mcpHandler, handler, enrichToolTable(handler, config.PaymentTools)), nil
}

// enrichToolTable merges facilitator-advertised extras into every tool's
// requirements with a single /supported lookup. Enrichment failures keep
// the configured requirements.
func enrichToolTable(handler *httpx402.PaymentHandler, tools map[string][]x402.PaymentRequirement) map[string][]x402.PaymentRequirement {
	if len(tools) == 0 {
		return tools
	}

	names := make([]string, 0, len(tools))
	var flat []x402.PaymentRequirement
	for name, reqs := range tools {
		names = append(names, name)
		flat = append(flat, reqs...)
	}

	ctx, cancel := context.WithTimeout(context.Background(), x402.DefaultTimeouts.RequestTimeout)
	defer cancel()

	enriched, err := handler.EnrichRequirementList(ctx, flat)
	if err != nil || len(enriched) != len(flat) {
		if err != nil {
			handler.Logger().Warn("failed to enrich payment requirements from facilitator", "error", err)
		}
		enriched = flat
	}

	out := make(map[string][]x402.PaymentRequirement, len(tools))
	i := 0
	for _, name := range names {
		n := len(tools[name])
		out[name] = enriched[i : i+n]
		i += n
	}
	return out
}

// newX402Handler snapshots the tool table so serving never races with
// registration.
func newX402Handler(inner http.Handler, handler *httpx402.PaymentHandler, tools map[string][]x402.PaymentRequirement) *X402Handler {
	snapshot := make(map[string][]x402.PaymentRequirement, len(tools))
	for name, reqs := range tools {
		copied := make([]x402.PaymentRequirement, len(reqs))
		copy(copied, reqs)
		snapshot[name] = copied
	}
	return &X402Handler{
		inner:   inner,
		handler: handler,
		tools:   snapshot,
		logger:  handler.Logger(),
	}
}

// rpcRequest is the JSON-RPC request envelope. ID round-trips as raw JSON
// so numeric and string identifiers are echoed back unmodified.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

// rpcResponse is the JSON-RPC response envelope used when rewriting a
// successful tool result to carry the settlement receipt.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

func (h *X402Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Only JSON-RPC POSTs can carry tool calls.
	if r.Method != http.MethodPost {
		h.inner.ServeHTTP(w, r)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeRPCError(w, nil, rpcCodeParseError, "Parse error", nil)
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeRPCError(w, nil, rpcCodeParseError, "Parse error", nil)
		return
	}

	if req.Method != "tools/call" {
		h.inner.ServeHTTP(w, r)
		return
	}

	var params struct {
		Name string                 `json:"name"`
		Meta map[string]interface{} `json:"_meta"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeRPCError(w, req.ID, rpcCodeInvalidParams, "Invalid params", nil)
		return
	}

	requirements, gated := h.toolRequirements(params.Name)
	if !gated {
		h.inner.ServeHTTP(w, r)
		return
	}

	logger := h.logger.With("tool", params.Name)

	payment, present, err := paymentFromMeta(params.Meta)
	if !present {
		logger.Info("no payment provided for gated tool")
		writePaymentRequired(w, req.ID, requirements, "Payment required to call this tool")
		return
	}
	if err != nil {
		h.writePaymentError(w, req.ID, requirements, err, logger)
		return
	}

	requirement, err := x402.FindMatchingRequirement(payment, requirements)
	if err != nil {
		h.writePaymentError(w, req.ID, requirements, err, logger)
		return
	}

	verifyResp, err := h.handler.VerifyPayload(r.Context(), payment, *requirement, helpers.ClientIdentifier(r))
	if err != nil {
		h.writePaymentError(w, req.ID, requirements, err, logger)
		return
	}

	// Make the verified payment visible to the tool handler; mcp-go
	// propagates the request context into tool invocations.
	ctx := context.WithValue(r.Context(), httpx402.PaymentContextKey, verifyResp)
	r = r.WithContext(ctx)
	r.Body = io.NopCloser(bytes.NewReader(body))

	h.invokeAndSettle(w, r, req.ID, payment, *requirement, requirements, logger)
}

// toolRequirements returns a copy of the tool's requirements with the
// resource stamped, or gated=false for tools without payment gating.
func (h *X402Handler) toolRequirements(toolName string) ([]x402.PaymentRequirement, bool) {
	reqs, exists := h.tools[toolName]
	if !exists || len(reqs) == 0 {
		return nil, false
	}

	out := make([]x402.PaymentRequirement, len(reqs))
	copy(out, reqs)
	for i := range out {
		if out[i].Resource == "" {
			out[i].Resource = ToolResource(toolName)
		}
	}
	return out, true
}

// paymentFromMeta decodes params._meta["x402/payment"]. Clients send
// either the decoded payment object or the base64 envelope used by the
// X-PAYMENT header; both forms are accepted.
func paymentFromMeta(meta map[string]interface{}) (x402.PaymentPayload, bool, error) {
	if meta == nil {
		return x402.PaymentPayload{}, false, nil
	}
	raw, exists := meta[MetaKeyPayment]
	if !exists {
		return x402.PaymentPayload{}, false, nil
	}

	if envelope, isString := raw.(string); isString {
		payment, err := encoding.DecodePayment(envelope)
		return payment, true, err
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return x402.PaymentPayload{}, true, x402.NewValidationError(x402.ReasonMalformedHeader, "payment metadata is not valid JSON", err)
	}
	var payment x402.PaymentPayload
	if err := json.Unmarshal(data, &payment); err != nil {
		return x402.PaymentPayload{}, true, x402.NewValidationError(x402.ReasonMalformedHeader, "payment metadata does not decode to a payment payload", err)
	}
	return payment, true, nil
}

// invokeAndSettle runs the tool, settles on success, and rewrites the
// result to carry the settlement receipt in _meta. Failed tools are never
// charged; their authorization's nonce stays consumed by verification.
func (h *X402Handler) invokeAndSettle(w http.ResponseWriter, r *http.Request, id json.RawMessage, payment x402.PaymentPayload, requirement x402.PaymentRequirement, requirements []x402.PaymentRequirement, logger *slog.Logger) {
	buffer := newResponseBuffer()
	h.inner.ServeHTTP(buffer, r)

	var resp rpcResponse
	if err := json.Unmarshal(buffer.body.Bytes(), &resp); err != nil {
		// Streaming transport mode; there is no single result to carry
		// the receipt, so the payment stays unsettled.
		logger.Warn("tool response is not a single JSON-RPC message, skipping settlement", "error", err)
		buffer.flushTo(w)
		return
	}

	if len(resp.Error) > 0 && string(resp.Error) != "null" {
		logger.Info("tool execution failed, payment not settled")
		buffer.flushTo(w)
		return
	}
	resp.Error = nil
	if len(resp.ID) == 0 {
		resp.ID = json.RawMessage("null")
	}

	if !h.handler.SettlementEnabled() {
		buffer.flushTo(w)
		return
	}

	settlement, err := h.handler.Settle(r.Context(), payment, requirement)
	if err != nil {
		if x402.CodeOf(err) == x402.ErrCodePaymentRejected {
			logger.Warn("settlement rejected", "error", err)
			writePaymentRequired(w, id, requirements, "Payment settlement failed")
			return
		}
		logger.Error("settlement failed", "error", err)
		writeRPCError(w, id, rpcCodeInternalError, "Payment settlement temporarily unavailable", nil)
		return
	}

	if modified, err := injectSettlementMeta(resp.Result, settlement); err != nil {
		logger.Warn("failed to attach settlement receipt to result", "error", err)
	} else if modified != nil {
		resp.Result = modified
	}

	out, err := json.Marshal(resp)
	if err != nil {
		writeRPCError(w, id, rpcCodeInternalError, "Failed to encode response", nil)
		return
	}

	if err := helpers.AddPaymentResponseHeader(buffer, settlement); err != nil {
		logger.Warn("failed to add payment response header", "error", err)
	}
	buffer.header.Del("Content-Length")
	buffer.flushBody(w, out)
}

// injectSettlementMeta returns the result with the settlement receipt set
// under _meta, or nil when there is no result object to modify.
func injectSettlementMeta(result json.RawMessage, settlement *x402.SettlementResponse) (json.RawMessage, error) {
	if len(result) == 0 || string(result) == "null" {
		return nil, nil
	}

	var resultMap map[string]interface{}
	if err := json.Unmarshal(result, &resultMap); err != nil {
		return nil, err
	}

	meta, ok := resultMap["_meta"].(map[string]interface{})
	if !ok {
		meta = make(map[string]interface{})
	}
	meta[MetaKeyPaymentResponse] = settlement
	resultMap["_meta"] = meta

	return json.Marshal(resultMap)
}

// writePaymentError maps pipeline failures onto JSON-RPC errors,
// mirroring the status mapping of the HTTP middleware.
func (h *X402Handler) writePaymentError(w http.ResponseWriter, id json.RawMessage, requirements []x402.PaymentRequirement, err error, logger *slog.Logger) {
	switch x402.CodeOf(err) {
	case x402.ErrCodeValidation:
		logger.Warn("invalid payment metadata", "error", err)
		writePaymentRequired(w, id, requirements, "Invalid payment")
	case x402.ErrCodePaymentRejected, x402.ErrCodeReplayDetected:
		logger.Warn("payment rejected", "reason", string(x402.ReasonOf(err)), "error", err)
		message := helpers.PaymentErrorMessage(err)
		if message == "" {
			message = "Payment rejected"
		}
		writePaymentRequired(w, id, requirements, message)
	case x402.ErrCodeRateLimited:
		logger.Warn("payment attempts rate limited", "error", err)
		writeRPCError(w, id, rpcCodeTooManyAttempts, "Too many payment attempts", nil)
	case x402.ErrCodeFacilitatorUnavailable:
		logger.Error("facilitator unavailable", "error", err)
		writeRPCError(w, id, rpcCodeInternalError, "Payment verification temporarily unavailable", nil)
	default:
		logger.Error("payment processing failed", "error", err)
		writeRPCError(w, id, rpcCodeInternalError, "Payment processing error", nil)
	}
}

// writePaymentRequired sends the JSON-RPC 402 error. The data field
// carries the same payload as the HTTP 402 response body so clients can
// construct payment from either transport.
func writePaymentRequired(w http.ResponseWriter, id json.RawMessage, requirements []x402.PaymentRequirement, message string) {
	writeRPCError(w, id, rpcCodePaymentRequired, "Payment required", x402.PaymentRequirementsResponse{
		X402Version: x402.SupportedVersion,
		Error:       message,
		Accepts:     requirements,
	})
}

type rpcErrorBody struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type rpcErrorResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Error   rpcErrorBody    `json:"error"`
}

// writeRPCError writes a JSON-RPC error envelope. Errors ride on HTTP 200
// per the streamable HTTP transport.
func writeRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string, data interface{}) {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(rpcErrorResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: rpcErrorBody{
			Code:    code,
			Message: message,
			Data:    data,
		},
	})
}

// responseBuffer captures the inner handler's response so the settlement
// receipt can be attached before anything reaches the client.
type responseBuffer struct {
	header http.Header
	body   bytes.Buffer
	status int
}

func newResponseBuffer() *responseBuffer {
	return &responseBuffer{
		header: make(http.Header),
		status: http.StatusOK,
	}
}

func (b *responseBuffer) Header() http.Header {
	return b.header
}

func (b *responseBuffer) Write(p []byte) (int, error) {
	return b.body.Write(p)
}

func (b *responseBuffer) WriteHeader(status int) {
	b.status = status
}

// flushTo forwards the captured response unmodified.
func (b *responseBuffer) flushTo(w http.ResponseWriter) {
	b.flushBody(w, b.body.Bytes())
}

// flushBody forwards the captured headers and status with a replacement
// body.
func (b *responseBuffer) flushBody(w http.ResponseWriter, body []byte) {
	for k, v := range b.header {
		w.Header()[k] = v
	}
	w.WriteHeader(b.status)
	_, _ = w.Write(body)
}
