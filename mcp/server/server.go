// Package server gates MCP tools behind x402 payments.
//
// Tool calls arrive as JSON-RPC over the streamable HTTP transport.
// Payment travels in the request metadata: clients put their payment
// payload in params._meta["x402/payment"], and after settlement the
// receipt is returned in result._meta["x402/payment-response"]. A gated
// tool called without payment receives a JSON-RPC error with code 402
// whose data field carries the accepted payment requirements, mirroring
// the HTTP 402 response body.
//
// Verification and settlement run through the same pipeline as the HTTP
// middleware, so replay protection, rate limiting, compliance screening,
// and metrics apply to MCP tools exactly as they do to HTTP routes.
package server

import (
	"net/http"

	mcpproto "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/payguard/x402-go"
	httpx402 "github.com/payguard/x402-go/http"
	"github.com/payguard/x402-go/validation"
)

// X402Server wraps an MCP server and adds x402 payment gating.
//
//	srv, err := server.NewX402Server("research-tools", "1.0.0", &server.Config{
//	    FacilitatorURL: "https://facilitator.example.com",
//	})
//	srv.AddTool(echoTool, echoHandler)
//	srv.AddPayableTool(searchTool, searchHandler, requirement)
//	srv.Start(":8080")
//
// Tools must be registered before Handler or Start; registration is not
// safe to interleave with serving.
type X402Server struct {
	mcpServer *mcpserver.MCPServer
	config    *Config
	handler   *httpx402.PaymentHandler
}

// NewX402Server creates an MCP server with x402 payment support. Tool
// requirements already present in config.PaymentTools are validated here;
// tools added later are validated by AddPayableTool.
func NewX402Server(name, version string, config *Config) (*X402Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.PaymentTools == nil {
		config.PaymentTools = make(map[string][]x402.PaymentRequirement)
	}

	handler, err := httpx402.NewPaymentHandler(config.handlerConfig())
	if err != nil {
		return nil, err
	}

	return &X402Server{
		mcpServer: mcpserver.NewMCPServer(name, version),
		config:    config,
		handler:   handler,
	}, nil
}

// AddTool registers a free tool. Calls pass through without payment.
func (s *X402Server) AddTool(tool mcpproto.Tool, handler mcpserver.ToolHandlerFunc) {
	s.mcpServer.AddTool(tool, handler)
}

// AddPayableTool registers a tool that requires payment. Requirements
// without a resource are stamped with the tool's mcp://tools/ URI.
func (s *X402Server) AddPayableTool(tool mcpproto.Tool, handler mcpserver.ToolHandlerFunc, requirements ...x402.PaymentRequirement) error {
	if len(requirements) == 0 {
		return x402.NewPaymentError(x402.ErrCodeConfiguration, "payable tool requires at least one payment requirement", nil).
			WithDetails("tool", tool.Name)
	}

	stamped := make([]x402.PaymentRequirement, len(requirements))
	copy(stamped, requirements)
	for i := range stamped {
		// The resource is an mcp:// tool URI, not a payable HTTP URL;
		// validate everything else.
		candidate := stamped[i]
		candidate.Resource = ""
		if err := validation.ValidatePaymentRequirement(candidate); err != nil {
			return err
		}
		if stamped[i].Resource == "" {
			stamped[i].Resource = ToolResource(tool.Name)
		}
	}

	s.config.AddPaymentTool(tool.Name, stamped...)
	s.mcpServer.AddTool(tool, handler)
	return nil
}

// Handler returns the streamable HTTP handler with payment gating
// applied. The tool table is snapshotted and enriched from the
// facilitator's /supported endpoint; tools registered afterwards are not
// gated by the returned handler.
func (s *X402Server) Handler() http.Handler {
	streamable := mcpserver.NewStreamableHTTPServer(s.mcpServer)
	return newX402Handler(streamable, s.handler, enrichToolTable(s.handler, s.config.PaymentTools))
}

// Start serves the payment-gated MCP server on addr. It blocks until the
// listener fails.
func (s *X402Server) Start(addr string) error {
	return http.ListenAndServe(addr, s.Handler())
}

// MCPServer returns the underlying MCP server for registration of
// resources, prompts, and other capabilities the wrapper does not cover.
func (s *X402Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// ToolResource returns the canonical resource URI for a tool, used as the
// requirement resource when none is configured.
func ToolResource(toolName string) string {
	return "mcp://tools/" + toolName
}
