package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/quantumclaw/quantumclaw/internal/agent"
	"github.com/quantumclaw/quantumclaw/internal/approvals"
	"github.com/quantumclaw/quantumclaw/internal/store"
	"github.com/quantumclaw/quantumclaw/pkg/protocol"
)

// MethodHandler answers one RPC call. raw is the request's params, still
// encoded as JSON; handlers unmarshal whatever shape they expect.
type MethodHandler func(ctx context.Context, s *Server, c *Client, raw json.RawMessage) (interface{}, error)

// MethodRouter dispatches RPC method names (see pkg/protocol.Method*) to
// registered handlers. Unknown methods return an error back to the client
// rather than panicking the connection.
type MethodRouter struct {
	mu       sync.RWMutex
	server   *Server
	handlers map[string]MethodHandler
}

// NewMethodRouter builds a router with the gateway's built-in methods
// already registered (connect/health/status, chat, sessions, device
// pairing, exec approvals).
func NewMethodRouter(s *Server) *MethodRouter {
	r := &MethodRouter{server: s, handlers: make(map[string]MethodHandler)}
	r.registerBuiltins()
	return r
}

// Register adds or replaces a handler for method name. Used by channel
// adapters and the bootstrap sequence to extend the RPC surface.
func (r *MethodRouter) Register(name string, h MethodHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Dispatch looks up and invokes the handler for method.
func (r *MethodRouter) Dispatch(ctx context.Context, c *Client, method string, raw json.RawMessage) (interface{}, error) {
	r.mu.RLock()
	h, ok := r.handlers[method]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown method: %s", method)
	}
	return h(ctx, r.server, c, raw)
}

func (r *MethodRouter) registerBuiltins() {
	r.Register(protocol.MethodConnect, handleConnect)
	r.Register(protocol.MethodHealth, handleHealth)
	r.Register(protocol.MethodStatus, handleStatus)
	r.Register(protocol.MethodChatSend, handleChatSend)
	r.Register(protocol.MethodChatHistory, handleChatHistory)
	r.Register(protocol.MethodSessionsList, handleSessionsList)
	r.Register(protocol.MethodPairingRequest, handlePairingRequest)
	r.Register(protocol.MethodPairingApprove, handlePairingApprove)
	r.Register(protocol.MethodPairingList, handlePairingList)
	r.Register(protocol.MethodApprovalsList, handleApprovalsList)
	r.Register(protocol.MethodApprovalsApprove, handleApprovalsApprove)
	r.Register(protocol.MethodApprovalsDeny, handleApprovalsDeny)
}

func handleConnect(_ context.Context, s *Server, c *Client, _ json.RawMessage) (interface{}, error) {
	return map[string]interface{}{
		"protocolVersion": protocol.ProtocolVersion,
		"clientId":        c.id,
	}, nil
}

func handleHealth(_ context.Context, s *Server, _ *Client, _ json.RawMessage) (interface{}, error) {
	return map[string]interface{}{"status": "ok", "protocol": protocol.ProtocolVersion}, nil
}

func handleStatus(_ context.Context, s *Server, _ *Client, _ json.RawMessage) (interface{}, error) {
	status := map[string]interface{}{
		"agents": s.agents.List(),
	}
	if s.trust != nil {
		status["trustHardRules"] = s.trust.HardRuleCount()
		status["trustSoftRules"] = s.trust.SoftRuleCount()
	}
	return status, nil
}

type chatSendParams struct {
	Agent   string `json:"agent"`
	Message string `json:"message"`
	Channel string `json:"channel"`
	ChatID  string `json:"chatId"`
}

func handleChatSend(ctx context.Context, s *Server, c *Client, raw json.RawMessage) (interface{}, error) {
	var p chatSendParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if p.Message == "" {
		return nil, fmt.Errorf("message is required")
	}
	agentID := p.Agent
	loop, ok := s.agents.Get(agentID)
	if !ok {
		loop = s.agents.Default()
	}
	if loop == nil {
		return nil, fmt.Errorf("no agent available")
	}

	channel := p.Channel
	if channel == "" {
		channel = "dashboard"
	}
	chatID := p.ChatID
	if chatID == "" {
		chatID = c.id
	}

	sessionKey := fmt.Sprintf("agent:%s:%s:direct:%s", agentID, channel, chatID)
	result, err := loop.Run(ctx, agent.RunRequest{
		SessionKey: sessionKey,
		Message:    p.Message,
		Channel:    channel,
		ChatID:     chatID,
		PeerKind:   "direct",
		RunID:      uuid.NewString(),
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func handleChatHistory(_ context.Context, s *Server, _ *Client, raw json.RawMessage) (interface{}, error) {
	var p struct {
		SessionKey string `json:"sessionKey"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if s.sessions == nil {
		return nil, fmt.Errorf("session store not configured")
	}
	return s.sessions.GetHistory(p.SessionKey), nil
}

func handleSessionsList(_ context.Context, s *Server, _ *Client, raw json.RawMessage) (interface{}, error) {
	var p struct {
		AgentID string `json:"agentId"`
		Limit   int    `json:"limit"`
		Offset  int    `json:"offset"`
	}
	_ = json.Unmarshal(raw, &p)
	if s.sessions == nil {
		return nil, fmt.Errorf("session store not configured")
	}
	return s.sessions.ListPaged(store.SessionListOpts{AgentID: p.AgentID, Limit: p.Limit, Offset: p.Offset}), nil
}

func handlePairingRequest(_ context.Context, s *Server, _ *Client, raw json.RawMessage) (interface{}, error) {
	var p struct {
		PeerID  string `json:"peerId"`
		Channel string `json:"channel"`
		ChatID  string `json:"chatId"`
		Agent   string `json:"agent"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if s.pairingService == nil {
		return nil, fmt.Errorf("pairing not configured")
	}
	code, err := s.pairingService.RequestPairing(p.PeerID, p.Channel, p.ChatID, p.Agent)
	if err != nil {
		return nil, err
	}
	return map[string]string{"code": code}, nil
}

func handlePairingApprove(ctx context.Context, s *Server, c *Client, raw json.RawMessage) (interface{}, error) {
	if !s.requireOwner(c) {
		return nil, fmt.Errorf("owner permission required")
	}
	var p struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if s.pairingService == nil {
		return nil, fmt.Errorf("pairing not configured")
	}
	if err := s.pairingService.Approve(ctx, p.Code); err != nil {
		return nil, err
	}
	return map[string]bool{"approved": true}, nil
}

func handlePairingList(ctx context.Context, s *Server, c *Client, _ json.RawMessage) (interface{}, error) {
	if !s.requireOwner(c) {
		return nil, fmt.Errorf("owner permission required")
	}
	if s.pairingService == nil {
		return nil, fmt.Errorf("pairing not configured")
	}
	return s.pairingService.ListPending(ctx)
}

func handleApprovalsList(_ context.Context, s *Server, c *Client, _ json.RawMessage) (interface{}, error) {
	if !s.requireOwner(c) {
		return nil, fmt.Errorf("owner permission required")
	}
	if s.approvals == nil {
		return nil, fmt.Errorf("approvals not configured")
	}
	return s.approvals.Pending(), nil
}

func handleApprovalsApprove(ctx context.Context, s *Server, c *Client, raw json.RawMessage) (interface{}, error) {
	return resolveApproval(ctx, s, c, raw, true)
}

func handleApprovalsDeny(ctx context.Context, s *Server, c *Client, raw json.RawMessage) (interface{}, error) {
	return resolveApproval(ctx, s, c, raw, false)
}

func resolveApproval(ctx context.Context, s *Server, c *Client, raw json.RawMessage, allow bool) (interface{}, error) {
	if !s.requireOwner(c) {
		return nil, fmt.Errorf("owner permission required")
	}
	var p struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if s.approvals == nil {
		return nil, fmt.Errorf("approvals not configured")
	}
	if err := s.approvals.Resolve(ctx, p.ID, allow); err != nil {
		return nil, err
	}
	return map[string]approvals.Decision{"decision": decisionFor(allow)}, nil
}

func decisionFor(allow bool) approvals.Decision {
	if allow {
		return approvals.DecisionAllow
	}
	return approvals.DecisionDeny
}
