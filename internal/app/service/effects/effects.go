// Package effects delivers side effects (emails, notifications) after the
// transaction that produced them has committed. Delivery is fire-and-forget;
// the core never waits on it and never retries it.
package effects

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/fatflowers/invoicing/pkg/logctx"
	"github.com/fatflowers/invoicing/pkg/types"
)

// Request is what the email/notification collaborator receives.
type Request struct {
	Kind      types.EffectKind `json:"kind"`
	Recipient string           `json:"recipient"`
	// TenantID and EntityID are for logging and correlation only.
	TenantID     string         `json:"tenant_id"`
	EntityID     string         `json:"entity_id"`
	TemplateData map[string]any `json:"template_data"`
}

// Notifier renders and delivers one request.
type Notifier interface {
	Notify(ctx context.Context, req Request) error
}

// Sink accepts committed effects.
type Sink interface {
	Dispatch(ctx context.Context, reqs ...Request)
}

// LogNotifier writes requests to the log. It is the default Notifier until a
// mail transport is wired in.
type LogNotifier struct {
	log *zap.SugaredLogger
}

func NewLogNotifier(log *zap.SugaredLogger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(ctx context.Context, req Request) error {
	logctx.FromCtx(ctx, n.log).Infow("effect dispatched",
		"kind", req.Kind, "recipient", req.Recipient, "tenant_id", req.TenantID, "entity_id", req.EntityID)
	return nil
}

// MemoryNotifier records requests in memory.
type MemoryNotifier struct {
	mu   sync.Mutex
	reqs []Request
}

func (n *MemoryNotifier) Notify(_ context.Context, req Request) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reqs = append(n.reqs, req)
	return nil
}

func (n *MemoryNotifier) Requests() []Request {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Request, len(n.reqs))
	copy(out, n.reqs)
	return out
}

// Count returns how many requests of kind were delivered.
func (n *MemoryNotifier) Count(kind types.EffectKind) int {
	c := 0
	for _, r := range n.Requests() {
		if r.Kind == kind {
			c++
		}
	}
	return c
}
