package notify

import (
	"context"
	"sync"
)

const PreventDuplicateInterceptorName = "__syspreventduplicateinterceptor"

// preventDuplicate is created once per Send call and shared by every request
// of that call, so a recipient listed twice gets a single request.
type preventDuplicate struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func newPreventDuplicate() *preventDuplicate {
	return &preventDuplicate{seen: map[string]struct{}{}}
}

func (p *preventDuplicate) Name() string { return PreventDuplicateInterceptorName }
func (p *preventDuplicate) Place() Place { return PlacePrepare }

func (p *preventDuplicate) PreventSend(_ context.Context, r *Request, _ Place) bool {
	if r.Recipient == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.seen[r.Recipient.ID]; ok {
		return true
	}
	p.seen[r.Recipient.ID] = struct{}{}
	return false
}
