package stompspec

import (
	"sync"

	"github.com/bitechdev/TrackSpec/pkg/logger"
)

// ConnectFunc is invoked after the session activates. reconnected is true
// when the activation followed an unexpected connection loss.
type ConnectFunc func(reconnected bool)

// DisconnectFunc is invoked after an unexpected connection loss, before the
// reconnect loop starts. It is not invoked for explicit Disconnect calls.
type DisconnectFunc func(err error)

// HookRegistry holds lifecycle callbacks for a Client
type HookRegistry struct {
	mu           sync.RWMutex
	onConnect    []ConnectFunc
	onDisconnect []DisconnectFunc
}

// NewHookRegistry creates an empty hook registry
func NewHookRegistry() *HookRegistry {
	return &HookRegistry{}
}

// RegisterOnConnect adds a connect hook
func (h *HookRegistry) RegisterOnConnect(fn ConnectFunc) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onConnect = append(h.onConnect, fn)
}

// RegisterOnDisconnect adds a disconnect hook
func (h *HookRegistry) RegisterOnDisconnect(fn DisconnectFunc) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDisconnect = append(h.onDisconnect, fn)
}

// fireConnect invokes all connect hooks
func (h *HookRegistry) fireConnect(reconnected bool) {
	h.mu.RLock()
	hooks := make([]ConnectFunc, len(h.onConnect))
	copy(hooks, h.onConnect)
	h.mu.RUnlock()

	for _, fn := range hooks {
		func() {
			defer logger.CatchPanic("stompspec.fireConnect")
			fn(reconnected)
		}()
	}
}

// fireDisconnect invokes all disconnect hooks
func (h *HookRegistry) fireDisconnect(err error) {
	h.mu.RLock()
	hooks := make([]DisconnectFunc, len(h.onDisconnect))
	copy(hooks, h.onDisconnect)
	h.mu.RUnlock()

	for _, fn := range hooks {
		func() {
			defer logger.CatchPanic("stompspec.fireDisconnect")
			fn(err)
		}()
	}
}
