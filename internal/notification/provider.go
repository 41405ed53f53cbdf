// Package notification delivers deal notifications through the supported
// channels (email via SMTP, Telegram, web push) and keeps a registry of the
// configured senders.
package notification

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/shaharia-lab/dealnotify/internal/storage"
)

// Result is the outcome of one delivery attempt. Message carries the
// provider's reason on failure.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Sent returns a successful Result.
func Sent(msg string) Result {
	return Result{Success: true, Message: msg}
}

// Failed returns a failed Result with a formatted reason.
func Failed(format string, args ...any) Result {
	return Result{Success: false, Message: fmt.Sprintf(format, args...)}
}

// Sender is the interface for channel delivery backends. Implementations
// report provider problems through Result and never panic for them.
type Sender interface {
	// Channel returns the channel this sender delivers through.
	Channel() storage.Channel
	// Send delivers deal to sub.
	Send(ctx context.Context, sub *storage.Subscriber, deal *storage.Deal) Result
}

// Registry maps channels to their senders.
type Registry struct {
	mu      sync.RWMutex
	senders map[storage.Channel]Sender
}

// NewRegistry returns a Registry holding the given senders.
func NewRegistry(senders ...Sender) *Registry {
	r := &Registry{senders: make(map[storage.Channel]Sender)}
	for _, s := range senders {
		r.Register(s)
	}
	return r
}

// Register adds s, replacing any sender already bound to its channel.
func (r *Registry) Register(s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[s.Channel()] = s
}

// Lookup returns the sender for ch.
func (r *Registry) Lookup(ch storage.Channel) (Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.senders[ch]
	return s, ok
}

// Channels returns the registered channels in sorted order.
func (r *Registry) Channels() []storage.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]storage.Channel, 0, len(r.senders))
	for ch := range r.senders {
		out = append(out, ch)
	}
	slices.Sort(out)
	return out
}

// precheck repeats the eligibility checks the filter already made, since
// preferences may have changed between enqueue and delivery.
func precheck(sub *storage.Subscriber, deal *storage.Deal, ch storage.Channel) (Result, bool) {
	if sub == nil {
		return Failed("subscriber not found"), false
	}
	if deal == nil {
		return Failed("deal not found"), false
	}
	if !sub.Preferences.NotificationsEnabled {
		return Failed("notifications disabled by subscriber"), false
	}
	if !sub.Preferences.AllowsChannel(ch) {
		return Failed("%s notifications disabled by subscriber", ch), false
	}
	return Result{}, true
}
