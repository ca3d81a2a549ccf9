package httpconn

import (
	"reflect"
	"sync"

	"github.com/relayhttp/httpconn/pkg/keepalive"
)

// SessionFeature is the contract a session's plug-ins implement: this
// connection core does not call any of these methods itself, but it
// defines the boundary a session sits inside. Grounded on
// soup_session_feature_attach/detach/request_queued/request_unqueued in
// original_source/libsoup/soup-session-feature.c.
type SessionFeature interface {
	// Attach is called once when the feature joins a session.
	Attach(session any)
	// Detach is called once when the feature leaves a session.
	Detach(session any)
	// RequestQueued is called as a message is queued for sending.
	RequestQueued(session any, msg keepalive.Message)
	// RequestUnqueued is called once a message's exchange is finished.
	RequestUnqueued(session any, msg keepalive.Message)
}

// SubFeatureManager is implemented by a feature that itself hosts
// sub-features, keyed by their concrete type.
type SubFeatureManager interface {
	AddFeature(t reflect.Type) bool
	RemoveFeature(t reflect.Type) bool
	HasFeature(t reflect.Type) bool
}

// FeatureDisabler is implemented by a message that can suppress a
// specific feature's participation in its own exchange.
type FeatureDisabler interface {
	FeatureDisabled(t reflect.Type) bool
}

// Registry holds a session's attached features in insertion order and
// fans RequestQueued/RequestUnqueued out to them, honoring any
// per-message FeatureDisabler.
//
// Ordering is plain insertion order, not priority-sorted: unlike
// saidutt46-Switchboard-Gateway's plugin chain (which this is otherwise
// grounded on), soup_session_feature's hooks are unordered fan-out, and
// nothing in this spec calls for priority ordering.
type Registry struct {
	mu       sync.Mutex
	features []SessionFeature
}

// Add attaches feature to the session and registers it.
func (r *Registry) Add(session any, feature SessionFeature) {
	r.mu.Lock()
	r.features = append(r.features, feature)
	r.mu.Unlock()
	feature.Attach(session)
}

// Remove detaches feature and removes it from the registry. It is a
// no-op if feature was never added.
func (r *Registry) Remove(session any, feature SessionFeature) {
	r.mu.Lock()
	found := false
	for i, f := range r.features {
		if f == feature {
			r.features = append(r.features[:i], r.features[i+1:]...)
			found = true
			break
		}
	}
	r.mu.Unlock()
	if found {
		feature.Detach(session)
	}
}

// Has reports whether a feature of type t is registered.
func (r *Registry) Has(t reflect.Type) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.features {
		if reflect.TypeOf(f) == t {
			return true
		}
	}
	return false
}

// RequestQueued notifies every registered feature that msg was queued,
// skipping any feature msg has explicitly disabled.
func (r *Registry) RequestQueued(session any, msg keepalive.Message) {
	r.forEach(func(f SessionFeature) {
		if disabled(msg, f) {
			return
		}
		f.RequestQueued(session, msg)
	})
}

// RequestUnqueued notifies every registered feature that msg's exchange
// finished, skipping any feature msg has explicitly disabled.
func (r *Registry) RequestUnqueued(session any, msg keepalive.Message) {
	r.forEach(func(f SessionFeature) {
		if disabled(msg, f) {
			return
		}
		f.RequestUnqueued(session, msg)
	})
}

func (r *Registry) forEach(fn func(SessionFeature)) {
	r.mu.Lock()
	features := make([]SessionFeature, len(r.features))
	copy(features, r.features)
	r.mu.Unlock()

	for _, f := range features {
		fn(f)
	}
}

func disabled(msg keepalive.Message, f SessionFeature) bool {
	d, ok := msg.(FeatureDisabler)
	if !ok {
		return false
	}
	return d.FeatureDisabled(reflect.TypeOf(f))
}
