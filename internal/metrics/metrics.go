package metrics

import (
	"expvar"
	"net/http"
	"net/http/pprof"
	"sync"
)

var mu sync.Mutex

// Publish exposes fn's result under name in /debug/vars. Publishing the same
// name again replaces the function.
func Publish(name string, fn func() any) {
	mu.Lock()
	defer mu.Unlock()
	if v, ok := expvar.Get(name).(*swappable); ok {
		v.set(fn)
		return
	}
	v := &swappable{}
	v.set(fn)
	expvar.Publish(name, v)
}

type swappable struct {
	mu sync.RWMutex
	fn func() any
}

func (s *swappable) set(fn func() any) {
	s.mu.Lock()
	s.fn = fn
	s.mu.Unlock()
}

func (s *swappable) String() string {
	s.mu.RLock()
	fn := s.fn
	s.mu.RUnlock()
	return expvar.Func(fn).String()
}

// Handler serves expvar at /debug/vars and pprof under /debug/pprof/. Mount
// it only on a local or internal address.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/debug/vars", expvar.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}
