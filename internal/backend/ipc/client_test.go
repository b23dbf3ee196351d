package ipc

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"aotc/internal/backend"
	"aotc/internal/unit"
)

// scriptedServer drives the serve side of the protocol over in-process
// pipes. compileFn may be nil to fall back to an echo payload.
type scriptedServer struct {
	hello     wireHello
	compileFn func(req request) response

	mu  sync.Mutex
	enc *msgpack.Encoder
}

func (s *scriptedServer) send(resp response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.enc.Encode(resp)
}

func (s *scriptedServer) serve(r io.Reader, w io.WriteCloser) {
	s.enc = msgpack.NewEncoder(w)
	dec := msgpack.NewDecoder(r)
	for {
		var req request
		if err := dec.Decode(&req); err != nil {
			return
		}
		switch req.Op {
		case opHello:
			hello := s.hello
			s.send(response{ID: req.ID, Hello: &hello})
		case opCompile:
			// Каждый запрос обслуживается своей горутиной —
			// проверяем маршрутизацию ответов по id.
			go func(req request) {
				if s.compileFn != nil {
					s.send(s.compileFn(req))
					return
				}
				s.send(response{ID: req.ID, Compiled: &wireCompiled{
					Code: []byte(req.Method.Owner + "." + req.Method.Name),
				}})
			}(req)
		case opScopeOpen, opScopeClose:
			s.send(response{ID: req.ID})
		case opShutdown:
			_ = w.Close()
			return
		}
	}
}

func startServer(t *testing.T, srv *scriptedServer) *Client {
	t.Helper()
	clientR, serverW := io.Pipe()
	serverR, clientW := io.Pipe()
	go srv.serve(serverR, serverW)
	c, err := Connect(&pipeRWC{r: clientR, w: clientW})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestHandshake(t *testing.T) {
	c := startServer(t, &scriptedServer{
		hello: wireHello{Name: "graal-svc", Version: "2.0", Refuse: []string{"*.refused"}},
	})
	if c.Name() != "graal-svc" || c.Version() != "2.0" {
		t.Errorf("handshake identity = %q %q", c.Name(), c.Version())
	}
	if c.ShouldCompile(&unit.Method{Owner: "a.b.C", Name: "refused"}) {
		t.Error("policy pattern should refuse the method")
	}
	if !c.ShouldCompile(&unit.Method{Owner: "a.b.C", Name: "ok"}) {
		t.Error("unmatched method should pass the policy")
	}
}

func TestConcurrentCompilesMultiplex(t *testing.T) {
	c := startServer(t, &scriptedServer{hello: wireHello{Name: "svc", Version: "1"}})

	const n = 32
	var wg sync.WaitGroup
	errs := make([]error, n)
	got := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := &unit.Method{Owner: "pkg.Cls", Name: names(i), Descriptor: "()V", Flags: unit.HasBody}
			out, err := c.Compile(context.Background(), m, backend.Options{})
			if err != nil {
				errs[i] = err
				return
			}
			got[i] = string(out.Code)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("compile %d: %v", i, errs[i])
		}
		want := "pkg.Cls." + names(i)
		if got[i] != want {
			t.Errorf("response %d routed to the wrong caller: got %q, want %q", i, got[i], want)
		}
	}
}

func names(i int) string {
	return "m" + strings.Repeat("x", i%7) + string(rune('a'+i%26))
}

func TestCompileErrorSurfacesVerbatim(t *testing.T) {
	c := startServer(t, &scriptedServer{
		hello: wireHello{Name: "svc", Version: "1"},
		compileFn: func(req request) response {
			return response{ID: req.ID, Error: "node count exceeded limit"}
		},
	})
	_, err := c.Compile(context.Background(), &unit.Method{Owner: "a.B", Name: "big"}, backend.Options{})
	if err == nil || err.Error() != "node count exceeded limit" {
		t.Errorf("expected verbatim error text, got %v", err)
	}
}

func TestServerExitFailsPending(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once
	srv := &scriptedServer{hello: wireHello{Name: "svc", Version: "1"}}
	srv.compileFn = func(req request) response {
		// Never answer; simulate the process dying with requests in flight.
		once.Do(func() { close(release) })
		select {}
	}

	clientR, serverW := io.Pipe()
	serverR, clientW := io.Pipe()
	go srv.serve(serverR, serverW)
	c, err := Connect(&pipeRWC{r: clientR, w: clientW})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := c.Compile(context.Background(), &unit.Method{Owner: "a.B", Name: "hang"}, backend.Options{})
		done <- err
	}()

	<-release
	_ = serverW.Close() // the service's stdout ends

	if err := <-done; !errors.Is(err, ErrSessionClosed) {
		t.Errorf("pending request should fail with ErrSessionClosed, got %v", err)
	}
}

func TestScopeBracket(t *testing.T) {
	c := startServer(t, &scriptedServer{hello: wireHello{Name: "svc", Version: "1"}})
	if err := c.OpenScope(); err != nil {
		t.Fatalf("OpenScope: %v", err)
	}
	if err := c.CloseScope(); err != nil {
		t.Fatalf("CloseScope: %v", err)
	}
}
