package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/wippyai/jitlink/artifact"
	"github.com/wippyai/jitlink/cache"
	"github.com/wippyai/jitlink/compiler"
	"github.com/wippyai/jitlink/engine"
	"github.com/wippyai/jitlink/env"
	"github.com/wippyai/jitlink/errors"
	"github.com/wippyai/jitlink/ir"
	"github.com/wippyai/jitlink/native"
	"github.com/wippyai/jitlink/session"
)

type service struct {
	server   *Server
	compiler *compiler.Compiler
	preamble *compiler.Preamble
	cache    *cache.Cache
	addr     string
}

func newService(t *testing.T) *service {
	t.Helper()
	return newServiceFor(t, ir.Host(), nil)
}

// newServiceFor serves target. Non-local targets get a cross backend; wrap,
// when set, decorates the backend.
func newServiceFor(t *testing.T, target ir.TargetSpec, wrap func(compiler.Backend) compiler.Backend) *service {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	c, err := cache.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	v := compiler.NewInterpreterValidator(ctx)
	preamble := compiler.NewPreamble(compiler.DefaultPreamble)
	comp := compiler.New(c)

	var backend compiler.Backend = compiler.NewLocal(preamble, v, 0)
	if !target.IsLocal() {
		cross, err := compiler.NewCross(ctx, target, preamble, 0)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { cross.Close(context.Background()) })
		backend = cross
	}
	if wrap != nil {
		backend = wrap(backend)
	}
	comp.AddBackend(backend)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := NewServer(ServerConfig{Compiler: comp, Preamble: preamble, Target: target})
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Serve: %v", err)
		}
		v.Close(context.Background())
	})
	return &service{server: srv, compiler: comp, preamble: preamble, cache: c, addr: ln.Addr().String()}
}

// gatedBackend holds every build until release is closed.
type gatedBackend struct {
	compiler.Backend
	started chan struct{}
	release chan struct{}
	builds  atomic.Int64
	once    sync.Once
}

func (b *gatedBackend) Build(ctx context.Context, unit *ir.Unit) (*artifact.Artifact, error) {
	b.builds.Add(1)
	b.once.Do(func() { close(b.started) })
	<-b.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.Backend.Build(ctx, unit)
}

func newEngine(t *testing.T, out *bytes.Buffer) *engine.Engine {
	t.Helper()
	ctx := context.Background()
	eng, err := engine.New(ctx, &engine.Config{
		Catalog: native.Default(native.Options{Out: out, Clock: clock.NewMock()}),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { eng.Close(ctx) })
	return eng
}

func (s *service) executor(t *testing.T) (*Executor, *Client) {
	t.Helper()
	client, err := Dial(context.Background(), s.addr, WithTimeout(10*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Close() })
	return NewExecutor(client, newEngine(t, &bytes.Buffer{}), ""), client
}

// fakeServer answers requests on one end of a pipe with respond.
func fakeServer(t *testing.T, respond func(conn net.Conn, reqs <-chan *Request)) net.Conn {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	reqs := make(chan *Request, 16)
	go func() {
		defer close(reqs)
		dec := newDecoder(serverConn)
		for {
			var req Request
			if err := dec.Decode(&req); err != nil {
				return
			}
			reqs <- &req
		}
	}()
	go respond(serverConn, reqs)
	t.Cleanup(func() { serverConn.Close() })
	return clientConn
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 5s")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRemote_MatchesLocal(t *testing.T) {
	svc := newService(t)
	x, _ := svc.executor(t)

	ctx := context.Background()
	local, err := session.New(svc.compiler, svc.preamble, ir.Host())
	if err != nil {
		t.Fatal(err)
	}
	localEngine := newEngine(t, &bytes.Buffer{})
	localFrame := env.NewFrame(localEngine.Env(), env.DefaultNS)

	tests := []struct {
		src  string
		want int64
	}{
		{"(+ 1 2)", 3},
		{"(fact 5)", 120},
		{"(defn sq [x] (* x x))", 0},
		{"(sq 7)", 49},
		{"(def limit 10)", 0},
		{"(native/max limit (sq 3))", 10},
		{"(let [a 2] (if (even? a) (native/abs -4) 0))", 4},
	}
	for i, tt := range tests {
		got, err := x.Eval(ctx, tt.src)
		if err != nil {
			t.Fatalf("remote %s: %v", tt.src, err)
		}

		module := x.prefix + "$local" + string(rune('a'+i))
		c, err := local.Compile(ctx, module, tt.src)
		if err != nil {
			t.Fatalf("local %s: %v", tt.src, err)
		}
		ep, err := localEngine.Load(env.WithFrame(ctx, localFrame), c.Artifact, module)
		if err != nil {
			t.Fatalf("local load %s: %v", tt.src, err)
		}
		if got != ep.Result {
			t.Errorf("%s: remote %d, local %d", tt.src, got, ep.Result)
		}
		if tt.want != 0 && got != tt.want {
			t.Errorf("%s = %d, want %d", tt.src, got, tt.want)
		}
	}
}

func TestRemote_AliasAcrossRequests(t *testing.T) {
	svc := newService(t)
	x, _ := svc.executor(t)
	ctx := context.Background()

	for _, src := range []string{"(in-ns 'A)", "(def x 1)", "(in-ns 'user)", "(alias 'a 'A)"} {
		if _, err := x.Eval(ctx, src); err != nil {
			t.Fatalf("%s: %v", src, err)
		}
	}
	got, err := x.Eval(ctx, "a/x")
	if err != nil {
		t.Fatalf("a/x: %v", err)
	}
	if got != 1 {
		t.Errorf("a/x = %d, want 1", got)
	}
	if x.Namespace() != "user" {
		t.Errorf("namespace = %s", x.Namespace())
	}
}

func TestRemote_Require(t *testing.T) {
	svc := newService(t)
	x, _ := svc.executor(t)
	ctx := context.Background()

	src := "(ns app.core) (defn twice [n] (* 2 n)) (def base 21)"
	skipped, err := x.Require(ctx, src)
	if err != nil {
		t.Fatalf("Require: %v", err)
	}
	if len(skipped) != 0 {
		t.Errorf("skipped = %v", skipped)
	}
	if got, err := x.Eval(ctx, "(twice base)"); err != nil || got != 42 {
		t.Errorf("(twice base) = %d, %v", got, err)
	}

	skipped, err = x.Require(ctx, "(ns app.core) (defn twice [n] (* 2 n)) (def base 5)")
	if err != nil {
		t.Fatalf("second Require: %v", err)
	}
	if diff := cmp.Diff([]string{"app.core/twice"}, skipped); diff != "" {
		t.Errorf("skipped mismatch (-want +got):\n%s", diff)
	}
	if got, err := x.Eval(ctx, "(twice base)"); err != nil || got != 10 {
		t.Errorf("(twice base) = %d, %v", got, err)
	}
}

func TestRemote_CrossTarget(t *testing.T) {
	target := ir.TargetSpec{Arch: runtime.GOARCH, Sysroot: "/opt/sysroots/dev", ABIFlags: []string{"lp64"}}
	svc := newServiceFor(t, target, nil)
	x, client := svc.executor(t)
	ctx := context.Background()

	v, err := x.Eval(ctx, "(+ 1 2)")
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if v != 3 {
		t.Errorf("Eval = %d, want 3", v)
	}
	if _, err := x.Require(ctx, "(ns app.x) (defn twice [n] (* 2 n))"); err != nil {
		t.Fatalf("Require: %v", err)
	}
	if v, err := x.Eval(ctx, "(twice 21)"); err != nil || v != 42 {
		t.Errorf("Eval twice = %d, %v", v, err)
	}

	stats, err := svc.cache.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if len(stats) != 1 || stats[0].Target != target.Key() {
		t.Errorf("cache stats = %+v, want one partition %s", stats, target.Key())
	}

	other := ir.TargetSpec{Arch: runtime.GOARCH, Sysroot: "/opt/other"}
	if _, err := client.Compile(ctx, "", "m", "1", &other); !errors.IsCompile(err, errors.KindInvalidInput) {
		t.Errorf("mismatched sysroot: err = %v, want invalid input", err)
	}
}

func TestServer_DisconnectDuringCompile(t *testing.T) {
	gate := &gatedBackend{started: make(chan struct{}), release: make(chan struct{})}
	svc := newServiceFor(t, ir.Host(), func(b compiler.Backend) compiler.Backend {
		gate.Backend = b
		return gate
	})

	client, err := Dial(context.Background(), svc.addr, WithTimeout(10*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	errc := make(chan error, 1)
	go func() {
		_, err := client.Compile(context.Background(), "", "m", "(+ 40 2)", nil)
		errc <- err
	}()

	<-gate.started
	client.Close()
	if err := <-errc; !errors.IsTransport(err, errors.KindDisconnected) {
		t.Errorf("err = %v, want disconnected", err)
	}
	// the session stays until the compile it already started returns
	eventually(t, func() bool {
		sessions := svc.server.Sessions()
		return len(sessions) == 1 && sessions[0].Disconnected && sessions[0].State == Compiling.String()
	})

	close(gate.release)
	eventually(t, func() bool { return len(svc.server.Sessions()) == 0 })
	eventually(t, func() bool {
		stats, err := svc.cache.Stats()
		return err == nil && len(stats) == 1 && stats[0].Entries == 1
	})
	ok := testutil.ToFloat64(svc.server.Metrics().Requests.WithLabelValues(OpCompile, LabelOK))
	if ok != 1 {
		t.Errorf("completed compiles = %v, want 1", ok)
	}
}

func TestServer_DropsQueuedRequestsAfterDisconnect(t *testing.T) {
	gate := &gatedBackend{started: make(chan struct{}), release: make(chan struct{})}
	svc := newServiceFor(t, ir.Host(), func(b compiler.Backend) compiler.Backend {
		gate.Backend = b
		return gate
	})

	conn, err := net.Dial("tcp", svc.addr)
	if err != nil {
		t.Fatal(err)
	}
	enc := newEncoder(conn)
	for i, src := range []string{"(+ 1 1)", "(+ 2 2)"} {
		if err := enc.Encode(&Request{Op: OpCompile, ID: uint64(i + 1), Module: "m", Source: src}); err != nil {
			t.Fatal(err)
		}
	}
	<-gate.started
	conn.Close()
	eventually(t, func() bool {
		sessions := svc.server.Sessions()
		return len(sessions) == 1 && sessions[0].Disconnected
	})

	close(gate.release)
	eventually(t, func() bool { return len(svc.server.Sessions()) == 0 })
	if n := gate.builds.Load(); n != 1 {
		t.Errorf("builds = %d, want only the dispatched request", n)
	}
}

func TestRemote_CompileError(t *testing.T) {
	svc := newService(t)
	x, client := svc.executor(t)
	ctx := context.Background()

	_, err := x.Eval(ctx, "(+ 1")
	if !errors.IsCompile(err, errors.KindSyntax) {
		t.Fatalf("err = %v, want compile syntax error", err)
	}
	_, err = x.Eval(ctx, "(undefined-fn 1)")
	if !errors.IsCompile(err, errors.KindSemantic) {
		t.Fatalf("err = %v, want compile semantic error", err)
	}
	// the session survives a failed request
	if _, err := client.Ping(ctx); err != nil {
		t.Fatalf("Ping after failure: %v", err)
	}
	if got, err := x.Eval(ctx, "(inc 1)"); err != nil || got != 2 {
		t.Errorf("(inc 1) = %d, %v", got, err)
	}
	if n := testutil.ToFloat64(svc.server.Metrics().Requests.WithLabelValues(OpCompile, LabelError)); n != 2 {
		t.Errorf("compile errors = %v, want 2", n)
	}
}

func TestRemote_Pipelined(t *testing.T) {
	svc := newService(t)
	client, err := Dial(context.Background(), svc.addr)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	ctx := context.Background()
	const n = 8
	var wg sync.WaitGroup
	hashes := make([]string, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			src := "(+ 1 " + string(rune('0'+i)) + ")"
			resp, err := client.Compile(ctx, "", "p", src, nil)
			if err == nil {
				hashes[i] = resp.Hash
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i := range n {
		if errs[i] != nil {
			t.Fatalf("request %d: %v", i, errs[i])
		}
		if seen[hashes[i]] {
			t.Errorf("request %d got another request's artifact", i)
		}
		seen[hashes[i]] = true
	}
}

func TestClient_OutOfOrderResponses(t *testing.T) {
	received := make(chan struct{})
	conn := fakeServer(t, func(conn net.Conn, reqs <-chan *Request) {
		a := <-reqs
		close(received)
		b := <-reqs
		enc := newEncoder(conn)
		_ = enc.Encode(&Response{Op: OpPong, ID: b.ID, NS: "second"})
		_ = enc.Encode(&Response{Op: OpPong, ID: a.ID, NS: "first"})
	})
	client := NewClient(conn)
	defer client.Close()

	ctx := context.Background()
	first := make(chan string, 1)
	go func() {
		ns, err := client.Ping(ctx)
		if err != nil {
			ns = err.Error()
		}
		first <- ns
	}()
	<-received
	ns, err := client.Ping(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ns != "second" {
		t.Errorf("second ping = %q", ns)
	}
	if got := <-first; got != "first" {
		t.Errorf("first ping = %q", got)
	}
}

func TestClient_Failures(t *testing.T) {
	tests := []struct {
		name    string
		respond func(conn net.Conn, reqs <-chan *Request)
		opts    []ClientOption
		kind    errors.Kind
	}{
		{
			name:    "timeout",
			respond: func(conn net.Conn, reqs <-chan *Request) { <-reqs },
			opts:    []ClientOption{WithTimeout(50 * time.Millisecond)},
			kind:    errors.KindTimeout,
		},
		{
			name: "disconnect",
			respond: func(conn net.Conn, reqs <-chan *Request) {
				<-reqs
				conn.Close()
			},
			kind: errors.KindDisconnected,
		},
		{
			name: "unknown id",
			respond: func(conn net.Conn, reqs <-chan *Request) {
				req := <-reqs
				_ = newEncoder(conn).Encode(&Response{Op: OpPong, ID: req.ID + 100})
			},
			kind: errors.KindProtocolViolation,
		},
		{
			name: "garbage",
			respond: func(conn net.Conn, reqs <-chan *Request) {
				<-reqs
				_, _ = conn.Write([]byte{0xff})
			},
			kind: errors.KindProtocolViolation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(fakeServer(t, tt.respond), tt.opts...)
			defer client.Close()

			_, err := client.Ping(context.Background())
			if !errors.IsTransport(err, tt.kind) {
				t.Fatalf("err = %v, want transport %s", err, tt.kind)
			}
		})
	}
}

func TestClient_Closed(t *testing.T) {
	client := NewClient(fakeServer(t, func(net.Conn, <-chan *Request) {}))
	client.Close()
	if _, err := client.Ping(context.Background()); !errors.IsTransport(err, errors.KindDisconnected) {
		t.Fatalf("err = %v, want disconnected", err)
	}
}

func TestClient_LateResponseIgnored(t *testing.T) {
	conn := fakeServer(t, func(conn net.Conn, reqs <-chan *Request) {
		enc := newEncoder(conn)
		first := <-reqs
		second := <-reqs
		_ = enc.Encode(&Response{Op: OpPong, ID: first.ID, NS: "late"})
		_ = enc.Encode(&Response{Op: OpPong, ID: second.ID, NS: "user"})
	})
	client := NewClient(conn, WithTimeout(50*time.Millisecond))
	defer client.Close()

	ctx := context.Background()
	if _, err := client.Ping(ctx); !errors.IsTransport(err, errors.KindTimeout) {
		t.Fatalf("first ping: err = %v, want timeout", err)
	}
	ns, err := client.Ping(ctx)
	if err != nil {
		t.Fatalf("second ping: %v", err)
	}
	if ns != "user" {
		t.Errorf("namespace = %q, want the second reply", ns)
	}
}

func TestClient_AbandonedBounded(t *testing.T) {
	client := NewClient(fakeServer(t, func(net.Conn, <-chan *Request) {}))
	last := uint64(maxAbandoned + 10)
	for id := uint64(1); id <= last; id++ {
		client.mu.Lock()
		client.pending[id] = make(chan *Response, 1)
		client.mu.Unlock()
		client.forget(id)
	}

	client.mu.Lock()
	n := len(client.abandoned)
	_, oldest := client.abandoned[1]
	_, newest := client.abandoned[last]
	client.mu.Unlock()
	if n != maxAbandoned || oldest || !newest {
		t.Errorf("abandoned: len %d, oldest kept %v, newest kept %v", n, oldest, newest)
	}

	client.Close()
	client.mu.Lock()
	n = len(client.abandoned)
	client.mu.Unlock()
	if n != 0 {
		t.Errorf("abandoned after close = %d, want 0", n)
	}
}

func TestServer_MalformedFrame(t *testing.T) {
	svc := newService(t)
	conn, err := net.Dial("tcp", svc.addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	if _, err := conn.Write([]byte{0xff}); err != nil {
		t.Fatal(err)
	}
	dec := newDecoder(conn)
	var resp Response
	if err := dec.Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !errors.IsTransport(resp.Err(), errors.KindProtocolViolation) {
		t.Errorf("response = %+v", resp)
	}
	if err := dec.Decode(&resp); err == nil {
		t.Error("connection should be closed after a malformed frame")
	}
}

func TestServer_UnknownOp(t *testing.T) {
	svc := newService(t)
	client, err := Dial(context.Background(), svc.addr)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	_, err = client.do(context.Background(), &Request{Op: "frobnicate"})
	if !errors.IsTransport(err, errors.KindProtocolViolation) {
		t.Fatalf("err = %v", err)
	}
}

func TestServer_Sessions(t *testing.T) {
	svc := newService(t)
	x, client := svc.executor(t)
	ctx := context.Background()
	if _, err := x.Eval(ctx, "(in-ns 'app)"); err != nil {
		t.Fatal(err)
	}

	// the session turns idle once the response is written
	eventually(t, func() bool {
		sessions := svc.server.Sessions()
		return len(sessions) == 1 && sessions[0].State == Idle.String()
	})
	s := svc.server.Sessions()[0]
	if s.Namespace != "app" || s.Requests != 1 || s.ID == "" {
		t.Errorf("session = %+v", s)
	}

	client.Close()
	eventually(t, func() bool { return len(svc.server.Sessions()) == 0 })
	if g := testutil.ToFloat64(svc.server.Metrics().Sessions); g != 0 {
		t.Errorf("sessions gauge = %v", g)
	}
}

func TestSession_Transitions(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{Idle, Compiling, true},
		{Idle, Responding, false},
		{Compiling, Responding, true},
		{Compiling, Failing, true},
		{Compiling, Idle, false},
		{Responding, Idle, true},
		{Failing, Idle, true},
		{Failing, Responding, false},
		{Closed, Idle, false},
	}
	for _, tt := range tests {
		s := &Session{ID: "s"}
		s.state.Store(int32(tt.from))
		err := s.transition(tt.to)
		if (err == nil) != tt.ok {
			t.Errorf("%s -> %s: err = %v", tt.from, tt.to, err)
		}
		if tt.ok && s.State() != tt.to {
			t.Errorf("%s -> %s: state = %s", tt.from, tt.to, s.State())
		}
	}
}

func TestAdminHandler(t *testing.T) {
	svc := newService(t)
	x, _ := svc.executor(t)
	if _, err := x.Eval(context.Background(), "(+ 1 2)"); err != nil {
		t.Fatal(err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(svc.server.Metrics().PrometheusCollectors()...)
	ts := httptest.NewServer(NewAdminHandler(AdminConfig{Server: svc.server, Cache: svc.cache, Gatherer: reg}))
	defer ts.Close()

	get := func(path string) *http.Response {
		t.Helper()
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s: %s", path, resp.Status)
		}
		return resp
	}

	resp := get("/sessions")
	var sessions []SessionInfo
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if len(sessions) != 1 {
		t.Errorf("sessions = %+v", sessions)
	}

	resp = get("/cache")
	var stats struct {
		Targets []cache.TargetStats `json:"targets"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if len(stats.Targets) != 1 || stats.Targets[0].Entries != 1 {
		t.Errorf("cache stats = %+v", stats.Targets)
	}

	get("/healthz").Body.Close()
	get("/metrics").Body.Close()
}
