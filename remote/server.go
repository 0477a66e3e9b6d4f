// Package remote exposes the unit compiler as a network service.
//
// A client opens a TCP connection and exchanges CBOR frames with the
// server. Each connection owns one session: its namespace environment
// lives as long as the connection does. Requests of one session are
// processed strictly in order; sessions run concurrently.
//
// Session states:
//
//	Idle -> Compiling -> Responding -> Idle
//	                  -> Failing    -> Idle
//
// A dropped connection cancels its session. A compile already running is
// allowed to finish so the cache still receives the artifact, but its
// response is discarded.
package remote

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/jitlink/compiler"
	"github.com/wippyai/jitlink/errors"
	"github.com/wippyai/jitlink/ir"
	"github.com/wippyai/jitlink/session"
)

// State is the state of a remote session.
type State int32

const (
	Idle State = iota
	Compiling
	Responding
	Failing
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Compiling:
		return "compiling"
	case Responding:
		return "responding"
	case Failing:
		return "failing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// transitions lists the legal moves of the session state machine.
var transitions = map[State][]State{
	Idle:       {Compiling, Closed},
	Compiling:  {Responding, Failing, Closed},
	Responding: {Idle, Closed},
	Failing:    {Idle, Closed},
}

// Session is the server side of one connection.
type Session struct {
	conn     net.Conn
	sess     *session.Session
	started  time.Time
	ID       string
	requests atomic.Int64
	state    atomic.Int32

	// disconnected is set once the client side is gone; a compile may
	// still be finishing.
	disconnected atomic.Bool
}

// State returns the current state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Namespace returns the session's current namespace.
func (s *Session) Namespace() string {
	return s.sess.Namespace()
}

func (s *Session) transition(to State) error {
	from := s.State()
	for _, next := range transitions[from] {
		if next == to && s.state.CompareAndSwap(int32(from), int32(to)) {
			return nil
		}
	}
	return fmt.Errorf("session %s: illegal transition %s -> %s", s.ID, from, to)
}

// SessionInfo describes a live session.
type SessionInfo struct {
	Started   time.Time `json:"started"`
	ID        string    `json:"id"`
	Remote    string    `json:"remote"`
	Namespace string    `json:"namespace"`
	State     string    `json:"state"`
	Requests  int64     `json:"requests"`

	// Disconnected sessions are draining an in-flight compile.
	Disconnected bool `json:"disconnected,omitempty"`
}

// ServerConfig configures a Server.
type ServerConfig struct {
	Compiler *compiler.Compiler
	Preamble *compiler.Preamble
	Metrics  *Metrics
	Logger   *zap.Logger
	// Target is used for requests that do not name one.
	Target ir.TargetSpec
	// QueueDepth bounds requests read ahead of the one being processed.
	QueueDepth int
}

// Server is the compilation service.
type Server struct {
	compiler *compiler.Compiler
	preamble *compiler.Preamble
	metrics  *Metrics
	log      *zap.Logger
	sessions map[string]*Session
	target   ir.TargetSpec
	queue    int
	mu       sync.Mutex
}

// NewServer creates a server.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		compiler: cfg.Compiler,
		preamble: cfg.Preamble,
		metrics:  cfg.Metrics,
		log:      cfg.Logger,
		sessions: make(map[string]*Session),
		target:   cfg.Target.Normalize(),
		queue:    cfg.QueueDepth,
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.queue <= 0 {
		s.queue = 16
	}
	return s
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics { return s.metrics }

// ListenAndServe listens on addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done. It closes ln and
// every open connection before returning.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)
	s.log.Info("Compilation service listening", zap.String("addr", ln.Addr().String()))

	g.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})
	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("accept: %w", err)
			}
			g.Go(func() error {
				s.handle(ctx, conn)
				return nil
			})
		}
	})

	err := g.Wait()
	if stderrors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

// Sessions lists live sessions ordered by start time.
func (s *Server) Sessions() []SessionInfo {
	s.mu.Lock()
	out := make([]SessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, SessionInfo{
			Started:   sess.started,
			ID:        sess.ID,
			Remote:    sess.conn.RemoteAddr().String(),
			Namespace: sess.Namespace(),
			State:     sess.State().String(),
			Requests:  sess.requests.Load(),

			Disconnected: sess.disconnected.Load(),
		})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out
}

func (s *Server) open(conn net.Conn) (*Session, error) {
	sess, err := session.New(s.compiler, s.preamble, s.target)
	if err != nil {
		return nil, err
	}
	rs := &Session{
		conn:    conn,
		sess:    sess,
		started: time.Now(),
		ID:      uuid.NewString(),
	}
	s.mu.Lock()
	s.sessions[rs.ID] = rs
	s.mu.Unlock()
	s.metrics.Sessions.Inc()
	return rs, nil
}

func (s *Server) close(rs *Session) {
	rs.state.Store(int32(Closed))
	s.mu.Lock()
	delete(s.sessions, rs.ID)
	s.mu.Unlock()
	s.metrics.Sessions.Dec()
	_ = rs.conn.Close()
}

// handle runs one connection: a reader feeding a sequential processor.
func (s *Server) handle(ctx context.Context, conn net.Conn) {
	rs, err := s.open(conn)
	if err != nil {
		s.log.Error("Failed to open session", zap.Error(err))
		_ = conn.Close()
		return
	}
	log := s.log.With(zap.String("session", rs.ID), zap.String("remote", conn.RemoteAddr().String()))
	log.Debug("Session opened")
	defer func() {
		s.close(rs)
		log.Debug("Session closed")
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	// The reader answers malformed frames itself, so writes are serialized.
	var wmu sync.Mutex
	enc := newEncoder(conn)
	write := func(resp *Response) error {
		wmu.Lock()
		defer wmu.Unlock()
		return enc.Encode(resp)
	}

	requests := make(chan *Request, s.queue)
	go func() {
		defer close(requests)
		defer cancel()
		defer rs.disconnected.Store(true)
		dec := newDecoder(conn)
		for {
			var req Request
			if err := dec.Decode(&req); err != nil {
				if !stderrors.Is(err, io.EOF) && !stderrors.Is(err, net.ErrClosed) && ctx.Err() == nil {
					log.Warn("Malformed frame, closing session", zap.Error(err))
					s.metrics.Requests.WithLabelValues("invalid", LabelError).Inc()
					_ = write(errorResponse(0, errors.Transport(errors.KindProtocolViolation, "malformed frame", err)))
				}
				return
			}
			select {
			case requests <- &req:
			case <-ctx.Done():
				return
			}
		}
	}()

	for req := range requests {
		if ctx.Err() != nil {
			log.Debug("Dropping queued request of cancelled session", zap.Uint64("id", req.ID), zap.String("op", req.Op))
			return
		}
		resp := s.process(ctx, rs, req)
		if ctx.Err() != nil {
			log.Debug("Discarding response of cancelled session", zap.Uint64("id", req.ID), zap.String("op", req.Op))
			return
		}
		if err := write(resp); err != nil {
			log.Debug("Failed to write response", zap.Error(err))
			return
		}
		if err := rs.transition(Idle); err != nil {
			log.Error("Session state", zap.Error(err))
			return
		}
	}
}

// process runs one request through the state machine. The compile itself
// ignores cancellation so an interrupted session still fills the cache.
func (s *Server) process(ctx context.Context, rs *Session, req *Request) *Response {
	rs.requests.Add(1)
	start := time.Now()
	if err := rs.transition(Compiling); err != nil {
		return errorResponse(req.ID, errors.Transport(errors.KindProtocolViolation, err.Error(), nil))
	}

	resp, err := s.dispatch(context.WithoutCancel(ctx), rs, req)
	result := LabelOK
	if err != nil {
		result = LabelError
		resp = errorResponse(req.ID, err)
		_ = rs.transition(Failing)
	} else {
		_ = rs.transition(Responding)
	}
	s.metrics.Requests.WithLabelValues(req.Op, result).Inc()
	s.metrics.Duration.WithLabelValues(req.Op).Observe(time.Since(start).Seconds())
	return resp
}

func (s *Server) dispatch(ctx context.Context, rs *Session, req *Request) (*Response, error) {
	switch req.Op {
	case OpPing:
		return &Response{Op: OpPong, ID: req.ID, NS: rs.Namespace()}, nil
	case OpCompile, OpRequire:
	default:
		return nil, errors.Transport(errors.KindProtocolViolation, fmt.Sprintf("unknown op %q", req.Op), nil)
	}

	if req.Target != nil && !rs.sess.Target().Serves(*req.Target) {
		return nil, errors.InvalidInput(errors.PhaseCompile, "session compiles for %s, request asks for %s", rs.sess.Target(), req.Target.Normalize())
	}
	rs.sess.SwitchTo(req.NS)

	if req.Op == OpCompile {
		if req.Module == "" {
			return nil, errors.InvalidInput(errors.PhaseCompile, "compile request has no module name")
		}
		c, err := rs.sess.Compile(ctx, req.Module, req.Source)
		if err != nil {
			return nil, err
		}
		return &Response{
			Op:          OpCompiled,
			ID:          req.ID,
			Artifact:    c.Artifact.Bytes,
			EntrySymbol: c.Artifact.EntrySymbol,
			Hash:        c.Artifact.Hash,
			Module:      c.Module,
			NS:          rs.Namespace(),
		}, nil
	}

	prefix := req.Module
	if prefix == "" {
		prefix = rs.Namespace()
	}
	compiled, skipped, err := rs.sess.Require(ctx, prefix, req.Source)
	if err != nil {
		return nil, err
	}
	resp := &Response{Op: OpRequired, ID: req.ID, NS: rs.Namespace(), Skipped: skipped}
	for _, c := range compiled {
		resp.Modules = append(resp.Modules, Module{
			Name:        c.Module,
			EntrySymbol: c.Artifact.EntrySymbol,
			Hash:        c.Artifact.Hash,
			Artifact:    c.Artifact.Bytes,
		})
	}
	return resp, nil
}
