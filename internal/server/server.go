// Package server implements the socket server side of the remote
// protocol: a websocket endpoint that opens named SQLite databases and
// runs the statements and queries clients send to them.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/roach88/diel/internal/querysql"
	"github.com/roach88/diel/internal/remote"
)

// Server serves the socket protocol. Databases are shared by name across
// connections and live until Close.
type Server struct {
	root     string
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu  sync.Mutex
	dbs map[string]*remote.Worker
}

// Option configures a Server.
type Option func(*Server)

// WithRoot stores databases as <dir>/<dbName>.db. Without it databases
// are in memory.
func WithRoot(dir string) Option {
	return func(s *Server) { s.root = dir }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a Server.
func New(opts ...Option) *Server {
	s := &Server{
		logger: slog.Default(),
		dbs:    make(map[string]*remote.Worker),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServeHTTP upgrades the request and serves requests until the client
// disconnects. Requests on one connection are answered in order.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	ctx := r.Context()
	log := s.logger.With("peer", r.RemoteAddr)
	log.Debug("client connected")

	sess := &session{}
	defer s.finish(sess, log)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("client gone", "error", err)
			}
			return
		}

		var req remote.Request
		if err := json.Unmarshal(data, &req); err != nil {
			s.reply(conn, log, "", nil, fmt.Errorf("invalid request: %w", err))
			continue
		}
		if err := s.handle(ctx, sess, req, conn, log); err != nil {
			log.Warn("write failed", "error", err)
			return
		}
	}
}

// session is the state of one client connection.
type session struct {
	db      *remote.Worker
	cleanup []string
}

// finish runs the statements the client registered for clean-up.
func (s *Server) finish(sess *session, log *slog.Logger) {
	if sess.db == nil || len(sess.cleanup) == 0 {
		return
	}
	if err := sess.db.Exec(context.Background(), sess.cleanup...); err != nil {
		log.Warn("clean-up failed", "error", err)
		return
	}
	log.Debug("clean-up done", "statements", len(sess.cleanup))
}

func (s *Server) handle(ctx context.Context, sess *session, req remote.Request, conn *websocket.Conn, log *slog.Logger) error {
	if req.Action == remote.ActionOpen {
		opened, err := s.open(req.DBName)
		if err == nil {
			sess.db = opened
		}
		return s.reply(conn, log, req.ID, nil, err)
	}

	if sess.db == nil {
		return s.reply(conn, log, req.ID, nil, errors.New("no database open"))
	}
	sql, err := req.Statement()
	if err != nil {
		return s.reply(conn, log, req.ID, nil, err)
	}

	switch req.Action {
	case remote.ActionRun:
		res, err := sess.db.Query(ctx, sql)
		return s.reply(conn, log, req.ID, res, err)
	case remote.ActionExec:
		return s.reply(conn, log, req.ID, nil, sess.db.Exec(ctx, sql))
	case remote.ActionCleanup:
		sess.cleanup = append(sess.cleanup, sql)
		return s.reply(conn, log, req.ID, nil, nil)
	}
	return s.reply(conn, log, req.ID, nil, fmt.Errorf("unknown action %q", req.Action))
}

func (s *Server) reply(conn *websocket.Conn, log *slog.Logger, id string, res *querysql.Result, rerr error) error {
	if rerr != nil {
		log.Debug("request failed", "id", id, "error", rerr)
	}
	data, err := remote.EncodeReply(id, res, rerr)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// open returns the database named name, opening it on first use.
func (s *Server) open(name string) (*remote.Worker, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("dbName is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if db, ok := s.dbs[name]; ok {
		return db, nil
	}
	dsn := ""
	if s.root != "" {
		dsn = filepath.Join(s.root, filepath.Base(name)+".db")
	}
	db, err := remote.OpenWorker(dsn)
	if err != nil {
		return nil, err
	}
	s.dbs[name] = db
	s.logger.Info("database opened", "db", name, "path", dsn)
	return db, nil
}

// Close closes every open database.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for name, db := range s.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
		delete(s.dbs, name)
	}
	return errors.Join(errs...)
}
