package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/roach88/diel/internal/querysql"
)

// ErrSocketClosed is returned for requests pending when the connection
// goes away.
var ErrSocketClosed = errors.New("socket closed")

// Socket is a SQLite database on a socket server, reached over a
// websocket. Requests are matched to replies by id, so several may be
// in flight.
type Socket struct {
	conn   *websocket.Conn
	dbName string
	logger *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan Reply
	err     error
	done    chan struct{}
}

// DialSocket connects to the server at url and opens dbName on it.
func DialSocket(ctx context.Context, url, dbName string, logger *slog.Logger) (*Socket, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	s := &Socket{
		conn:    conn,
		dbName:  dbName,
		logger:  logger.With("socket", url, "db", dbName),
		pending: make(map[string]chan Reply),
		done:    make(chan struct{}),
	}
	go s.readLoop()

	if _, err := s.roundTrip(ctx, ActionOpen, ""); err != nil {
		s.Close()
		return nil, fmt.Errorf("open %s: %w", dbName, err)
	}
	return s, nil
}

// Dialect is SQLite.
func (s *Socket) Dialect() querysql.Dialect { return querysql.SQLite }

// Exec sends stmts as one script and waits for the server.
func (s *Socket) Exec(ctx context.Context, stmts ...string) error {
	_, err := s.roundTrip(ctx, ActionExec, script(stmts))
	return err
}

// Post sends stmts as one script without waiting. Failures are only
// logged when the reply arrives.
func (s *Socket) Post(stmts ...string) error {
	return s.write(NewRequest(uuid.NewString(), ActionExec, s.dbName, script(stmts)))
}

// Cleanup registers stmts to run on the server when this connection
// closes. It does not wait for the server.
func (s *Socket) Cleanup(stmts ...string) error {
	return s.write(NewRequest(uuid.NewString(), ActionCleanup, s.dbName, script(stmts)))
}

// Query runs query on the server.
func (s *Socket) Query(ctx context.Context, query string) (*querysql.Result, error) {
	reply, err := s.roundTrip(ctx, ActionRun, query)
	if err != nil {
		return nil, err
	}
	if reply.Results == nil {
		return &querysql.Result{Rows: [][]any{}}, nil
	}
	return reply.Results, nil
}

// Close closes the connection; pending requests fail with ErrSocketClosed.
func (s *Socket) Close() error {
	s.writeMu.Lock()
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()
	return s.conn.Close()
}

func script(stmts []string) string {
	return strings.Join(stmts, ";\n")
}

func (s *Socket) write(req Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Socket) roundTrip(ctx context.Context, action, sql string) (Reply, error) {
	id := uuid.NewString()
	ch := make(chan Reply, 1)

	s.mu.Lock()
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return Reply{}, err
	}
	s.pending[id] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	if err := s.write(NewRequest(id, action, s.dbName, sql)); err != nil {
		return Reply{}, err
	}

	select {
	case reply := <-ch:
		if reply.Error != "" {
			return Reply{}, errors.New(reply.Error)
		}
		return reply, nil
	case <-s.done:
		return Reply{}, s.closedErr()
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

func (s *Socket) closedErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Socket) readLoop() {
	defer close(s.done)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			s.err = fmt.Errorf("%w: %v", ErrSocketClosed, err)
			s.mu.Unlock()
			return
		}
		reply, err := DecodeReply(data)
		if err != nil {
			s.logger.Warn("dropping reply", "error", err)
			continue
		}

		s.mu.Lock()
		ch, ok := s.pending[reply.ID]
		s.mu.Unlock()
		if !ok {
			if reply.Error != "" {
				s.logger.Warn("posted statement failed", "id", reply.ID, "error", reply.Error)
			}
			continue
		}
		ch <- reply
	}
}
