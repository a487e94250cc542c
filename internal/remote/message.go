package remote

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/diel/internal/ir"
	"github.com/roach88/diel/internal/querysql"
	"github.com/roach88/diel/internal/report"
)

// MessageKind is the protocol action a Message asks for.
type MessageKind string

const (
	// DefineRelations creates tables, views and triggers at setup.
	DefineRelations MessageKind = "define_relations"
	// UpdateRelation replaces the contents of a shipped relation.
	UpdateRelation MessageKind = "update_relation"
	// ShipRelation asks the engine for a relation's rows.
	ShipRelation MessageKind = "ship_relation"
	// CleanUpQueries drops what this session defined. Remotes that are
	// Cleaners defer the statements until the session ends.
	CleanUpQueries MessageKind = "clean_up_queries"
	// ExecStatements runs arbitrary statements.
	ExecStatements MessageKind = "exec"
	// RunQuery runs an arbitrary query.
	RunQuery MessageKind = "query"
)

// Message is one request to a remote engine.
type Message struct {
	ID              uuid.UUID   `json:"id"`
	Kind            MessageKind `json:"kind"`
	RequestTimestep int64       `json:"requestTimestep"`
	Relation        string      `json:"relation,omitempty"`
	SQL             []string    `json:"sql"`
	// AwaitAck makes Send wait for the engine. Without it, remotes that
	// can post statements return as soon as they are sent.
	AwaitAck bool `json:"awaitAck"`
}

// NewMessage builds a message with a fresh id that waits for its ack.
func NewMessage(kind MessageKind, relation string, requestTimestep int64, sql ...string) Message {
	return Message{
		ID:              uuid.New(),
		Kind:            kind,
		RequestTimestep: requestTimestep,
		Relation:        relation,
		SQL:             sql,
		AwaitAck:        true,
	}
}

// ShipRelationMessage asks for every row of relation.
func ShipRelationMessage(relation string, requestTimestep int64) Message {
	return NewMessage(ShipRelation, relation, requestTimestep, "SELECT * FROM "+relation)
}

// Conn is the runtime's handle on one remote engine. Messages sent
// through it are logged and their failures tagged with the engine id.
type Conn struct {
	ID     ir.DbID
	remote Remote
	logger *slog.Logger

	mu sync.Mutex // held by InOrder
}

// NewConn wraps r as engine id.
func NewConn(id ir.DbID, r Remote, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{ID: id, remote: r, logger: logger.With("remote", int(id))}
}

// Remote returns the wrapped engine.
func (c *Conn) Remote() Remote { return c.remote }

// Dialect is the wrapped engine's dialect.
func (c *Conn) Dialect() querysql.Dialect { return c.remote.Dialect() }

// InOrder runs fn while no other InOrder call on c runs. Work for one
// engine that must not interleave (read local rows, ship them, read the
// results back) goes through it.
func (c *Conn) InOrder(fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fn()
}

// Send delivers msg. Queries (ShipRelation, RunQuery) return rows; the
// other kinds return a nil result.
func (c *Conn) Send(ctx context.Context, msg Message) (*querysql.Result, error) {
	c.logger.Debug("remote message",
		"id", msg.ID.String(),
		"kind", string(msg.Kind),
		"relation", msg.Relation,
		"request_timestep", msg.RequestTimestep)

	switch msg.Kind {
	case ShipRelation, RunQuery:
		if len(msg.SQL) != 1 {
			return nil, report.ErrMalformedAst.New(msg.Relation, "query message needs exactly one statement")
		}
		res, err := c.remote.Query(ctx, msg.SQL[0])
		if err != nil {
			return nil, report.ErrRemoteQuery.Wrap(err, int(c.ID), string(msg.Kind))
		}
		return res, nil
	}

	if len(msg.SQL) == 0 {
		return nil, nil
	}
	if cl, ok := c.remote.(Cleaner); ok && msg.Kind == CleanUpQueries {
		if err := cl.Cleanup(msg.SQL...); err != nil {
			return nil, report.ErrRemoteQuery.Wrap(err, int(c.ID), string(msg.Kind))
		}
		return nil, nil
	}
	if p, ok := c.remote.(Poster); ok && !msg.AwaitAck {
		if err := p.Post(msg.SQL...); err != nil {
			return nil, report.ErrRemoteQuery.Wrap(err, int(c.ID), string(msg.Kind))
		}
		return nil, nil
	}
	if err := c.remote.Exec(ctx, msg.SQL...); err != nil {
		return nil, report.ErrRemoteQuery.Wrap(err, int(c.ID), string(msg.Kind))
	}
	return nil, nil
}

// Close closes the wrapped engine.
func (c *Conn) Close() error {
	return c.remote.Close()
}
