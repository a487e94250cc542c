package remote

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/golang/snappy"

	"github.com/roach88/diel/internal/querysql"
)

// Socket protocol actions.
const (
	ActionOpen = "open" // select the database named by dbName
	ActionRun  = "run"  // run a query, reply with its rows
	ActionExec = "exec" // run statements, reply with an empty result

	// ActionCleanup registers statements the server runs on the
	// connection's database when the connection closes.
	ActionCleanup = "cleanup"
)

// EncSnappy marks a payload carried snappy-compressed in Body.
const EncSnappy = "snappy"

// CompressThreshold is the payload size above which requests and
// replies are compressed.
const CompressThreshold = 4 << 10

// Request is one socket protocol request.
type Request struct {
	ID     string `json:"id"`
	Action string `json:"action"`
	DBName string `json:"dbName,omitempty"`
	SQL    string `json:"sql,omitempty"`
	Enc    string `json:"enc,omitempty"`
	Body   []byte `json:"body,omitempty"`
}

// NewRequest builds a request, compressing large SQL.
func NewRequest(id, action, dbName, sql string) Request {
	req := Request{ID: id, Action: action, DBName: dbName}
	if len(sql) > CompressThreshold {
		req.Enc = EncSnappy
		req.Body = snappy.Encode(nil, []byte(sql))
		return req
	}
	req.SQL = sql
	return req
}

// Statement returns the request's SQL, decompressing it if needed.
func (r Request) Statement() (string, error) {
	switch r.Enc {
	case "":
		return r.SQL, nil
	case EncSnappy:
		b, err := snappy.Decode(nil, r.Body)
		if err != nil {
			return "", fmt.Errorf("request %s: %w", r.ID, err)
		}
		return string(b), nil
	}
	return "", fmt.Errorf("request %s: unknown encoding %q", r.ID, r.Enc)
}

// Reply answers the request with the same id. Error is empty on success.
type Reply struct {
	ID      string           `json:"id"`
	Results *querysql.Result `json:"results,omitempty"`
	Error   string           `json:"error,omitempty"`
	Enc     string           `json:"enc,omitempty"`
	Body    []byte           `json:"body,omitempty"`
}

// EncodeReply marshals a reply, compressing large results.
func EncodeReply(id string, res *querysql.Result, err error) ([]byte, error) {
	reply := Reply{ID: id, Results: res}
	if err != nil {
		reply.Error = err.Error()
		reply.Results = nil
	}
	if reply.Results != nil {
		raw, merr := json.Marshal(reply.Results)
		if merr != nil {
			return nil, fmt.Errorf("encode reply %s: %w", id, merr)
		}
		if len(raw) > CompressThreshold {
			reply.Results = nil
			reply.Enc = EncSnappy
			reply.Body = snappy.Encode(nil, raw)
		}
	}
	return json.Marshal(reply)
}

// DecodeReply unmarshals a reply. Numbers come back as int64 when they
// are integral and float64 otherwise.
func DecodeReply(data []byte) (Reply, error) {
	var reply Reply
	if err := decodeJSON(data, &reply); err != nil {
		return Reply{}, fmt.Errorf("decode reply: %w", err)
	}
	if reply.Enc == EncSnappy {
		raw, err := snappy.Decode(nil, reply.Body)
		if err != nil {
			return Reply{}, fmt.Errorf("reply %s: %w", reply.ID, err)
		}
		reply.Results = &querysql.Result{}
		if err := decodeJSON(raw, reply.Results); err != nil {
			return Reply{}, fmt.Errorf("reply %s: %w", reply.ID, err)
		}
		reply.Enc, reply.Body = "", nil
	} else if reply.Enc != "" {
		return Reply{}, fmt.Errorf("reply %s: unknown encoding %q", reply.ID, reply.Enc)
	}
	if reply.Results != nil {
		for _, row := range reply.Results.Rows {
			for i, v := range row {
				row[i] = querysql.NormalizeValue(v)
			}
		}
	}
	return reply, nil
}

func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
