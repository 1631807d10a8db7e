package service

import (
	"bytes"
	"context"

	"github.com/finchdb/finch/lib/db"
	"github.com/finchdb/finch/lib/resp"
)

// Conn is the per-connection context handlers reply into. The reply
// builder targets whatever sink the front end provided; tests usually pass
// a bytes.Buffer.
type Conn struct {
	svc     *Service
	dbIndex db.DbIndex
	ctx     context.Context
	builder *resp.Builder
	sink    *bytes.Buffer
}

// NewConn creates a connection context writing replies into an internal
// buffer, which tests and embedded callers inspect via TakeReply.
func (s *Service) NewConn() *Conn {
	sink := &bytes.Buffer{}
	return &Conn{
		svc:     s,
		ctx:     context.Background(),
		builder: resp.NewBuilder(sink),
		sink:    sink,
	}
}

// WithContext sets the cancellation context for subsequent commands.
func (c *Conn) WithContext(ctx context.Context) *Conn {
	c.ctx = ctx
	return c
}

// Ctx returns the cancellation context.
func (c *Conn) Ctx() context.Context { return c.ctx }

// DB returns the selected logical database.
func (c *Conn) DB() db.DbIndex { return c.dbIndex }

// Builder returns the reply builder.
func (c *Conn) Builder() *resp.Builder { return c.builder }

// TakeReply flushes and returns the accumulated reply bytes.
func (c *Conn) TakeReply() []byte {
	c.builder.Flush()
	out := append([]byte(nil), c.sink.Bytes()...)
	c.sink.Reset()
	return out
}

// SendStatus translates an OpStatus into its RESP error reply.
func (c *Conn) SendStatus(status db.OpStatus) {
	switch status {
	case db.StatusOK:
		c.builder.SendOK()
	default:
		c.builder.SendError(status.String())
	}
}
