package service

import (
	"github.com/finchdb/finch/lib/config"
	"github.com/finchdb/finch/lib/engine"
	"github.com/finchdb/finch/lib/journal"
)

// Service binds the command registry to an engine instance.
type Service struct {
	engine   *engine.Engine
	cfg      *config.Config
	registry *Registry
}

// NewService creates the command service over e and registers all
// families.
func NewService(e *engine.Engine) *Service {
	s := &Service{
		engine:   e,
		cfg:      e.Config(),
		registry: NewRegistry(),
	}
	s.registerStringFamily()
	s.registerHashFamily()
	s.registerZSetFamily()
	s.registerGeoFamily()
	return s
}

// Engine returns the underlying engine.
func (s *Service) Engine() *engine.Engine { return s.engine }

// Registry exposes the command table.
func (s *Service) Registry() *Registry { return s.registry }

// Dispatch runs one command. Unknown names and arity violations produce
// an error reply without reaching the engine.
func (s *Service) Dispatch(cn *Conn, name string, args ...[]byte) {
	cid := s.registry.Find(name)
	if cid == nil {
		cn.Builder().SendError("ERR unknown command '" + name + "'")
		return
	}
	if !cid.checkArity(len(args)) {
		cn.Builder().SendError("ERR wrong number of arguments for '" + cid.Name + "' command")
		return
	}
	cid.Handler(cn, args)
}

// journalCommand records a successfully applied write on every
// participating shard's journal.
func (s *Service) journalCommand(tx *engine.Transaction, cmd string, args [][]byte) {
	shards := tx.UniqueShards()
	for _, sid := range shards {
		j := s.engine.Shard(sid).Journal()
		if j == nil {
			continue
		}
		j.Append(&journal.Entry{
			TxID:       tx.TxID(),
			Opcode:     journal.OpCommand,
			DbID:       0,
			ShardCount: uint32(len(shards)),
			Slot:       -1,
			Payload:    journal.Payload{Cmd: cmd, Args: args},
		})
	}
}
