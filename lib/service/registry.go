package service

import (
	"strings"

	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("service")

// --------------------------------------------------------------------------
// ACL categories and command flags
// --------------------------------------------------------------------------

// ACL bits classify commands for access control front ends.
type ACL uint32

const (
	AclRead ACL = 1 << iota
	AclWrite
	AclFast
	AclSlow
	AclString
	AclHash
	AclSortedSet
	AclGeo
	AclBlocking
)

// CmdFlags describe execution properties of a command.
type CmdFlags uint32

const (
	CmdReadOnly CmdFlags = 1 << iota
	CmdWrite
	CmdFast
	CmdDenyOOM
	CmdBlockingFlag
)

// --------------------------------------------------------------------------
// Command registry
// --------------------------------------------------------------------------

// Handler executes one command against a connection context. args excludes
// the command name.
type Handler func(cn *Conn, args [][]byte)

// CommandID declares one command: its arity (counting the command name
// itself; negative means at-least-abs), flags, ACL category and handler.
type CommandID struct {
	Name    string
	Arity   int
	Flags   CmdFlags
	ACL     ACL
	Handler Handler
}

// Registry maps command names to their declarations.
type Registry struct {
	cmds map[string]*CommandID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{cmds: make(map[string]*CommandID)}
}

// Register adds a command. Re-registering a name is a programming error.
func (r *Registry) Register(cid *CommandID) {
	name := strings.ToUpper(cid.Name)
	if _, exists := r.cmds[name]; exists {
		log.Panicf("command %s registered twice", name)
	}
	r.cmds[name] = cid
}

// Find returns the declaration for name.
func (r *Registry) Find(name string) *CommandID {
	return r.cmds[strings.ToUpper(name)]
}

// checkArity validates the argument count (excluding the command name)
// against the declared arity.
func (cid *CommandID) checkArity(nargs int) bool {
	if cid.Arity > 0 {
		return nargs == cid.Arity-1
	}
	return nargs >= -cid.Arity-1
}
