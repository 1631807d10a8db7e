package service

import (
	"strconv"
	"sync/atomic"

	"github.com/finchdb/finch/lib/core"
	"github.com/finchdb/finch/lib/db"
	"github.com/finchdb/finch/lib/engine"
	"github.com/finchdb/finch/lib/tiered"
)

// --------------------------------------------------------------------------
// Plain string commands
// --------------------------------------------------------------------------

// SET key value [EX seconds]
func (s *Service) set(cn *Conn, args [][]byte) {
	key, value := args[0], args[1]
	var expireMs uint64
	for i := 2; i < len(args); i++ {
		switch string(toUpper(args[i])) {
		case "EX":
			if i+1 >= len(args) {
				cn.Builder().SendError(db.StatusSyntaxErr.String())
				return
			}
			sec, err := strconv.ParseUint(string(args[i+1]), 10, 64)
			if err != nil || sec == 0 {
				cn.Builder().SendError(db.StatusInvalidInt.String())
				return
			}
			expireMs = sec * 1000
			i++
		default:
			cn.Builder().SendError(db.StatusSyntaxErr.String())
			return
		}
	}

	status := s.singleHop(cn, true, [][]byte{key}, func(tx *engine.Transaction, oa engine.OpArgs) db.OpStatus {
		slice := oa.Slice()
		res, st := slice.AddOrFind(oa.Ctx, key)
		if st != db.StatusOK {
			return st
		}
		pv := res.It.Value()
		if pv.HasIoPending() && oa.Shard.Tiered() != nil {
			oa.Shard.Tiered().CancelStash(oa.Ctx.DB, string(key), pv)
		}
		if pv.IsExternal() && oa.Shard.Tiered() != nil {
			oa.Shard.Tiered().Delete(oa.Ctx.DB, pv)
		}
		pv.SetString(value)
		if expireMs > 0 {
			slice.SetExpire(oa.Ctx, res.It, oa.Ctx.TimeNowMs+expireMs)
		} else {
			slice.SetExpire(oa.Ctx, res.It, 0)
		}
		res.PostUpdater.Run()
		return db.StatusOK
	})
	if status != db.StatusOK {
		cn.SendStatus(status)
		return
	}
	s.journalWrite(cn, "SET", args)
	cn.Builder().SendOK()
}

// SETEX key seconds value
func (s *Service) setEx(cn *Conn, args [][]byte) {
	s.set(cn, [][]byte{args[0], args[2], []byte("EX"), args[1]})
}

// GET key - external values resolve through the tiered engine after the
// hop has released its shard.
func (s *Service) get(cn *Conn, args [][]byte) {
	key := args[0]
	var value []byte
	var fut tiered.Future[string]
	external := false

	status := s.singleHop(cn, false, [][]byte{key}, func(tx *engine.Transaction, oa engine.OpArgs) db.OpStatus {
		it, st := oa.Slice().FindReadOnly(oa.Ctx, key, core.ObjString)
		if st != db.StatusOK {
			return st
		}
		pv := it.Value()
		if pv.IsExternal() {
			external = true
			fut = oa.Shard.Tiered().Read(oa.Ctx.DB, string(key), pv)
			return db.StatusOK
		}
		value = pv.GetString(nil)
		return db.StatusOK
	})

	switch status {
	case db.StatusOK:
		if external {
			value = []byte(fut.Get())
		}
		cn.Builder().SendBulkString(value)
	case db.StatusKeyNotFound:
		cn.Builder().SendNull()
	default:
		cn.SendStatus(status)
	}
}

// APPEND key value - offloaded values run through the modify pipeline.
func (s *Service) append_(cn *Conn, args [][]byte) {
	key, suffix := args[0], args[1]
	var newLen int64
	var fut tiered.Future[int]
	external := false

	status := s.singleHop(cn, true, [][]byte{key}, func(tx *engine.Transaction, oa engine.OpArgs) db.OpStatus {
		slice := oa.Slice()
		res, st := slice.AddOrFind(oa.Ctx, key)
		if st != db.StatusOK {
			return st
		}
		pv := res.It.Value()
		if !res.IsNew && pv.ObjType() != core.ObjString {
			res.PostUpdater.Run()
			return db.StatusWrongType
		}
		if pv.IsExternal() {
			external = true
			fut = tiered.Modify(oa.Shard.Tiered(), oa.Ctx.DB, string(key), pv, func(v *[]byte) int {
				*v = append(*v, suffix...)
				return len(*v)
			})
			res.PostUpdater.Run()
			return db.StatusOK
		}
		cur := pv.GetString(nil)
		cur = append(cur, suffix...)
		pv.SetString(cur)
		newLen = int64(len(cur))
		res.PostUpdater.Run()
		return db.StatusOK
	})

	if status != db.StatusOK {
		cn.SendStatus(status)
		return
	}
	if external {
		newLen = int64(fut.Get())
	}
	s.journalWrite(cn, "APPEND", args)
	cn.Builder().SendLong(newLen)
}

// DEL key [key ...] - hops run concurrently per shard, so the counter is
// atomic.
func (s *Service) del(cn *Conn, args [][]byte) {
	var deleted atomic.Int64
	tx := s.engine.NewTransaction(cn.Ctx(), cn.DB(), true, args...)
	status := tx.ScheduleSingleHop(func(tx *engine.Transaction, oa engine.OpArgs) db.OpStatus {
		for _, key := range tx.ShardKeys(oa.Shard.ShardID()) {
			it, st := oa.Slice().FindReadOnlyAnyType(oa.Ctx, key)
			if st != db.StatusOK {
				continue
			}
			oa.Slice().Del(oa.Ctx, it)
			deleted.Add(1)
		}
		return db.StatusOK
	})
	if status != db.StatusOK {
		cn.SendStatus(status)
		return
	}
	if deleted.Load() > 0 {
		s.journalWrite(cn, "DEL", args)
	}
	cn.Builder().SendLong(deleted.Load())
}

// EXISTS key [key ...]
func (s *Service) exists(cn *Conn, args [][]byte) {
	var count atomic.Int64
	tx := s.engine.NewTransaction(cn.Ctx(), cn.DB(), false, args...)
	status := tx.ScheduleSingleHop(func(tx *engine.Transaction, oa engine.OpArgs) db.OpStatus {
		for _, key := range tx.ShardKeys(oa.Shard.ShardID()) {
			if _, st := oa.Slice().FindReadOnlyAnyType(oa.Ctx, key); st == db.StatusOK {
				count.Add(1)
			}
		}
		return db.StatusOK
	})
	if status != db.StatusOK {
		cn.SendStatus(status)
		return
	}
	cn.Builder().SendLong(count.Load())
}

// TTL key - seconds remaining, -1 without expiry, -2 when missing.
func (s *Service) ttl(cn *Conn, args [][]byte) {
	key := args[0]
	var reply int64
	status := s.singleHop(cn, false, [][]byte{key}, func(tx *engine.Transaction, oa engine.OpArgs) db.OpStatus {
		_, st := oa.Slice().FindReadOnlyAnyType(oa.Ctx, key)
		if st == db.StatusKeyNotFound {
			reply = -2
			return db.StatusOK
		}
		if st != db.StatusOK {
			return st
		}
		deadline := oa.Slice().ExpireTime(oa.Ctx, key)
		if deadline == 0 {
			reply = -1
		} else {
			reply = int64((deadline - oa.Ctx.TimeNowMs) / 1000)
		}
		return db.StatusOK
	})
	if status != db.StatusOK {
		cn.SendStatus(status)
		return
	}
	cn.Builder().SendLong(reply)
}

// STICK key [key ...] - pins keys in memory; sticky keys are never
// offloaded to disk.
func (s *Service) stick(cn *Conn, args [][]byte) {
	var changed atomic.Int64
	tx := s.engine.NewTransaction(cn.Ctx(), cn.DB(), true, args...)
	status := tx.ScheduleSingleHop(func(tx *engine.Transaction, oa engine.OpArgs) db.OpStatus {
		for _, key := range tx.ShardKeys(oa.Shard.ShardID()) {
			it, st := oa.Slice().FindReadOnlyAnyType(oa.Ctx, key)
			if st != db.StatusOK {
				continue
			}
			if !it.Value().IsSticky() {
				it.Value().SetSticky(true)
				changed.Add(1)
			}
		}
		return db.StatusOK
	})
	if status != db.StatusOK {
		cn.SendStatus(status)
		return
	}
	cn.Builder().SendLong(changed.Load())
}

// --------------------------------------------------------------------------
// Registration
// --------------------------------------------------------------------------

func (s *Service) registerStringFamily() {
	reg := func(name string, arity int, flags CmdFlags, acl ACL, h Handler) {
		s.registry.Register(&CommandID{Name: name, Arity: arity, Flags: flags, ACL: acl, Handler: h})
	}

	reg("SET", -3, CmdWrite|CmdFast|CmdDenyOOM, AclWrite|AclString|AclFast, s.set)
	reg("SETEX", 4, CmdWrite|CmdFast|CmdDenyOOM, AclWrite|AclString|AclFast, s.setEx)
	reg("GET", 2, CmdReadOnly|CmdFast, AclRead|AclString|AclFast, s.get)
	reg("APPEND", 3, CmdWrite|CmdFast|CmdDenyOOM, AclWrite|AclString|AclFast, s.append_)
	reg("DEL", -2, CmdWrite, AclWrite|AclString|AclSlow, s.del)
	reg("EXISTS", -2, CmdReadOnly|CmdFast, AclRead|AclString|AclFast, s.exists)
	reg("TTL", 2, CmdReadOnly|CmdFast, AclRead|AclString|AclFast, s.ttl)
	reg("STICK", -2, CmdWrite|CmdFast, AclWrite|AclString|AclFast, s.stick)
}
