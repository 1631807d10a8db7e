package service

import (
	"math"
	"strconv"

	"github.com/finchdb/finch/lib/core"
	"github.com/finchdb/finch/lib/core/listpack"
	"github.com/finchdb/finch/lib/core/strmap"
	"github.com/finchdb/finch/lib/db"
	"github.com/finchdb/finch/lib/engine"
)

// --------------------------------------------------------------------------
// Shard-local hash operations
// --------------------------------------------------------------------------

type hashSetParams struct {
	skipIfExists bool
	ttlSec       uint32 // strmap.NoTTL when fields do not expire
}

// opHashSet inserts or updates field/value pairs, creating the hash and
// promoting its encoding as needed. Returns the number of new fields.
func (s *Service) opHashSet(args engine.OpArgs, key []byte, values [][]byte, params hashSetParams) db.OpResult[int64] {
	slice := args.Slice()
	stats := slice.MutableStats(args.Ctx.DB)

	add, status := slice.AddOrFind(args.Ctx, key)
	if status != db.StatusOK {
		return db.ResultErr[int64](status)
	}
	pv := add.It.Value()

	if add.IsNew {
		if params.ttlSec == strmap.NoTTL {
			lp := listpack.New()
			pv.InitRobj(core.ObjHash, core.EncodingListPack, lp)
			stats.ListpackBlobCnt++
			stats.ListpackBytes += int64(listpack.Bytes(lp))
		} else {
			pv.InitRobj(core.ObjHash, core.EncodingStrMap, strmap.New())
		}
	} else if pv.ObjType() != core.ObjHash {
		add.PostUpdater.Run()
		return db.ResultErr[int64](db.StatusWrongType)
	}

	if pv.Encoding() == core.EncodingListPack {
		lp := getListpack(pv)
		stats.ListpackBytes -= int64(listpack.Bytes(lp))

		if params.ttlSec != strmap.NoTTL || !goodForListpack(s.cfg, lp, values...) {
			stats.ListpackBlobCnt--
			pv.InitRobj(core.ObjHash, core.EncodingStrMap, convertToStrMap(lp, args.Ctx))
		} else {
			var created int64
			for i := 0; i < len(values); i += 2 {
				var inserted bool
				lp, inserted = listpack.Insert(lp, values[i], values[i+1], params.skipIfExists)
				if inserted {
					created++
				}
			}
			pv.SetRobjInner(lp)
			stats.ListpackBytes += int64(listpack.Bytes(lp))
			add.PostUpdater.Run()
			return db.ResultOK(created)
		}
	}

	sm := getStringMap(pv, args.Ctx)
	sm.Reserve(len(values) / 2)
	var created int64
	for i := 0; i < len(values); i += 2 {
		var added bool
		if params.skipIfExists {
			added = sm.AddOrSkip(values[i], values[i+1], params.ttlSec)
		} else {
			added = sm.AddOrUpdate(values[i], values[i+1], params.ttlSec)
		}
		if added {
			created++
		}
	}
	add.PostUpdater.Run()
	return db.ResultOK(created)
}

// opHashGet returns one field value.
func (s *Service) opHashGet(args engine.OpArgs, key, field []byte) db.OpResult[[]byte] {
	it, status := args.Slice().FindReadOnly(args.Ctx, key, core.ObjHash)
	if status != db.StatusOK {
		return db.ResultErr[[]byte](status)
	}
	pv := it.Value()

	if pv.Encoding() == core.EncodingListPack {
		var buf [20]byte
		v, ok := listpack.Find(getListpack(pv), field, buf[:])
		if !ok {
			return db.ResultErr[[]byte](db.StatusKeyNotFound)
		}
		return db.ResultOK(append([]byte(nil), v...))
	}

	smIt := getStringMap(pv, args.Ctx).Find(field)
	if !smIt.Found() {
		return db.ResultErr[[]byte](db.StatusKeyNotFound)
	}
	return db.ResultOK(append([]byte(nil), smIt.Value()...))
}

// opHashMGet resolves several fields; missing ones yield nil entries.
func (s *Service) opHashMGet(args engine.OpArgs, key []byte, fields [][]byte) db.OpResult[[][]byte] {
	it, status := args.Slice().FindReadOnly(args.Ctx, key, core.ObjHash)
	if status != db.StatusOK {
		return db.ResultErr[[][]byte](status)
	}
	pv := it.Value()

	out := make([][]byte, len(fields))
	if pv.Encoding() == core.EncodingListPack {
		lp := getListpack(pv)
		var buf [20]byte
		for i, f := range fields {
			if v, ok := listpack.Find(lp, f, buf[:]); ok {
				out[i] = append([]byte(nil), v...)
			}
		}
	} else {
		sm := getStringMap(pv, args.Ctx)
		for i, f := range fields {
			if smIt := sm.Find(f); smIt.Found() {
				out[i] = append([]byte(nil), smIt.Value()...)
			}
		}
	}
	return db.ResultOK(out)
}

const (
	getFields = 1 << 0
	getValues = 1 << 1
)

// opHashGetAll collects fields and/or values in insertion order.
func (s *Service) opHashGetAll(args engine.OpArgs, key []byte, mask uint8) db.OpResult[[][]byte] {
	it, status := args.Slice().FindReadOnly(args.Ctx, key, core.ObjHash)
	if status != db.StatusOK {
		return db.ResultErr[[][]byte](status)
	}
	pv := it.Value()

	var out [][]byte
	if pv.Encoding() == core.EncodingListPack {
		lp := getListpack(pv)
		var buf [20]byte
		for off := listpack.First(lp); off != -1; {
			voff := listpack.Next(lp, off)
			if mask&getFields != 0 {
				out = append(out, append([]byte(nil), listpack.Get(lp, off, buf[:])...))
			}
			if mask&getValues != 0 {
				out = append(out, append([]byte(nil), listpack.Get(lp, voff, buf[:])...))
			}
			off = listpack.Next(lp, voff)
		}
	} else {
		getStringMap(pv, args.Ctx).IterateOrdered(func(f, v []byte) bool {
			if mask&getFields != 0 {
				out = append(out, append([]byte(nil), f...))
			}
			if mask&getValues != 0 {
				out = append(out, append([]byte(nil), v...))
			}
			return true
		})
	}
	return db.ResultOK(out)
}

// opHashDel removes fields, deleting the key when it empties.
func (s *Service) opHashDel(args engine.OpArgs, key []byte, fields [][]byte) db.OpResult[int64] {
	slice := args.Slice()
	res, status := slice.FindMutable(args.Ctx, key, core.ObjHash)
	if status != db.StatusOK {
		return db.ResultErr[int64](status)
	}
	pv := res.It.Value()
	stats := slice.MutableStats(args.Ctx.DB)

	var deleted int64
	keyRemove := false
	enc := pv.Encoding()

	if enc == core.EncodingListPack {
		lp := getListpack(pv)
		stats.ListpackBytes -= int64(listpack.Bytes(lp))
		for _, f := range fields {
			var existed bool
			lp, existed = listpack.Delete(lp, f)
			if existed {
				deleted++
				if listpack.Len(lp) == 0 {
					keyRemove = true
					break
				}
			}
		}
		pv.SetRobjInner(lp)
	} else {
		sm := getStringMap(pv, args.Ctx)
		for _, f := range fields {
			if sm.Erase(f) {
				deleted++
				if sm.UpperBoundSize() == 0 {
					keyRemove = true
					break
				}
			}
		}
	}

	res.PostUpdater.Run()

	if keyRemove {
		if enc == core.EncodingListPack {
			stats.ListpackBlobCnt--
		}
		slice.Del(args.Ctx, res.It)
	} else if enc == core.EncodingListPack {
		stats.ListpackBytes += int64(listpack.Bytes(getListpack(pv)))
	}
	return db.ResultOK(deleted)
}

// opHashLen returns the field count (0 for missing keys).
func (s *Service) opHashLen(args engine.OpArgs, key []byte) db.OpResult[int64] {
	it, status := args.Slice().FindReadOnly(args.Ctx, key, core.ObjHash)
	if status == db.StatusKeyNotFound {
		return db.ResultOK[int64](0)
	}
	if status != db.StatusOK {
		return db.ResultErr[int64](status)
	}
	return db.ResultOK(int64(hashLen(it.Value(), args.Ctx)))
}

// opHashExists reports field presence.
func (s *Service) opHashExists(args engine.OpArgs, key, field []byte) db.OpResult[int64] {
	res := s.opHashGet(args, key, field)
	switch res.Status {
	case db.StatusOK:
		return db.ResultOK[int64](1)
	case db.StatusKeyNotFound:
		return db.ResultOK[int64](0)
	default:
		return db.ResultErr[int64](res.Status)
	}
}

// opHashStrLen returns the byte length of a field value (0 when absent).
func (s *Service) opHashStrLen(args engine.OpArgs, key, field []byte) db.OpResult[int64] {
	res := s.opHashGet(args, key, field)
	switch res.Status {
	case db.StatusOK:
		return db.ResultOK(int64(len(res.Value)))
	case db.StatusKeyNotFound:
		return db.ResultOK[int64](0)
	default:
		return db.ResultErr[int64](res.Status)
	}
}

// opHashIncr adds an integer or float delta to a field.
func (s *Service) opHashIncr(args engine.OpArgs, key, field []byte, intDelta int64, floatDelta float64, isFloat bool) db.OpResult[[]byte] {
	prev := s.opHashGet(args, key, field)
	if prev.Status != db.StatusOK && prev.Status != db.StatusKeyNotFound {
		return db.ResultErr[[]byte](prev.Status)
	}

	var rendered []byte
	if isFloat {
		val := 0.0
		if prev.Status == db.StatusOK {
			parsed, err := strconv.ParseFloat(string(prev.Value), 64)
			if err != nil {
				return db.ResultErr[[]byte](db.StatusInvalidValue)
			}
			val = parsed
		}
		val += floatDelta
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return db.ResultErr[[]byte](db.StatusInvalidFloat)
		}
		rendered = []byte(formatFloat(val))
	} else {
		var val int64
		if prev.Status == db.StatusOK {
			parsed, err := strconv.ParseInt(string(prev.Value), 10, 64)
			if err != nil {
				return db.ResultErr[[]byte](db.StatusInvalidValue)
			}
			val = parsed
		}
		if (intDelta > 0 && val > math.MaxInt64-intDelta) ||
			(intDelta < 0 && val < math.MinInt64-intDelta) {
			return db.ResultErr[[]byte](db.StatusOutOfRange)
		}
		val += intDelta
		rendered = []byte(strconv.FormatInt(val, 10))
	}

	setRes := s.opHashSet(args, key, [][]byte{field, rendered}, hashSetParams{ttlSec: strmap.NoTTL})
	if setRes.Status != db.StatusOK {
		return db.ResultErr[[]byte](setRes.Status)
	}
	return db.ResultOK(rendered)
}

// opHashScan advances a cursor over the hash. The packed encoding is
// returned in a single pass regardless of count; this mirrors the
// long-standing behavior of the original engine and is intentional.
func (s *Service) opHashScan(args engine.OpArgs, key []byte, cursor uint64, count int) db.OpResult[scanResult] {
	it, status := args.Slice().FindReadOnly(args.Ctx, key, core.ObjHash)
	if status != db.StatusOK {
		return db.ResultErr[scanResult](status)
	}
	pv := it.Value()

	var out [][]byte
	if pv.Encoding() == core.EncodingListPack {
		lp := getListpack(pv)
		var buf [20]byte
		for off := listpack.First(lp); off != -1; {
			voff := listpack.Next(lp, off)
			out = append(out, append([]byte(nil), listpack.Get(lp, off, buf[:])...))
			out = append(out, append([]byte(nil), listpack.Get(lp, voff, buf[:])...))
			off = listpack.Next(lp, voff)
		}
		return db.ResultOK(scanResult{items: out, cursor: 0})
	}

	sm := getStringMap(pv, args.Ctx)
	// cap the iteration count so a sparse table cannot stall the shard
	maxIterations := count * 10
	for i := 0; i <= maxIterations; i++ {
		cursor = sm.Scan(cursor, func(f, v []byte) {
			out = append(out, append([]byte(nil), f...))
			out = append(out, append([]byte(nil), v...))
		})
		if cursor == 0 || len(out) >= count*2 {
			break
		}
	}
	return db.ResultOK(scanResult{items: out, cursor: cursor})
}

type scanResult struct {
	items  [][]byte
	cursor uint64
}

// opHashRandField samples fields. Empty hashes are removed on every path.
func (s *Service) opHashRandField(args engine.OpArgs, key []byte, count int, hasCount, withValues bool) db.OpResult[[][]byte] {
	slice := args.Slice()
	it, status := slice.FindReadOnly(args.Ctx, key, core.ObjHash)
	if status != db.StatusOK {
		return db.ResultErr[[][]byte](status)
	}
	pv := it.Value()

	emit := func(out [][]byte, f, v []byte) [][]byte {
		out = append(out, append([]byte(nil), f...))
		if withValues {
			out = append(out, append([]byte(nil), v...))
		}
		return out
	}

	var out [][]byte
	empty := false

	if pv.Encoding() == core.EncodingListPack {
		lp := getListpack(pv)
		if listpack.Len(lp) == 0 {
			empty = true
		} else if !hasCount {
			f, v, _ := listpack.RandomPair(lp)
			out = emit(out, f, v)
		} else if count >= 0 {
			fields, values := listpack.RandomPairsUnique(lp, count)
			for i := range fields {
				out = emit(out, fields[i], values[i])
			}
		} else {
			fields, values := listpack.RandomPairs(lp, -count)
			for i := range fields {
				out = emit(out, fields[i], values[i])
			}
		}
	} else {
		sm := getStringMap(pv, args.Ctx)
		if sm.Empty() {
			empty = true
		} else if !hasCount {
			f, v, _ := sm.RandomPair()
			out = emit(out, f, v)
		} else if count >= 0 {
			fields, values := sm.RandomPairsUnique(count)
			for i := range fields {
				out = emit(out, fields[i], values[i])
			}
		} else {
			fields, values := sm.RandomPairs(-count)
			for i := range fields {
				out = emit(out, fields[i], values[i])
			}
		}
	}

	if empty {
		// expired fields can leave the map empty; remove the key so every
		// path observes the same state
		if res, st := slice.FindMutable(args.Ctx, key, core.ObjHash); st == db.StatusOK {
			res.PostUpdater.Run()
			slice.Del(args.Ctx, res.It)
		}
		return db.ResultErr[[][]byte](db.StatusKeyNotFound)
	}
	return db.ResultOK(out)
}

// fieldExpireTime returns the absolute expiry second of a field, -1 when
// the field has no expiry, -3 when the field is missing.
func (s *Service) fieldExpireTime(args engine.OpArgs, key, field []byte) int64 {
	it, status := args.Slice().FindReadOnly(args.Ctx, key, core.ObjHash)
	if status != db.StatusOK {
		return -3
	}
	pv := it.Value()
	if pv.Encoding() == core.EncodingListPack {
		var buf [20]byte
		if _, ok := listpack.Find(getListpack(pv), field, buf[:]); ok {
			return -1
		}
		return -3
	}
	smIt := getStringMap(pv, args.Ctx).Find(field)
	if !smIt.Found() {
		return -3
	}
	if !smIt.HasExpiry() {
		return -1
	}
	return int64(smIt.ExpiryTime())
}

// --------------------------------------------------------------------------
// Handlers
// --------------------------------------------------------------------------

func (s *Service) singleHop(cn *Conn, write bool, keys [][]byte, hop engine.Hop) db.OpStatus {
	tx := s.engine.NewTransaction(cn.Ctx(), cn.DB(), write, keys...)
	return tx.ScheduleSingleHop(hop)
}

func (s *Service) hSetGeneric(cn *Conn, cmd string, args [][]byte, params hashSetParams) {
	if len(args) < 3 || len(args)%2 != 1 {
		cn.Builder().SendError("ERR wrong number of arguments for '" + cmd + "' command")
		return
	}
	key, values := args[0], args[1:]

	var created int64
	status := s.singleHop(cn, true, [][]byte{key}, func(tx *engine.Transaction, oa engine.OpArgs) db.OpStatus {
		res := s.opHashSet(oa, key, values, params)
		created = res.Value
		return res.Status
	})
	if status != db.StatusOK {
		cn.SendStatus(status)
		return
	}
	s.journalWrite(cn, cmd, args)
	if cmd == "HMSET" {
		cn.Builder().SendOK()
	} else {
		cn.Builder().SendLong(created)
	}
}

func (s *Service) hSet(cn *Conn, args [][]byte) {
	s.hSetGeneric(cn, "HSET", args, hashSetParams{ttlSec: strmap.NoTTL})
}

func (s *Service) hMSet(cn *Conn, args [][]byte) {
	s.hSetGeneric(cn, "HMSET", args, hashSetParams{ttlSec: strmap.NoTTL})
}

func (s *Service) hSetNx(cn *Conn, args [][]byte) {
	s.hSetGeneric(cn, "HSETNX", args, hashSetParams{skipIfExists: true, ttlSec: strmap.NoTTL})
}

// HSETEX key ttl_sec field value [field value ...]
func (s *Service) hSetEx(cn *Conn, args [][]byte) {
	const maxTTL = 1 << 26
	ttl, err := strconv.ParseUint(string(args[1]), 10, 32)
	if err != nil || ttl == 0 || ttl > maxTTL {
		cn.Builder().SendError(db.StatusInvalidInt.String())
		return
	}
	rest := append([][]byte{args[0]}, args[2:]...)
	s.hSetGeneric(cn, "HSETEX", rest, hashSetParams{ttlSec: uint32(ttl)})
}

func (s *Service) hGet(cn *Conn, args [][]byte) {
	var value []byte
	status := s.singleHop(cn, false, [][]byte{args[0]}, func(tx *engine.Transaction, oa engine.OpArgs) db.OpStatus {
		res := s.opHashGet(oa, args[0], args[1])
		value = res.Value
		return res.Status
	})
	switch status {
	case db.StatusOK:
		cn.Builder().SendBulkString(value)
	case db.StatusKeyNotFound:
		cn.Builder().SendNull()
	default:
		cn.SendStatus(status)
	}
}

func (s *Service) hMGet(cn *Conn, args [][]byte) {
	key, fields := args[0], args[1:]
	var values [][]byte
	status := s.singleHop(cn, false, [][]byte{key}, func(tx *engine.Transaction, oa engine.OpArgs) db.OpStatus {
		res := s.opHashMGet(oa, key, fields)
		values = res.Value
		return res.Status
	})
	switch status {
	case db.StatusOK:
		cn.Builder().StartArray(len(values))
		for _, v := range values {
			if v == nil {
				cn.Builder().SendNull()
			} else {
				cn.Builder().SendBulkString(v)
			}
		}
	case db.StatusKeyNotFound:
		cn.Builder().StartArray(len(fields))
		for range fields {
			cn.Builder().SendNull()
		}
	default:
		cn.SendStatus(status)
	}
}

func (s *Service) hGetGeneric(cn *Conn, key []byte, mask uint8) {
	var items [][]byte
	status := s.singleHop(cn, false, [][]byte{key}, func(tx *engine.Transaction, oa engine.OpArgs) db.OpStatus {
		res := s.opHashGetAll(oa, key, mask)
		items = res.Value
		return res.Status
	})
	switch status {
	case db.StatusOK, db.StatusKeyNotFound:
		cn.Builder().SendStringArr(items)
	default:
		cn.SendStatus(status)
	}
}

func (s *Service) hGetAll(cn *Conn, args [][]byte) {
	s.hGetGeneric(cn, args[0], getFields|getValues)
}

func (s *Service) hKeys(cn *Conn, args [][]byte) {
	s.hGetGeneric(cn, args[0], getFields)
}

func (s *Service) hVals(cn *Conn, args [][]byte) {
	s.hGetGeneric(cn, args[0], getValues)
}

func (s *Service) hDel(cn *Conn, args [][]byte) {
	key, fields := args[0], args[1:]
	var deleted int64
	status := s.singleHop(cn, true, [][]byte{key}, func(tx *engine.Transaction, oa engine.OpArgs) db.OpStatus {
		res := s.opHashDel(oa, key, fields)
		deleted = res.Value
		return res.Status
	})
	if status == db.StatusOK || status == db.StatusKeyNotFound {
		if deleted > 0 {
			s.journalWrite(cn, "HDEL", args)
		}
		cn.Builder().SendLong(deleted)
	} else {
		cn.SendStatus(status)
	}
}

func (s *Service) hLen(cn *Conn, args [][]byte) {
	s.replyLongOp(cn, [][]byte{args[0]}, func(oa engine.OpArgs) db.OpResult[int64] {
		return s.opHashLen(oa, args[0])
	})
}

func (s *Service) hExists(cn *Conn, args [][]byte) {
	s.replyLongOp(cn, [][]byte{args[0]}, func(oa engine.OpArgs) db.OpResult[int64] {
		return s.opHashExists(oa, args[0], args[1])
	})
}

func (s *Service) hStrLen(cn *Conn, args [][]byte) {
	s.replyLongOp(cn, [][]byte{args[0]}, func(oa engine.OpArgs) db.OpResult[int64] {
		return s.opHashStrLen(oa, args[0], args[1])
	})
}

// replyLongOp runs a read-only op and replies with its integer result.
func (s *Service) replyLongOp(cn *Conn, keys [][]byte, op func(engine.OpArgs) db.OpResult[int64]) {
	var value int64
	status := s.singleHop(cn, false, keys, func(tx *engine.Transaction, oa engine.OpArgs) db.OpStatus {
		res := op(oa)
		value = res.Value
		return res.Status
	})
	if status == db.StatusOK {
		cn.Builder().SendLong(value)
	} else {
		cn.SendStatus(status)
	}
}

func (s *Service) hIncrBy(cn *Conn, args [][]byte) {
	delta, err := strconv.ParseInt(string(args[2]), 10, 64)
	if err != nil {
		cn.Builder().SendError(db.StatusInvalidInt.String())
		return
	}
	var rendered []byte
	status := s.singleHop(cn, true, [][]byte{args[0]}, func(tx *engine.Transaction, oa engine.OpArgs) db.OpStatus {
		res := s.opHashIncr(oa, args[0], args[1], delta, 0, false)
		rendered = res.Value
		return res.Status
	})
	switch status {
	case db.StatusOK:
		s.journalWrite(cn, "HINCRBY", args)
		v, _ := strconv.ParseInt(string(rendered), 10, 64)
		cn.Builder().SendLong(v)
	case db.StatusInvalidValue:
		cn.Builder().SendError("ERR hash value is not an integer")
	case db.StatusOutOfRange:
		cn.Builder().SendError("ERR increment or decrement would overflow")
	default:
		cn.SendStatus(status)
	}
}

func (s *Service) hIncrByFloat(cn *Conn, args [][]byte) {
	delta, err := strconv.ParseFloat(string(args[2]), 64)
	if err != nil {
		cn.Builder().SendError(db.StatusInvalidFloat.String())
		return
	}
	var rendered []byte
	status := s.singleHop(cn, true, [][]byte{args[0]}, func(tx *engine.Transaction, oa engine.OpArgs) db.OpStatus {
		res := s.opHashIncr(oa, args[0], args[1], 0, delta, true)
		rendered = res.Value
		return res.Status
	})
	switch status {
	case db.StatusOK:
		s.journalWrite(cn, "HINCRBYFLOAT", args)
		cn.Builder().SendBulkString(rendered)
	case db.StatusInvalidValue:
		cn.Builder().SendError("ERR hash value is not a float")
	default:
		cn.SendStatus(status)
	}
}

// HSCAN key cursor [MATCH pattern] [COUNT n] - MATCH is accepted but only
// exact-prefix globs are honored by the front end; the engine applies
// COUNT only to the hashed encoding.
func (s *Service) hScan(cn *Conn, args [][]byte) {
	cursor, err := strconv.ParseUint(string(args[1]), 10, 64)
	if err != nil {
		cn.Builder().SendError("ERR invalid cursor")
		return
	}
	count := 10
	for i := 2; i < len(args); i += 2 {
		if i+1 >= len(args) {
			cn.Builder().SendError(db.StatusSyntaxErr.String())
			return
		}
		switch string(toUpper(args[i])) {
		case "COUNT":
			c, err := strconv.Atoi(string(args[i+1]))
			if err != nil || c <= 0 {
				cn.Builder().SendError(db.StatusInvalidInt.String())
				return
			}
			count = c
		case "MATCH":
			// pattern filtering happens in the front end
		default:
			cn.Builder().SendError(db.StatusSyntaxErr.String())
			return
		}
	}

	var result scanResult
	status := s.singleHop(cn, false, [][]byte{args[0]}, func(tx *engine.Transaction, oa engine.OpArgs) db.OpStatus {
		res := s.opHashScan(oa, args[0], cursor, count)
		result = res.Value
		return res.Status
	})
	switch status {
	case db.StatusOK, db.StatusKeyNotFound:
		cn.Builder().StartArray(2)
		cn.Builder().SendBulkString([]byte(strconv.FormatUint(result.cursor, 10)))
		cn.Builder().SendStringArr(result.items)
	default:
		cn.SendStatus(status)
	}
}

func (s *Service) hRandField(cn *Conn, args [][]byte) {
	count := 0
	hasCount := len(args) > 1
	withValues := false
	if hasCount {
		c, err := strconv.Atoi(string(args[1]))
		if err != nil {
			cn.Builder().SendError("ERR count value is not an integer")
			return
		}
		count = c
	}
	if len(args) == 3 {
		if string(toUpper(args[2])) != "WITHVALUES" {
			cn.Builder().SendError(db.StatusSyntaxErr.String())
			return
		}
		withValues = true
	}

	var items [][]byte
	status := s.singleHop(cn, false, [][]byte{args[0]}, func(tx *engine.Transaction, oa engine.OpArgs) db.OpStatus {
		res := s.opHashRandField(oa, args[0], count, hasCount, withValues)
		items = res.Value
		return res.Status
	})
	switch status {
	case db.StatusOK:
		if !hasCount {
			cn.Builder().SendBulkString(items[0])
		} else {
			cn.Builder().SendStringArr(items)
		}
	case db.StatusKeyNotFound:
		if !hasCount {
			cn.Builder().SendNull()
		} else {
			cn.Builder().SendEmptyArray()
		}
	default:
		cn.SendStatus(status)
	}
}

// journalWrite records a write command for replication.
func (s *Service) journalWrite(cn *Conn, cmd string, args [][]byte) {
	tx := s.engine.NewTransaction(cn.Ctx(), cn.DB(), false, args[0])
	s.journalCommand(tx, cmd, args)
}

func toUpper(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			c -= 32
		}
		out[i] = c
	}
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 17, 64)
}

// --------------------------------------------------------------------------
// Registration
// --------------------------------------------------------------------------

func (s *Service) registerHashFamily() {
	reg := func(name string, arity int, flags CmdFlags, acl ACL, h Handler) {
		s.registry.Register(&CommandID{Name: name, Arity: arity, Flags: flags, ACL: acl, Handler: h})
	}

	reg("HDEL", -3, CmdFast|CmdWrite, AclWrite|AclHash|AclFast, s.hDel)
	reg("HLEN", 2, CmdFast|CmdReadOnly, AclRead|AclHash|AclFast, s.hLen)
	reg("HEXISTS", 3, CmdFast|CmdReadOnly, AclRead|AclHash|AclFast, s.hExists)
	reg("HGET", 3, CmdFast|CmdReadOnly, AclRead|AclHash|AclFast, s.hGet)
	reg("HGETALL", 2, CmdFast|CmdReadOnly, AclRead|AclHash|AclSlow, s.hGetAll)
	reg("HMGET", -3, CmdFast|CmdReadOnly, AclRead|AclHash|AclFast, s.hMGet)
	reg("HMSET", -4, CmdWrite|CmdFast|CmdDenyOOM, AclWrite|AclHash|AclFast, s.hMSet)
	reg("HINCRBY", 4, CmdWrite|CmdDenyOOM|CmdFast, AclWrite|AclHash|AclFast, s.hIncrBy)
	reg("HINCRBYFLOAT", 4, CmdWrite|CmdDenyOOM|CmdFast, AclWrite|AclHash|AclFast, s.hIncrByFloat)
	reg("HKEYS", 2, CmdReadOnly, AclRead|AclHash|AclSlow, s.hKeys)
	reg("HRANDFIELD", -2, CmdReadOnly, AclRead|AclHash|AclSlow, s.hRandField)
	reg("HSCAN", -3, CmdReadOnly, AclRead|AclHash|AclSlow, s.hScan)
	reg("HSET", -4, CmdWrite|CmdFast|CmdDenyOOM, AclWrite|AclHash|AclFast, s.hSet)
	reg("HSETEX", -5, CmdWrite|CmdFast|CmdDenyOOM, AclWrite|AclHash|AclFast, s.hSetEx)
	reg("HSETNX", 4, CmdWrite|CmdDenyOOM|CmdFast, AclWrite|AclHash|AclFast, s.hSetNx)
	reg("HSTRLEN", 3, CmdReadOnly|CmdFast, AclRead|AclHash|AclFast, s.hStrLen)
	reg("HVALS", 2, CmdReadOnly, AclRead|AclHash|AclSlow, s.hVals)
}
