package service

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/finchdb/finch/lib/core"
	"github.com/finchdb/finch/lib/core/listpack"
	"github.com/finchdb/finch/lib/core/sortedmap"
	"github.com/finchdb/finch/lib/db"
	"github.com/finchdb/finch/lib/engine"
)

const scoreNaNErr = "ERR resulting score is not a number (NaN)"

// --------------------------------------------------------------------------
// Parsing helpers
// --------------------------------------------------------------------------

func parseScore(b []byte) (float64, bool) {
	switch strings.ToLower(string(b)) {
	case "inf", "+inf", "infinity", "+infinity":
		return math.Inf(1), true
	case "-inf", "-infinity":
		return math.Inf(-1), true
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

func parseScoreBound(b []byte) (sortedmap.ScoreBound, bool) {
	if len(b) == 0 {
		return sortedmap.ScoreBound{}, false
	}
	exclusive := false
	if b[0] == '(' {
		exclusive = true
		b = b[1:]
	}
	v, ok := parseScore(b)
	if !ok {
		return sortedmap.ScoreBound{}, false
	}
	return sortedmap.ScoreBound{Val: v, Exclusive: exclusive}, true
}

func parseLexBound(b []byte) (sortedmap.LexBound, bool) {
	if len(b) == 0 {
		return sortedmap.LexBound{}, false
	}
	switch b[0] {
	case '+':
		if len(b) == 1 {
			return sortedmap.LexBound{Type: sortedmap.LexPlusInf}, true
		}
	case '-':
		if len(b) == 1 {
			return sortedmap.LexBound{Type: sortedmap.LexMinusInf}, true
		}
	case '(':
		return sortedmap.LexBound{Type: sortedmap.LexOpen, Val: string(b[1:])}, true
	case '[':
		return sortedmap.LexBound{Type: sortedmap.LexClosed, Val: string(b[1:])}, true
	}
	return sortedmap.LexBound{}, false
}

// --------------------------------------------------------------------------
// Encoding access
// --------------------------------------------------------------------------

// zsetAsMap resolves the payload as a sorted map. Packed values are
// expanded into a scratch map; wasPacked tells the caller to write back
// after mutating.
func zsetAsMap(pv *core.CompactValue, ctx db.Context) (sm *sortedmap.Map, wasPacked bool) {
	if pv.Encoding() == core.EncodingSkipList {
		return pv.RobjInner().(*sortedmap.Map), false
	}
	lp := getListpack(pv)
	sm = sortedmap.New()
	var mbuf, sbuf [20]byte
	for off := listpack.First(lp); off != -1; {
		member := listpack.Get(lp, off, mbuf[:])
		voff := listpack.Next(lp, off)
		scoreStr := listpack.Get(lp, voff, sbuf[:])
		score, _ := parseScore(scoreStr)
		sm.Insert(score, string(member), 0)
		off = listpack.Next(lp, voff)
	}
	return sm, true
}

// zsetFitsPacked reports whether the set still fits the packed encoding.
func (s *Service) zsetFitsPacked(sm *sortedmap.Map) bool {
	if sm.Len() > s.cfg.ZSetMaxListpackEntries {
		return false
	}
	bytes := 0
	for _, m := range sm.RangeByIndex(0, sm.Len()-1, false) {
		if len(m.Member) > s.cfg.MaxMapFieldLen {
			return false
		}
		bytes += len(m.Member) + 16
	}
	return bytes < s.cfg.MaxListpackMapBytes
}

// zsetStore installs the mutated map back into the value, keeping the
// packed encoding while it fits and promoting permanently otherwise.
func (s *Service) zsetStore(pv *core.CompactValue, ctx db.Context, sm *sortedmap.Map, wasPacked bool, stats *db.TableStats) {
	if !wasPacked {
		return
	}
	if s.zsetFitsPacked(sm) {
		oldBytes := listpack.Bytes(getListpack(pv))
		lp := listpack.New()
		for _, m := range sm.RangeByIndex(0, sm.Len()-1, false) {
			lp, _ = listpack.Insert(lp, []byte(m.Member), []byte(formatScore(m.Score)), false)
		}
		pv.SetRobjInner(lp)
		stats.ListpackBytes += int64(listpack.Bytes(lp) - oldBytes)
		return
	}
	stats.ListpackBlobCnt--
	stats.ListpackBytes -= int64(listpack.Bytes(getListpack(pv)))
	pv.InitRobj(core.ObjZSet, core.EncodingSkipList, sm)
}

func formatScore(v float64) string {
	if math.IsInf(v, 1) {
		return "inf"
	}
	if math.IsInf(v, -1) {
		return "-inf"
	}
	if v == math.Trunc(v) && math.Abs(v) < 1e17 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'g', 17, 64)
}

// findZSet resolves key for reading.
func findZSet(args engine.OpArgs, key []byte) (*core.CompactValue, db.OpStatus) {
	it, status := args.Slice().FindReadOnly(args.Ctx, key, core.ObjZSet)
	if status != db.StatusOK {
		return nil, status
	}
	return it.Value(), db.StatusOK
}

// --------------------------------------------------------------------------
// ZADD and friends
// --------------------------------------------------------------------------

type zparams struct {
	flags sortedmap.InsertFlags
}

type zaddResult struct {
	added    int64
	updated  int64
	newScore float64
	isNan    bool
	skipped  bool
}

// opZAdd applies members to the set under the given flags.
func (s *Service) opZAdd(args engine.OpArgs, key []byte, zp zparams, members []sortedmap.ScoredMember) db.OpResult[zaddResult] {
	slice := args.Slice()
	stats := slice.MutableStats(args.Ctx.DB)

	var add db.AddResult
	if zp.flags&sortedmap.FlagXX != 0 {
		res, status := slice.FindMutable(args.Ctx, key, core.ObjZSet)
		if status == db.StatusKeyNotFound {
			return db.ResultOK(zaddResult{skipped: true})
		}
		if status != db.StatusOK {
			return db.ResultErr[zaddResult](status)
		}
		add = db.AddResult{It: res.It, PostUpdater: res.PostUpdater}
	} else {
		var status db.OpStatus
		add, status = slice.AddOrFind(args.Ctx, key)
		if status != db.StatusOK {
			return db.ResultErr[zaddResult](status)
		}
	}
	pv := add.It.Value()

	if add.IsNew {
		// oversized first batches go straight to the skip list
		if len(members) > s.cfg.ZSetMaxListpackEntries {
			pv.InitRobj(core.ObjZSet, core.EncodingSkipList, sortedmap.New())
		} else {
			lp := listpack.New()
			pv.InitRobj(core.ObjZSet, core.EncodingListPack, lp)
			stats.ListpackBlobCnt++
			stats.ListpackBytes += int64(listpack.Bytes(lp))
		}
	} else if pv.ObjType() != core.ObjZSet {
		add.PostUpdater.Run()
		return db.ResultErr[zaddResult](db.StatusWrongType)
	}

	sm, wasPacked := zsetAsMap(pv, args.Ctx)

	var out zaddResult
	for _, m := range members {
		res := sm.Insert(m.Score, m.Member, zp.flags)
		if res.IsNan {
			out.isNan = true
			break
		}
		if zp.flags&sortedmap.FlagIncr != 0 {
			out.newScore = res.NewScore
			if res.Skipped {
				out.skipped = true
			}
		}
		if res.Added {
			out.added++
		}
		if res.Updated {
			out.updated++
		}
	}

	s.zsetStore(pv, args.Ctx, sm, wasPacked, stats)
	add.PostUpdater.Run()

	if pv.ObjType() == core.ObjZSet && zsetLen(pv, args.Ctx) == 0 {
		slice.Del(args.Ctx, add.It)
	}
	return db.ResultOK(out)
}

func zsetLen(pv *core.CompactValue, ctx db.Context) int {
	if pv.Encoding() == core.EncodingSkipList {
		return pv.RobjInner().(*sortedmap.Map).Len()
	}
	return listpack.NumPairs(getListpack(pv))
}

func (s *Service) zAdd(cn *Conn, args [][]byte) {
	key := args[0]
	rest := args[1:]

	zp := zparams{}
	ch := false
	for len(rest) > 0 {
		switch string(toUpper(rest[0])) {
		case "NX":
			zp.flags |= sortedmap.FlagNX
		case "XX":
			zp.flags |= sortedmap.FlagXX
		case "GT":
			zp.flags |= sortedmap.FlagGT
		case "LT":
			zp.flags |= sortedmap.FlagLT
		case "CH":
			ch = true
		case "INCR":
			zp.flags |= sortedmap.FlagIncr
		default:
			goto parseMembers
		}
		rest = rest[1:]
	}

parseMembers:
	if zp.flags&sortedmap.FlagNX != 0 && zp.flags&(sortedmap.FlagGT|sortedmap.FlagLT|sortedmap.FlagXX) != 0 {
		cn.Builder().SendError("ERR GT, LT, and/or NX options at the same time are not compatible")
		return
	}
	if len(rest) == 0 || len(rest)%2 != 0 {
		cn.Builder().SendError(db.StatusSyntaxErr.String())
		return
	}

	var members []sortedmap.ScoredMember
	nanInput := false
	for i := 0; i < len(rest); i += 2 {
		score, ok := parseScore(rest[i])
		if !ok {
			if strings.EqualFold(string(rest[i]), "nan") {
				nanInput = true
				score = math.NaN()
			} else {
				cn.Builder().SendError(db.StatusInvalidFloat.String())
				return
			}
		}
		members = append(members, sortedmap.ScoredMember{Member: string(rest[i+1]), Score: score})
	}
	if zp.flags&sortedmap.FlagIncr != 0 && len(members) != 1 {
		cn.Builder().SendError("ERR INCR option supports a single increment-element pair")
		return
	}
	if nanInput && zp.flags&sortedmap.FlagIncr == 0 {
		cn.Builder().SendError(db.StatusInvalidFloat.String())
		return
	}

	var result zaddResult
	status := s.singleHop(cn, true, [][]byte{key}, func(tx *engine.Transaction, oa engine.OpArgs) db.OpStatus {
		res := s.opZAdd(oa, key, zp, members)
		result = res.Value
		return res.Status
	})
	if status != db.StatusOK {
		cn.SendStatus(status)
		return
	}
	if result.isNan {
		cn.Builder().SendError(scoreNaNErr)
		return
	}
	s.journalWrite(cn, "ZADD", args)

	if zp.flags&sortedmap.FlagIncr != 0 {
		if result.skipped {
			cn.Builder().SendNull()
		} else {
			cn.Builder().SendDouble(result.newScore)
		}
		return
	}
	if ch {
		cn.Builder().SendLong(result.added + result.updated)
	} else {
		cn.Builder().SendLong(result.added)
	}
}

func (s *Service) zIncrBy(cn *Conn, args [][]byte) {
	s.zAdd(cn, [][]byte{args[0], []byte("INCR"), args[1], args[2]})
}

// --------------------------------------------------------------------------
// Read operations
// --------------------------------------------------------------------------

func (s *Service) zCard(cn *Conn, args [][]byte) {
	s.replyLongOp(cn, [][]byte{args[0]}, func(oa engine.OpArgs) db.OpResult[int64] {
		pv, status := findZSet(oa, args[0])
		if status == db.StatusKeyNotFound {
			return db.ResultOK[int64](0)
		}
		if status != db.StatusOK {
			return db.ResultErr[int64](status)
		}
		return db.ResultOK(int64(zsetLen(pv, oa.Ctx)))
	})
}

func (s *Service) zScore(cn *Conn, args [][]byte) {
	var score float64
	status := s.singleHop(cn, false, [][]byte{args[0]}, func(tx *engine.Transaction, oa engine.OpArgs) db.OpStatus {
		pv, st := findZSet(oa, args[0])
		if st != db.StatusOK {
			return st
		}
		sm, _ := zsetAsMap(pv, oa.Ctx)
		v, found := sm.GetScore(string(args[1]))
		if !found {
			return db.StatusMemberNotFound
		}
		score = v
		return db.StatusOK
	})
	switch status {
	case db.StatusOK:
		cn.Builder().SendDouble(score)
	case db.StatusKeyNotFound, db.StatusMemberNotFound:
		cn.Builder().SendNull()
	default:
		cn.SendStatus(status)
	}
}

func (s *Service) zMScore(cn *Conn, args [][]byte) {
	key, fields := args[0], args[1:]
	scores := make([]*float64, len(fields))
	status := s.singleHop(cn, false, [][]byte{key}, func(tx *engine.Transaction, oa engine.OpArgs) db.OpStatus {
		pv, st := findZSet(oa, key)
		if st != db.StatusOK {
			return st
		}
		sm, _ := zsetAsMap(pv, oa.Ctx)
		for i, f := range fields {
			if v, found := sm.GetScore(string(f)); found {
				v := v
				scores[i] = &v
			}
		}
		return db.StatusOK
	})
	if status != db.StatusOK && status != db.StatusKeyNotFound {
		cn.SendStatus(status)
		return
	}
	cn.Builder().StartArray(len(scores))
	for _, sc := range scores {
		if sc == nil {
			cn.Builder().SendNull()
		} else {
			cn.Builder().SendDouble(*sc)
		}
	}
}

func (s *Service) zRankGeneric(cn *Conn, args [][]byte, reverse bool) {
	var rank int
	status := s.singleHop(cn, false, [][]byte{args[0]}, func(tx *engine.Transaction, oa engine.OpArgs) db.OpStatus {
		pv, st := findZSet(oa, args[0])
		if st != db.StatusOK {
			return st
		}
		sm, _ := zsetAsMap(pv, oa.Ctx)
		r, found := sm.GetRank(string(args[1]), reverse)
		if !found {
			return db.StatusMemberNotFound
		}
		rank = r
		return db.StatusOK
	})
	switch status {
	case db.StatusOK:
		cn.Builder().SendLong(int64(rank))
	case db.StatusKeyNotFound, db.StatusMemberNotFound:
		cn.Builder().SendNull()
	default:
		cn.SendStatus(status)
	}
}

func (s *Service) zRank(cn *Conn, args [][]byte)    { s.zRankGeneric(cn, args, false) }
func (s *Service) zRevRank(cn *Conn, args [][]byte) { s.zRankGeneric(cn, args, true) }

// --------------------------------------------------------------------------
// Ranges
// --------------------------------------------------------------------------

type rangeKind uint8

const (
	rangeByIndex rangeKind = iota
	rangeByScore
	rangeByLex
)

type rangeParams struct {
	kind       rangeKind
	reverse    bool
	withScores bool
	offset     int
	limit      int

	idxStart, idxEnd int
	scoreSpec        sortedmap.ScoreSpec
	lexSpec          sortedmap.LexSpec
}

// opZRange evaluates a range query against the set.
func opZRange(oa engine.OpArgs, key []byte, p rangeParams) db.OpResult[[]sortedmap.ScoredMember] {
	pv, status := findZSet(oa, key)
	if status != db.StatusOK {
		return db.ResultErr[[]sortedmap.ScoredMember](status)
	}
	sm, _ := zsetAsMap(pv, oa.Ctx)

	var out []sortedmap.ScoredMember
	switch p.kind {
	case rangeByIndex:
		start, end := p.idxStart, p.idxEnd
		n := sm.Len()
		if start < 0 {
			start += n
		}
		if end < 0 {
			end += n
		}
		if p.reverse {
			start, end = n-1-end, n-1-start
		}
		out = sm.RangeByIndex(start, end, p.reverse)
	case rangeByScore:
		out = sm.RangeByScore(p.scoreSpec, p.offset, p.limit, p.reverse)
	case rangeByLex:
		out = sm.RangeByLex(p.lexSpec, p.offset, p.limit, p.reverse)
	}
	return db.ResultOK(out)
}

func (s *Service) sendScored(cn *Conn, items []sortedmap.ScoredMember, withScores bool) {
	n := len(items)
	if withScores {
		n *= 2
	}
	cn.Builder().StartArray(n)
	for _, m := range items {
		cn.Builder().SendBulkString([]byte(m.Member))
		if withScores {
			cn.Builder().SendDouble(m.Score)
		}
	}
}

func (s *Service) rangeGeneric(cn *Conn, key []byte, p rangeParams) {
	var items []sortedmap.ScoredMember
	status := s.singleHop(cn, false, [][]byte{key}, func(tx *engine.Transaction, oa engine.OpArgs) db.OpStatus {
		res := opZRange(oa, key, p)
		items = res.Value
		return res.Status
	})
	switch status {
	case db.StatusOK, db.StatusKeyNotFound:
		s.sendScored(cn, items, p.withScores)
	default:
		cn.SendStatus(status)
	}
}

// ZRANGE key min max [BYSCORE|BYLEX] [REV] [LIMIT offset count] [WITHSCORES]
func (s *Service) zRange(cn *Conn, args [][]byte) {
	p := rangeParams{kind: rangeByIndex, limit: -1}
	minArg, maxArg := args[1], args[2]

	i := 3
	for i < len(args) {
		switch string(toUpper(args[i])) {
		case "BYSCORE":
			p.kind = rangeByScore
		case "BYLEX":
			p.kind = rangeByLex
		case "REV":
			p.reverse = true
		case "WITHSCORES":
			p.withScores = true
		case "LIMIT":
			if i+2 >= len(args) {
				cn.Builder().SendError(db.StatusSyntaxErr.String())
				return
			}
			off, err1 := strconv.Atoi(string(args[i+1]))
			cnt, err2 := strconv.Atoi(string(args[i+2]))
			if err1 != nil || err2 != nil {
				cn.Builder().SendError(db.StatusInvalidInt.String())
				return
			}
			p.offset, p.limit = off, cnt
			i += 2
		default:
			cn.Builder().SendError(db.StatusSyntaxErr.String())
			return
		}
		i++
	}

	if p.limit != -1 && p.kind == rangeByIndex {
		cn.Builder().SendError("ERR syntax error, LIMIT is only supported in combination with either BYSCORE or BYLEX")
		return
	}
	if !s.fillRangeBounds(cn, &p, minArg, maxArg) {
		return
	}
	s.rangeGeneric(cn, args[0], p)
}

// fillRangeBounds parses min/max according to the range kind, swapping
// endpoints for reversed queries.
func (s *Service) fillRangeBounds(cn *Conn, p *rangeParams, minArg, maxArg []byte) bool {
	if p.reverse {
		minArg, maxArg = maxArg, minArg
	}
	switch p.kind {
	case rangeByIndex:
		start, err1 := strconv.Atoi(string(minArg))
		end, err2 := strconv.Atoi(string(maxArg))
		if err1 != nil || err2 != nil {
			cn.Builder().SendError(db.StatusInvalidInt.String())
			return false
		}
		p.idxStart, p.idxEnd = start, end
	case rangeByScore:
		lo, ok1 := parseScoreBound(minArg)
		hi, ok2 := parseScoreBound(maxArg)
		if !ok1 || !ok2 {
			cn.Builder().SendError("ERR min or max is not a float")
			return false
		}
		p.scoreSpec = sortedmap.ScoreSpec{Min: lo, Max: hi}
	case rangeByLex:
		lo, ok1 := parseLexBound(minArg)
		hi, ok2 := parseLexBound(maxArg)
		if !ok1 || !ok2 {
			cn.Builder().SendError("ERR min or max not valid string range item")
			return false
		}
		p.lexSpec = sortedmap.LexSpec{Min: lo, Max: hi}
	}
	return true
}

func (s *Service) zRangeByScore(cn *Conn, args [][]byte) {
	s.rangeByScoreGeneric(cn, args, false)
}

func (s *Service) zRevRangeByScore(cn *Conn, args [][]byte) {
	s.rangeByScoreGeneric(cn, args, true)
}

func (s *Service) rangeByScoreGeneric(cn *Conn, args [][]byte, reverse bool) {
	p := rangeParams{kind: rangeByScore, reverse: reverse, limit: -1}
	i := 3
	for i < len(args) {
		switch string(toUpper(args[i])) {
		case "WITHSCORES":
			p.withScores = true
		case "LIMIT":
			if i+2 >= len(args) {
				cn.Builder().SendError(db.StatusSyntaxErr.String())
				return
			}
			p.offset, _ = strconv.Atoi(string(args[i+1]))
			p.limit, _ = strconv.Atoi(string(args[i+2]))
			i += 2
		default:
			cn.Builder().SendError(db.StatusSyntaxErr.String())
			return
		}
		i++
	}
	if !s.fillRangeBounds(cn, &p, args[1], args[2]) {
		return
	}
	s.rangeGeneric(cn, args[0], p)
}

func (s *Service) zRevRange(cn *Conn, args [][]byte) {
	p := rangeParams{kind: rangeByIndex, reverse: true, limit: -1}
	for _, a := range args[3:] {
		if string(toUpper(a)) != "WITHSCORES" {
			cn.Builder().SendError(db.StatusSyntaxErr.String())
			return
		}
		p.withScores = true
	}
	if !s.fillRangeBounds(cn, &p, args[1], args[2]) {
		return
	}
	s.rangeGeneric(cn, args[0], p)
}

func (s *Service) zRangeByLex(cn *Conn, args [][]byte) {
	s.rangeByLexGeneric(cn, args, false)
}

func (s *Service) zRevRangeByLex(cn *Conn, args [][]byte) {
	s.rangeByLexGeneric(cn, args, true)
}

func (s *Service) rangeByLexGeneric(cn *Conn, args [][]byte, reverse bool) {
	p := rangeParams{kind: rangeByLex, reverse: reverse, limit: -1}
	i := 3
	for i < len(args) {
		if string(toUpper(args[i])) == "LIMIT" && i+2 < len(args) {
			p.offset, _ = strconv.Atoi(string(args[i+1]))
			p.limit, _ = strconv.Atoi(string(args[i+2]))
			i += 3
			continue
		}
		cn.Builder().SendError(db.StatusSyntaxErr.String())
		return
	}
	if !s.fillRangeBounds(cn, &p, args[1], args[2]) {
		return
	}
	s.rangeGeneric(cn, args[0], p)
}

// --------------------------------------------------------------------------
// Counting
// --------------------------------------------------------------------------

func (s *Service) zCount(cn *Conn, args [][]byte) {
	lo, ok1 := parseScoreBound(args[1])
	hi, ok2 := parseScoreBound(args[2])
	if !ok1 || !ok2 {
		cn.Builder().SendError("ERR min or max is not a float")
		return
	}
	spec := sortedmap.ScoreSpec{Min: lo, Max: hi}
	s.replyLongOp(cn, [][]byte{args[0]}, func(oa engine.OpArgs) db.OpResult[int64] {
		pv, status := findZSet(oa, args[0])
		if status == db.StatusKeyNotFound {
			return db.ResultOK[int64](0)
		}
		if status != db.StatusOK {
			return db.ResultErr[int64](status)
		}
		sm, _ := zsetAsMap(pv, oa.Ctx)
		return db.ResultOK(int64(sm.CountByScore(spec)))
	})
}

func (s *Service) zLexCount(cn *Conn, args [][]byte) {
	lo, ok1 := parseLexBound(args[1])
	hi, ok2 := parseLexBound(args[2])
	if !ok1 || !ok2 {
		cn.Builder().SendError("ERR min or max not valid string range item")
		return
	}
	spec := sortedmap.LexSpec{Min: lo, Max: hi}
	s.replyLongOp(cn, [][]byte{args[0]}, func(oa engine.OpArgs) db.OpResult[int64] {
		pv, status := findZSet(oa, args[0])
		if status == db.StatusKeyNotFound {
			return db.ResultOK[int64](0)
		}
		if status != db.StatusOK {
			return db.ResultErr[int64](status)
		}
		sm, _ := zsetAsMap(pv, oa.Ctx)
		return db.ResultOK(int64(sm.CountByLex(spec)))
	})
}

// --------------------------------------------------------------------------
// Removal and popping
// --------------------------------------------------------------------------

// opZMutate runs fn against the sorted map and writes the result back,
// removing the key when it empties.
func (s *Service) opZMutate(oa engine.OpArgs, key []byte, fn func(sm *sortedmap.Map) int64) db.OpResult[int64] {
	slice := oa.Slice()
	res, status := slice.FindMutable(oa.Ctx, key, core.ObjZSet)
	if status != db.StatusOK {
		return db.ResultErr[int64](status)
	}
	pv := res.It.Value()
	stats := slice.MutableStats(oa.Ctx.DB)

	sm, wasPacked := zsetAsMap(pv, oa.Ctx)
	removed := fn(sm)
	s.zsetStore(pv, oa.Ctx, sm, wasPacked, stats)
	res.PostUpdater.Run()

	if zsetLen(pv, oa.Ctx) == 0 {
		if pv.Encoding() == core.EncodingListPack {
			stats.ListpackBlobCnt--
			stats.ListpackBytes -= int64(listpack.Bytes(getListpack(pv)))
		}
		slice.Del(oa.Ctx, res.It)
	}
	return db.ResultOK(removed)
}

func (s *Service) zRem(cn *Conn, args [][]byte) {
	key, members := args[0], args[1:]
	var removed int64
	status := s.singleHop(cn, true, [][]byte{key}, func(tx *engine.Transaction, oa engine.OpArgs) db.OpStatus {
		res := s.opZMutate(oa, key, func(sm *sortedmap.Map) int64 {
			var n int64
			for _, m := range members {
				if sm.Delete(string(m)) {
					n++
				}
			}
			return n
		})
		removed = res.Value
		return res.Status
	})
	if status == db.StatusOK || status == db.StatusKeyNotFound {
		if removed > 0 {
			s.journalWrite(cn, "ZREM", args)
		}
		cn.Builder().SendLong(removed)
	} else {
		cn.SendStatus(status)
	}
}

func (s *Service) zRemRangeGeneric(cn *Conn, cmd string, args [][]byte, fn func(sm *sortedmap.Map) int64) {
	var removed int64
	status := s.singleHop(cn, true, [][]byte{args[0]}, func(tx *engine.Transaction, oa engine.OpArgs) db.OpStatus {
		res := s.opZMutate(oa, args[0], fn)
		removed = res.Value
		return res.Status
	})
	if status == db.StatusOK || status == db.StatusKeyNotFound {
		if removed > 0 {
			s.journalWrite(cn, cmd, args)
		}
		cn.Builder().SendLong(removed)
	} else {
		cn.SendStatus(status)
	}
}

func (s *Service) zRemRangeByRank(cn *Conn, args [][]byte) {
	start, err1 := strconv.Atoi(string(args[1]))
	end, err2 := strconv.Atoi(string(args[2]))
	if err1 != nil || err2 != nil {
		cn.Builder().SendError(db.StatusInvalidInt.String())
		return
	}
	s.zRemRangeGeneric(cn, "ZREMRANGEBYRANK", args, func(sm *sortedmap.Map) int64 {
		st, en := start, end
		if st < 0 {
			st += sm.Len()
		}
		if en < 0 {
			en += sm.Len()
		}
		return int64(sm.DeleteRangeByRank(st, en))
	})
}

func (s *Service) zRemRangeByScore(cn *Conn, args [][]byte) {
	lo, ok1 := parseScoreBound(args[1])
	hi, ok2 := parseScoreBound(args[2])
	if !ok1 || !ok2 {
		cn.Builder().SendError("ERR min or max is not a float")
		return
	}
	spec := sortedmap.ScoreSpec{Min: lo, Max: hi}
	s.zRemRangeGeneric(cn, "ZREMRANGEBYSCORE", args, func(sm *sortedmap.Map) int64 {
		return int64(sm.DeleteRangeByScore(spec))
	})
}

func (s *Service) zRemRangeByLex(cn *Conn, args [][]byte) {
	lo, ok1 := parseLexBound(args[1])
	hi, ok2 := parseLexBound(args[2])
	if !ok1 || !ok2 {
		cn.Builder().SendError("ERR min or max not valid string range item")
		return
	}
	spec := sortedmap.LexSpec{Min: lo, Max: hi}
	s.zRemRangeGeneric(cn, "ZREMRANGEBYLEX", args, func(sm *sortedmap.Map) int64 {
		return int64(sm.DeleteRangeByLex(spec))
	})
}

func (s *Service) zPopGeneric(cn *Conn, cmd string, args [][]byte, reverse bool) {
	count := 1
	if len(args) > 1 {
		c, err := strconv.Atoi(string(args[1]))
		if err != nil || c < 0 {
			cn.Builder().SendError(db.StatusInvalidInt.String())
			return
		}
		count = c
	}

	var popped []sortedmap.ScoredMember
	status := s.singleHop(cn, true, [][]byte{args[0]}, func(tx *engine.Transaction, oa engine.OpArgs) db.OpStatus {
		res := s.opZMutate(oa, args[0], func(sm *sortedmap.Map) int64 {
			popped = sm.PopTop(count, reverse)
			return int64(len(popped))
		})
		return res.Status
	})
	if status == db.StatusOK || status == db.StatusKeyNotFound {
		if len(popped) > 0 {
			s.journalWrite(cn, cmd, args)
		}
		s.sendScored(cn, popped, true)
	} else {
		cn.SendStatus(status)
	}
}

func (s *Service) zPopMin(cn *Conn, args [][]byte) { s.zPopGeneric(cn, "ZPOPMIN", args, false) }
func (s *Service) zPopMax(cn *Conn, args [][]byte) { s.zPopGeneric(cn, "ZPOPMAX", args, true) }

// BZPOPMIN key [key ...] timeout
func (s *Service) bzPopGeneric(cn *Conn, cmd string, args [][]byte, reverse bool) {
	timeoutSec, err := strconv.ParseFloat(string(args[len(args)-1]), 64)
	if err != nil || timeoutSec < 0 {
		cn.Builder().SendError("ERR timeout is not a float or out of range")
		return
	}
	keys := args[:len(args)-1]

	// shard hops run concurrently; the mutex guarantees only one shard
	// pops per wakeup
	var mu sync.Mutex
	var poppedKey []byte
	var popped sortedmap.ScoredMember
	predicate := func(tx *engine.Transaction, oa engine.OpArgs) db.OpStatus {
		mu.Lock()
		defer mu.Unlock()
		if poppedKey != nil {
			return db.StatusOK
		}
		for _, key := range tx.ShardKeys(oa.Shard.ShardID()) {
			res := s.opZMutate(oa, key, func(sm *sortedmap.Map) int64 {
				out := sm.PopTop(1, reverse)
				if len(out) == 1 {
					popped = out[0]
					poppedKey = key
					return 1
				}
				return 0
			})
			if res.Status == db.StatusOK && poppedKey != nil {
				return db.StatusOK
			}
			if res.Status != db.StatusKeyNotFound && res.Status != db.StatusOK {
				return res.Status
			}
		}
		return db.StatusKeyNotFound
	}

	timeout := time.Duration(timeoutSec * float64(time.Second))
	status := s.engine.Blocking().WaitOnWatch(cn.Ctx(), s.engine, cn.DB(), timeout, keys, predicate)
	switch status {
	case db.StatusOK:
		s.journalWrite(cn, cmd, [][]byte{poppedKey})
		cn.Builder().StartArray(3)
		cn.Builder().SendBulkString(poppedKey)
		cn.Builder().SendBulkString([]byte(popped.Member))
		cn.Builder().SendDouble(popped.Score)
	case db.StatusTimedOut:
		cn.Builder().SendNull()
	default:
		cn.SendStatus(status)
	}
}

func (s *Service) bzPopMin(cn *Conn, args [][]byte) { s.bzPopGeneric(cn, "BZPOPMIN", args, false) }
func (s *Service) bzPopMax(cn *Conn, args [][]byte) { s.bzPopGeneric(cn, "BZPOPMAX", args, true) }

// --------------------------------------------------------------------------
// Sampling and scanning
// --------------------------------------------------------------------------

func (s *Service) zRandMember(cn *Conn, args [][]byte) {
	count := 0
	hasCount := len(args) > 1
	withScores := false
	if hasCount {
		c, err := strconv.Atoi(string(args[1]))
		if err != nil {
			cn.Builder().SendError(db.StatusInvalidInt.String())
			return
		}
		count = c
	}
	if len(args) == 3 {
		if string(toUpper(args[2])) != "WITHSCORES" {
			cn.Builder().SendError(db.StatusSyntaxErr.String())
			return
		}
		withScores = true
	}

	var items []sortedmap.ScoredMember
	status := s.singleHop(cn, false, [][]byte{args[0]}, func(tx *engine.Transaction, oa engine.OpArgs) db.OpStatus {
		pv, st := findZSet(oa, args[0])
		if st != db.StatusOK {
			return st
		}
		sm, _ := zsetAsMap(pv, oa.Ctx)
		if !hasCount {
			items = sm.RandomMembers(1, true)
		} else if count >= 0 {
			items = sm.RandomMembers(count, true)
		} else {
			items = sm.RandomMembers(-count, false)
		}
		return db.StatusOK
	})
	switch status {
	case db.StatusOK:
		if !hasCount {
			if len(items) == 0 {
				cn.Builder().SendNull()
			} else {
				cn.Builder().SendBulkString([]byte(items[0].Member))
			}
			return
		}
		s.sendScored(cn, items, withScores)
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

func (s *Service) zScan(cn *Conn, args [][]byte) {
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
			count, _ = strconv.Atoi(string(args[i+1]))
		case "MATCH":
		default:
			cn.Builder().SendError(db.StatusSyntaxErr.String())
			return
		}
	}

	var items [][]byte
	var next uint64
	status := s.singleHop(cn, false, [][]byte{args[0]}, func(tx *engine.Transaction, oa engine.OpArgs) db.OpStatus {
		pv, st := findZSet(oa, args[0])
		if st != db.StatusOK {
			return st
		}
		sm, wasPacked := zsetAsMap(pv, oa.Ctx)
		if wasPacked {
			// single pass over packed sets, like HSCAN
			for _, m := range sm.RangeByIndex(0, sm.Len()-1, false) {
				items = append(items, []byte(m.Member), []byte(formatScore(m.Score)))
			}
			next = 0
			return db.StatusOK
		}
		c := cursor
		for len(items) < count*2 {
			c = sm.Scan(c, func(member string, score float64) {
				items = append(items, []byte(member), []byte(formatScore(score)))
			})
			if c == 0 {
				break
			}
		}
		next = c
		return db.StatusOK
	})
	switch status {
	case db.StatusOK, db.StatusKeyNotFound:
		cn.Builder().StartArray(2)
		cn.Builder().SendBulkString([]byte(strconv.FormatUint(next, 10)))
		cn.Builder().SendStringArr(items)
	default:
		cn.SendStatus(status)
	}
}

// --------------------------------------------------------------------------
// Set operations across keys
// --------------------------------------------------------------------------

type aggType uint8

const (
	aggSum aggType = iota
	aggMin
	aggMax
)

type setOpArgs struct {
	numKeys    int
	keys       [][]byte
	weights    []float64
	agg        aggType
	withScores bool
	limit      int // ZINTERCARD
}

func parseSetOpArgs(cn *Conn, args [][]byte, allowWeights bool) (*setOpArgs, bool) {
	numKeys, err := strconv.Atoi(string(args[0]))
	if err != nil || numKeys <= 0 || numKeys > len(args)-1 {
		cn.Builder().SendError("ERR at least 1 input key is needed")
		return nil, false
	}
	op := &setOpArgs{numKeys: numKeys, keys: args[1 : 1+numKeys], agg: aggSum, limit: -1}
	op.weights = make([]float64, numKeys)
	for i := range op.weights {
		op.weights[i] = 1
	}

	rest := args[1+numKeys:]
	for i := 0; i < len(rest); i++ {
		switch string(toUpper(rest[i])) {
		case "WEIGHTS":
			if !allowWeights || i+numKeys >= len(rest) {
				cn.Builder().SendError(db.StatusSyntaxErr.String())
				return nil, false
			}
			for j := 0; j < numKeys; j++ {
				w, ok := parseScore(rest[i+1+j])
				if !ok {
					cn.Builder().SendError("ERR weight value is not a float")
					return nil, false
				}
				op.weights[j] = w
			}
			i += numKeys
		case "AGGREGATE":
			if i+1 >= len(rest) {
				cn.Builder().SendError(db.StatusSyntaxErr.String())
				return nil, false
			}
			switch string(toUpper(rest[i+1])) {
			case "SUM":
				op.agg = aggSum
			case "MIN":
				op.agg = aggMin
			case "MAX":
				op.agg = aggMax
			default:
				cn.Builder().SendError(db.StatusSyntaxErr.String())
				return nil, false
			}
			i++
		case "WITHSCORES":
			op.withScores = true
		case "LIMIT":
			if i+1 >= len(rest) {
				cn.Builder().SendError(db.StatusSyntaxErr.String())
				return nil, false
			}
			lim, err := strconv.Atoi(string(rest[i+1]))
			if err != nil || lim < 0 {
				cn.Builder().SendError("ERR LIMIT can't be negative")
				return nil, false
			}
			op.limit = lim
			i++
		default:
			cn.Builder().SendError(db.StatusSyntaxErr.String())
			return nil, false
		}
	}
	return op, true
}

// collectScoredMaps fetches member→score maps of every source key. When
// dest is set the transaction stays open for the store hop and is returned
// to the caller.
func (s *Service) collectScoredMaps(cn *Conn, op *setOpArgs, dest []byte) ([]map[string]float64, *engine.Transaction, db.OpStatus) {
	maps := make([]map[string]float64, op.numKeys)

	txKeys := append([][]byte{}, op.keys...)
	if dest != nil {
		txKeys = append(txKeys, dest)
	}
	tx := s.engine.NewTransaction(cn.Ctx(), cn.DB(), dest != nil, txKeys...)

	status := tx.Execute(func(tx *engine.Transaction, oa engine.OpArgs) db.OpStatus {
		for i, key := range op.keys {
			if s.engine.ShardForKey(key) != oa.Shard.ShardID() {
				continue
			}
			pv, st := findZSet(oa, key)
			if st == db.StatusKeyNotFound {
				continue
			}
			if st != db.StatusOK {
				return st
			}
			sm, _ := zsetAsMap(pv, oa.Ctx)
			m := make(map[string]float64, sm.Len())
			for _, e := range sm.RangeByIndex(0, sm.Len()-1, false) {
				m[e.Member] = e.Score * op.weights[i]
			}
			maps[i] = m
		}
		return db.StatusOK
	}, dest == nil)

	if status != db.StatusOK {
		tx.Conclude()
		return nil, nil, status
	}
	if dest == nil {
		return maps, nil, db.StatusOK
	}
	return maps, tx, db.StatusOK
}

func aggScores(old, score float64, agg aggType) float64 {
	switch agg {
	case aggMin:
		if score < old {
			return score
		}
		return old
	case aggMax:
		if score > old {
			return score
		}
		return old
	default:
		return old + score
	}
}

func unionMaps(maps []map[string]float64, agg aggType) map[string]float64 {
	out := make(map[string]float64)
	for _, m := range maps {
		for member, score := range m {
			if old, exists := out[member]; exists {
				out[member] = aggScores(old, score, agg)
			} else {
				out[member] = score
			}
		}
	}
	return out
}

func interMaps(maps []map[string]float64, agg aggType) map[string]float64 {
	out := make(map[string]float64)
	first := true
	for _, m := range maps {
		if len(m) == 0 {
			return map[string]float64{}
		}
		if first {
			for member, score := range m {
				out[member] = score
			}
			first = false
			continue
		}
		next := make(map[string]float64)
		for member, score := range m {
			if old, exists := out[member]; exists {
				next[member] = aggScores(old, score, agg)
			}
		}
		out = next
		if len(out) == 0 {
			break
		}
	}
	return out
}

func diffMaps(maps []map[string]float64) map[string]float64 {
	out := make(map[string]float64)
	for member, score := range maps[0] {
		out[member] = score
	}
	for _, m := range maps[1:] {
		for member := range m {
			delete(out, member)
		}
	}
	return out
}

// storeResult writes the aggregated members into dest as a fresh sorted
// set, concluding the transaction.
func (s *Service) storeResult(tx *engine.Transaction, dest []byte, result map[string]float64) db.OpStatus {
	destShard := s.engine.ShardForKey(dest)

	status := tx.Execute(func(tx *engine.Transaction, oa engine.OpArgs) db.OpStatus {
		if oa.Shard.ShardID() != destShard {
			return db.StatusOK
		}
		slice := oa.Slice()
		if it, st := slice.FindReadOnlyAnyType(oa.Ctx, dest); st == db.StatusOK {
			slice.Del(oa.Ctx, it)
		}
		if len(result) == 0 {
			return db.StatusOK
		}

		members := make([]sortedmap.ScoredMember, 0, len(result))
		for member, score := range result {
			members = append(members, sortedmap.ScoredMember{Member: member, Score: score})
		}
		res := s.opZAdd(oa, dest, zparams{}, members)
		return res.Status
	}, true)
	return status
}

func (s *Service) zSetOpGeneric(cn *Conn, cmd string, args [][]byte, store bool,
	combine func([]map[string]float64, aggType) map[string]float64, sortMode int) {

	var dest []byte
	opArgs := args
	if store {
		dest = args[0]
		opArgs = args[1:]
	}
	op, ok := parseSetOpArgs(cn, opArgs, true)
	if !ok {
		return
	}

	maps, storeTx, status := s.collectScoredMaps(cn, op, dest)
	if status != db.StatusOK {
		cn.SendStatus(status)
		return
	}
	for i, m := range maps {
		if m == nil {
			maps[i] = map[string]float64{}
		}
	}
	result := combine(maps, op.agg)

	if store {
		status = s.storeResult(storeTx, dest, result)
		if status != db.StatusOK {
			cn.SendStatus(status)
			return
		}
		s.journalWrite(cn, cmd, args)
		cn.Builder().SendLong(int64(len(result)))
		return
	}

	items := make([]sortedmap.ScoredMember, 0, len(result))
	for member, score := range result {
		items = append(items, sortedmap.ScoredMember{Member: member, Score: score})
	}
	switch sortMode {
	case sortByScoreOnly:
		sort.SliceStable(items, func(i, j int) bool { return items[i].Score < items[j].Score })
	case sortByScoreMember:
		sort.Slice(items, func(i, j int) bool {
			if items[i].Score != items[j].Score {
				return items[i].Score < items[j].Score
			}
			return items[i].Member < items[j].Member
		})
	}
	s.sendScored(cn, items, op.withScores)
}

const (
	sortByScoreMember = iota
	sortByScoreOnly
)

func (s *Service) zUnion(cn *Conn, args [][]byte) {
	s.zSetOpGeneric(cn, "ZUNION", args, false, unionMaps, sortByScoreMember)
}

func (s *Service) zUnionStore(cn *Conn, args [][]byte) {
	s.zSetOpGeneric(cn, "ZUNIONSTORE", args, true, unionMaps, sortByScoreMember)
}

func (s *Service) zInter(cn *Conn, args [][]byte) {
	s.zSetOpGeneric(cn, "ZINTER", args, false, interMaps, sortByScoreOnly)
}

func (s *Service) zInterStore(cn *Conn, args [][]byte) {
	s.zSetOpGeneric(cn, "ZINTERSTORE", args, true, interMaps, sortByScoreOnly)
}

func (s *Service) zInterCard(cn *Conn, args [][]byte) {
	op, ok := parseSetOpArgs(cn, args, false)
	if !ok {
		return
	}
	maps, _, status := s.collectScoredMaps(cn, op, nil)
	if status != db.StatusOK {
		cn.SendStatus(status)
		return
	}
	result := interMaps(maps, aggSum)
	card := int64(len(result))
	if op.limit >= 0 && card > int64(op.limit) {
		card = int64(op.limit)
	}
	cn.Builder().SendLong(card)
}

func (s *Service) zDiff(cn *Conn, args [][]byte) {
	op, ok := parseSetOpArgs(cn, args, false)
	if !ok {
		return
	}
	maps, _, status := s.collectScoredMaps(cn, op, nil)
	if status != db.StatusOK {
		cn.SendStatus(status)
		return
	}
	for i, m := range maps {
		if m == nil {
			maps[i] = map[string]float64{}
		}
	}
	result := diffMaps(maps)

	items := make([]sortedmap.ScoredMember, 0, len(result))
	for member, score := range result {
		items = append(items, sortedmap.ScoredMember{Member: member, Score: score})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score < items[j].Score
		}
		return items[i].Member < items[j].Member
	})
	s.sendScored(cn, items, op.withScores)
}

// --------------------------------------------------------------------------
// Registration
// --------------------------------------------------------------------------

func (s *Service) registerZSetFamily() {
	reg := func(name string, arity int, flags CmdFlags, acl ACL, h Handler) {
		s.registry.Register(&CommandID{Name: name, Arity: arity, Flags: flags, ACL: acl, Handler: h})
	}

	reg("ZADD", -4, CmdWrite|CmdFast|CmdDenyOOM, AclWrite|AclSortedSet|AclFast, s.zAdd)
	reg("ZCARD", 2, CmdReadOnly|CmdFast, AclRead|AclSortedSet|AclFast, s.zCard)
	reg("ZCOUNT", 4, CmdReadOnly|CmdFast, AclRead|AclSortedSet|AclFast, s.zCount)
	reg("ZINCRBY", 4, CmdWrite|CmdFast|CmdDenyOOM, AclWrite|AclSortedSet|AclFast, s.zIncrBy)
	reg("ZRANGE", -4, CmdReadOnly, AclRead|AclSortedSet|AclSlow, s.zRange)
	reg("ZRANGEBYSCORE", -4, CmdReadOnly, AclRead|AclSortedSet|AclSlow, s.zRangeByScore)
	reg("ZRANGEBYLEX", -4, CmdReadOnly, AclRead|AclSortedSet|AclSlow, s.zRangeByLex)
	reg("ZREVRANGE", -4, CmdReadOnly, AclRead|AclSortedSet|AclSlow, s.zRevRange)
	reg("ZREVRANGEBYSCORE", -4, CmdReadOnly, AclRead|AclSortedSet|AclSlow, s.zRevRangeByScore)
	reg("ZREVRANGEBYLEX", -4, CmdReadOnly, AclRead|AclSortedSet|AclSlow, s.zRevRangeByLex)
	reg("ZRANK", 3, CmdReadOnly|CmdFast, AclRead|AclSortedSet|AclFast, s.zRank)
	reg("ZREVRANK", 3, CmdReadOnly|CmdFast, AclRead|AclSortedSet|AclFast, s.zRevRank)
	reg("ZSCORE", 3, CmdReadOnly|CmdFast, AclRead|AclSortedSet|AclFast, s.zScore)
	reg("ZMSCORE", -3, CmdReadOnly|CmdFast, AclRead|AclSortedSet|AclFast, s.zMScore)
	reg("ZPOPMIN", -2, CmdWrite|CmdFast, AclWrite|AclSortedSet|AclFast, s.zPopMin)
	reg("ZPOPMAX", -2, CmdWrite|CmdFast, AclWrite|AclSortedSet|AclFast, s.zPopMax)
	reg("BZPOPMIN", -3, CmdWrite|CmdFast|CmdBlockingFlag, AclWrite|AclSortedSet|AclFast|AclBlocking, s.bzPopMin)
	reg("BZPOPMAX", -3, CmdWrite|CmdFast|CmdBlockingFlag, AclWrite|AclSortedSet|AclFast|AclBlocking, s.bzPopMax)
	reg("ZREM", -3, CmdWrite|CmdFast, AclWrite|AclSortedSet|AclFast, s.zRem)
	reg("ZREMRANGEBYRANK", 4, CmdWrite, AclWrite|AclSortedSet|AclSlow, s.zRemRangeByRank)
	reg("ZREMRANGEBYSCORE", 4, CmdWrite, AclWrite|AclSortedSet|AclSlow, s.zRemRangeByScore)
	reg("ZREMRANGEBYLEX", 4, CmdWrite, AclWrite|AclSortedSet|AclSlow, s.zRemRangeByLex)
	reg("ZLEXCOUNT", 4, CmdReadOnly|CmdFast, AclRead|AclSortedSet|AclFast, s.zLexCount)
	reg("ZRANDMEMBER", -2, CmdReadOnly, AclRead|AclSortedSet|AclSlow, s.zRandMember)
	reg("ZSCAN", -3, CmdReadOnly, AclRead|AclSortedSet|AclSlow, s.zScan)
	reg("ZUNION", -3, CmdReadOnly, AclRead|AclSortedSet|AclSlow, s.zUnion)
	reg("ZUNIONSTORE", -4, CmdWrite|CmdDenyOOM, AclWrite|AclSortedSet|AclSlow, s.zUnionStore)
	reg("ZINTER", -3, CmdReadOnly, AclRead|AclSortedSet|AclSlow, s.zInter)
	reg("ZINTERSTORE", -4, CmdWrite|CmdDenyOOM, AclWrite|AclSortedSet|AclSlow, s.zInterStore)
	reg("ZINTERCARD", -3, CmdReadOnly, AclRead|AclSortedSet|AclSlow, s.zInterCard)
	reg("ZDIFF", -3, CmdReadOnly, AclRead|AclSortedSet|AclSlow, s.zDiff)
}
