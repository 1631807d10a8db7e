package service

import (
	"github.com/finchdb/finch/lib/config"
	"github.com/finchdb/finch/lib/core"
	"github.com/finchdb/finch/lib/core/listpack"
	"github.com/finchdb/finch/lib/core/strmap"
	"github.com/finchdb/finch/lib/db"
)

// memberTimeSeconds converts the transaction time to the 32-bit second
// clock field maps run on.
func memberTimeSeconds(ctx db.Context) uint32 {
	return uint32(ctx.TimeNowMs / 1000)
}

// getStringMap returns the promoted map payload with its clock advanced to
// the transaction time.
func getStringMap(pv *core.CompactValue, ctx db.Context) *strmap.Map {
	sm := pv.RobjInner().(*strmap.Map)
	sm.SetTime(memberTimeSeconds(ctx))
	return sm
}

// getListpack returns the packed payload.
func getListpack(pv *core.CompactValue) []byte {
	return pv.RobjInner().([]byte)
}

// goodForListpack reports whether the new field/value views keep the
// packed encoding within its limits.
func goodForListpack(cfg *config.Config, lp []byte, views ...[]byte) bool {
	sum := 0
	for _, v := range views {
		if len(v) > cfg.MaxMapFieldLen {
			return false
		}
		sum += len(v)
	}
	return listpack.Bytes(lp)+sum < cfg.MaxListpackMapBytes
}

// convertToStrMap promotes a packed hash. Duplicate fields inside the
// listpack violate the encoding invariant and are logged as internal
// errors.
func convertToStrMap(lp []byte, ctx db.Context) *strmap.Map {
	sm := strmap.New()
	sm.SetTime(memberTimeSeconds(ctx))
	sm.Reserve(listpack.NumPairs(lp))

	var fbuf, vbuf [20]byte
	for off := listpack.First(lp); off != -1; {
		field := listpack.Get(lp, off, fbuf[:])
		voff := listpack.Next(lp, off)
		value := listpack.Get(lp, voff, vbuf[:])
		if !sm.AddOrUpdate(field, value, strmap.NoTTL) {
			log.Errorf("internal error: duplicate field %q while converting listpack to stringmap", field)
		}
		off = listpack.Next(lp, voff)
	}
	return sm
}

// hashLen returns the field count of a hash value.
func hashLen(pv *core.CompactValue, ctx db.Context) int {
	if pv.Encoding() == core.EncodingStrMap {
		return getStringMap(pv, ctx).UpperBoundSize()
	}
	return listpack.NumPairs(getListpack(pv))
}
