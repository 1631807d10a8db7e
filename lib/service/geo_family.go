package service

import (
	"math"
	"sort"
	"strconv"

	"github.com/finchdb/finch/lib/core/sortedmap"
	"github.com/finchdb/finch/lib/db"
	"github.com/finchdb/finch/lib/engine"
)

// --------------------------------------------------------------------------
// Geohash encoding
// --------------------------------------------------------------------------

// Geo members are sorted-set members whose score is a 52-bit geohash:
// longitude and latitude are quantized to 26 bits each and interleaved,
// longitude on the even bits.

const (
	geoStep = 26

	geoLatMin = -85.05112878
	geoLatMax = 85.05112878
	geoLonMin = -180.0
	geoLonMax = 180.0

	earthRadiusM = 6372797.560856
)

// interleave64 spreads the bits of x onto the even positions and y onto
// the odd ones.
func interleave64(x, y uint32) uint64 {
	spread := func(v uint64) uint64 {
		v &= 0xFFFFFFFF
		v = (v | (v << 16)) & 0x0000FFFF0000FFFF
		v = (v | (v << 8)) & 0x00FF00FF00FF00FF
		v = (v | (v << 4)) & 0x0F0F0F0F0F0F0F0F
		v = (v | (v << 2)) & 0x3333333333333333
		v = (v | (v << 1)) & 0x5555555555555555
		return v
	}
	return spread(uint64(x)) | (spread(uint64(y)) << 1)
}

// deinterleave64 reverses interleave64.
func deinterleave64(v uint64) (x, y uint32) {
	squash := func(v uint64) uint32 {
		v &= 0x5555555555555555
		v = (v | (v >> 1)) & 0x3333333333333333
		v = (v | (v >> 2)) & 0x0F0F0F0F0F0F0F0F
		v = (v | (v >> 4)) & 0x00FF00FF00FF00FF
		v = (v | (v >> 8)) & 0x0000FFFF0000FFFF
		v = (v | (v >> 16)) & 0x00000000FFFFFFFF
		return uint32(v)
	}
	return squash(v), squash(v >> 1)
}

// geoEncode quantizes a point into its 52-bit cell id.
func geoEncode(lon, lat float64) uint64 {
	lonOff := (lon - geoLonMin) / (geoLonMax - geoLonMin)
	latOff := (lat - geoLatMin) / (geoLatMax - geoLatMin)
	lonBits := uint32(lonOff * float64(uint64(1)<<geoStep))
	latBits := uint32(latOff * float64(uint64(1)<<geoStep))
	return interleave64(lonBits, latBits)
}

// geoDecode returns the center of a cell.
func geoDecode(bits uint64) (lon, lat float64) {
	lonBits, latBits := deinterleave64(bits)
	scale := float64(uint64(1) << geoStep)
	lonUnit := (float64(lonBits) + 0.5) / scale
	latUnit := (float64(latBits) + 0.5) / scale
	lon = geoLonMin + lonUnit*(geoLonMax-geoLonMin)
	lat = geoLatMin + latUnit*(geoLatMax-geoLatMin)
	return lon, lat
}

// haversine returns the distance in meters between two points.
func haversine(lon1, lat1, lon2, lat2 float64) float64 {
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	lat1r, lat2r := rad(lat1), rad(lat2)
	u := math.Sin((lat2r - lat1r) / 2)
	v := math.Sin((rad(lon2) - rad(lon1)) / 2)
	return 2 * earthRadiusM * math.Asin(math.Sqrt(u*u+math.Cos(lat1r)*math.Cos(lat2r)*v*v))
}

func unitToMeters(cn *Conn, unit []byte) (float64, bool) {
	switch string(toUpper(unit)) {
	case "M":
		return 1, true
	case "KM":
		return 1000, true
	case "FT":
		return 0.3048, true
	case "MI":
		return 1609.34, true
	default:
		cn.Builder().SendError("ERR unsupported unit provided. please use M, KM, FT, MI")
		return 0, false
	}
}

// geohashAlphabet renders the classic 11 character base-32 geohash string.
const geohashAlphabet = "0123456789bcdefghjkmnpqrstuvwxyz"

func geohashString(lon, lat float64) string {
	// the string form uses the full [-90, 90] latitude range
	latOff := (lat + 90) / 180
	lonOff := (lon + 180) / 360
	latBits := uint32(latOff * float64(uint64(1)<<geoStep))
	lonBits := uint32(lonOff * float64(uint64(1)<<geoStep))
	bits := interleave64(latBits, lonBits)

	var out [11]byte
	for i := 0; i < 11; i++ {
		shift := uint(52 - (i+1)*5)
		out[i] = geohashAlphabet[(bits>>shift)&0x1F]
	}
	return string(out[:])
}

// --------------------------------------------------------------------------
// Handlers
// --------------------------------------------------------------------------

// GEOADD key lon lat member [lon lat member ...]
func (s *Service) geoAdd(cn *Conn, args [][]byte) {
	key := args[0]
	rest := args[1:]
	if len(rest) == 0 || len(rest)%3 != 0 {
		cn.Builder().SendError(db.StatusSyntaxErr.String())
		return
	}

	zargs := [][]byte{key}
	for i := 0; i < len(rest); i += 3 {
		lon, err1 := strconv.ParseFloat(string(rest[i]), 64)
		lat, err2 := strconv.ParseFloat(string(rest[i+1]), 64)
		if err1 != nil || err2 != nil {
			cn.Builder().SendError(db.StatusInvalidFloat.String())
			return
		}
		if lon < geoLonMin || lon > geoLonMax || lat < geoLatMin || lat > geoLatMax {
			cn.Builder().SendError("ERR invalid longitude,latitude pair " +
				string(rest[i]) + "," + string(rest[i+1]))
			return
		}
		score := strconv.FormatUint(geoEncode(lon, lat), 10)
		zargs = append(zargs, []byte(score), rest[i+2])
	}
	s.zAdd(cn, zargs)
}

// geoMemberPos resolves the stored cell of each member.
func (s *Service) geoMemberPos(cn *Conn, key []byte, members [][]byte) ([]*[2]float64, db.OpStatus) {
	out := make([]*[2]float64, len(members))
	status := s.singleHop(cn, false, [][]byte{key}, func(tx *engine.Transaction, oa engine.OpArgs) db.OpStatus {
		pv, st := findZSet(oa, key)
		if st != db.StatusOK {
			return st
		}
		sm, _ := zsetAsMap(pv, oa.Ctx)
		for i, m := range members {
			if score, found := sm.GetScore(string(m)); found {
				lon, lat := geoDecode(uint64(score))
				out[i] = &[2]float64{lon, lat}
			}
		}
		return db.StatusOK
	})
	return out, status
}

func (s *Service) geoPos(cn *Conn, args [][]byte) {
	positions, status := s.geoMemberPos(cn, args[0], args[1:])
	if status != db.StatusOK && status != db.StatusKeyNotFound {
		cn.SendStatus(status)
		return
	}
	cn.Builder().StartArray(len(positions))
	for _, p := range positions {
		if p == nil {
			cn.Builder().SendNull()
			continue
		}
		cn.Builder().StartArray(2)
		cn.Builder().SendBulkString([]byte(strconv.FormatFloat(p[0], 'f', 17, 64)))
		cn.Builder().SendBulkString([]byte(strconv.FormatFloat(p[1], 'f', 17, 64)))
	}
}

func (s *Service) geoHash(cn *Conn, args [][]byte) {
	positions, status := s.geoMemberPos(cn, args[0], args[1:])
	if status != db.StatusOK && status != db.StatusKeyNotFound {
		cn.SendStatus(status)
		return
	}
	cn.Builder().StartArray(len(positions))
	for _, p := range positions {
		if p == nil {
			cn.Builder().SendNull()
			continue
		}
		cn.Builder().SendBulkString([]byte(geohashString(p[0], p[1])))
	}
}

// GEODIST key member1 member2 [unit]
func (s *Service) geoDist(cn *Conn, args [][]byte) {
	toMeters := 1.0
	if len(args) == 4 {
		m, ok := unitToMeters(cn, args[3])
		if !ok {
			return
		}
		toMeters = m
	}

	positions, status := s.geoMemberPos(cn, args[0], args[1:3])
	if status != db.StatusOK && status != db.StatusKeyNotFound {
		cn.SendStatus(status)
		return
	}
	if positions[0] == nil || positions[1] == nil {
		cn.Builder().SendNull()
		return
	}
	dist := haversine(positions[0][0], positions[0][1], positions[1][0], positions[1][1])
	cn.Builder().SendBulkString([]byte(strconv.FormatFloat(dist/toMeters, 'f', 4, 64)))
}

// --------------------------------------------------------------------------
// GEOSEARCH
// --------------------------------------------------------------------------

type geoSearchShape uint8

const (
	shapeRadius geoSearchShape = iota
	shapeBox
)

type geoSearchOpts struct {
	fromMember []byte
	lon, lat   float64
	hasCenter  bool

	shape    geoSearchShape
	radiusM  float64
	widthM   float64
	heightM  float64
	unitName string

	asc, desc bool
	count     int
	any       bool

	withCoord bool
	withDist  bool
	withHash  bool

	storeKey  []byte
	storeDist bool
}

type geoHit struct {
	member string
	score  uint64
	lon    float64
	lat    float64
	dist   float64
}

func (s *Service) parseGeoSearch(cn *Conn, args [][]byte, o *geoSearchOpts) bool {
	i := 0
	for i < len(args) {
		switch string(toUpper(args[i])) {
		case "FROMMEMBER":
			if i+1 >= len(args) {
				break
			}
			o.fromMember = args[i+1]
			i += 2
			continue
		case "FROMLONLAT":
			if i+2 >= len(args) {
				break
			}
			lon, err1 := strconv.ParseFloat(string(args[i+1]), 64)
			lat, err2 := strconv.ParseFloat(string(args[i+2]), 64)
			if err1 != nil || err2 != nil {
				cn.Builder().SendError(db.StatusInvalidFloat.String())
				return false
			}
			o.lon, o.lat, o.hasCenter = lon, lat, true
			i += 3
			continue
		case "BYRADIUS":
			if i+2 >= len(args) {
				break
			}
			r, err := strconv.ParseFloat(string(args[i+1]), 64)
			if err != nil {
				cn.Builder().SendError(db.StatusInvalidFloat.String())
				return false
			}
			unit, ok := unitToMeters(cn, args[i+2])
			if !ok {
				return false
			}
			o.shape = shapeRadius
			o.radiusM = r * unit
			o.unitName = string(toUpper(args[i+2]))
			i += 3
			continue
		case "BYBOX":
			if i+3 >= len(args) {
				break
			}
			w, err1 := strconv.ParseFloat(string(args[i+1]), 64)
			h, err2 := strconv.ParseFloat(string(args[i+2]), 64)
			if err1 != nil || err2 != nil {
				cn.Builder().SendError(db.StatusInvalidFloat.String())
				return false
			}
			unit, ok := unitToMeters(cn, args[i+3])
			if !ok {
				return false
			}
			o.shape = shapeBox
			o.widthM, o.heightM = w*unit, h*unit
			o.unitName = string(toUpper(args[i+3]))
			i += 4
			continue
		case "ASC":
			o.asc = true
			i++
			continue
		case "DESC":
			o.desc = true
			i++
			continue
		case "COUNT":
			if i+1 >= len(args) {
				break
			}
			c, err := strconv.Atoi(string(args[i+1]))
			if err != nil || c <= 0 {
				cn.Builder().SendError(db.StatusInvalidInt.String())
				return false
			}
			o.count = c
			i += 2
			if i < len(args) && string(toUpper(args[i])) == "ANY" {
				o.any = true
				i++
			}
			continue
		case "WITHCOORD":
			o.withCoord = true
			i++
			continue
		case "WITHDIST":
			o.withDist = true
			i++
			continue
		case "WITHHASH":
			o.withHash = true
			i++
			continue
		case "STORE":
			if i+1 >= len(args) {
				break
			}
			o.storeKey = args[i+1]
			i += 2
			continue
		case "STOREDIST":
			if i+1 >= len(args) {
				break
			}
			o.storeKey = args[i+1]
			o.storeDist = true
			i += 2
			continue
		}
		cn.Builder().SendError(db.StatusSyntaxErr.String())
		return false
	}

	if o.fromMember == nil && !o.hasCenter {
		cn.Builder().SendError(db.StatusSyntaxErr.String())
		return false
	}
	if o.radiusM == 0 && o.widthM == 0 && o.heightM == 0 {
		cn.Builder().SendError(db.StatusSyntaxErr.String())
		return false
	}
	return true
}

// geoCollect scans the whole set, decodes every member and keeps the ones
// inside the search shape. COUNT ANY stops as soon as enough hits exist.
func (o *geoSearchOpts) geoCollect(sm *sortedmap.Map) []geoHit {
	var hits []geoHit
	for _, m := range sm.RangeByIndex(0, sm.Len()-1, false) {
		bits := uint64(m.Score)
		lon, lat := geoDecode(bits)
		dist := haversine(o.lon, o.lat, lon, lat)

		inside := false
		if o.shape == shapeRadius {
			inside = dist <= o.radiusM
		} else {
			// box containment along the rhumb axes through the center
			dLon := haversine(o.lon, lat, lon, lat)
			dLat := haversine(lon, o.lat, lon, lat)
			inside = dLon <= o.widthM/2 && dLat <= o.heightM/2
		}
		if inside {
			hits = append(hits, geoHit{member: m.Member, score: bits, lon: lon, lat: lat, dist: dist})
			if o.any && o.count > 0 && len(hits) >= o.count {
				break
			}
		}
	}
	return hits
}

func (s *Service) geoSearchGeneric(cn *Conn, cmd string, key []byte, o *geoSearchOpts, allArgs [][]byte) {
	var hits []geoHit
	var searchStatus db.OpStatus

	status := s.singleHop(cn, false, [][]byte{key}, func(tx *engine.Transaction, oa engine.OpArgs) db.OpStatus {
		pv, st := findZSet(oa, key)
		if st != db.StatusOK {
			return st
		}
		sm, _ := zsetAsMap(pv, oa.Ctx)

		if o.fromMember != nil {
			score, found := sm.GetScore(string(o.fromMember))
			if !found {
				searchStatus = db.StatusMemberNotFound
				return db.StatusOK
			}
			o.lon, o.lat = geoDecode(uint64(score))
		}
		hits = o.geoCollect(sm)
		return db.StatusOK
	})

	if status == db.StatusKeyNotFound {
		cn.Builder().SendEmptyArray()
		return
	}
	if status != db.StatusOK {
		cn.SendStatus(status)
		return
	}
	if searchStatus == db.StatusMemberNotFound {
		cn.Builder().SendError("ERR could not decode requested zset member")
		return
	}

	if o.asc || o.desc || (o.count > 0 && !o.any) {
		sort.Slice(hits, func(i, j int) bool {
			if o.desc {
				return hits[i].dist > hits[j].dist
			}
			return hits[i].dist < hits[j].dist
		})
	}
	if o.count > 0 && len(hits) > o.count {
		hits = hits[:o.count]
	}

	if o.storeKey != nil {
		s.geoStore(cn, cmd, o, hits, allArgs)
		return
	}

	withExtras := o.withCoord || o.withDist || o.withHash
	cn.Builder().StartArray(len(hits))
	for _, h := range hits {
		if !withExtras {
			cn.Builder().SendBulkString([]byte(h.member))
			continue
		}
		n := 1
		if o.withDist {
			n++
		}
		if o.withHash {
			n++
		}
		if o.withCoord {
			n++
		}
		cn.Builder().StartArray(n)
		cn.Builder().SendBulkString([]byte(h.member))
		if o.withDist {
			unit := 1.0
			switch o.unitName {
			case "KM":
				unit = 1000
			case "FT":
				unit = 0.3048
			case "MI":
				unit = 1609.34
			}
			cn.Builder().SendBulkString([]byte(strconv.FormatFloat(h.dist/unit, 'f', 4, 64)))
		}
		if o.withHash {
			cn.Builder().SendLong(int64(h.score))
		}
		if o.withCoord {
			cn.Builder().StartArray(2)
			cn.Builder().SendBulkString([]byte(strconv.FormatFloat(h.lon, 'f', 17, 64)))
			cn.Builder().SendBulkString([]byte(strconv.FormatFloat(h.lat, 'f', 17, 64)))
		}
	}
}

// geoStore writes the hits into the destination sorted set, scored by
// cell id or by distance when STOREDIST was given.
func (s *Service) geoStore(cn *Conn, cmd string, o *geoSearchOpts, hits []geoHit, allArgs [][]byte) {
	dest := o.storeKey
	members := make([]sortedmap.ScoredMember, 0, len(hits))
	for _, h := range hits {
		score := float64(h.score)
		if o.storeDist {
			score = h.dist
		}
		members = append(members, sortedmap.ScoredMember{Member: h.member, Score: score})
	}

	status := s.singleHop(cn, true, [][]byte{dest}, func(tx *engine.Transaction, oa engine.OpArgs) db.OpStatus {
		slice := oa.Slice()
		if it, st := slice.FindReadOnlyAnyType(oa.Ctx, dest); st == db.StatusOK {
			slice.Del(oa.Ctx, it)
		}
		if len(members) == 0 {
			return db.StatusOK
		}
		res := s.opZAdd(oa, dest, zparams{}, members)
		return res.Status
	})
	if status != db.StatusOK {
		cn.SendStatus(status)
		return
	}
	s.journalWrite(cn, cmd, allArgs)
	cn.Builder().SendLong(int64(len(members)))
}

// GEOSEARCH key FROMMEMBER m | FROMLONLAT lon lat, BYRADIUS r unit | BYBOX w h unit ...
func (s *Service) geoSearch(cn *Conn, args [][]byte) {
	o := &geoSearchOpts{}
	if !s.parseGeoSearch(cn, args[1:], o) {
		return
	}
	if o.storeKey != nil {
		cn.Builder().SendError(db.StatusSyntaxErr.String())
		return
	}
	s.geoSearchGeneric(cn, "GEOSEARCH", args[0], o, args)
}

// GEORADIUSBYMEMBER key member radius unit [options ...] [STORE|STOREDIST key]
func (s *Service) geoRadiusByMember(cn *Conn, args [][]byte) {
	o := &geoSearchOpts{fromMember: args[1]}
	r, err := strconv.ParseFloat(string(args[2]), 64)
	if err != nil {
		cn.Builder().SendError(db.StatusInvalidFloat.String())
		return
	}
	unit, ok := unitToMeters(cn, args[3])
	if !ok {
		return
	}
	o.shape = shapeRadius
	o.radiusM = r * unit
	o.unitName = string(toUpper(args[3]))

	if !s.parseGeoSearch(cn, args[4:], o) {
		return
	}
	s.geoSearchGeneric(cn, "GEORADIUSBYMEMBER", args[0], o, args)
}

// --------------------------------------------------------------------------
// Registration
// --------------------------------------------------------------------------

func (s *Service) registerGeoFamily() {
	reg := func(name string, arity int, flags CmdFlags, acl ACL, h Handler) {
		s.registry.Register(&CommandID{Name: name, Arity: arity, Flags: flags, ACL: acl, Handler: h})
	}

	reg("GEOADD", -5, CmdWrite|CmdDenyOOM, AclWrite|AclGeo|AclSlow, s.geoAdd)
	reg("GEOHASH", -3, CmdReadOnly, AclRead|AclGeo|AclSlow, s.geoHash)
	reg("GEOPOS", -3, CmdReadOnly, AclRead|AclGeo|AclSlow, s.geoPos)
	reg("GEODIST", -4, CmdReadOnly, AclRead|AclGeo|AclSlow, s.geoDist)
	reg("GEOSEARCH", -7, CmdReadOnly, AclRead|AclGeo|AclSlow, s.geoSearch)
	reg("GEORADIUSBYMEMBER", -5, CmdWrite|CmdDenyOOM, AclWrite|AclGeo|AclSlow, s.geoRadiusByMember)
}
