package proj

import (
	"sort"
	"strconv"
	"strings"
)

// Set maps an authority to the projections known under it, keyed by code.
type Set map[string]map[string]*Projection

// Resolve builds the Set of locally known projections for the CRS identifiers
// advertised by a collection. Invalid or unknown identifiers are skipped. An
// empty result falls back to OGC:CRS84 and EPSG:4326, and EPSG:4326 is added
// whenever OGC:CRS84 is present since the two are interchangeable for
// requests.
func Resolve(advertised []string) Set {
	s := make(Set)
	for _, crs := range advertised {
		authority, code, ok := ParseCRS(crs)
		if !ok {
			continue
		}
		s.add(authority, code)
	}
	if s.Len() == 0 {
		s.add(AuthorityOGC, OGCCRS84)
		s.add(AuthorityEPSG, strconv.Itoa(EPSGWorldGeodeticSystem))
	} else if s.Get(AuthorityOGC, OGCCRS84) != nil {
		s.add(AuthorityEPSG, strconv.Itoa(EPSGWorldGeodeticSystem))
	}
	return s
}

func (s Set) add(authority, code string) {
	p, ok := Lookup(authority, code)
	if !ok {
		return
	}
	codes, ok := s[p.Authority]
	if !ok {
		codes = make(map[string]*Projection)
		s[p.Authority] = codes
	}
	codes[p.Code] = p
}

// Get returns the projection for authority and code, or nil.
func (s Set) Get(authority, code string) *Projection {
	return s[strings.ToUpper(authority)][strings.ToUpper(code)]
}

// Contains reports whether p is in the set.
func (s Set) Contains(p *Projection) bool {
	if p == nil {
		return false
	}
	return s.Get(p.Authority, p.Code) != nil
}

// Len returns the number of projections in the set.
func (s Set) Len() int {
	n := 0
	for _, codes := range s {
		n += len(codes)
	}
	return n
}

// List returns the projections ordered by authority, then code.
func (s Set) List() []*Projection {
	l := make([]*Projection, 0, s.Len())
	for _, codes := range s {
		for _, p := range codes {
			l = append(l, p)
		}
	}
	sort.Slice(l, func(i, j int) bool {
		if l[i].Authority != l[j].Authority {
			return l[i].Authority < l[j].Authority
		}
		return l[i].Code < l[j].Code
	})
	return l
}

// Strings returns AUTHORITY:CODE for each projection, in List order.
func (s Set) Strings() []string {
	l := s.List()
	strs := make([]string, len(l))
	for i, p := range l {
		strs[i] = p.String()
	}
	return strs
}
