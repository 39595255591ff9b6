// BlackIce - Behavioral Access Risk Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blackice

// Package rings finds groups of identities (tokens, users, devices, IPs and
// countries) linked through shared events. Large, geographically spread
// groups indicate coordinated abuse.
package rings

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tomtom215/blackice/internal/models"
)

// DefaultMinSize is the smallest connected group reported as a ring.
const DefaultMinSize = 4

// Node prefixes used in ring membership.
const (
	prefixToken   = "tok:"
	prefixUser    = "usr:"
	prefixDevice  = "dev:"
	prefixIP      = "ip:"
	prefixCountry = "cc:"
)

// Ring is a connected group of identities.
type Ring struct {
	ID      string   `json:"ring_id"`
	Members []string `json:"members"`
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons"`
}

type unionFind struct {
	parent map[string]string
}

func (u *unionFind) find(x string) string {
	p, ok := u.parent[x]
	if !ok {
		u.parent[x] = x
		return x
	}
	if p != x {
		p = u.find(p)
		u.parent[x] = p
	}
	return p
}

func (u *unionFind) union(a, b string) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[rb] = ra
	}
}

func nodes(ev *models.Event) []string {
	var out []string
	for _, n := range []struct{ prefix, value string }{
		{prefixToken, ev.TokenID},
		{prefixUser, ev.UserID},
		{prefixDevice, ev.DeviceID},
		{prefixIP, ev.IP},
		{prefixCountry, ev.Country},
	} {
		if n.value != "" {
			out = append(out, n.prefix+n.value)
		}
	}
	return out
}

// Detect links every identity that co-occurs in an event and returns the
// groups with at least minSize members, highest score first. A group scores
// members + 2*devices + 3*countries.
func Detect(events []models.Event, minSize int) []Ring {
	if minSize <= 0 {
		minSize = DefaultMinSize
	}
	uf := &unionFind{parent: make(map[string]string)}
	for i := range events {
		ns := nodes(&events[i])
		for _, n := range ns {
			uf.find(n)
		}
		for j := 1; j < len(ns); j++ {
			uf.union(ns[0], ns[j])
		}
	}

	groups := make(map[string][]string)
	for x := range uf.parent {
		r := uf.find(x)
		groups[r] = append(groups[r], x)
	}

	var rings []Ring
	for _, members := range groups {
		if len(members) < minSize {
			continue
		}
		sort.Strings(members)
		var devs, ccs int
		for _, m := range members {
			switch {
			case strings.HasPrefix(m, prefixDevice):
				devs++
			case strings.HasPrefix(m, prefixCountry):
				ccs++
			}
		}
		reasons := []string{}
		if devs >= 3 {
			reasons = append(reasons, "multi_device")
		}
		if ccs >= 2 {
			reasons = append(reasons, "multi_country")
		}
		rings = append(rings, Ring{
			Members: members,
			Score:   float64(len(members)) + 2*float64(devs) + 3*float64(ccs),
			Reasons: reasons,
		})
	}

	sort.Slice(rings, func(i, j int) bool {
		if rings[i].Score != rings[j].Score {
			return rings[i].Score > rings[j].Score
		}
		return rings[i].Members[0] < rings[j].Members[0]
	})
	for i := range rings {
		rings[i].ID = fmt.Sprintf("R%03d", i+1)
	}
	return rings
}

// SubjectScores maps each scoreable ring member to the highest score of any
// ring containing it. Countries are not subjects and are skipped.
func SubjectScores(rings []Ring) map[models.Subject]float64 {
	out := make(map[models.Subject]float64)
	for _, r := range rings {
		for _, m := range r.Members {
			s, ok := memberSubject(m)
			if !ok {
				continue
			}
			if r.Score > out[s] {
				out[s] = r.Score
			}
		}
	}
	return out
}

func memberSubject(m string) (models.Subject, bool) {
	for _, p := range []struct{ prefix, typ string }{
		{prefixUser, models.SubjectUser},
		{prefixToken, models.SubjectToken},
		{prefixIP, models.SubjectIP},
		{prefixDevice, models.SubjectDevice},
	} {
		if strings.HasPrefix(m, p.prefix) {
			return models.Subject{Type: p.typ, ID: strings.TrimPrefix(m, p.prefix)}, true
		}
	}
	return models.Subject{}, false
}
