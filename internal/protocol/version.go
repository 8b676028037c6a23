package protocol

import "sort"

// SupportedVersions lists the protocol versions this kernel understands,
// in order of preference (newest first).
var SupportedVersions = []string{
	"2025-06-18",
	"2025-03-26",
	"2024-11-05",
}

// Negotiate picks a protocol version present in both a and b's supported
// sets. The result depends only on the intersection of the two sets, never
// on which one is passed first, so Negotiate(a,b) == Negotiate(b,a)
// always. Preference within the intersection follows
// the canonical SupportedVersions order; versions outside that list (forward
// compatibility) are ordered lexicographically descending so the tie-break
// itself stays order-independent.
func Negotiate(a, b []string) (string, bool) {
	bSet := make(map[string]struct{}, len(b))
	for _, v := range b {
		bSet[v] = struct{}{}
	}
	var intersection []string
	seen := make(map[string]struct{}, len(a))
	for _, v := range a {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		if _, ok := bSet[v]; ok {
			intersection = append(intersection, v)
		}
	}
	if len(intersection) == 0 {
		return "", false
	}

	canonicalRank := make(map[string]int, len(SupportedVersions))
	for i, v := range SupportedVersions {
		canonicalRank[v] = i
	}
	sort.Slice(intersection, func(i, j int) bool {
		ri, iok := canonicalRank[intersection[i]]
		rj, jok := canonicalRank[intersection[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok:
			return true
		case jok:
			return false
		default:
			return intersection[i] > intersection[j]
		}
	})
	return intersection[0], true
}
