package nl2sql

import (
	"regexp"
	"strings"
)

var (
	commentLineRe  = regexp.MustCompile(`(?m)--[^\n]*`)
	commentBlockRe = regexp.MustCompile(`(?s)/\*.*?\*/`)
	equalsRe       = regexp.MustCompile(`\s*=\s*`)
)

// sqlKeywords are upper-cased during canonicalization so textually different
// but equivalent statements compare equal.
var sqlKeywords = map[string]struct{}{
	"select": {}, "from": {}, "where": {}, "join": {}, "inner": {}, "left": {},
	"right": {}, "full": {}, "outer": {}, "cross": {}, "on": {}, "group": {},
	"order": {}, "by": {}, "having": {}, "with": {}, "as": {}, "and": {},
	"or": {}, "not": {}, "in": {}, "between": {}, "case": {}, "when": {},
	"then": {}, "else": {}, "end": {}, "distinct": {}, "top": {}, "union": {},
	"all": {}, "sum": {}, "count": {}, "avg": {}, "min": {}, "max": {},
	"asc": {}, "desc": {}, "is": {}, "null": {}, "like": {}, "exists": {},
}

// FastNormalize lowercases, drops a trailing semicolon, and collapses
// whitespace. Cheap enough to run on every comparison.
func FastNormalize(sql string) string {
	sql = strings.TrimSpace(strings.ToLower(sql))
	sql = strings.TrimRight(sql, ";")
	return strings.Join(strings.Fields(sql), " ")
}

// Canonicalize strips comments, uppercases keywords, removes AS aliases, and
// collapses whitespace so two renderings of the same query line up.
func Canonicalize(sql string) string {
	if sql == "" {
		return ""
	}
	sql = commentBlockRe.ReplaceAllString(sql, " ")
	sql = commentLineRe.ReplaceAllString(sql, " ")

	tokens := strings.Fields(sql)
	out := make([]string, 0, len(tokens))
	skipNext := false
	for _, tok := range tokens {
		if skipNext {
			skipNext = false
			continue
		}
		if strings.EqualFold(tok, "AS") {
			skipNext = true
			continue
		}
		if _, ok := sqlKeywords[strings.ToLower(tok)]; ok {
			out = append(out, strings.ToUpper(tok))
			continue
		}
		out = append(out, tok)
	}
	return strings.Join(out, " ")
}

// FastVariants produces three deterministic rewrites of the statement for
// self-agreement scoring without extra model calls.
func FastVariants(sql string) []string {
	base := FastNormalize(sql)
	v1 := Canonicalize(base)
	v2 := strings.ReplaceAll(base, ",", ", ")
	v2 = strings.Join(strings.Fields(v2), " ")
	v3 := equalsRe.ReplaceAllString(base, " = ")
	return []string{v1, v2, v3}
}
