// Package fingerprint derives stable cache keys from SQL text.
//
// Whitespace runs outside quoted literals, quoted identifiers and comments
// collapse to one space. Leading and trailing whitespace is trimmed and
// trailing semicolons are dropped. Case is never changed, so `select 1` and
// `SELECT 1` fingerprint differently.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Size is the hex length of a fingerprint.
const Size = sha256.Size * 2

// Of returns the lowercase hex SHA-256 of the normalized SQL.
func Of(sql string) string {
	sum := sha256.Sum256([]byte(Normalize(sql)))
	return hex.EncodeToString(sum[:])
}

// Normalize applies the fingerprint normalization to sql. Bytes that are not
// valid UTF-8 are kept as they are.
func Normalize(sql string) string {
	var b strings.Builder
	b.Grow(len(sql))

	pendingSpace := false
	for i := 0; i < len(sql); {
		r, size := utf8.DecodeRuneInString(sql[i:])
		if unicode.IsSpace(r) {
			pendingSpace = true
			i += size
			continue
		}
		if pendingSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		pendingSpace = false

		switch {
		case r == '\'' || r == '"':
			i = copyQuoted(&b, sql, i)
		case strings.HasPrefix(sql[i:], "--"):
			i = copyComment(&b, sql, i, "\n")
			// the newline ending a line comment is significant
			pendingSpace = true
		case strings.HasPrefix(sql[i:], "/*"):
			i = copyComment(&b, sql, i, "*/")
		default:
			b.WriteString(sql[i : i+size])
			i += size
		}
	}

	return strings.TrimRight(b.String(), "; ")
}

// copyQuoted copies the quoted token starting at sql[start] verbatim and
// returns the index after its closing quote. Doubled quotes are escapes.
func copyQuoted(b *strings.Builder, sql string, start int) int {
	quote := sql[start]
	i := start + 1
	for {
		j := strings.IndexByte(sql[i:], quote)
		if j < 0 {
			b.WriteString(sql[start:])
			return len(sql)
		}
		i += j + 1
		if i < len(sql) && sql[i] == quote {
			i++
			continue
		}
		b.WriteString(sql[start:i])
		return i
	}
}

// copyComment copies the comment starting at sql[start] through the end
// marker verbatim and returns the index after it. A newline marker is left
// for the caller.
func copyComment(b *strings.Builder, sql string, start int, end string) int {
	j := strings.Index(sql[start+2:], end)
	if j < 0 {
		b.WriteString(sql[start:])
		return len(sql)
	}
	stop := start + 2 + j
	if end != "\n" {
		stop += len(end)
	}
	b.WriteString(sql[start:stop])
	return stop
}
