package writer

import (
	"errors"
	"strconv"
	"strings"
)

// ErrMalformedObject is returned when an object of the input file cannot be
// parsed well enough to rewrite it.
var ErrMalformedObject = errors.New("malformed PDF object")

// The functions below edit dictionaries as source text. Values are copied
// verbatim, so objects they reference keep their meaning.

func isSpace(c byte) bool {
	switch c {
	case 0, '\t', '\n', '\f', '\r', ' ':
		return true
	}
	return false
}

func isDelimiter(c byte) bool {
	return strings.IndexByte("()<>[]{}/%", c) >= 0
}

func skipSpace(s string, i int) int {
	for i < len(s) {
		switch {
		case isSpace(s[i]):
			i++
		case s[i] == '%':
			for i < len(s) && s[i] != '\n' && s[i] != '\r' {
				i++
			}
		default:
			return i
		}
	}
	return i
}

// skipRegular skips a run of regular characters: a name body, a number or
// a keyword.
func skipRegular(s string, i int) int {
	for i < len(s) && !isSpace(s[i]) && !isDelimiter(s[i]) {
		i++
	}
	return i
}

func isInt(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}

// skipValue returns the index just past the value starting at i, or -1.
func skipValue(s string, i int) int {
	if i >= len(s) {
		return -1
	}
	switch s[i] {
	case '/':
		return skipRegular(s, i+1)
	case '(':
		return skipLiteral(s, i)
	case '<':
		if i+1 < len(s) && s[i+1] == '<' {
			end, ok := scanDict(s, i, nil)
			if !ok {
				return -1
			}
			return end
		}
		j := strings.IndexByte(s[i:], '>')
		if j < 0 {
			return -1
		}
		return i + j + 1
	case '[':
		j := i + 1
		for {
			j = skipSpace(s, j)
			if j >= len(s) {
				return -1
			}
			if s[j] == ']' {
				return j + 1
			}
			if j = skipValue(s, j); j < 0 {
				return -1
			}
		}
	}

	j := skipRegular(s, i)
	if j == i {
		return -1
	}
	// "12 0 R" is one value.
	if isInt(s[i:j]) {
		k := skipSpace(s, j)
		l := skipRegular(s, k)
		if l > k && isInt(s[k:l]) {
			m := skipSpace(s, l)
			if m < len(s) && s[m] == 'R' && (m+1 == len(s) || isSpace(s[m+1]) || isDelimiter(s[m+1])) {
				return m + 1
			}
		}
	}
	return j
}

func skipLiteral(s string, i int) int {
	depth := 0
	for j := i; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return j + 1
			}
		}
	}
	return -1
}

// scanDict walks the dictionary whose "<<" is at i, calling fn for every
// entry with the key and the span of its value. fn returns false to stop.
// It returns the index just past the closing ">>".
func scanDict(s string, i int, fn func(key string, vs, ve int) bool) (int, bool) {
	if !strings.HasPrefix(s[i:], "<<") {
		return 0, false
	}
	j := i + 2
	for {
		j = skipSpace(s, j)
		if j >= len(s) {
			return 0, false
		}
		if strings.HasPrefix(s[j:], ">>") {
			return j + 2, true
		}
		if s[j] != '/' {
			return 0, false
		}
		ke := skipRegular(s, j+1)
		key := s[j+1 : ke]
		vs := skipSpace(s, ke)
		ve := skipValue(s, vs)
		if ve < 0 {
			return 0, false
		}
		if fn != nil && !fn(key, vs, ve) {
			fn = nil
		}
		j = ve
	}
}

// outerDict returns the first complete dictionary in s.
func outerDict(s string) (string, error) {
	i := strings.Index(s, "<<")
	if i < 0 {
		return "", ErrMalformedObject
	}
	end, ok := scanDict(s, i, nil)
	if !ok {
		return "", ErrMalformedObject
	}
	return s[i:end], nil
}

// valueOf returns the source text of key's value in dictionary d.
func valueOf(d, key string) (string, bool) {
	var val string
	found := false
	i := strings.Index(d, "<<")
	if i < 0 {
		return "", false
	}
	scanDict(d, i, func(k string, vs, ve int) bool {
		if k == key {
			val, found = d[vs:ve], true
			return false
		}
		return true
	})
	return val, found
}

// setEntry replaces key's value in dictionary d, or appends the entry.
func setEntry(d, key, value string) (string, error) {
	i := strings.Index(d, "<<")
	if i < 0 {
		return "", ErrMalformedObject
	}
	vs, ve := -1, -1
	end, ok := scanDict(d, i, func(k string, s, e int) bool {
		if k == key {
			vs, ve = s, e
			return false
		}
		return true
	})
	if !ok {
		return "", ErrMalformedObject
	}
	if vs >= 0 {
		return d[:vs] + value + d[ve:], nil
	}
	at := end - 2
	return d[:at] + " /" + key + " " + value + " " + d[at:], nil
}

// refNum returns the object number of a value of the form "12 0 R".
func refNum(v string) (int, bool) {
	f := strings.Fields(v)
	if len(f) != 3 || f[2] != "R" {
		return 0, false
	}
	n, err := strconv.Atoi(f[0])
	return n, err == nil && n > 0
}
