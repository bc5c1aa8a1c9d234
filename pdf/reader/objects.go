package reader

import (
	"bytes"
	"compress/zlib"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

var objRe = regexp.MustCompile(`(\d+)\s+(\d+)\s+obj\b`)

// objectTable maps object numbers to the raw text of their bodies. Objects
// defined directly in the file take precedence over objects found in
// object streams.
type objectTable struct {
	direct   map[int]string
	streamed map[int]string
	gens     map[int]int
}

func scanObjects(data []byte) *objectTable {
	t := &objectTable{
		direct:   make(map[int]string),
		streamed: make(map[int]string),
		gens:     make(map[int]int),
	}

	locs := objRe.FindAllSubmatchIndex(data, -1)
	for i, loc := range locs {
		num, err := strconv.Atoi(string(data[loc[2]:loc[3]]))
		if err != nil {
			continue
		}
		start, limit := loc[1], len(data)
		if i+1 < len(locs) {
			limit = locs[i+1][0]
		}
		end := bytes.Index(data[start:limit], []byte("endobj"))
		if end < 0 {
			end = limit - start
		}
		body := data[start : start+end]
		// Later definitions replace earlier ones, as in incremental updates.
		t.direct[num] = string(body)
		t.gens[num], _ = strconv.Atoi(string(data[loc[4]:loc[5]]))

		if nameValue(topLevel(string(body)), "Type") == "ObjStm" {
			t.expandObjectStream(body)
		}
	}
	return t
}

func (t *objectTable) get(num int) (string, bool) {
	if body, ok := t.direct[num]; ok {
		return topLevel(body), true
	}
	if body, ok := t.streamed[num]; ok {
		return topLevel(body), true
	}
	return "", false
}

func (t *objectTable) all() map[int]string {
	out := make(map[int]string, len(t.direct)+len(t.streamed))
	for n, b := range t.streamed {
		out[n] = b
	}
	for n, b := range t.direct {
		out[n] = b
	}
	return out
}

// maxNum returns the highest object number defined.
func (t *objectTable) maxNum() int {
	n := 0
	for k := range t.direct {
		n = max(n, k)
	}
	for k := range t.streamed {
		n = max(n, k)
	}
	return n
}

// raw returns the untrimmed body, used for indirect arrays.
func (t *objectTable) raw(num int) (string, bool) {
	if body, ok := t.direct[num]; ok {
		return body, true
	}
	body, ok := t.streamed[num]
	return body, ok
}

// expandObjectStream decodes a compressed object stream and records the
// objects it holds. Streams with filters other than FlateDecode are skipped.
func (t *objectTable) expandObjectStream(body []byte) {
	d := topLevel(string(body))
	n, okN := intValue(d, "N")
	first, okFirst := intValue(d, "First")
	if !okN || !okFirst || n <= 0 {
		return
	}
	data, ok := streamData(body, d)
	if !ok {
		return
	}
	if strings.Contains(d, "/FlateDecode") {
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return
		}
		data, err = io.ReadAll(zr)
		zr.Close()
		if err != nil && len(data) == 0 {
			return
		}
	} else if strings.Contains(d, "/Filter") {
		return
	}
	if first > len(data) {
		return
	}

	header := strings.Fields(string(data[:first]))
	type entry struct{ num, off int }
	var entries []entry
	for i := 0; i+1 < len(header) && len(entries) < n; i += 2 {
		num, err1 := strconv.Atoi(header[i])
		off, err2 := strconv.Atoi(header[i+1])
		if err1 != nil || err2 != nil || first+off > len(data) {
			return
		}
		entries = append(entries, entry{num, first + off})
	}
	for i, e := range entries {
		end := len(data)
		if i+1 < len(entries) {
			end = entries[i+1].off
		}
		if end < e.off {
			continue
		}
		t.streamed[e.num] = string(data[e.off:end])
	}
}

// streamData returns the bytes between "stream" and "endstream", honoring a
// direct /Length when present.
func streamData(body []byte, dict string) ([]byte, bool) {
	i := bytes.Index(body, []byte("stream"))
	if i < 0 {
		return nil, false
	}
	i += len("stream")
	if i < len(body) && body[i] == '\r' {
		i++
	}
	if i < len(body) && body[i] == '\n' {
		i++
	}
	if length, ok := intValue(dict, "Length"); ok && !isRef(dict, "Length") && i+length <= len(body) {
		return body[i : i+length], true
	}
	end := bytes.LastIndex(body, []byte("endstream"))
	if end < i {
		return nil, false
	}
	return bytes.TrimRight(body[i:end], "\r\n"), true
}

// topLevel returns the outermost dictionary of an object body with nested
// dictionaries and string contents blanked out, so key lookups only see the
// object's own keys. Bodies that are not dictionaries are returned trimmed.
func topLevel(body string) string {
	start := strings.Index(body, "<<")
	if start < 0 {
		return strings.TrimSpace(body)
	}
	var b strings.Builder
	depth, parens := 0, 0
	for i := start; i < len(body); i++ {
		c := body[i]
		switch {
		case parens > 0:
			switch c {
			case '\\':
				i++
			case '(':
				parens++
			case ')':
				parens--
			}
			continue
		case c == '(':
			parens++
			continue
		case c == '<' && i+1 < len(body) && body[i+1] == '<':
			depth++
			i++
			if depth == 1 {
				b.WriteString("<<")
			} else {
				b.WriteByte(' ')
			}
			continue
		case c == '>' && i+1 < len(body) && body[i+1] == '>':
			depth--
			i++
			if depth == 0 {
				b.WriteString(">>")
				return b.String()
			}
			continue
		}
		if depth == 1 {
			b.WriteByte(c)
		}
	}
	return b.String()
}

const refPat = `(\d+)\s+\d+\s+R`

// patterns caches compiled key lookups; keys come from a small fixed set.
var patterns sync.Map

func lookup(key, value string) *regexp.Regexp {
	k := key + "\x00" + value
	if re, ok := patterns.Load(k); ok {
		return re.(*regexp.Regexp)
	}
	re := regexp.MustCompile(`/` + key + `\s*` + value)
	patterns.Store(k, re)
	return re
}

func nameValue(dict, key string) string {
	m := lookup(key, `/([A-Za-z0-9#._-]+)`).FindStringSubmatch(dict)
	if m == nil {
		return ""
	}
	return m[1]
}

func intValue(dict, key string) (int, bool) {
	m := lookup(key, `(-?\d+)\b`).FindStringSubmatch(dict)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	return n, err == nil
}

// hasKey reports whether dict carries key, whatever its value.
func hasKey(dict, key string) bool {
	return lookup(key, `(?:[^A-Za-z0-9#._+-]|$)`).MatchString(dict)
}

func isRef(dict, key string) bool {
	return lookup(key, refPat).MatchString(dict)
}

func refValue(dict, key string) (int, bool) {
	m := lookup(key, refPat).FindStringSubmatch(dict)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	return n, err == nil
}

var refItemRe = regexp.MustCompile(refPat)

func refArray(dict, key string) []int {
	m := lookup(key, `\[([^\]]*)\]`).FindStringSubmatch(dict)
	if m == nil {
		return nil
	}
	var out []int
	for _, r := range refItemRe.FindAllStringSubmatch(m[1], -1) {
		if n, err := strconv.Atoi(r[1]); err == nil {
			out = append(out, n)
		}
	}
	return out
}

// box reads a rectangle given directly or through an indirect reference.
func (t *objectTable) box(dict, key string) (Box, bool) {
	var arr string
	if m := lookup(key, `\[([^\]]*)\]`).FindStringSubmatch(dict); m != nil {
		arr = m[1]
	} else if n, ok := refValue(dict, key); ok {
		raw, ok := t.raw(n)
		if !ok {
			return Box{}, false
		}
		raw = strings.TrimSpace(raw)
		raw = strings.TrimSuffix(strings.TrimPrefix(raw, "["), "]")
		arr = raw
	} else {
		return Box{}, false
	}

	fields := strings.Fields(strings.TrimSpace(arr))
	if len(fields) != 4 {
		return Box{}, false
	}
	var v [4]float64
	for i, f := range fields {
		x, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return Box{}, false
		}
		v[i] = x
	}
	b := Box{LLX: v[0], LLY: v[1], URX: v[2], URY: v[3]}
	if b.Width() == 0 || b.Height() == 0 {
		return Box{}, false
	}
	return b, true
}
