package service

import (
	"bytes"
	"regexp"
)

// metaTagPattern matches a whole <meta> start tag. Quoted attribute values are
// consumed as units, so a '>' inside them does not end the tag.
var metaTagPattern = regexp.MustCompile(
	`(?i)<meta(?:[\s/](?:[^"'>]|"[^"]*"|'[^']*')*)?>`,
)

// attrPattern tokenizes the attributes of a start tag. A quoted value needs no
// whitespace before the next attribute name.
var attrPattern = regexp.MustCompile(
	`([^\s"'>/=]+)(?:\s*=\s*("[^"]*"|'[^']*'|[^\s"'>]+))?`,
)

const cspHTTPEquiv = "content-security-policy"

// StripCSPMeta removes every CSP <meta> element from body and reports how many
// were removed. All other bytes are left untouched, so a body without such
// elements is returned unchanged.
func StripCSPMeta(body []byte) ([]byte, int) {
	n := 0
	out := metaTagPattern.ReplaceAllFunc(body, func(tag []byte) []byte {
		if !isCSPMeta(tag) {
			return tag
		}
		n++
		return nil
	})
	if n == 0 {
		return body, 0
	}
	return out, n
}

// isCSPMeta reports whether the first http-equiv attribute of tag is exactly
// Content-Security-Policy, in any case. Report-Only is not matched.
func isCSPMeta(tag []byte) bool {
	inner := tag[len("<meta") : len(tag)-1]
	for _, m := range attrPattern.FindAllSubmatch(inner, -1) {
		if !bytes.EqualFold(m[1], []byte("http-equiv")) {
			continue
		}
		v := m[2]
		if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') {
			v = v[1 : len(v)-1]
		}
		return bytes.EqualFold(v, []byte(cspHTTPEquiv))
	}
	return false
}
