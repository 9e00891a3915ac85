package portal

import "strings"

// ParseForm decodes an application/x-www-form-urlencoded body. Pairs
// without '=' are dropped, keys and values are percent-decoded, and later
// duplicates win.
func ParseForm(body string) map[string]string {
	params := make(map[string]string)
	if body == "" {
		return params
	}
	for _, pair := range strings.Split(body, "&") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		params[PercentDecode(key)] = PercentDecode(value)
	}
	return params
}

// PercentDecode turns '+' into a space and %XX into the byte XX. A '%' not
// followed by two hex digits is kept literally and decoding resumes at
// the next character.
func PercentDecode(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '+':
			b.WriteByte(' ')
		case c == '%' && i+2 < len(s):
			hi, ok1 := unhex(s[i+1])
			lo, ok2 := unhex(s[i+2])
			if !ok1 || !ok2 {
				b.WriteByte('%')
				continue
			}
			b.WriteByte(hi<<4 | lo)
			i += 2
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
