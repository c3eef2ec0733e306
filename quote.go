package luabind

import (
	"strconv"
	"strings"
)

// Quote returns str as a double-quoted Lua string literal that reads back as
// str. Common control characters use their short escapes; other control
// bytes and DEL use decimal escapes.
func Quote(str string) string {
	var b strings.Builder
	b.Grow(len(str) + 2)
	b.WriteByte('"')
	for i := 0; i < len(str); i++ {
		c := str[i]
		switch c {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\a':
			b.WriteString(`\a`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		case '\v':
			b.WriteString(`\v`)
		default:
			if c < 0x20 || c == 0x7f {
				b.WriteByte('\\')
				// three digits so a following digit is not absorbed
				num := strconv.Itoa(int(c))
				b.WriteString(strings.Repeat("0", 3-len(num)))
				b.WriteString(num)
				continue
			}
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}
