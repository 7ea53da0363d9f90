package transcript

import "strings"

// StripANSI removes terminal escape sequences (CSI, OSC and the short
// nF/Fp forms). A sequence cut off at the end of s is dropped.
func StripANSI(s string) string {
	if strings.IndexByte(s, '\x1b') < 0 {
		return s
	}

	var b strings.Builder

	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		if s[i] != '\x1b' {
			b.WriteByte(s[i])
			continue
		}

		if i+1 >= len(s) {
			break
		}

		switch s[i+1] {
		case '[':
			// Parameters and intermediates, then one final byte in @..~.
			j := i + 2
			for j < len(s) && (s[j] < 0x40 || s[j] > 0x7e) {
				j++
			}

			i = j
		case ']':
			// Terminated by BEL or ESC \.
			j := i + 2
			for j < len(s) && s[j] != '\a' && !(s[j] == '\x1b' && j+1 < len(s) && s[j+1] == '\\') {
				j++
			}

			if j < len(s) && s[j] == '\x1b' {
				j++
			}

			i = j
		default:
			// Intermediates in space../, then the final byte.
			j := i + 1
			for j < len(s) && s[j] >= 0x20 && s[j] <= 0x2f {
				j++
			}

			i = j
		}
	}

	return b.String()
}
