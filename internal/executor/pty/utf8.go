package pty

import "unicode/utf8"

// splitUTF8 separates a trailing incomplete UTF-8 sequence from buf so it
// can be completed by the next read.
func splitUTF8(buf []byte) (complete, rest []byte) {
	for i := len(buf) - 1; i >= 0 && i >= len(buf)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(buf[i]) {
			continue
		}
		if utf8.FullRune(buf[i:]) {
			return buf, nil
		}
		return buf[:i], buf[i:]
	}
	return buf, nil
}
