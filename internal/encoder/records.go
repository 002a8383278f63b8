package encoder

import "bytes"

// SplitRecords is a bufio.SplitFunc that treats both '\r' and '\n' as record
// terminators and never yields empty records. Encoders that redraw a single
// status line with carriage returns therefore produce one record per redraw.
func SplitRecords(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := 0
	for start < len(data) && isTerminator(data[start]) {
		start++
	}
	if start == len(data) {
		return start, nil, nil
	}
	if i := bytes.IndexAny(data[start:], "\r\n"); i >= 0 {
		return start + i + 1, data[start : start+i], nil
	}
	if atEOF {
		return len(data), data[start:], nil
	}
	return start, nil, nil
}

func isTerminator(b byte) bool {
	return b == '\r' || b == '\n'
}
