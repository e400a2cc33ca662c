package rtp

// Sequence numbers live in mod-2^16 space and wrap constantly during a long
// session. All comparisons go through the signed difference so the wrap is
// invisible to callers.

// DupWindow is how far behind the delivery cursor a sequence number still
// counts as a duplicate of something already delivered. Further back than
// this the number is ambiguous under wrap and is treated as far ahead.
const DupWindow = 16384

// SeqDiff returns the signed distance from b to a, interpreted mod 2^16 in
// the range [-32768, 32767].
func SeqDiff(a, b uint16) int {
	return int(int16(a - b))
}

// SeqLess reports whether a precedes b in wrapped order.
func SeqLess(a, b uint16) bool {
	return SeqDiff(a, b) < 0
}

// SeqDup reports whether seq falls at or behind lastDelivered within the
// duplicate window.
func SeqDup(seq, lastDelivered uint16) bool {
	d := SeqDiff(seq, lastDelivered)
	return d <= 0 && d > -DupWindow
}
