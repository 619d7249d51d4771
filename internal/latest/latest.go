// Package latest implements latest-value channels: a slow reader skips
// intermediate values but never sees an older value after a newer one.
package latest

// Send replaces whatever is buffered in ch with v. ch must have a buffer
// of one and a single sender.
func Send[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
