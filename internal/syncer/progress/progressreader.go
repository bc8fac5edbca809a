package progress

import "io"

// Reader wraps an io.Reader and invokes a callback as bytes flow through,
// at most once per reportInterval bytes.
type Reader struct {
	reader         io.Reader
	total          int64
	onProgress     func(read int64, total int64)
	totalRead      int64
	sinceReport    int64
	reportInterval int64
}

func NewReader(r io.Reader, total int64, interval int64, cb func(read int64, total int64)) *Reader {
	return &Reader{
		reader:         r,
		total:          total,
		onProgress:     cb,
		reportInterval: interval,
	}
}

func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	if n > 0 {
		r.totalRead += int64(n)
		r.sinceReport += int64(n)

		if r.onProgress != nil && r.sinceReport >= r.reportInterval {
			r.onProgress(r.totalRead, r.total)
			r.sinceReport = 0
		}
	}

	return n, err
}

// BytesRead returns the cumulative byte count seen so far.
func (r *Reader) BytesRead() int64 {
	return r.totalRead
}
