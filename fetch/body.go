package fetch

import (
	"fmt"
	"io"
	"net/http"
)

// DefaultMaxBodyBytes caps how much of a response is read.
const DefaultMaxBodyBytes int64 = 16 << 20

// Body is a fully read response. Once read, the bytes are passed around
// explicitly; the underlying stream is already closed.
type Body struct {
	Data        []byte
	ContentType string
	Status      int
	Header      http.Header
	Route       Route
}

// ReadBodyOnce drains and closes resp.Body, reading at most max bytes.
func ReadBodyOnce(resp *http.Response, route Route, max int64) (*Body, error) {
	defer resp.Body.Close()
	if max <= 0 {
		max = DefaultMaxBodyBytes
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("response body exceeds %d bytes", max)
	}
	return &Body{
		Data:        data,
		ContentType: resp.Header.Get("Content-Type"),
		Status:      resp.StatusCode,
		Header:      resp.Header,
		Route:       route,
	}, nil
}

// drain reads a little of the body so the connection can be reused, then
// closes it.
func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	resp.Body.Close()
}
