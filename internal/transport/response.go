package transport

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/west1636/RDM-waterbutler/pkg/errors"
)

const maxErrorBody = 64 << 10

// Range is a half-open byte range [Start, End). End == 0 means to the end.
type Range struct {
	Start int64
	End   int64
}

// Header renders the inclusive HTTP Range header value.
func (r Range) Header() string {
	if r.End <= 0 {
		return fmt.Sprintf("bytes=%d-", r.Start)
	}
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End-1)
}

// Length returns the number of bytes requested, or -1 for open ranges.
func (r Range) Length() int64 {
	if r.End <= 0 {
		return -1
	}
	return r.End - r.Start
}

// FromResponse converts an unexpected response into a typed error. The body is
// parsed as JSON when possible and otherwise used as plain text. A nil throws
// yields a Metadata error.
func FromResponse(resp *http.Response, throws ErrorFunc) *errors.ProviderError {
	if throws == nil {
		throws = errors.Metadata
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	message, data := parseErrorBody(raw)
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	if message == "" {
		message = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}

	err := throws(message, resp.StatusCode)
	if data != nil {
		err = err.WithDetail("response", data)
	}
	return err
}

// DecodeJSON decodes the body into v and releases the response. A malformed
// body becomes a Metadata error carrying the response status.
func (r *Response) DecodeJSON(v interface{}) error {
	defer r.Release()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Metadata("unable to parse backend response", r.Status).WithCause(err)
	}
	return nil
}

// parseErrorBody extracts a human readable message. Google style
// {"error": {"message": ...}} and flat {"message": ...} bodies are understood.
func parseErrorBody(raw []byte) (string, interface{}) {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "", nil
	}

	var data interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return text, nil
	}

	obj, ok := data.(map[string]interface{})
	if !ok {
		if s, ok := data.(string); ok {
			return s, data
		}
		return text, data
	}

	if msg, ok := obj["message"].(string); ok && msg != "" {
		return msg, data
	}
	switch e := obj["error"].(type) {
	case string:
		return e, data
	case map[string]interface{}:
		if msg, ok := e["message"].(string); ok {
			return msg, data
		}
	}
	return text, data
}
