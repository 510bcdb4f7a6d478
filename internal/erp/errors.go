package erp

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNotFound is matched by errors for missing documents.
var ErrNotFound = errors.New("erp: document not found")

// RemoteError is an error response from the ERP.
type RemoteError struct {
	Status  int
	ExcType string
	Message string
}

func (e *RemoteError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.ExcType != "" {
		return fmt.Sprintf("erp: %s (%d): %s", e.ExcType, e.Status, msg)
	}
	return fmt.Sprintf("erp: status %d: %s", e.Status, msg)
}

// Is lets errors.Is(err, ErrNotFound) match missing-document responses.
func (e *RemoteError) Is(target error) bool {
	return target == ErrNotFound && (e.Status == http.StatusNotFound || e.ExcType == "DoesNotExistError")
}

type errorBody struct {
	ExcType        string `json:"exc_type"`
	Exception      string `json:"exception"`
	ServerMessages string `json:"_server_messages"`
	Message        any    `json:"message"`
}

func parseRemoteError(status int, body []byte) *RemoteError {
	re := &RemoteError{Status: status}
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		re.Message = strings.TrimSpace(string(truncate(body, 512)))
		return re
	}
	re.ExcType = eb.ExcType
	if msgs := serverMessages(eb.ServerMessages); len(msgs) > 0 {
		re.Message = strings.Join(msgs, "; ")
	} else if eb.Exception != "" {
		re.Message = eb.Exception
		if idx := strings.Index(eb.Exception, ": "); idx >= 0 {
			re.Message = eb.Exception[idx+2:]
		}
	} else if s, ok := eb.Message.(string); ok {
		re.Message = s
	}
	return re
}

// serverMessages decodes Frappe's doubly encoded _server_messages list.
func serverMessages(raw string) []string {
	if raw == "" {
		return nil
	}
	var encoded []string
	if err := json.Unmarshal([]byte(raw), &encoded); err != nil {
		return []string{raw}
	}
	out := make([]string, 0, len(encoded))
	for _, item := range encoded {
		var m struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal([]byte(item), &m); err == nil && m.Message != "" {
			out = append(out, m.Message)
			continue
		}
		out = append(out, item)
	}
	return out
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
