package scenario

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// payload is a request body. A body_file is reopened for every attempt so
// retries and redirects resend the whole content.
type payload struct {
	data []byte
	path string
	size int64
}

func loadPayload(t TaskSpec) (payload, error) {
	path := strings.TrimSpace(t.BodyFile)
	if path == "" {
		return inlinePayload(t.Body), nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return payload{}, fmt.Errorf("body file: %w", err)
	}
	if info.IsDir() {
		return payload{}, fmt.Errorf("body file %q is a directory", path)
	}
	return payload{path: path, size: info.Size()}, nil
}

func inlinePayload(s string) payload {
	return payload{data: []byte(s), size: int64(len(s))}
}

func (p payload) open() (io.ReadCloser, error) {
	switch {
	case p.path != "":
		return os.Open(p.path)
	case len(p.data) > 0:
		return io.NopCloser(bytes.NewReader(p.data)), nil
	default:
		return http.NoBody, nil
	}
}
