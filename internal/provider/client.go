package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"
)

const maxErrorBody = 1 << 20

// client is the HTTP plumbing shared by all adapters: JSON POST for batch
// calls and an SSE body for streaming ones. The streaming client carries no
// overall timeout; cancellation comes from the request context.
type client struct {
	name         string
	baseURL      string
	endpoint     string
	apiKey       string
	http         *http.Client
	streamClient *http.Client
}

func newClient(name, baseURL, endpoint, apiKey string, timeout time.Duration) client {
	return client{
		name:         name,
		baseURL:      baseURL,
		endpoint:     endpoint,
		apiKey:       apiKey,
		http:         newHTTPClient(timeout),
		streamClient: &http.Client{},
	}
}

func (c *client) newRequest(ctx context.Context, payload map[string]any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return req, nil
}

// postJSON issues a batch request and returns the raw response body.
func (c *client) postJSON(ctx context.Context, payload map[string]any) ([]byte, error) {
	req, err := c.newRequest(ctx, payload)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{Provider: c.name, Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// postStream issues a streaming request and returns the open response body.
// The caller owns closing it.
func (c *client) postStream(ctx context.Context, payload map[string]any) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return nil, &HTTPError{Provider: c.name, Status: resp.StatusCode, Body: string(body)}
	}
	return resp.Body, nil
}

// streamFrames drives an SSE body, invoking parse on each data payload and
// forwarding whatever text it reveals. A parse failure on a single frame is
// skipped; the vendor [DONE] sentinel ends the sequence cleanly.
func (c *client) streamFrames(
	ctx context.Context,
	payload map[string]any,
	parse func(data []byte) (string, bool),
) (<-chan string, <-chan error) {
	fragments := make(chan string, 32)
	errs := make(chan error, 1)

	go func() {
		defer close(fragments)
		defer close(errs)

		body, err := c.postStream(ctx, payload)
		if err != nil {
			errs <- err
			return
		}
		defer body.Close()

		dec := newSSEDecoder(body)
		for {
			data, err := dec.Next()
			if err == io.EOF {
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					errs <- ctx.Err()
				} else {
					errs <- err
				}
				return
			}
			if len(bytes.TrimSpace(data)) == 0 {
				continue
			}
			if string(bytes.TrimSpace(data)) == "[DONE]" {
				return
			}
			fragment, ok := parse(data)
			if !ok || fragment == "" {
				continue
			}
			select {
			case fragments <- fragment:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()

	return fragments, errs
}

// sseDecoder yields the concatenated data payload of each SSE event,
// joining multiple data: lines with \n per the SSE spec.
type sseDecoder struct {
	r *bufio.Reader
}

func newSSEDecoder(r io.Reader) *sseDecoder {
	return &sseDecoder{r: bufio.NewReaderSize(r, 64*1024)}
}

func (d *sseDecoder) Next() ([]byte, error) {
	var dataLines [][]byte
	for {
		line, err := d.r.ReadBytes('\n')
		if err != nil {
			if len(line) > 0 {
				line = bytes.TrimRight(line, "\r\n")
				dataLines = appendDataLine(dataLines, line)
			}
			if len(dataLines) > 0 {
				return bytes.Join(dataLines, []byte("\n")), nil
			}
			return nil, err
		}

		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			if len(dataLines) == 0 {
				continue
			}
			return bytes.Join(dataLines, []byte("\n")), nil
		}
		if line[0] == ':' {
			continue
		}
		dataLines = appendDataLine(dataLines, line)
	}
}

func appendDataLine(dst [][]byte, line []byte) [][]byte {
	if !bytes.HasPrefix(line, []byte("data:")) {
		return dst
	}
	val := line[len("data:"):]
	if len(val) > 0 && val[0] == ' ' {
		val = val[1:]
	}
	return append(dst, append([]byte(nil), val...))
}
