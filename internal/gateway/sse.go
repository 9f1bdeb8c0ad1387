package gateway

import (
	"encoding/json"
	"fmt"
	"io"
)

// Frames carry JSON after the data: prefix; the stream terminates with a
// literal [DONE] sentinel.

func writeSSE(w io.Writer, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func writeSSEDone(w io.Writer) error {
	_, err := io.WriteString(w, "data: [DONE]\n\n")
	return err
}
