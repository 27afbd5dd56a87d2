package ipc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// maxMessageBytes caps one request or response line. History replies are the
// largest messages.
const maxMessageBytes = 4 << 20

var errMessageTooLarge = errors.New("message exceeds size limit")

func writeMessage(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')
	_, err = w.Write(payload)
	return err
}

// readMessage decodes the next newline-terminated JSON value from r.
func readMessage(r io.Reader, v any) error {
	reader := bufio.NewReader(io.LimitReader(r, maxMessageBytes+1))
	line, err := reader.ReadBytes('\n')
	switch {
	case err == nil:
	case errors.Is(err, io.EOF) && len(line) > maxMessageBytes:
		return errMessageTooLarge
	default:
		return err
	}

	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return errors.New("empty message")
	}
	if err := json.Unmarshal(line, v); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}
