// Package report renders and persists the outcome of a stream scan.
package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/renameio/v2"

	"streamscan/internal/scan"
)

const reportVersion = 1

// NoStreamsMessage is printed in place of an empty URL list.
const NoStreamsMessage = "No video streams found on the network."

// ErrUnsupportedVersion is returned by Load for envelopes it cannot read.
var ErrUnsupportedVersion = errors.New("unsupported report version")

type envelope struct {
	Version     int         `json:"version"`
	GeneratedAt time.Time   `json:"generated_at"`
	Report      scan.Report `json:"report"`
}

// Save writes the report to w as an indented, versioned JSON document.
func Save(w io.Writer, r scan.Report) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(envelope{
		Version:     reportVersion,
		GeneratedAt: time.Now().UTC(),
		Report:      r,
	})
}

// Load reads a report previously written by Save.
func Load(r io.Reader) (scan.Report, error) {
	var payload envelope
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return scan.Report{}, fmt.Errorf("decode report: %w", err)
	}
	if payload.Version != reportVersion {
		return scan.Report{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, payload.Version)
	}
	return payload.Report, nil
}

// WriteText prints one URL per line, or NoStreamsMessage when urls is empty.
func WriteText(w io.Writer, urls []string) error {
	if len(urls) == 0 {
		_, err := fmt.Fprintln(w, NoStreamsMessage)
		return err
	}
	for _, u := range urls {
		if _, err := fmt.Fprintln(w, u); err != nil {
			return err
		}
	}
	return nil
}

// WriteFile atomically replaces path with the rendered report. asJSON selects
// the versioned JSON document over the plain URL list.
func WriteFile(path string, r scan.Report, asJSON bool) error {
	var buf bytes.Buffer
	var err error
	if asJSON {
		err = Save(&buf, r)
	} else {
		err = WriteText(&buf, r.URLs())
	}
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, buf.Bytes(), 0o644)
}
