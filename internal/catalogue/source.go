package catalogue

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Response is a stored catalogue service response: the products the
// requester is entitled to, the optional overlay product line, and the
// request shape it answers.
type Response struct {
	Request  Request   `json:"request"`
	Products []Product `json:"products"`
	Overlay  []Product `json:"overlayProducts,omitempty"`
}

// DecodeResponse parses a catalogue response document.
func DecodeResponse(r io.Reader) (Response, error) {
	var resp Response
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&resp); err != nil {
		return Response{}, &ErrMalformedCatalogue{Detail: err.Error()}
	}
	return resp, nil
}

// Source resolves a catalogue response reference from a job trigger into
// the stored response.
type Source interface {
	Fetch(ctx context.Context, ref string) (Response, error)
}

// FileSource reads catalogue response documents dropped by the catalogue
// collaborator into a directory; the reference is the document name.
type FileSource struct {
	Dir string
}

// Fetch implements Source.
func (s FileSource) Fetch(ctx context.Context, ref string) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	name := filepath.Base(ref) // refs never escape the drop directory
	f, err := os.Open(filepath.Join(s.Dir, name))
	if err != nil {
		return Response{}, fmt.Errorf("opening catalogue response %s: %w", ref, err)
	}
	defer f.Close()
	return DecodeResponse(f)
}
