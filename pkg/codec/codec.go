// Package codec converts between Go values and the JSON text exchanged with
// the API. It is backed by json-iterator in its encoding/json compatible mode,
// so request and response types use ordinary `json:"..."` struct tags.
package codec

import (
	"bytes"
	stdErrors "errors"
	"fmt"
	"io"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/milan604/jsonapi-client/pkg/errors"
)

// ErrReferenceCycle is returned by Marshal in CycleError mode when the value
// reaches itself through pointers, maps or slices.
var ErrReferenceCycle = stdErrors.New("codec: reference cycle detected")

// CycleHandling selects what Marshal does with self-referencing values.
type CycleHandling int

const (
	// CycleSerialize encodes the value as-is. JSON has no representation for a
	// real cycle, so one surfaces as an encode error wrapping ErrReferenceCycle.
	CycleSerialize CycleHandling = iota
	// CycleIgnore drops the object member that closes a cycle, or writes null
	// for an array element that does.
	CycleIgnore
	// CycleError fails with ErrReferenceCycle.
	CycleError
)

func (h CycleHandling) String() string {
	switch h {
	case CycleSerialize:
		return "serialize"
	case CycleIgnore:
		return "ignore"
	case CycleError:
		return "error"
	default:
		return fmt.Sprintf("CycleHandling(%d)", int(h))
	}
}

// ParseCycleHandling maps a config string onto a CycleHandling.
// The empty string selects CycleSerialize.
func ParseCycleHandling(s string) (CycleHandling, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "serialize":
		return CycleSerialize, nil
	case "ignore":
		return CycleIgnore, nil
	case "error":
		return CycleError, nil
	default:
		return CycleSerialize, fmt.Errorf("codec: unknown reference cycle handling %q", s)
	}
}

// Options configures the JSON codec.
type Options struct {
	ReferenceCycles CycleHandling
	// OmitNullFields removes struct fields whose encoded value is null. Map
	// entries and array elements are kept even when null.
	OmitNullFields bool
}

// DefaultOptions serializes cycles as-is and omits null members.
func DefaultOptions() Options {
	return Options{
		ReferenceCycles: CycleSerialize,
		OmitNullFields:  true,
	}
}

// Codec serializes request bodies and deserializes response bodies.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Decode(r io.Reader, v any) error
	ContentType() string
}

// JSONContentType is sent with every encoded request body.
const JSONContentType = "application/json; charset=utf-8"

type jsonCodec struct {
	api  jsoniter.API
	opts Options
}

// NewJSON returns a JSON Codec configured by opts.
func NewJSON(opts Options) Codec {
	return &jsonCodec{
		api:  jsoniter.ConfigCompatibleWithStandardLibrary,
		opts: opts,
	}
}

func (c *jsonCodec) ContentType() string { return JSONContentType }

func (c *jsonCodec) Marshal(v any) ([]byte, error) {
	if hasCycle(v) {
		switch c.opts.ReferenceCycles {
		case CycleError:
			return nil, ErrReferenceCycle
		case CycleIgnore:
			v = breakCycles(v)
		default:
			return nil, errors.Wrap(ErrReferenceCycle, "codec: marshal")
		}
	}

	data, err := c.api.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "codec: marshal")
	}
	if !c.opts.OmitNullFields {
		return data, nil
	}
	out, err := dropNullMembers(c.api, data, v)
	if err != nil {
		return nil, errors.Wrap(err, "codec: omit null fields")
	}
	return out, nil
}

// Decode reads the whole payload and unmarshals it into v. An empty or
// whitespace-only payload leaves v untouched.
func (c *jsonCodec) Decode(r io.Reader, v any) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrap(err, "codec: read payload")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := c.api.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "codec: unmarshal into %T", v)
	}
	return nil
}
