// Package codec packs event envelopes into bus payloads and back.
//
// The default JSON codec writes plain camelCase fields, so consumers that are
// not busstore nodes can read a topic too:
//
//	{"nodeId":"3f0c...","name":"message","args":["hello",42],"sentAt":"2024-05-01T10:00:00.000Z"}
package codec

import (
	"errors"
	"fmt"

	"github.com/go-openapi/strfmt"
	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var (
	// ErrInvalidEnvelope is returned by Unpack for payloads that are not envelopes.
	ErrInvalidEnvelope = errors.New("codec: invalid envelope")

	emptyEnvelope = []byte(`{}`)
)

// Envelope is the unit of data exchanged between nodes.
type Envelope struct {
	NodeID string          `json:"nodeId"`
	Name   string          `json:"name"`
	Args   []any           `json:"args"`
	SentAt strfmt.DateTime `json:"sentAt,omitempty"`
}

type Codec interface {
	Pack(Envelope) ([]byte, error)
	Unpack([]byte) (Envelope, error)
}

// JSON returns the default codec.
func JSON() Codec {
	return jsonCodec{}
}

type jsonCodec struct{}

func (jsonCodec) Pack(env Envelope) ([]byte, error) {
	result, err := sjson.SetBytes(emptyEnvelope, "nodeId", env.NodeID)
	if err != nil {
		return nil, err
	}

	result, err = sjson.SetBytes(result, "name", env.Name)
	if err != nil {
		return nil, err
	}

	args := env.Args
	if args == nil {
		args = []any{}
	}
	argBytes, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal args of %q: %w", env.Name, err)
	}
	result, err = sjson.SetRawBytes(result, "args", argBytes)
	if err != nil {
		return nil, err
	}

	if !env.SentAt.IsZero() {
		result, err = sjson.SetBytes(result, "sentAt", env.SentAt.String())
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (jsonCodec) Unpack(data []byte) (Envelope, error) {
	var env Envelope
	if !gjson.ValidBytes(data) {
		return env, fmt.Errorf("%w: invalid json: %.64s", ErrInvalidEnvelope, data)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return env, fmt.Errorf("%w: expected an object", ErrInvalidEnvelope)
	}

	name := root.Get("name")
	if !name.Exists() || name.Type != gjson.String {
		return env, fmt.Errorf("%w: missing required field 'name'", ErrInvalidEnvelope)
	}
	env.Name = name.String()
	env.NodeID = root.Get("nodeId").String()

	args := root.Get("args")
	switch {
	case !args.Exists() || args.Type == gjson.Null:
		env.Args = []any{}
	case args.IsArray():
		if err := json.Unmarshal([]byte(args.Raw), &env.Args); err != nil {
			return env, fmt.Errorf("%w: invalid args: %w", ErrInvalidEnvelope, err)
		}
	default:
		return env, fmt.Errorf("%w: args must be an array", ErrInvalidEnvelope)
	}

	if sentAt := root.Get("sentAt"); sentAt.Exists() {
		ts, err := strfmt.ParseDateTime(sentAt.String())
		if err != nil {
			return env, fmt.Errorf("%w: invalid sentAt: %w", ErrInvalidEnvelope, err)
		}
		env.SentAt = ts
	}
	return env, nil
}

// Funcs adapts a pack/unpack function pair into a Codec.
func Funcs(pack func(Envelope) ([]byte, error), unpack func([]byte) (Envelope, error)) Codec {
	return funcCodec{pack: pack, unpack: unpack}
}

type funcCodec struct {
	pack   func(Envelope) ([]byte, error)
	unpack func([]byte) (Envelope, error)
}

func (f funcCodec) Pack(env Envelope) ([]byte, error) { return f.pack(env) }

func (f funcCodec) Unpack(data []byte) (Envelope, error) { return f.unpack(data) }
