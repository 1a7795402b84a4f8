package codec

import (
	"errors"

	"github.com/hermeslog/hermes"
)

var errUnsupportedBuilder = errors.New("no attribute builder for this column type")

func wrapCorrupt(msg string, err error) error {
	return &hermes.Error{Kind: hermes.CorruptChunk, Msg: msg, Err: err}
}

func wrapUnsupported(err error) error {
	return &hermes.Error{Kind: hermes.UnsupportedType, Msg: "attribute type outside the closed set", Err: err}
}
