// Package cache provides the cache facade over Redis plus an in-memory
// implementation for single-instance deployments.
package cache

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"

	apperrors "appraisal-backend/pkg/errors"
)

// Marshal encodes a value for storage. Strings and byte slices are stored
// verbatim with no framing. Structured values are encoded with MessagePack;
// if that fails, JSON is tried before giving up.
func Marshal(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, apperrors.NewSerialization("cannot cache a nil value", nil)
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}

	data, err := msgpack.Marshal(value)
	if err == nil {
		return data, nil
	}

	data, jsonErr := json.Marshal(value)
	if jsonErr != nil {
		return nil, apperrors.NewSerialization("value encodes as neither msgpack nor json", jsonErr)
	}
	return data, nil
}

// Unmarshal decodes stored bytes into dest. Byte-slice and string
// destinations receive the raw payload. Structured destinations are tried
// as MessagePack first, then JSON, mirroring Marshal's fallback.
func Unmarshal(data []byte, dest interface{}) error {
	switch d := dest.(type) {
	case *[]byte:
		*d = data
		return nil
	case *string:
		*d = string(data)
		return nil
	}

	if err := msgpack.Unmarshal(data, dest); err == nil {
		return nil
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return apperrors.NewSerialization("stored value decodes as neither msgpack nor json", err)
	}
	return nil
}
