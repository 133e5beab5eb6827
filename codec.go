package es

import (
	"fmt"

	"github.com/goccy/go-json"
)

// EventCodec converts domain values to and from their persisted Data form.
type EventCodec interface {
	Encode(value any) (Data, error)
	Decode(data Data, value any) error
}

type InvalidEncodingError struct {
	Expected string
	Actual   string
}

func (e *InvalidEncodingError) Error() string {
	return fmt.Sprintf("expected encoding %s, got %s", e.Expected, e.Actual)
}

func InvalidEncoding(expected string, actual string) error {
	return &InvalidEncodingError{
		Expected: expected,
		Actual:   actual,
	}
}

func NewJSONEventCodec() JSONEventCodec {
	return JSONEventCodec{}
}

type JSONEventCodec struct{}

func (JSONEventCodec) Encode(value any) (Data, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return Data{}, err
	}

	return Data{
		Encoding: "application/json",
		Data:     data,
	}, nil
}

func (JSONEventCodec) Decode(data Data, value any) error {
	if data.Encoding != "application/json" {
		return InvalidEncoding("application/json", data.Encoding)
	}
	return json.Unmarshal(data.Data, value)
}

