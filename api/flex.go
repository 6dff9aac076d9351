package api

import (
	"bytes"
	"encoding/json"
	"slices"
	"strconv"

	"github.com/rotisserie/eris"
)

// FlexUint64 accepts numbers and numeric strings, since steam sends both for the same field depending on the
// endpoint.
type FlexUint64 uint64

func (f *FlexUint64) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}

	value, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return eris.Wrapf(err, "invalid number %q", data)
	}
	*f = FlexUint64(value)
	return nil
}

// FlexBool accepts true/false, 0/1 and "0"/"1".
type FlexBool bool

func (f *FlexBool) UnmarshalJSON(data []byte) error {
	switch string(bytes.Trim(data, `"`)) {
	case "1", "true":
		*f = true
	case "0", "false", "", "null":
		*f = false
	default:
		return eris.Errorf("invalid bool %s", data)
	}
	return nil
}

// FlexList accepts a JSON array or an object keyed by position ("0", "1", ...), which is how the economy
// service encodes lists.
type FlexList[T any] []T

func (f *FlexList[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" || string(data) == `""` {
		*f = nil
		return nil
	}

	if data[0] == '[' {
		var items []T
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*f = items
		return nil
	}

	var keyed map[string]T
	if err := json.Unmarshal(data, &keyed); err != nil {
		return err
	}

	type indexed struct {
		index int
		item  T
	}
	ordered := make([]indexed, 0, len(keyed))
	for key, item := range keyed {
		index, err := strconv.Atoi(key)
		if err != nil {
			return eris.Wrapf(err, "invalid list index %q", key)
		}
		ordered = append(ordered, indexed{index: index, item: item})
	}
	slices.SortFunc(ordered, func(a, b indexed) int { return a.index - b.index })

	items := make([]T, len(ordered))
	for i, entry := range ordered {
		items[i] = entry.item
	}
	*f = items
	return nil
}
