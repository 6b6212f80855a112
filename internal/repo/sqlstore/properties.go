package sqlstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/conduit-lang/webscript/internal/repo"
)

// propValue is the stored envelope of a property value
type propValue struct {
	T string          `json:"t"`
	V json.RawMessage `json:"v"`
}

type contentValue struct {
	URL      string `json:"url"`
	Mimetype string `json:"mimetype"`
	Encoding string `json:"encoding"`
	Size     int64  `json:"size"`
	Modified int64  `json:"modified"`
}

func encodeValue(v any) (propValue, error) {
	var (
		tag  string
		data any
	)
	switch x := v.(type) {
	case string:
		tag, data = "s", x
	case int:
		tag, data = "i", int64(x)
	case int64:
		tag, data = "i", x
	case float64:
		tag, data = "f", x
	case bool:
		tag, data = "b", x
	case time.Time:
		tag, data = "d", x.UTC().Format(time.RFC3339Nano)
	case repo.NodeRef:
		tag, data = "r", x.String()
	case repo.ContentData:
		tag, data = "c", contentValue{
			URL:      x.URL,
			Mimetype: x.Mimetype,
			Encoding: x.Encoding,
			Size:     x.Size,
			Modified: toMillis(x.Modified),
		}
	case []string:
		items := make([]any, len(x))
		for i := range x {
			items[i] = x[i]
		}
		return encodeValue(items)
	case []repo.NodeRef:
		items := make([]any, len(x))
		for i := range x {
			items[i] = x[i]
		}
		return encodeValue(items)
	case []any:
		items := make([]propValue, 0, len(x))
		for _, item := range x {
			pv, err := encodeValue(item)
			if err != nil {
				return propValue{}, err
			}
			items = append(items, pv)
		}
		tag, data = "l", items
	default:
		return propValue{}, fmt.Errorf("unsupported property value type %T", v)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return propValue{}, err
	}
	return propValue{T: tag, V: raw}, nil
}

func decodeValue(pv propValue) (any, error) {
	switch pv.T {
	case "s":
		var s string
		err := json.Unmarshal(pv.V, &s)
		return s, err
	case "i":
		var i int64
		err := json.Unmarshal(pv.V, &i)
		return i, err
	case "f":
		var f float64
		err := json.Unmarshal(pv.V, &f)
		return f, err
	case "b":
		var b bool
		err := json.Unmarshal(pv.V, &b)
		return b, err
	case "d":
		var s string
		if err := json.Unmarshal(pv.V, &s); err != nil {
			return nil, err
		}
		return time.Parse(time.RFC3339Nano, s)
	case "r":
		var s string
		if err := json.Unmarshal(pv.V, &s); err != nil {
			return nil, err
		}
		return repo.ParseNodeRef(s)
	case "c":
		var c contentValue
		if err := json.Unmarshal(pv.V, &c); err != nil {
			return nil, err
		}
		return repo.ContentData{
			URL:      c.URL,
			Mimetype: c.Mimetype,
			Encoding: c.Encoding,
			Size:     c.Size,
			Modified: fromMillis(c.Modified),
		}, nil
	case "l":
		var items []propValue
		if err := json.Unmarshal(pv.V, &items); err != nil {
			return nil, err
		}
		out := make([]any, 0, len(items))
		for _, item := range items {
			v, err := decodeValue(item)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown property tag %q", pv.T)
	}
}

func marshalValue(v any) (string, error) {
	pv, err := encodeValue(v)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(pv)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func unmarshalValue(raw string) (any, error) {
	var pv propValue
	if err := json.Unmarshal([]byte(raw), &pv); err != nil {
		return nil, err
	}
	return decodeValue(pv)
}
