package remote

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout is the wire layout of dates: UTC with millisecond precision.
const DateLayout = "2006-01-02T15:04:05.000Z"

// FormatDate renders t the way the backend stores dates.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// ParseDate parses a backend date string.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, invalidValuef("bad date %q", s)
	}
	return t.UTC(), nil
}

// Encode converts a native value into its tagged-JSON wire form.
//
// Records encode as pointers and need an id; when allowReferences is false a
// record anywhere inside v is rejected with ErrInvalidValue.
func Encode(v any, allowReferences bool) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string, bool:
		return x, nil
	case time.Time:
		return map[string]any{"__type": "Date", "iso": FormatDate(x)}, nil
	case *time.Time:
		if x == nil {
			return nil, nil
		}
		return Encode(*x, allowReferences)
	case []byte:
		return map[string]any{"__type": "Bytes", "base64": base64.StdEncoding.EncodeToString(x)}, nil
	case GeoPoint:
		return x.encode(), nil
	case *GeoPoint:
		return x.encode(), nil
	case Polygon:
		return x.encode(), nil
	case *Polygon:
		return x.encode(), nil
	case *File:
		return x.encode()
	case *ACL:
		return x.encode(), nil
	case *Relation:
		return x.encode(), nil
	case Record:
		if !allowReferences {
			o := x.base()
			return nil, invalidValuef("reference to %s %s not allowed here", o.className, o.id)
		}
		return x.base().Reference()
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(x, &decoded); err != nil {
			return nil, invalidValuef("raw json: %v", err)
		}
		return decoded, nil
	}
	if n, ok := normalizeNumber(v); ok {
		return n, nil
	}
	if list, ok := toList(v); ok {
		out := make([]any, len(list))
		for i, item := range list {
			enc, err := Encode(item, allowReferences)
			if err != nil {
				return nil, err
			}
			out[i] = enc
		}
		return out, nil
	}
	if m, ok := toMap(v); ok {
		out := make(map[string]any, len(m))
		for k, item := range m {
			enc, err := Encode(item, allowReferences)
			if err != nil {
				return nil, err
			}
			out[k] = enc
		}
		return out, nil
	}
	return nil, invalidValuef("cannot encode %T", v)
}

// Decode converts a wire value into native values. Relation markers are left
// as their raw map; Object.Relation resolves them.
func Decode(v any) (any, error) {
	switch x := v.(type) {
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			dec, err := Decode(item)
			if err != nil {
				return nil, err
			}
			out[i] = dec
		}
		return out, nil
	case map[string]any:
		return decodeMap(x)
	}
	if n, ok := normalizeNumber(v); ok {
		return n, nil
	}
	return v, nil
}

func decodeMap(m map[string]any) (any, error) {
	typ, _ := m["__type"].(string)
	switch typ {
	case "Date":
		iso, _ := m["iso"].(string)
		return ParseDate(iso)
	case "Bytes":
		s, _ := m["base64"].(string)
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, invalidValuef("bad base64: %v", err)
		}
		return b, nil
	case "Pointer":
		cls, _ := m["className"].(string)
		id, _ := m["objectId"].(string)
		if cls == "" || id == "" {
			return nil, invalidValuef("pointer missing className or objectId")
		}
		return Pointer(cls, id), nil
	case "File":
		name, _ := m["name"].(string)
		url, _ := m["url"].(string)
		return NewFileRef(name, url), nil
	case "GeoPoint":
		lat, ok1 := toFloat(m["latitude"])
		lng, ok2 := toFloat(m["longitude"])
		if !ok1 || !ok2 {
			return nil, invalidValuef("geo point needs numeric latitude and longitude")
		}
		return NewGeoPoint(lat, lng)
	case "Polygon":
		return decodePolygon(m["coordinates"])
	case "Object":
		cls, _ := m["className"].(string)
		if cls == "" {
			return nil, invalidValuef("inlined object missing className")
		}
		data := make(map[string]any, len(m))
		for k, item := range m {
			if k == "__type" || k == "className" {
				continue
			}
			data[k] = item
		}
		r := Create(cls)
		if err := r.base().mergeFromServer(data, true); err != nil {
			return nil, err
		}
		return r, nil
	case "Relation":
		out := make(map[string]any, len(m))
		for k, item := range m {
			out[k] = item
		}
		return out, nil
	}
	out := make(map[string]any, len(m))
	for k, item := range m {
		dec, err := Decode(item)
		if err != nil {
			return nil, err
		}
		out[k] = dec
	}
	return out, nil
}

// decodeJSON unmarshals a response body keeping numbers exact.
func decodeJSON(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
