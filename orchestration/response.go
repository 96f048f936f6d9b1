package orchestration

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// ResponseKind tags the shape of an upstream response body.
type ResponseKind int

const (
	KindObject ResponseKind = iota
	KindList
	KindScalar
	KindRawText
)

func (k ResponseKind) String() string {
	switch k {
	case KindObject:
		return "object"
	case KindList:
		return "list"
	case KindScalar:
		return "scalar"
	case KindRawText:
		return "raw_text"
	default:
		return "unknown"
	}
}

// Response is a normalized upstream body. Exactly one payload field is
// meaningful, selected by Kind.
type Response struct {
	Kind    ResponseKind
	Object  map[string]interface{}
	List    []interface{}
	Scalar  interface{}
	RawText string
}

// ParseResponse decodes a JSON body. Bodies that are not valid JSON become
// KindRawText and surface as {"raw_response": text}.
func ParseResponse(body []byte) Response {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil || dec.More() {
		return Response{Kind: KindRawText, RawText: string(body)}
	}
	return ResponseFromValue(v)
}

// ResponseFromValue wraps an already decoded JSON value.
func ResponseFromValue(v interface{}) Response {
	switch t := v.(type) {
	case map[string]interface{}:
		return Response{Kind: KindObject, Object: t}
	case []interface{}:
		return Response{Kind: KindList, List: t}
	default:
		return Response{Kind: KindScalar, Scalar: t}
	}
}

// Value returns the response as a plain JSON-shaped value.
func (r Response) Value() interface{} {
	switch r.Kind {
	case KindObject:
		return r.Object
	case KindList:
		return r.List
	case KindRawText:
		return map[string]interface{}{"raw_response": r.RawText}
	default:
		return r.Scalar
	}
}

// Extract applies a JSON path to the response.
func (r Response) Extract(path string) interface{} {
	return Extract(r.Value(), path)
}

// Field returns a top-level field of an object response.
func (r Response) Field(name string) (interface{}, bool) {
	if r.Kind != KindObject {
		return nil, false
	}
	v, ok := r.Object[name]
	return v, ok
}

// MarshalJSON renders the response as its plain value.
func (r Response) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Value())
}

// UnmarshalJSON accepts any JSON value. It is used when responses are read
// back from the shared cache.
func (r *Response) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return err
	}
	*r = ResponseFromValue(v)
	if r.Kind == KindObject && len(r.Object) == 1 {
		if raw, ok := r.Object["raw_response"].(string); ok {
			*r = Response{Kind: KindRawText, RawText: raw}
		}
	}
	return nil
}

// Stringify renders a JSON-shaped value the way it is substituted into URLs,
// compared by the local filter and printed by the formatters.
func Stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
