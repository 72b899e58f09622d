package analyzer

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmespath/go-jmespath"
)

// MaxTextLen bounds Analysis.Text for non-JSON bodies.
const MaxTextLen = 512

// Hints steer classification and id extraction.
type Hints struct {
	// Expect is tried before the automatic classification order.
	Expect Shape
	// IDField names the identifier key of items. Defaults to "id".
	IDField string
	// Collection names an array member of a standard envelope's data
	// object, e.g. "books" for {"data": {"books": [...]}}.
	Collection string
	// Path is a JMESPath expression evaluated against the whole document.
	// When set it takes precedence over the item id.
	Path string
}

func (h Hints) idField() string {
	if h.IDField == "" {
		return "id"
	}
	return h.IDField
}

// Analysis is the outcome of classifying one body.
type Analysis struct {
	Envelope Envelope
	State    DataState
	// Items is the number of elements in the enumerated collection.
	Items int
	// Total is totalElements for paged shapes.
	Total int64
	// First is the first enumerated item, or the data object itself.
	First map[string]any

	ID    string
	HasID bool

	// Text holds the truncated body when it is not JSON.
	Text string
	// Err records a parse or path failure. It is informational only.
	Err error

	doc any
}

// JSON reports whether the body parsed as JSON.
func (a Analysis) JSON() bool {
	if raw, ok := a.Envelope.(RawObject); ok {
		return raw.JSON
	}
	return a.Envelope != nil
}

// IDOr returns the extracted id or fallback.
func (a Analysis) IDOr(fallback string) string {
	if a.HasID {
		return a.ID
	}
	return fallback
}

// IntID returns the extracted id as an integer.
func (a Analysis) IntID() (int64, bool) {
	if !a.HasID {
		return 0, false
	}
	n, err := strconv.ParseInt(a.ID, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Search evaluates a JMESPath expression against the parsed document.
func (a Analysis) Search(expr string) (any, error) {
	if a.doc == nil {
		return nil, fmt.Errorf("search %q: body is not JSON", expr)
	}
	return jmespath.Search(expr, a.doc)
}

// Analyze classifies body and extracts an identifier according to hints.
// It never panics and never returns an error; failures leave HasID false.
func Analyze(body []byte, hints Hints) Analysis {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return Analysis{
			Envelope: RawObject{JSON: false},
			Text:     truncate(body),
			Err:      fmt.Errorf("parse body: %w", err),
		}
	}

	a := Analysis{doc: doc}
	a.Envelope = classify(doc, hints.Expect)

	switch env := a.Envelope.(type) {
	case StandardEnvelope:
		a.standard(env, hints)
	case PagedEnvelope:
		a.list(env.Content, DataPaged)
		a.Total = env.TotalElements
	case BareArray:
		a.list(env.Items, DataList)
	case RawObject:
		if obj, ok := env.Value.(map[string]any); ok {
			a.State = DataObject
			a.First = obj
		}
	}

	if a.State == DataEmpty || a.State == DataNull {
		return a
	}
	if hints.Path != "" {
		v, err := jmespath.Search(hints.Path, doc)
		if err != nil {
			a.Err = fmt.Errorf("path %q: %w", hints.Path, err)
		} else if id, ok := scalar(v); ok {
			a.ID, a.HasID = id, true
			return a
		}
	}
	if a.First != nil {
		a.ID, a.HasID = scalar(a.First[hints.idField()])
	}
	return a
}

func classify(doc any, expect Shape) Envelope {
	if expect != ShapeAuto {
		if env, ok := as(doc, expect); ok {
			return env
		}
	}
	for _, s := range []Shape{ShapeStandard, ShapePaged, ShapeArray} {
		if env, ok := as(doc, s); ok {
			return env
		}
	}
	return RawObject{JSON: true, Value: doc}
}

func as(doc any, s Shape) (Envelope, bool) {
	switch s {
	case ShapeStandard:
		obj, ok := doc.(map[string]any)
		if !ok {
			return nil, false
		}
		if _, ok := obj["result"]; !ok {
			return nil, false
		}
		if data, ok := obj["data"].(map[string]any); ok {
			if content, ok := data["content"].([]any); ok {
				total, _ := data["totalElements"].(float64)
				return PagedEnvelope{
					Result:        text(obj["result"]),
					Message:       text(obj["message"]),
					Content:       content,
					TotalElements: int64(total),
				}, true
			}
		}
		return StandardEnvelope{
			Result:  text(obj["result"]),
			Message: text(obj["message"]),
			Data:    obj["data"],
		}, true
	case ShapePaged:
		obj, ok := doc.(map[string]any)
		if !ok {
			return nil, false
		}
		return paged(obj)
	case ShapeArray:
		items, ok := doc.([]any)
		if !ok {
			return nil, false
		}
		return BareArray{Items: items}, true
	case ShapeRaw:
		return RawObject{JSON: true, Value: doc}, true
	}
	return nil, false
}

func paged(obj map[string]any) (PagedEnvelope, bool) {
	content, ok := obj["content"].([]any)
	if !ok {
		return PagedEnvelope{}, false
	}
	total, ok := obj["totalElements"].(float64)
	if !ok {
		return PagedEnvelope{}, false
	}
	return PagedEnvelope{Content: content, TotalElements: int64(total)}, true
}

func (a *Analysis) standard(env StandardEnvelope, hints Hints) {
	obj, isObj := env.Data.(map[string]any)

	switch data := env.Data.(type) {
	case nil:
		// A present null and a missing member decode alike; tell them apart.
		root, _ := a.doc.(map[string]any)
		if _, present := root["data"]; present {
			a.State = DataNull
		} else {
			a.State = DataAbsent
		}
		return
	case []any:
		a.list(data, DataList)
		return
	}

	if !isObj {
		// Scalar data is treated as an opaque object with nothing to extract.
		a.State = DataObject
		return
	}
	if len(obj) == 0 {
		a.State = DataEmpty
		return
	}
	if hints.Collection != "" {
		if items, ok := obj[hints.Collection].([]any); ok {
			a.list(items, DataList)
			return
		}
	}
	a.State = DataObject
	a.First = obj
}

func (a *Analysis) list(items []any, state DataState) {
	a.Items = len(items)
	if len(items) == 0 {
		a.State = DataEmpty
		return
	}
	a.State = state
	if first, ok := items[0].(map[string]any); ok {
		a.First = first
	}
}

// scalar renders an id-like JSON value as a string.
func scalar(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		x = strings.TrimSpace(x)
		return x, x != ""
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(x), true
	}
	return "", false
}

func text(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func truncate(body []byte) string {
	if len(body) <= MaxTextLen {
		return strings.ToValidUTF8(string(body), "")
	}
	return strings.ToValidUTF8(string(body[:MaxTextLen]), "") + "..."
}
