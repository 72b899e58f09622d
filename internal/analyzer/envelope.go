package analyzer

// Shape names an envelope variant. It is used both as a classification
// result and as a hint for the expected shape.
type Shape int

const (
	ShapeAuto Shape = iota
	ShapeStandard
	ShapePaged
	ShapeArray
	ShapeRaw
)

func (s Shape) String() string {
	switch s {
	case ShapeStandard:
		return "standard"
	case ShapePaged:
		return "paged"
	case ShapeArray:
		return "array"
	case ShapeRaw:
		return "raw"
	default:
		return "auto"
	}
}

// DataState describes the data member of a standard envelope, or the item
// collection of the other shapes.
type DataState int

const (
	DataAbsent DataState = iota
	DataNull
	DataEmpty
	DataList
	DataPaged
	DataObject
)

func (d DataState) String() string {
	switch d {
	case DataNull:
		return "no data"
	case DataEmpty:
		return "empty data"
	case DataList:
		return "list"
	case DataPaged:
		return "paged"
	case DataObject:
		return "object"
	default:
		return "absent"
	}
}

// Envelope is the sealed set of response shapes.
type Envelope interface {
	Shape() Shape
	sealed()
}

// StandardEnvelope is the {result, message, data} wrapper.
type StandardEnvelope struct {
	Result  string
	Message string
	// Data is the decoded data member; nil when absent or null.
	Data any
}

// BareArray is a top-level JSON array.
type BareArray struct {
	Items []any
}

// PagedEnvelope is a {content, totalElements} page, either at the top level
// or as the data member of a standard envelope. Result and Message are only
// set in the second case.
type PagedEnvelope struct {
	Result        string
	Message       string
	Content       []any
	TotalElements int64
}

// RawObject is any other JSON value, or a body that is not JSON at all.
type RawObject struct {
	JSON  bool
	Value any
}

func (StandardEnvelope) Shape() Shape { return ShapeStandard }
func (BareArray) Shape() Shape        { return ShapeArray }
func (PagedEnvelope) Shape() Shape    { return ShapePaged }
func (RawObject) Shape() Shape        { return ShapeRaw }

func (StandardEnvelope) sealed() {}
func (BareArray) sealed()        {}
func (PagedEnvelope) sealed()    {}
func (RawObject) sealed()        {}
