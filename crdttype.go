package core

// CrdtType tags an Entity's merge semantics (spec.md §3, §4.1). It is
// modeled as a sum type rather than a string-keyed dynamic dispatch
// table per spec.md §9 ("Dynamic merge dispatch by string type-name is
// modeled as a sum type for built-ins plus a trait object for custom
// types").
type CrdtType struct {
	Tag      CrdtTag `cbor:"1,keyasint"`
	TypeName string  `cbor:"2,keyasint"` // only meaningful when Tag == CrdtCustom
}

type CrdtTag uint8

const (
	CrdtNone CrdtTag = iota
	CrdtCounter
	CrdtLwwRegister
	CrdtRGA
	CrdtUnorderedMap
	CrdtUnorderedSet
	CrdtVector
	CrdtCustom
)

func (t CrdtTag) String() string {
	switch t {
	case CrdtCounter:
		return "Counter"
	case CrdtLwwRegister:
		return "LwwRegister"
	case CrdtRGA:
		return "RGA"
	case CrdtUnorderedMap:
		return "UnorderedMap"
	case CrdtUnorderedSet:
		return "UnorderedSet"
	case CrdtVector:
		return "Vector"
	case CrdtCustom:
		return "Custom"
	default:
		return "None"
	}
}

func Custom(typeName string) CrdtType {
	return CrdtType{Tag: CrdtCustom, TypeName: typeName}
}

func Simple(tag CrdtTag) CrdtType {
	return CrdtType{Tag: tag}
}

// Marker returns a short, stable one-byte-safe identifier suitable for
// persisting alongside entity values (I10: crdt_type MUST be persisted).
func (t CrdtType) Marker() string {
	if t.Tag == CrdtCustom {
		return "Custom:" + t.TypeName
	}
	return t.Tag.String()
}
