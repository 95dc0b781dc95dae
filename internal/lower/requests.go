package lower

import (
	"hash/fnv"
	"strconv"
)

// Requestor receives the requests lowering makes to the metadata and layout
// collaborator. Each method returns the symbol the generated code refers to;
// the symbol is defined once the request is served.
type Requestor interface {
	// RequestLayout asks for the instance layout of a type and returns the
	// symbol of a pointer-sized word holding its instance size.
	RequestLayout(typeName string) string
	// RequestVTable asks for the virtual method table of a type and returns
	// its symbol.
	RequestVTable(typeName string) string
	// RequestString asks for a string literal to be interned and returns its
	// label.
	RequestString(s string) string
}

// PendingRequests records requests for later resolution. Each request is
// recorded once, in first-request order.
type PendingRequests struct {
	Layouts []string
	VTables []string
	Strings []string

	seen map[string]string
}

var _ Requestor = (*PendingRequests)(nil)

func (p *PendingRequests) record(kind, key string, list *[]string, sym func() string) string {
	if p.seen == nil {
		p.seen = map[string]string{}
	}
	k := kind + "\x00" + key
	if s, ok := p.seen[k]; ok {
		return s
	}
	s := sym()
	p.seen[k] = s
	*list = append(*list, key)
	return s
}

// RequestLayout implements Requestor.
func (p *PendingRequests) RequestLayout(typeName string) string {
	return p.record("layout", typeName, &p.Layouts, func() string { return typeName + "#size" })
}

// RequestVTable implements Requestor.
func (p *PendingRequests) RequestVTable(typeName string) string {
	return p.record("vtable", typeName, &p.VTables, func() string { return typeName + "#vtbl" })
}

// RequestString implements Requestor.
func (p *PendingRequests) RequestString(s string) string {
	return p.record("string", s, &p.Strings, func() string { return StringLabel(s) })
}

// Len returns the number of distinct requests.
func (p *PendingRequests) Len() int { return len(p.Layouts) + len(p.VTables) + len(p.Strings) }

// StringLabel returns the label of the interned string s. Labels depend only
// on the contents so that methods compiled separately agree on them.
func StringLabel(s string) string {
	h := fnv.New64a()
	h.Write([]byte(s))
	return "__str_" + strconv.FormatUint(h.Sum64(), 16)
}
