package sherpa

import (
	"fmt"
	"sort"
)

// NamedType is one of *StructType, *StringsType or *IntsType.
type NamedType interface {
	namedType()
	TypeName() string
}

// Field is a struct field with its own type description.
type Field struct {
	Name      string
	Docs      string
	Typewords TypeWords
}

// StructType is a named struct with uniquely named fields.
type StructType struct {
	Name   string
	Docs   string
	Fields []Field
}

func (*StructType) namedType() {}

func (t *StructType) TypeName() string { return t.Name }

// StringValue is a permitted value of a StringsType.
type StringValue struct {
	Name  string
	Value string
	Docs  string
}

// StringsType is a string-backed enum. An empty Values list accepts any string.
type StringsType struct {
	Name   string
	Docs   string
	Values []StringValue
}

func (*StringsType) namedType() {}

func (t *StringsType) TypeName() string { return t.Name }

// IntValue is a permitted value of an IntsType.
type IntValue struct {
	Name  string
	Value int64
	Docs  string
}

// IntsType is an integer-backed enum. An empty Values list accepts any integer.
type IntsType struct {
	Name   string
	Docs   string
	Values []IntValue
}

func (*IntsType) namedType() {}

func (t *IntsType) TypeName() string { return t.Name }

// Param is a named function parameter or return value.
type Param struct {
	Name      string
	Typewords TypeWords
}

// Function describes a callable operation.
type Function struct {
	Name    string
	Docs    string
	Params  []Param
	Returns []Param
}

// ParamTypes returns the type words of each parameter.
func (f *Function) ParamTypes() []TypeWords {
	return paramTypes(f.Params)
}

// ReturnTypes returns the type words of each return value.
func (f *Function) ReturnTypes() []TypeWords {
	return paramTypes(f.Returns)
}

func paramTypes(l []Param) []TypeWords {
	r := make([]TypeWords, len(l))
	for i, p := range l {
		r[i] = p.Typewords
	}
	return r
}

// Registry holds named types and functions. It is never modified after
// construction and is safe for concurrent use.
type Registry struct {
	types     map[string]NamedType
	functions map[string]*Function
}

// NewRegistry creates a registry from named types. Names must be unique, and
// every type word referenced from a struct field must resolve.
func NewRegistry(types ...NamedType) (*Registry, error) {
	return newRegistry(types, nil)
}

// MustNewRegistry is like NewRegistry but panics on error.
func MustNewRegistry(types ...NamedType) *Registry {
	r, err := NewRegistry(types...)
	if err != nil {
		panic(err)
	}
	return r
}

func newRegistry(types []NamedType, functions []*Function) (*Registry, error) {
	r := &Registry{
		types:     make(map[string]NamedType, len(types)),
		functions: make(map[string]*Function, len(functions)),
	}
	for _, t := range types {
		name := t.TypeName()
		if name == "" {
			return nil, fmt.Errorf("named type without name")
		}
		if _, ok := scalarsByName[name]; ok {
			return nil, fmt.Errorf("named type %s shadows builtin type", name)
		}
		if _, ok := r.types[name]; ok {
			return nil, fmt.Errorf("duplicate named type %s", name)
		}
		r.types[name] = t
	}
	for _, f := range functions {
		if _, ok := r.functions[f.Name]; ok {
			return nil, fmt.Errorf("duplicate function %s", f.Name)
		}
		r.functions[f.Name] = f
	}
	if err := r.check(); err != nil {
		return nil, err
	}
	return r, nil
}

// check verifies that all references resolve and that struct field names and
// enum values are unique.
func (r *Registry) check() error {
	resolve := func(what string, tw TypeWords) error {
		if len(tw) == 0 {
			return fmt.Errorf("%s: missing typewords", what)
		}
		for _, ref := range tw.Refs() {
			if _, ok := r.types[string(ref)]; !ok {
				return fmt.Errorf("%s: unknown type %s", what, ref)
			}
		}
		return nil
	}
	for _, name := range r.Names() {
		switch t := r.types[name].(type) {
		case *StructType:
			seen := map[string]bool{}
			for _, f := range t.Fields {
				if seen[f.Name] {
					return fmt.Errorf("struct %s: duplicate field %s", name, f.Name)
				}
				seen[f.Name] = true
				if err := resolve("struct "+name+" field "+f.Name, f.Typewords); err != nil {
					return err
				}
			}
		case *StringsType:
			seen := map[string]bool{}
			for _, v := range t.Values {
				if seen[v.Value] {
					return fmt.Errorf("strings %s: duplicate value %q", name, v.Value)
				}
				seen[v.Value] = true
			}
		case *IntsType:
			seen := map[int64]bool{}
			for _, v := range t.Values {
				if seen[v.Value] {
					return fmt.Errorf("ints %s: duplicate value %d", name, v.Value)
				}
				seen[v.Value] = true
			}
		}
	}
	for _, f := range r.functions {
		for _, p := range f.Params {
			if err := resolve("function "+f.Name+" param "+p.Name, p.Typewords); err != nil {
				return err
			}
		}
		for _, p := range f.Returns {
			if err := resolve("function "+f.Name+" return "+p.Name, p.Typewords); err != nil {
				return err
			}
		}
	}
	return nil
}

// Lookup returns the named type.
func (r *Registry) Lookup(name string) (NamedType, bool) {
	if r == nil {
		return nil, false
	}
	t, ok := r.types[name]
	return t, ok
}

// Function returns the function with the given name.
func (r *Registry) Function(name string) (*Function, bool) {
	if r == nil {
		return nil, false
	}
	f, ok := r.functions[name]
	return f, ok
}

// Names returns all named type names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Functions returns all function names, sorted.
func (r *Registry) Functions() []string {
	names := make([]string, 0, len(r.functions))
	for name := range r.functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
