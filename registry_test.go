package sherpa

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `{
	"Name": "Ding",
	"Docs": "Build server API.",
	"Functions": [
		{"Name": "Repos", "Docs": "", "Params": [], "Returns": [{"Name": "r", "Typewords": ["[]", "Repo"]}]},
		{"Name": "CreateBuild", "Docs": "", "Params": [
			{"Name": "password", "Typewords": ["string"]},
			{"Name": "repoName", "Typewords": ["string"]},
			{"Name": "branch", "Typewords": ["string"]}
		], "Returns": [{"Name": "r", "Typewords": ["Build"]}]}
	],
	"Sections": [{
		"Name": "Status",
		"Docs": "",
		"Functions": [{"Name": "Status", "Docs": "", "Params": [], "Returns": []}],
		"Sections": [],
		"Structs": [],
		"Ints": [{"Name": "Priority", "Docs": "", "Values": [{"Name": "Low", "Value": 0, "Docs": ""}, {"Name": "High", "Value": 10, "Docs": ""}]}],
		"Strings": [],
		"SherpaVersion": 0
	}],
	"Structs": [
		{"Name": "Repo", "Docs": "", "Fields": [
			{"Name": "Name", "Docs": "", "Typewords": ["string"]},
			{"Name": "UID", "Docs": "", "Typewords": ["nullable", "uint32"]}
		]},
		{"Name": "Build", "Docs": "", "Fields": [
			{"Name": "ID", "Docs": "", "Typewords": ["int32"]},
			{"Name": "Status", "Docs": "", "Typewords": ["BuildStatus"]},
			{"Name": "Start", "Docs": "", "Typewords": ["nullable", "timestamp"]},
			{"Name": "Priority", "Docs": "", "Typewords": ["Priority"]}
		]}
	],
	"Ints": [],
	"Strings": [{"Name": "BuildStatus", "Docs": "", "Values": [
		{"Name": "new", "Value": "new", "Docs": ""},
		{"Name": "success", "Value": "success", "Docs": ""}
	]}],
	"SherpaVersion": 0,
	"SherpadocVersion": 1
}`

func TestLoadRegistry(t *testing.T) {
	reg, err := LoadRegistry(strings.NewReader(testSchema))
	require.NoError(t, err)

	assert.Equal(t, []string{"Build", "BuildStatus", "Priority", "Repo"}, reg.Names())
	assert.Equal(t, []string{"CreateBuild", "Repos", "Status"}, reg.Functions())

	nt, ok := reg.Lookup("Build")
	require.True(t, ok, "Build not found")
	st, ok := nt.(*StructType)
	require.True(t, ok, "Build is %T, want *StructType", nt)
	require.Len(t, st.Fields, 4)
	assert.Equal(t, "nullable timestamp", st.Fields[2].Typewords.String())
	_, ok = reg.Lookup("Missing")
	assert.False(t, ok, "Lookup of unknown type succeeded")

	f, ok := reg.Function("CreateBuild")
	require.True(t, ok, "CreateBuild not found")
	assert.Len(t, f.ParamTypes(), 3)
	assert.Equal(t, "Build", f.ReturnTypes()[0].String())
}

func TestNewRegistryErrors(t *testing.T) {
	tests := []struct {
		name  string
		types []NamedType
		err   string
	}{
		{
			"duplicate",
			[]NamedType{&StructType{Name: "A"}, &StringsType{Name: "A"}},
			"duplicate named type A",
		},
		{
			"unresolved",
			[]NamedType{&StructType{Name: "A", Fields: []Field{{Name: "B", Typewords: TypeWords{Ref("B")}}}}},
			"unknown type B",
		},
		{
			"duplicate field",
			[]NamedType{&StructType{Name: "A", Fields: []Field{
				{Name: "X", Typewords: TypeWords{String}},
				{Name: "X", Typewords: TypeWords{Int32}},
			}}},
			"duplicate field X",
		},
		{
			"shadowing",
			[]NamedType{&StringsType{Name: "string"}},
			"shadows builtin",
		},
		{
			"duplicate enum value",
			[]NamedType{&IntsType{Name: "P", Values: []IntValue{{Name: "a", Value: 1}, {Name: "b", Value: 1}}}},
			"duplicate value 1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.types...)
			assert.ErrorContains(t, err, tt.err)
		})
	}
}

func TestNilRegistryLookup(t *testing.T) {
	var reg *Registry
	_, ok := reg.Lookup("A")
	assert.False(t, ok, "nil registry found a type")
	_, ok = reg.Function("A")
	assert.False(t, ok, "nil registry found a function")
}

type goStatus string

const (
	goStatusNew  goStatus = "new"
	goStatusDone goStatus = "done"
)

type goLevel int32

type goStep struct {
	Name   string
	Output []string `json:"output"`
}

type goBase struct {
	ID int64 `json:",string"`
}

type goBuild struct {
	goBase
	Status   goStatus
	Level    goLevel
	Steps    []goStep
	Start    *time.Time
	Labels   map[string]string
	Extra    any
	Coverage *float32
	internal int
	Skipped  bool `json:"-"`
}

func TestTypesFromGo(t *testing.T) {
	types, err := TypesFromGo(goBuild{}, EnumValues(goStatusNew, goStatusDone))
	require.NoError(t, err)
	reg, err := NewRegistry(types...)
	require.NoError(t, err)
	assert.Equal(t, []string{"goBuild", "goLevel", "goStatus", "goStep"}, reg.Names())

	nt, _ := reg.Lookup("goBuild")
	fields := nt.(*StructType).Fields
	require.Len(t, fields, 8)
	got := map[string]string{}
	for _, f := range fields {
		got[f.Name] = f.Typewords.String()
	}
	assert.Equal(t, map[string]string{
		"ID":       "int64s",
		"Status":   "goStatus",
		"Level":    "goLevel",
		"Steps":    "[] goStep",
		"Start":    "nullable timestamp",
		"Labels":   "{} string",
		"Extra":    "any",
		"Coverage": "nullable float32",
	}, got)

	nt, _ = reg.Lookup("goStep")
	assert.Equal(t, "output", nt.(*StructType).Fields[1].Name, "json tag name not used")

	nt, _ = reg.Lookup("goStatus")
	values := nt.(*StringsType).Values
	require.Len(t, values, 2)
	assert.Equal(t, "done", values[1].Value)
	nt, _ = reg.Lookup("goLevel")
	assert.Empty(t, nt.(*IntsType).Values, "goLevel should be an open enum")
}

func TestTypesFromGoErrors(t *testing.T) {
	_, err := TypesFromGo("not a struct")
	assert.Error(t, err, "non-struct value")
	type badMap struct {
		M map[int]string
	}
	_, err = TypesFromGo(badMap{})
	assert.Error(t, err, "map with int keys")
}
