package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge_Defaults(t *testing.T) {
	dst := Config{
		"hostname": "old",
		"runcmd":   []any{"a"},
		"ds":       map[string]any{"timeout": 5, "urls": []any{"x"}},
	}
	src := Config{
		"hostname": "new",
		"runcmd":   []any{"b"},
		"ds":       map[string]any{"retries": 3},
		"fqdn":     "new.example.com",
	}

	got := Merge(dst, src, MergeHow{})

	want := Config{
		"hostname": "new",
		"runcmd":   []any{"b"},
		"ds":       map[string]any{"timeout": 5, "urls": []any{"x"}, "retries": 3},
		"fqdn":     "new.example.com",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Merge() mismatch (-want +got):\n%s", diff)
	}

	// inputs untouched
	assert.Equal(t, "old", dst["hostname"])
	assert.NotContains(t, dst, "fqdn")
}

func TestMerge_Modes(t *testing.T) {
	dst := Config{
		"runcmd": []any{"a"},
		"msg":    "hello",
		"nested": map[string]any{"list": []any{1}},
	}
	src := Config{
		"runcmd": []any{"b"},
		"msg":    " world",
		"nested": map[string]any{"list": []any{2}},
	}

	tests := []struct {
		name string
		how  MergeHow
		want Config
	}{
		{
			name: "append",
			how:  MergeHow{List: ListAppend},
			want: Config{"runcmd": []any{"a", "b"}, "msg": " world", "nested": map[string]any{"list": []any{2}}},
		},
		{
			name: "prepend recursive",
			how:  MergeHow{List: ListPrepend, RecurseList: true},
			want: Config{"runcmd": []any{"b", "a"}, "msg": " world", "nested": map[string]any{"list": []any{2, 1}}},
		},
		{
			name: "no replace",
			how:  MergeHow{Dict: DictNoReplace},
			want: Config{"runcmd": []any{"a"}, "msg": "hello", "nested": map[string]any{"list": []any{1}}},
		},
		{
			name: "string append",
			how:  MergeHow{Str: StrAppend},
			want: Config{"runcmd": []any{"b"}, "msg": "hello world", "nested": map[string]any{"list": []any{2}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Merge(dst, src, tt.how)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Merge() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMerge_TypeConflict(t *testing.T) {
	got := Merge(Config{"a": map[string]any{"b": 1}}, Config{"a": "scalar"}, MergeHow{})
	assert.Equal(t, "scalar", got["a"])

	got = Merge(Config{"a": map[string]any{"b": 1}}, Config{"a": "scalar"}, MergeHow{Dict: DictNoReplace})
	assert.Equal(t, map[string]any{"b": 1}, got["a"])
}

func TestMergeAll_LaterWins(t *testing.T) {
	got := MergeAll(Config{"a": 1, "b": 1}, Config{"b": 2}, Config{"c": 3})

	assert.Equal(t, Config{"a": 1, "b": 2, "c": 3}, got)
}

func TestParseMergeHow(t *testing.T) {
	tests := []struct {
		in      string
		want    MergeHow
		wantErr bool
	}{
		{in: "", want: MergeHow{}},
		{in: "list(append)+dict(no_replace,recurse_list)+str()", want: MergeHow{List: ListAppend, Dict: DictNoReplace, RecurseList: true}},
		{in: "dict(recurse_array)+list(prepend)", want: MergeHow{List: ListPrepend, RecurseList: true}},
		{in: "str(append)", want: MergeHow{Str: StrAppend}},
		{in: "list", want: MergeHow{}},
		{in: "list(shuffle)", wantErr: true},
		{in: "tuple(append)", wantErr: true},
		{in: "list(append", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMergeHow(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
