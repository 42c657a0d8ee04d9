package config

import (
	"fmt"
	"strings"
)

// DictMode controls what happens when a key exists on both sides.
type DictMode int

const (
	// DictReplace lets the newer value win.
	DictReplace DictMode = iota
	// DictNoReplace keeps the existing value.
	DictNoReplace
)

// ListMode controls how two lists combine.
type ListMode int

const (
	// ListReplace lets the newer list win.
	ListReplace ListMode = iota
	// ListAppend adds the newer items after the existing ones.
	ListAppend
	// ListPrepend adds the newer items before the existing ones.
	ListPrepend
)

// StrMode controls how two strings combine.
type StrMode int

const (
	// StrReplace lets the newer string win.
	StrReplace StrMode = iota
	// StrAppend concatenates the strings.
	StrAppend
)

// MergeHow describes how a newer Config is layered over an older one.
// The zero value replaces everything, recursing only into mappings.
type MergeHow struct {
	Dict        DictMode
	List        ListMode
	Str         StrMode
	RecurseList bool
}

// ParseMergeHow parses a merge_how string such as
// "dict(no_replace,recurse_list)+list(append)+str()".
func ParseMergeHow(s string) (MergeHow, error) {
	var how MergeHow
	s = strings.TrimSpace(s)
	if s == "" {
		return how, nil
	}

	for _, term := range strings.Split(s, "+") {
		term = strings.TrimSpace(term)
		name, args, err := splitTerm(term)
		if err != nil {
			return MergeHow{}, err
		}

		for _, arg := range args {
			switch {
			case name == "dict" && arg == "replace":
				how.Dict = DictReplace
			case name == "dict" && arg == "no_replace":
				how.Dict = DictNoReplace
			case (name == "dict" || name == "list") && (arg == "recurse_list" || arg == "recurse_array"):
				how.RecurseList = true
			case name == "list" && arg == "append":
				how.List = ListAppend
			case name == "list" && arg == "prepend":
				how.List = ListPrepend
			case name == "list" && arg == "replace":
				how.List = ListReplace
			case name == "str" && arg == "append":
				how.Str = StrAppend
			case name == "str" && arg == "replace":
				how.Str = StrReplace
			case arg == "recurse_dict", arg == "recurse_str", arg == "no_replace" && name == "list":
				// Accepted for compatibility; mappings always recurse.
			default:
				return MergeHow{}, fmt.Errorf("unknown merge option %q for %s", arg, name)
			}
		}
	}

	return how, nil
}

func splitTerm(term string) (string, []string, error) {
	open := strings.IndexByte(term, '(')
	if open < 0 {
		name := term
		if !knownMerger(name) {
			return "", nil, fmt.Errorf("unknown merger %q", name)
		}
		return name, nil, nil
	}
	if !strings.HasSuffix(term, ")") {
		return "", nil, fmt.Errorf("malformed merger %q", term)
	}

	name := strings.TrimSpace(term[:open])
	if !knownMerger(name) {
		return "", nil, fmt.Errorf("unknown merger %q", name)
	}

	var args []string
	for _, a := range strings.Split(term[open+1:len(term)-1], ",") {
		if a = strings.TrimSpace(a); a != "" {
			args = append(args, a)
		}
	}
	return name, args, nil
}

func knownMerger(name string) bool {
	return name == "dict" || name == "list" || name == "str"
}

// Merge layers src over dst and returns a new Config. Neither input is
// modified.
func Merge(dst, src Config, how MergeHow) Config {
	return merge(dst, src, how, 0)
}

func merge(dst, src Config, how MergeHow, depth int) Config {
	out := dst.Clone()
	for k, v := range src {
		existing, ok := out[k]
		if !ok {
			out[k] = deepCopy(v)
			continue
		}
		out[k] = mergeValue(existing, v, how, depth)
	}
	return out
}

// MergeAll merges configs left to right; later configs win.
func MergeAll(cfgs ...Config) Config {
	out := Config{}
	for _, c := range cfgs {
		out = Merge(out, c, MergeHow{})
	}
	return out
}

// mergeValue combines two values found under the same key. Lists nested
// below the top level only follow the list mode with RecurseList.
func mergeValue(prev, next any, how MergeHow, depth int) any {
	prevMap, prevIsMap := asMap(prev)
	nextMap, nextIsMap := asMap(next)
	if prevIsMap && nextIsMap {
		return map[string]any(merge(Config(prevMap), Config(nextMap), how, depth+1))
	}

	prevList, prevIsList := prev.([]any)
	nextList, nextIsList := next.([]any)
	if prevIsList && nextIsList && (depth == 0 || how.RecurseList) {
		switch how.List {
		case ListAppend:
			return append(deepCopy(prevList).([]any), deepCopy(nextList).([]any)...)
		case ListPrepend:
			return append(deepCopy(nextList).([]any), deepCopy(prevList).([]any)...)
		}
	}

	prevStr, prevIsStr := prev.(string)
	nextStr, nextIsStr := next.(string)
	if prevIsStr && nextIsStr && how.Str == StrAppend {
		return prevStr + nextStr
	}

	if how.Dict == DictNoReplace {
		return prev
	}
	return deepCopy(next)
}
