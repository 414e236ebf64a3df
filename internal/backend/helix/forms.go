package helix

// forms.go renders p4 specification forms for submission with -i and
// extracts list fields from tagged output. Reads always go through -ztag,
// so only the write direction needs real form text.

import (
	"fmt"
	"strconv"
	"strings"
)

// formBuilder accumulates a p4 form. Single-value fields render as
// "Field:\tvalue"; list fields render the name alone followed by one
// tab-indented line per value, which is the layout every p4 spec command
// accepts on stdin.
type formBuilder struct {
	b strings.Builder
}

func (f *formBuilder) field(name, value string) {
	fmt.Fprintf(&f.b, "%s:\t%s\n", name, value)
}

func (f *formBuilder) listField(name string, values []string) {
	if len(values) == 0 {
		return
	}
	fmt.Fprintf(&f.b, "%s:\n", name)
	for _, v := range values {
		fmt.Fprintf(&f.b, "\t%s\n", v)
	}
}

func (f *formBuilder) String() string { return f.b.String() }

// numberedList collects prefix0, prefix1, ... from a tagged record, in
// index order, stopping at the first gap.
func numberedList(rec map[string]string, prefix string) []string {
	var out []string
	for i := 0; ; i++ {
		v, ok := rec[prefix+strconv.Itoa(i)]
		if !ok {
			return out
		}
		out = append(out, v)
	}
}
