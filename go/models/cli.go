package models

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

// PrintFlags prints a usage table. Flags sharing a Usage string (short and
// long spellings of one option) are listed together as "-d, --debug".
func PrintFlags(w io.Writer, flags []*flag.Flag) {
	type row struct {
		names string
		def   string
		usage string
	}
	var rows []*row
	byUsage := make(map[string]*row)
	for _, f := range flags {
		name := "-" + f.Name
		if len(f.Name) > 1 {
			name = "--" + f.Name
		}
		if r, ok := byUsage[f.Usage]; ok {
			if len(f.Name) > 1 {
				r.names += ", " + name
			} else {
				r.names = name + ", " + r.names
			}
			continue
		}
		def := ""
		if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "[]" {
			def = "(" + f.DefValue + ")"
		}
		r := &row{names: name, def: def, usage: f.Usage}
		byUsage[f.Usage] = r
		rows = append(rows, r)
	}
	wname, wdef := 0, 0
	for _, r := range rows {
		if len(r.names) > wname {
			wname = len(r.names)
		}
		if len(r.def) > wdef {
			wdef = len(r.def)
		}
	}
	wdesc := 80 - wname - wdef - 6
	if wdesc < 20 {
		wdesc = 20
	}
	lpad := strings.Repeat(" ", wname+wdef+6)
	for _, r := range rows {
		fmt.Fprintf(w, "  %-*s  %-*s  ", wname, r.names, wdef, r.def)
		usage := r.usage
		for first := true; usage != "" || first; first = false {
			if !first {
				fmt.Fprint(w, lpad)
			}
			l := len(usage)
			skip := 0
			if l > wdesc {
				l = wdesc
				if s := strings.LastIndexAny(usage[:l], " \n"); s > 0 {
					l, skip = s, 1
				}
			}
			fmt.Fprintf(w, "%s\n", usage[:l])
			usage = usage[l+skip:]
		}
	}
}
