package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/maruel/natural"
	"github.com/muesli/termenv"
	"go.starlark.net/starlark"

	"github.com/robbyt/go-aeval"
)

// printer writes results and traces, colored when the output allows it.
type printer struct {
	out    *termenv.Output
	errOut *termenv.Output
	asJSON bool
}

func newPrinter(stdout, stderr io.Writer, color, asJSON bool) *printer {
	profile := termenv.Ascii
	if color {
		profile = termenv.ANSI256
	}
	return &printer{
		out:    termenv.NewOutput(stdout, termenv.WithProfile(profile)),
		errOut: termenv.NewOutput(stderr, termenv.WithProfile(profile)),
		asJSON: asJSON,
	}
}

// result prints v. EmptyResult prints nothing, and so does None unless the
// output is JSON.
func (p *printer) result(v starlark.Value) error {
	if v == nil || aeval.IsEmpty(v) {
		return nil
	}
	if v == starlark.None && !p.asJSON {
		return nil
	}
	if p.asJSON {
		g, err := aeval.ToGo(v)
		if err != nil {
			return err
		}
		b, err := json.Marshal(g)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(p.out, string(b))
		return err
	}
	styled := p.out.String(v.String()).Foreground(p.out.Color("2"))
	_, err := fmt.Fprintln(p.out, styled.String())
	return err
}

func (p *printer) trace(s string) {
	styled := p.errOut.String(s).Foreground(p.errOut.Color("1"))
	fmt.Fprintln(p.errOut, styled.String())
}

func (p *printer) info(s string) {
	styled := p.out.String(s).Faint()
	fmt.Fprintln(p.out, styled.String())
}

// variables prints the scope in natural name order.
func (p *printer) variables(vars starlark.StringDict) {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return natural.Less(names[i], names[j])
	})
	for _, name := range names {
		label := p.out.String(name).Bold()
		fmt.Fprintf(p.out, "%s = %s\n", label.String(), vars[name].String())
	}
}
