package errors

import (
	stderrors "errors"

	"github.com/filebase-dev/filebase/pkg/discovery"
	"github.com/filebase-dev/filebase/pkg/server"
)

var kindCodes = map[discovery.Kind]string{
	discovery.KindLoad:            "F001",
	discovery.KindDirective:       "F002",
	discovery.KindSignature:       "F003",
	discovery.KindUnsupportedType: "F004",
	discovery.KindReservedName:    "F005",
	discovery.KindDefault:         "F006",
	discovery.KindUnregistered:    "F007",
	discovery.KindAmbiguous:       "F008",
	discovery.KindPathSegment:     "F009",
	discovery.KindDuplicatePath:   "F010",
}

// FromDiscovery converts every discovery failure in err into a located
// diagnostic. It returns nil when err holds no discovery failure.
func FromDiscovery(err error) []*Diagnostic {
	var list discovery.Errors
	if !stderrors.As(err, &list) {
		var single *discovery.Error
		if !stderrors.As(err, &single) {
			return nil
		}
		list = discovery.Errors{single}
	}

	out := make([]*Diagnostic, 0, len(list))
	for _, e := range list {
		code, ok := kindCodes[e.Kind]
		if !ok {
			code = "F001"
		}
		d := New(code)
		if e.Err != nil {
			d.Wrap(e.Err)
		} else {
			d.Wrapped = e
		}
		if e.Func != "" && d.Detail != "" {
			d.Detail = e.Func + ": " + d.Detail
		}
		if e.File != "" {
			d.WithLocation(e.File, e.Line, e.Column)
		}
		out = append(out, d)
	}
	return out
}

// Convert turns any error into diagnostics. Discovery failures produce
// one diagnostic each; known server errors get their codes; anything
// else becomes an uncoded CLI diagnostic.
func Convert(err error) []*Diagnostic {
	if err == nil {
		return nil
	}
	var d *Diagnostic
	if stderrors.As(err, &d) {
		return []*Diagnostic{d}
	}
	if ds := FromDiscovery(err); len(ds) > 0 {
		return ds
	}
	switch {
	case stderrors.Is(err, server.ErrAlreadyStarted):
		return []*Diagnostic{New("F201").Wrap(err)}
	case stderrors.Is(err, server.ErrInvalidConfig):
		return []*Diagnostic{New("F101").Wrap(err)}
	case stderrors.Is(err, server.ErrListen):
		return []*Diagnostic{New("F200").Wrap(err)}
	case stderrors.Is(err, server.ErrShutdownTimeout):
		return []*Diagnostic{New("F202").Wrap(err)}
	}
	return []*Diagnostic{{Category: CategoryCLI, Message: err.Error(), Wrapped: err}}
}
