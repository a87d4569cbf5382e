package discovery

import (
	"errors"
	"fmt"
	"time"

	"github.com/filebase-dev/filebase/pkg/remote"
	"github.com/filebase-dev/filebase/pkg/route"
)

// Build scans the root and pairs every tagged function with its registered
// callable. It returns a complete table or Errors; a partial table is never
// produced.
func (s *Scanner) Build() (*route.Table, error) {
	start := time.Now()

	decls, err := s.Scan()
	if err != nil {
		return nil, err
	}

	var (
		descs []*route.Descriptor
		errs  Errors
	)
	for _, d := range decls {
		fail := func(kind Kind, err error) {
			errs = append(errs, &Error{
				Kind: kind, File: d.File, Line: d.Line, Column: d.Column, Func: d.Name, Path: d.Path, Err: err,
			})
		}

		fn, err := s.registry.Lookup(d.File, d.Rel, d.Name)
		switch {
		case errors.Is(err, remote.ErrAmbiguous):
			fail(KindAmbiguous, err)
			continue
		case err != nil:
			fail(KindUnregistered, fmt.Errorf("%w; register it with filebase.Remote(%s) from an init function", err, d.Name))
			continue
		}
		if err := fn.Check(d.Params); err != nil {
			fail(KindSignature, err)
			continue
		}

		descs = append(descs, &route.Descriptor{
			Path:    d.Path,
			Name:    d.Name,
			Source:  d.Source(),
			Context: d.Context,
			Params:  d.Params,
			Invoke:  fn.Invoker(),
		})
	}
	if len(errs) > 0 {
		errs.sort()
		return nil, errs
	}

	table, err := route.NewTable(descs)
	if err != nil {
		return nil, Errors{{Kind: KindDuplicatePath, File: s.root, Err: err}}
	}

	s.logger.Info("routes discovered",
		"root", s.root,
		"routes", table.Len(),
		"duration", time.Since(start),
	)
	return table, nil
}
