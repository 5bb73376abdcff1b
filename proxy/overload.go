package proxy

import (
	"strings"

	"github.com/caffeineduck/pyhost/convert"
	berrors "github.com/caffeineduck/pyhost/errors"
	"github.com/caffeineduck/pyhost/wire"
)

// Group is an insertion-ordered set of methods sharing a name.
type Group struct {
	Name    string
	Methods []*Method
}

// Choice is the outcome of resolving a call against a group.
type Choice struct {
	Method *Method
	Scores []int
	Spread bool
}

// Resolve scores every member against args and returns the strictly best
// one. Equal best scores are ambiguous; no positive score is no match; no
// member accepting len(args) is wrong arity.
func (g *Group) Resolve(conv *convert.Converter, args []wire.Value) (Choice, error) {
	var (
		best      Choice
		ambiguous []*Method
		arityOK   bool
	)
	for _, m := range g.Methods {
		scores, spread, ok := m.match(conv, args)
		if !ok {
			continue
		}
		arityOK = true
		if convert.Aggregate(scores) == 0 {
			continue
		}
		if best.Method == nil {
			best = Choice{Method: m, Scores: scores, Spread: spread}
			continue
		}
		switch c := convert.Compare(scores, best.Scores); {
		case c > 0:
			best = Choice{Method: m, Scores: scores, Spread: spread}
			ambiguous = ambiguous[:0]
		case c == 0:
			if len(ambiguous) == 0 {
				ambiguous = append(ambiguous, best.Method)
			}
			ambiguous = append(ambiguous, m)
		}
	}

	switch {
	case !arityOK:
		return Choice{}, berrors.New(berrors.PhaseDispatch, berrors.KindWrongArity).
			Path(g.Name).
			Detail("no overload of %s takes %d arguments; candidates: %s", g.Name, len(args), g.signatures(g.Methods)).
			Build()
	case best.Method == nil:
		return Choice{}, berrors.New(berrors.PhaseDispatch, berrors.KindNoMatch).
			Path(g.Name).
			Detail("no overload of %s accepts (%s); candidates: %s", g.Name, argTypes(args), g.signatures(g.Methods)).
			Build()
	case len(ambiguous) > 0:
		return Choice{}, berrors.New(berrors.PhaseDispatch, berrors.KindAmbiguous).
			Path(g.Name).
			Detail("call %s(%s) matches %s equally well", g.Name, argTypes(args), g.signatures(ambiguous)).
			Build()
	}
	return best, nil
}

func (g *Group) signatures(ms []*Method) string {
	s := make([]string, len(ms))
	for i, m := range ms {
		s[i] = m.String()
	}
	return strings.Join(s, ", ")
}

func argTypes(args []wire.Value) string {
	s := make([]string, len(args))
	for i, a := range args {
		s[i] = a.TypeName()
	}
	return strings.Join(s, ", ")
}
