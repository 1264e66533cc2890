package browser

import "github.com/subterminator/agents/pkg/errs"

func errElementNotFound(target string) error {
	return errs.New(errs.KindElementNotFound, "no element matched %s", target)
}

func errNegativeCoordinates(x, y float64) error {
	return errs.New(errs.KindInputValidation, "coordinates must be non-negative, got (%g, %g)", x, y)
}
