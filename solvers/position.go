package solvers

import (
	"github.com/bob-anderson-ok/ptycho/field"
	"github.com/bob-anderson-ok/ptycho/operators"
)

// UpdatePositions is the scan position correction subproblem. It is
// intentionally disabled in this solver generation and is never invoked
// by Divided: the scan positions are returned unchanged. Callers must
// not assume positions are refined.
func UpdatePositions(
	op *operators.Ptycho,
	data *field.Intensity,
	psi *field.Object,
	probe *field.Probe,
	scan *field.Scan,
) (*field.Scan, error) {
	return scan, nil
}
