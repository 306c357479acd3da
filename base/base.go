package base

import "go.uber.org/zap"

// Signal is a single output line of a peripheral model, e.g. busy or done.
// The model only drives the line; routing it to an interrupt controller or
// mirroring it into a status register is the job of the surrounding glue.
type Signal func(level bool)

// Peripheral is the control surface shared by register-mapped device models.
type Peripheral interface {
	Reset()
	SetLogger(logger *zap.SugaredLogger)
}
