package domain

import (
	"errors"
	"fmt"
)

// Taxonomia de errores del nucleo. Cada fallo llega al caller con su kind
// intacto para que la capa de presentacion elija status sin leer mensajes.
var (
	ErrValidation      = errors.New("validation error")
	ErrNotFound        = errors.New("conversation not found")
	ErrStorage         = errors.New("storage error")
	ErrGeneration      = errors.New("generation error")
	ErrProviderTimeout = errors.New("provider timeout")
	ErrStream          = errors.New("stream error")
)

// PersistError indica que la generacion tuvo exito pero persistir el turno
// fallo. Lleva el texto ya generado para que el caller no lo pierda; la
// conversacion queda consistente, simplemente sin ese turno.
type PersistError struct {
	Text string
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist turn after successful generation: %v", e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }
