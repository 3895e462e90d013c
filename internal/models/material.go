package models

import (
	"time"
)

// Material representa una materia prima del catálogo (tabla materials).
// La unidad de medida es opaca para el ledger: nunca se convierte.
type Material struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Unit      string    `json:"unit" db:"unit"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
