package service

import (
	"math"
	"time"

	"github.com/cloo-solutions/mnemo/internal/domain"
)

// DecayFactor is 1 for durable chunks (non-volatile, no validUntil) and
// exp(-lambda * ageDays) otherwise. Callers must exclude expired chunks first.
func DecayFactor(chunk *domain.Chunk, asOf time.Time, lambda float64) float64 {
	if !chunk.Volatile && chunk.ValidUntil == nil {
		return 1
	}
	ageDays := asOf.Sub(chunk.CreatedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-lambda * ageDays)
}
