package ir

import (
	"fmt"

	"github.com/mitchellh/hashstructure"
)

// PlanHash computes the version hash of a compiled artifact. Two
// compilations of the same program produce the same hash, which the
// runtime logs and the CLI prints so shipped plans can be correlated.
func PlanHash(v any) (string, error) {
	h, err := hashstructure.Hash(struct {
		Version string
		Plan    any
	}{IRVersion, v}, nil)
	if err != nil {
		return "", fmt.Errorf("PlanHash: %w", err)
	}
	return fmt.Sprintf("%016x", h), nil
}
