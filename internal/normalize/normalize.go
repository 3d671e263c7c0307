// Package normalize turns raw street addresses into a provider-standardized form.
//
// Normalization is best effort: any provider failure degrades to the raw input
// marked as not validated, so later stages can still try to match it.
package normalize

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/shpitdev/home-equity-pipeline/pkg/pipeline/redact"
	"github.com/shpitdev/home-equity-pipeline/pkg/pipeline/retry"
)

// ErrNoMatch is returned by a Validator when the provider answered but could not
// produce a complete, unambiguous address.
var ErrNoMatch = errors.New("address not validated")

// Validator calls one address-validation backend once.
type Validator interface {
	Validate(ctx context.Context, address string) (string, error)
}

// Address is the normalizer's output.
type Address struct {
	Canonical string
	Validated bool
}

type Normalizer struct {
	validator Validator
	exec      *retry.Executor
	logger    *zap.Logger
}

// New returns a Normalizer. A nil validator disables normalization and every address
// passes through unvalidated.
func New(v Validator, exec *retry.Executor, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if exec == nil {
		exec = retry.New(nil, retry.Policy{})
	}
	return &Normalizer{validator: v, exec: exec, logger: logger}
}

// Normalize never fails. On any validator error the raw address comes back unchanged
// with Validated=false.
func (n *Normalizer) Normalize(ctx context.Context, raw string) Address {
	fallback := Address{Canonical: raw}
	query := CollapseSpace(raw)
	if n == nil || n.validator == nil || query == "" {
		return fallback
	}

	canonical, err := retry.Do(ctx, n.exec, "validate_address", func(ctx context.Context) (string, error) {
		return n.validator.Validate(ctx, query)
	})
	if err != nil {
		n.logger.Debug("address validation fell back to raw input",
			zap.String("address", query),
			zap.Int("status", retry.StatusOf(err)),
			zap.String("error", redact.Secrets(err.Error())),
		)
		return fallback
	}
	canonical = CollapseSpace(canonical)
	if canonical == "" {
		return fallback
	}
	return Address{Canonical: canonical, Validated: true}
}

// CollapseSpace trims s and folds every run of whitespace into a single space.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
