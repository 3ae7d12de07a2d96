package corpus

import (
	"context"
	"fmt"
)

type TextNormalizer interface {
	Normalize(ctx context.Context, text string, locale string) (string, error)
}

// NormalizeAll returns a copy of recs with every Text passed through n.
// The first failure aborts the whole pass.
func NormalizeAll(ctx context.Context, recs []ValidatedRecord, n TextNormalizer, locale string) ([]ValidatedRecord, error) {
	out := make([]ValidatedRecord, len(recs))
	for i, r := range recs {
		text, err := n.Normalize(ctx, r.Text, locale)
		if err != nil {
			return nil, fmt.Errorf("normalizing line %d (%s): %w: %w", r.Line, r.ID, ErrNormalization, err)
		}
		r.Text = text
		out[i] = r
	}
	return out, nil
}
