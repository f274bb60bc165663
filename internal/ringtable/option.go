package ringtable

import "flock/internal/logger"

type Option func(*Table)

// WithLogger sets the logger used by the ring table.
func WithLogger(l logger.Logger) Option {
	return func(t *Table) {
		if l != nil {
			t.lgr = l
		}
	}
}
