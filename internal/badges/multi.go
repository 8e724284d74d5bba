package badges

import (
	"context"
	"errors"
)

// MultiIssuer notifies every issuer in order and joins their errors.
type MultiIssuer []Issuer

// Notify implements Issuer.
func (m MultiIssuer) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, is := range m {
		if err := is.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
