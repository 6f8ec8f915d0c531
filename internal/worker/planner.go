package worker

import (
	"errors"
	"fmt"

	"github.com/ignite/ses-bulk-sender/internal/domain"
)

// ErrInvalidBatchSize is returned by Plan for a non-positive batch size.
var ErrInvalidBatchSize = domain.ErrInvalidBatchSize

// ErrNoRecipients is returned by Plan for an empty recipient list.
var ErrNoRecipients = errors.New("no recipients to plan")

// Plan splits recipients into consecutive batches of size, the last one
// possibly smaller. Batch k holds recipients [(k-1)*size, k*size). The
// returned batches share the backing array of recipients.
func Plan(recipients []string, size int) ([]domain.Batch, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBatchSize, size)
	}
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}

	batches := make([]domain.Batch, 0, (len(recipients)+size-1)/size)
	for i := 0; i < len(recipients); i += size {
		end := i + size
		if end > len(recipients) {
			end = len(recipients)
		}
		batches = append(batches, domain.Batch{
			Number:     len(batches) + 1,
			Recipients: recipients[i:end:end],
		})
	}
	return batches, nil
}
