package discovery

import (
	"context"

	"github.com/blkluv/photo-booth-sogni-sub001/pkg/models"
)

// Discoverer finds the images a batch should process. Implementations
// decide where images come from; the pipeline only sees handles.
type Discoverer interface {
	Discover(ctx context.Context) ([]models.ImageHandle, error)
}
