package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/blkluv/photo-booth-sogni-sub001/pkg/logging"
	"github.com/blkluv/photo-booth-sogni-sub001/pkg/models"
)

// manifestFile is the on-disk shape of a batch manifest
type manifestFile struct {
	Style  models.StyleParams `json:"style"`
	Images []manifestEntry    `json:"images"`
}

type manifestEntry struct {
	URL       string `json:"url"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	Converted bool   `json:"converted,omitempty"` // already processed in an earlier run
}

// ManifestDiscoverer reads a JSON manifest of image URLs. Entries marked
// converted are skipped so a re-run only picks up remaining work.
type ManifestDiscoverer struct {
	path   string
	logger *logging.Logger

	style models.StyleParams
}

// NewManifestDiscoverer creates a discoverer for one manifest file
func NewManifestDiscoverer(path string, logger *logging.Logger) *ManifestDiscoverer {
	return &ManifestDiscoverer{
		path:   path,
		logger: logger,
	}
}

// Discover loads the manifest and returns the pending image handles
func (d *ManifestDiscoverer) Discover(ctx context.Context) ([]models.ImageHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(d.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var mf manifestFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	d.style = mf.Style

	var images []models.ImageHandle
	skipped := 0
	for i, entry := range mf.Images {
		if entry.URL == "" {
			return nil, fmt.Errorf("manifest entry %d has no url", i)
		}
		if entry.Converted {
			skipped++
			continue
		}
		images = append(images, models.ImageHandle{
			URL:    entry.URL,
			Width:  entry.Width,
			Height: entry.Height,
		})
	}

	d.logger.Info("Manifest loaded", map[string]interface{}{
		"path":    d.path,
		"pending": len(images),
		"skipped": skipped,
	})
	return images, nil
}

// Style returns the style parameters the manifest declared, valid after
// Discover has run. CLI flags override these.
func (d *ManifestDiscoverer) Style() models.StyleParams {
	return d.style
}
