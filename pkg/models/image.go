package models

// ImageHandle is an opaque reference to one source image. The URL is the
// stable identity and is usable as a map key; a handle is never mutated
// after it has been enqueued.
type ImageHandle struct {
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// StyleParams describes the style transfer requested for an image.
type StyleParams struct {
	StyleID  string  `json:"style_id"`
	Prompt   string  `json:"prompt,omitempty"`
	Strength float64 `json:"strength,omitempty"` // 0-1, 0 means server default
}

// Tally is the final outcome of a batch run.
type Tally struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}
