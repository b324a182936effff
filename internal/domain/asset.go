package domain

import (
	"encoding/base64"
	"strings"
	"time"
)

// AssetKind enumerates generation categories.
type AssetKind string

const (
	AssetKindImage AssetKind = "image"
	AssetKindVideo AssetKind = "video"
)

// AssetStatus enumerates asset lifecycle states. Status only moves forward:
// loading -> queued -> processing -> completed|failed, and never leaves a
// terminal state.
type AssetStatus string

const (
	StatusLoading    AssetStatus = "loading"
	StatusQueued     AssetStatus = "queued"
	StatusProcessing AssetStatus = "processing"
	StatusCompleted  AssetStatus = "completed"
	StatusFailed     AssetStatus = "failed"
)

// Terminal reports whether no further transition can occur.
func (s AssetStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// InFlight reports whether the asset has an accepted task awaiting completion.
func (s AssetStatus) InFlight() bool {
	return s == StatusQueued || s == StatusProcessing
}

// ReferenceImage is one input image for a generation request, either inline
// bytes with a MIME type or a remote URL.
type ReferenceImage struct {
	Data []byte `json:"data,omitempty"`
	MIME string `json:"mime,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Source renders the image the way provider payloads expect it: the remote URL
// when present, otherwise a data URI built from the inline bytes.
func (r ReferenceImage) Source() string {
	if u := strings.TrimSpace(r.URL); u != "" {
		return u
	}
	if len(r.Data) == 0 {
		return ""
	}
	mime := r.MIME
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(r.Data)
}

// GenerationConfig is the immutable snapshot of submission parameters taken at
// placeholder creation. It is sufficient to resubmit the job identically.
type GenerationConfig struct {
	Kind            AssetKind        `json:"type"`
	ModelID         string           `json:"model_id"`
	Prompt          string           `json:"prompt"`
	AspectRatio     string           `json:"aspect_ratio"`
	ImageSize       string           `json:"image_size,omitempty"`
	OptionIndex     int              `json:"option_index,omitempty"`
	ReferenceImages []ReferenceImage `json:"reference_images,omitempty"`
}

// Asset is the authoritative record of one generation job and, eventually, its
// resulting media. It is created as a loading placeholder before any network
// call so a crash mid-submission still leaves a visible persisted record.
type Asset struct {
	ID           string           `json:"id"`
	Kind         AssetKind        `json:"type"`
	Status       AssetStatus      `json:"status"`
	Prompt       string           `json:"prompt"`
	ModelID      string           `json:"model_id"`
	ModelName    string           `json:"model_name"`
	TaskID       string           `json:"task_id,omitempty"`
	URL          string           `json:"url"`
	DurationText string           `json:"duration_text"`
	GenTimeLabel string           `json:"gen_time_label"`
	Timestamp    time.Time        `json:"timestamp"`
	Config       GenerationConfig `json:"config"`
}
