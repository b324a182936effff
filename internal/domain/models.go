package domain

import "strings"

// ImageModel describes one synchronous or asynchronous image provider model.
type ImageModel struct {
	ID           string
	Name         string
	MaxImages    int
	AspectRatios []string
	Resolutions  []string
}

// VideoOption is one selectable duration/quality pair for a video model.
type VideoOption struct {
	Seconds int
	Quality string
}

// VideoModel describes one asynchronous video provider model.
type VideoModel struct {
	ID           string
	Name         string
	AspectRatios []string
	Options      []VideoOption
}

// OmniImageModelID is the one image model served by the asynchronous
// task-plus-polling omni endpoint instead of a same-call response.
const OmniImageModelID = "kling-image-o1"

var (
	extendedRatios = []string{"1:1", "2:3", "3:2", "3:4", "4:3", "4:5", "5:4", "9:16", "16:9", "21:9"}
	gpt1Ratios     = []string{"1:1", "2:3", "3:2"}
	gpt15Ratios    = []string{"1:1", "2:3", "3:2", "9:16", "16:9"}
	grokRatios     = []string{"1:1", "3:4", "4:3", "9:16", "16:9"}
	klingO1Ratios  = []string{"1:1", "2:3", "3:2", "3:4", "4:3", "9:16", "16:9", "21:9"}
	jimengRatios   = []string{"1:1", "3:4", "4:3", "9:16", "16:9", "21:9"}
	wideRatios     = []string{"9:16", "16:9"}
)

// ImageModels is the supported image model catalog.
var ImageModels = []ImageModel{
	{ID: "gemini-2.5-flash-image", Name: "NANO BANANA", MaxImages: 4, AspectRatios: extendedRatios, Resolutions: []string{"AUTO"}},
	{ID: "gemini-3-pro-image-preview", Name: "Nano Banana Pro", MaxImages: 8, AspectRatios: extendedRatios, Resolutions: []string{"1K", "2K", "4K"}},
	{ID: OmniImageModelID, Name: "Kling Image O1", MaxImages: 4, AspectRatios: klingO1Ratios, Resolutions: []string{"1K", "2K"}},
	{ID: "gpt-image-1-all", Name: "GPT Image 1", MaxImages: 4, AspectRatios: gpt1Ratios, Resolutions: []string{"AUTO"}},
	{ID: "gpt-image-1.5-all", Name: "GPT Image 1.5", MaxImages: 4, AspectRatios: gpt15Ratios, Resolutions: []string{"AUTO"}},
	{ID: "grok-4-image", Name: "Grok 4 Image", MaxImages: 4, AspectRatios: grokRatios, Resolutions: []string{"AUTO"}},
	{ID: "jimeng-4.5", Name: "Jimeng 4.5", MaxImages: 8, AspectRatios: extendedRatios, Resolutions: []string{"2K", "4K"}},
}

// VideoModels is the supported video model catalog.
var VideoModels = []VideoModel{
	{ID: "sora-2", Name: "Sora 2", AspectRatios: wideRatios, Options: []VideoOption{{Seconds: 10, Quality: "sd"}, {Seconds: 15, Quality: "sd"}}},
	{ID: "sora-2-pro", Name: "Sora 2 Pro", AspectRatios: wideRatios, Options: []VideoOption{{Seconds: 15, Quality: "hd"}, {Seconds: 25, Quality: "sd"}}},
	{ID: "veo_3_1-fast", Name: "VEO 3.1 FAST", AspectRatios: wideRatios, Options: []VideoOption{{Seconds: 8, Quality: "sd"}}},
	{ID: "veo3.1-pro", Name: "VEO 3.1 PRO", AspectRatios: wideRatios, Options: []VideoOption{{Seconds: 8, Quality: "hd"}}},
	{ID: "jimeng-video-3.0", Name: "Jimeng Video 3.0", AspectRatios: jimengRatios, Options: []VideoOption{{Seconds: 5, Quality: "sd"}, {Seconds: 10, Quality: "sd"}}},
	{ID: "grok-video-3", Name: "Grok Video 3", AspectRatios: []string{"9:16", "16:9", "2:3", "3:2", "1:1"}, Options: []VideoOption{{Seconds: 6, Quality: "sd"}}},
}

// ImageModelByID looks up an image model from the catalog.
func ImageModelByID(id string) (ImageModel, bool) {
	for _, m := range ImageModels {
		if m.ID == id {
			return m, true
		}
	}
	return ImageModel{}, false
}

// VideoModelByID looks up a video model from the catalog.
func VideoModelByID(id string) (VideoModel, bool) {
	for _, m := range VideoModels {
		if m.ID == id {
			return m, true
		}
	}
	return VideoModel{}, false
}

// MaxReferenceImages returns how many reference images the given model accepts.
func MaxReferenceImages(kind AssetKind, modelID string) int {
	if kind == AssetKindImage {
		if m, ok := ImageModelByID(modelID); ok {
			return m.MaxImages
		}
		return 4
	}
	if strings.HasPrefix(modelID, "veo") || strings.HasPrefix(modelID, "grok") {
		return 2
	}
	return 1
}
