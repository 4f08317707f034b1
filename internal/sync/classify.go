package sync

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"vcbot/internal/model"
)

// Classify compares a fetched mod against its tracked record. A mod never
// seen before is a creation; a known mod is an update when its update time or
// rendered content changed, otherwise unchanged.
func Classify(mod model.Mod, previous *model.Record) model.Event {
	if previous == nil {
		return model.Event{Kind: model.KindCreation, Mod: mod}
	}
	if !mod.UpdatedAt.Equal(previous.Mod.UpdatedAt) || ContentHash(mod) != previous.ContentHash {
		return model.Event{Kind: model.KindUpdate, Mod: mod, Previous: previous}
	}
	return model.Event{Kind: model.KindUnchanged, Mod: mod, Previous: previous}
}

// ContentHash digests the fields that end up in a rendered post. Timestamps
// and other volatile feed fields are left out so that a feed re-serving the
// same item does not register as an update.
func ContentHash(mod model.Mod) string {
	payload := struct {
		Title           string        `json:"title"`
		Summary         string        `json:"summary"`
		Description     string        `json:"description"`
		ContentType     string        `json:"content_type"`
		AuthorName      string        `json:"author_name"`
		AuthorVerified  bool          `json:"author_verified"`
		AuthorOfficial  bool          `json:"author_official"`
		Platforms       []string      `json:"platforms"`
		Categories      []string      `json:"categories"`
		Prices          []model.Price `json:"prices"`
		Version         string        `json:"version"`
		PreviewImageURL string        `json:"preview_image_url"`
		CoverImageURL   string        `json:"cover_image_url"`
		ScreenshotURLs  []string      `json:"screenshot_urls"`
		DetailsURL      string        `json:"details_url"`
	}{
		Title:           mod.Title,
		Summary:         mod.Summary,
		Description:     mod.Description,
		ContentType:     mod.ContentType,
		AuthorName:      mod.AuthorName,
		AuthorVerified:  mod.AuthorVerified,
		AuthorOfficial:  mod.AuthorOfficial,
		Platforms:       mod.Platforms,
		Categories:      mod.Categories,
		Prices:          mod.Prices,
		Version:         mod.Version,
		PreviewImageURL: mod.PreviewImageURL,
		CoverImageURL:   mod.CoverImageURL,
		ScreenshotURLs:  mod.ScreenshotURLs,
		DetailsURL:      mod.DetailsURL,
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		// Marshalling a struct of strings, bools and slices cannot fail.
		panic(err)
	}
	return fmt.Sprintf("%x", sha256.Sum256(raw))
}
