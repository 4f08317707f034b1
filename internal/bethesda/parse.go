package bethesda

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"time"

	"vcbot/internal/model"
)

// apiItem is the wire shape of one mod in a content page.
type apiItem struct {
	ContentID         string          `json:"content_id"`
	Product           string          `json:"product"`
	ProductTitle      string          `json:"product_title"`
	Title             string          `json:"title"`
	Overview          string          `json:"overview"`
	Description       string          `json:"description"`
	ContentType       string          `json:"content_type"`
	HardwarePlatforms []string        `json:"hardware_platforms"`
	Categories        []string        `json:"categories"`
	AuthorDisplayname string          `json:"author_displayname"`
	AuthorVerified    bool            `json:"author_verified"`
	AuthorOfficial    bool            `json:"author_official"`
	CTime             int64           `json:"ctime"`
	PTime             int64           `json:"ptime"`
	FirstPTime        int64           `json:"first_ptime"`
	UTime             int64           `json:"utime"`
	CatalogInfo       []catalogInfo   `json:"catalog_info"`
	PreviewImage      *apiImage       `json:"preview_image"`
	CoverImage        *apiImage       `json:"cover_image"`
	ScreenshotImages  []apiImage      `json:"screenshot_images"`
	ReleaseNotes      []releaseEntry  `json:"release_notes"`
}

type catalogInfo struct {
	Prices []apiPrice `json:"prices"`
}

type apiPrice struct {
	Amount   *float64 `json:"amount"`
	Currency string   `json:"currency"`
}

type apiImage struct {
	URL      string `json:"url"`
	URI      string `json:"uri"`
	Path     string `json:"path"`
	Link     string `json:"link"`
	S3Bucket string `json:"s3bucket"`
	S3Key    string `json:"s3key"`
}

type releaseEntry struct {
	HardwarePlatform string        `json:"hardware_platform"`
	ReleaseNotes     []releaseNote `json:"release_notes"`
}

type releaseNote struct {
	VersionName string `json:"version_name"`
	Note        string `json:"note"`
	Published   *bool  `json:"published"`
	UTime       int64  `json:"utime"`
}

// parsePage decodes a content payload into domain mods, keeping the feed's
// order. Items arrive either bare or wrapped in a {"data": {...}} envelope.
func parsePage(body []byte, modURLTemplate string) ([]model.Mod, error) {
	var payload struct {
		Platform struct {
			Response struct {
				Data []json.RawMessage `json:"data"`
			} `json:"response"`
		} `json:"platform"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	mods := make([]model.Mod, 0, len(payload.Platform.Response.Data))
	for _, raw := range payload.Platform.Response.Data {
		var envelope struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Data) > 0 && envelope.Data[0] == '{' {
			raw = envelope.Data
		}
		var item apiItem
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("decode item: %w", err)
		}
		mods = append(mods, parseMod(item, modURLTemplate))
	}
	return mods, nil
}

func parseMod(item apiItem, modURLTemplate string) model.Mod {
	overview := item.Overview
	description := item.Description
	// The feed frequently omits one of the two; mirror whichever is present.
	if description == "" {
		description = overview
	}
	if overview == "" {
		overview = description
	}

	return model.Mod{
		ID:               item.ContentID,
		Product:          item.Product,
		ProductTitle:     html.UnescapeString(item.ProductTitle),
		Title:            html.UnescapeString(item.Title),
		Summary:          html.UnescapeString(overview),
		Description:      html.UnescapeString(description),
		ContentType:      item.ContentType,
		AuthorName:       html.UnescapeString(item.AuthorDisplayname),
		AuthorVerified:   item.AuthorVerified,
		AuthorOfficial:   item.AuthorOfficial,
		Platforms:        item.HardwarePlatforms,
		Categories:       item.Categories,
		Prices:           parsePrices(item.CatalogInfo),
		Version:          latestVersion(item.ReleaseNotes),
		PreviewImageURL:  imageURL(item.PreviewImage),
		CoverImageURL:    imageURL(item.CoverImage),
		ScreenshotURLs:   screenshotURLs(item.ScreenshotImages),
		DetailsURL:       detailsURL(item.ContentID, item.Product, modURLTemplate),
		CreatedAt:        fromEpoch(item.CTime),
		PublishedAt:      fromEpoch(item.PTime),
		FirstPublishedAt: fromEpoch(item.FirstPTime),
		UpdatedAt:        fromEpoch(item.UTime),
	}
}

func parsePrices(catalogs []catalogInfo) []model.Price {
	var prices []model.Price
	for _, catalog := range catalogs {
		for _, p := range catalog.Prices {
			if p.Amount == nil {
				continue
			}
			prices = append(prices, model.Price{Amount: *p.Amount, Currency: p.Currency})
		}
	}
	return prices
}

// latestVersion picks the version name of the most recently updated published
// release note across all platforms.
func latestVersion(entries []releaseEntry) string {
	var latest *releaseNote
	for i := range entries {
		for j := range entries[i].ReleaseNotes {
			note := &entries[i].ReleaseNotes[j]
			if note.Published != nil && !*note.Published {
				continue
			}
			if latest == nil || note.UTime > latest.UTime {
				latest = note
			}
		}
	}
	if latest == nil {
		return ""
	}
	return latest.VersionName
}

func screenshotURLs(images []apiImage) []string {
	var urls []string
	for i := range images {
		if u := imageURL(&images[i]); u != "" && !contains(urls, u) {
			urls = append(urls, u)
		}
	}
	return urls
}

func imageURL(img *apiImage) string {
	if img == nil {
		return ""
	}
	for _, candidate := range []string{img.URL, img.URI, img.Path, img.Link} {
		if candidate != "" {
			return candidate
		}
	}
	if img.S3Bucket != "" && img.S3Key != "" {
		return s3ImageURL(img.S3Bucket, img.S3Key)
	}
	return ""
}

// s3ImageURL builds the CDN resizer URL for an image stored by bucket/key.
// The resizer expects a base64-encoded JSON request as the path segment.
func s3ImageURL(bucket, key string) string {
	payload := fmt.Sprintf(
		`{"bucket":%q,"key":%q,"edits":{"resize":{}},"outputFormat":"webp"}`,
		bucket, key,
	)
	token := base64.StdEncoding.EncodeToString([]byte(payload))
	return "https://ugcmods.bethesda.net/image/" + token
}

func detailsURL(modID, product, template string) string {
	if modID == "" || product == "" {
		return ""
	}
	if template != "" {
		url := strings.ReplaceAll(template, "{content_id}", modID)
		return strings.ReplaceAll(url, "{product}", strings.ToLower(product))
	}
	return fmt.Sprintf("https://creations.bethesda.net/en/%s/details/%s", strings.ToLower(product), modID)
}

func fromEpoch(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0).UTC()
}

func contains(items []string, v string) bool {
	for _, item := range items {
		if item == v {
			return true
		}
	}
	return false
}
