package bethesda

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vcbot/internal/model"
)

func TestImageURLFallbacks(t *testing.T) {
	tests := []struct {
		name string
		img  *apiImage
		want string
	}{
		{name: "nil image", img: nil, want: ""},
		{name: "direct url", img: &apiImage{URL: "https://img/a.webp", Path: "/p"}, want: "https://img/a.webp"},
		{name: "uri fallback", img: &apiImage{URI: "https://img/b.webp"}, want: "https://img/b.webp"},
		{name: "path fallback", img: &apiImage{Path: "https://img/c.webp"}, want: "https://img/c.webp"},
		{name: "link fallback", img: &apiImage{Link: "https://img/d.webp"}, want: "https://img/d.webp"},
		{name: "empty image", img: &apiImage{}, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, imageURL(tt.img))
		})
	}
}

func TestS3ImageURL(t *testing.T) {
	img := &apiImage{S3Bucket: "ugc-bucket", S3Key: "fallout4/abc/cover.png"}
	got := imageURL(img)

	require.True(t, strings.HasPrefix(got, "https://ugcmods.bethesda.net/image/"))

	token := strings.TrimPrefix(got, "https://ugcmods.bethesda.net/image/")
	decoded, err := base64.StdEncoding.DecodeString(token)
	require.NoError(t, err)
	assert.Contains(t, string(decoded), `"bucket":"ugc-bucket"`)
	assert.Contains(t, string(decoded), `"key":"fallout4/abc/cover.png"`)
	assert.Contains(t, string(decoded), `"outputFormat":"webp"`)
}

func TestScreenshotURLsDeduplicated(t *testing.T) {
	images := []apiImage{
		{URL: "https://img/a.webp"},
		{URL: "https://img/b.webp"},
		{URL: "https://img/a.webp"},
		{},
	}
	assert.Equal(t, []string{"https://img/a.webp", "https://img/b.webp"}, screenshotURLs(images))
}

func TestLatestVersion(t *testing.T) {
	published := true
	unpublished := false
	entries := []releaseEntry{
		{HardwarePlatform: "WINDOWS", ReleaseNotes: []releaseNote{
			{VersionName: "1.0", Published: &published, UTime: 100},
			{VersionName: "2.0-beta", Published: &unpublished, UTime: 300},
		}},
		{HardwarePlatform: "XBOXSERIESX", ReleaseNotes: []releaseNote{
			{VersionName: "1.1", Published: &published, UTime: 200},
		}},
	}

	// The unpublished note is newest but must be ignored.
	assert.Equal(t, "1.1", latestVersion(entries))
	assert.Equal(t, "", latestVersion(nil))
}

func TestParsePrices(t *testing.T) {
	amount := 700.0
	catalogs := []catalogInfo{
		{Prices: []apiPrice{{Amount: &amount, Currency: "CREDITS"}, {Amount: nil, Currency: "USD"}}},
	}
	assert.Equal(t, []model.Price{{Amount: 700, Currency: "CREDITS"}}, parsePrices(catalogs))
	assert.Nil(t, parsePrices(nil))
}

func TestDetailsURL(t *testing.T) {
	assert.Equal(t,
		"https://creations.bethesda.net/en/fallout4/details/abc123",
		detailsURL("abc123", "FALLOUT4", ""))
	assert.Equal(t,
		"https://mods.example.com/skyrim/xyz",
		detailsURL("xyz", "SKYRIM", "https://mods.example.com/{product}/{content_id}"))
	assert.Equal(t, "", detailsURL("", "FALLOUT4", ""))
	assert.Equal(t, "", detailsURL("abc", "", ""))
}
