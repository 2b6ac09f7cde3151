package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	jsoniter "github.com/json-iterator/go"
)

var validation = validator.New(validator.WithRequiredStructEnabled())

const (
	DefaultMetadataURL = "http://dl.stickershop.line.naver.jp/products/0/0/1/{pack}/android/productInfo.meta"
	DefaultStaticURL   = "http://dl.stickershop.line.naver.jp/stickershop/v1/sticker/{item}/android/sticker.png"
	DefaultAnimatedURL = "https://sdl-stickershop.line.naver.jp/products/0/0/1/{pack}/android/animation/{item}.png"
)

type Config struct {
	MetadataURL string
	StaticURL   string
	AnimatedURL string
	Locales     []string
	Timeout     time.Duration
	MaxBodySize int64
	UserAgent   string
}

func (v Config) withDefaults() Config {
	if len(v.MetadataURL) == 0 {
		v.MetadataURL = DefaultMetadataURL
	}
	if len(v.StaticURL) == 0 {
		v.StaticURL = DefaultStaticURL
	}
	if len(v.AnimatedURL) == 0 {
		v.AnimatedURL = DefaultAnimatedURL
	}
	if len(v.Locales) == 0 {
		v.Locales = []string{"en", "ja"}
	}
	if v.Timeout <= 0 {
		v.Timeout = 30 * time.Second
	}
	if v.MaxBodySize <= 0 {
		v.MaxBodySize = 16 << 20
	}
	if len(v.UserAgent) == 0 {
		v.UserAgent = "Hypernet.Stickerbox"
	}
	return v
}

// RemoteError is returned for every failed provider call.
type RemoteError struct {
	URL    string
	Status int
	Err    error
}

func (e *RemoteError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("remote %s responded %d", e.URL, e.Status)
	}
	return fmt.Sprintf("remote %s: %v", e.URL, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// ItemID accepts both numeric and string identifiers, the provider sends numbers.
type ItemID string

func (v *ItemID) UnmarshalJSON(data []byte) error {
	var str string
	if err := jsoniter.Unmarshal(data, &str); err == nil {
		*v = ItemID(str)
		return nil
	}
	raw := strings.TrimSpace(string(data))
	if _, err := strconv.ParseFloat(raw, 64); err != nil {
		return fmt.Errorf("sticker id must be a string or a number, got %s", data)
	}
	*v = ItemID(raw)
	return nil
}

// ValidateItemID rejects ids that cannot name a file inside the pack workspace.
func ValidateItemID(id string) error {
	return validation.Var(id, "required,alphanum,max=64")
}

type Item struct {
	ID ItemID `json:"id"`
}

// Metadata is the provider's productInfo.meta document, trimmed to what an import needs.
type Metadata struct {
	PackID   string            `json:"packageId"`
	Title    map[string]string `json:"title"`
	Items    []Item            `json:"stickers"`
	Animated bool              `json:"hasAnimation"`
}

// Name picks the pack title following the locale order. When none of the
// preferred locales has a title the first non-empty one wins, then the fallback.
func (v Metadata) Name(locales []string, fallback string) string {
	for _, locale := range locales {
		if name := strings.TrimSpace(v.Title[locale]); len(name) > 0 {
			return name
		}
	}

	keys := make([]string, 0, len(v.Title))
	for key := range v.Title {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if name := strings.TrimSpace(v.Title[key]); len(name) > 0 {
			return name
		}
	}

	return fallback
}

// Client talks to the sticker provider. Every call is a single attempt,
// callers decide whether a failure skips an item or aborts the import.
type Client struct {
	config     Config
	httpClient *http.Client
}

func NewClient(config Config) *Client {
	config = config.withDefaults()
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

func (v *Client) Locales() []string {
	return v.config.Locales
}

func (v *Client) MetadataURL(packId string) string {
	return expand(v.config.MetadataURL, packId, "")
}

func (v *Client) AssetURL(packId, itemId string, animated bool) string {
	if animated {
		return expand(v.config.AnimatedURL, packId, itemId)
	}
	return expand(v.config.StaticURL, packId, itemId)
}

func (v *Client) FetchMetadata(ctx context.Context, packId string) (Metadata, error) {
	var meta Metadata

	url := v.MetadataURL(packId)
	body, err := v.get(ctx, url)
	if err != nil {
		return meta, err
	}

	if err := jsoniter.Unmarshal(body, &meta); err != nil {
		return meta, &RemoteError{URL: url, Err: fmt.Errorf("malformed metadata: %w", err)}
	}
	for idx, item := range meta.Items {
		if err := ValidateItemID(string(item.ID)); err != nil {
			return meta, &RemoteError{URL: url, Err: fmt.Errorf("malformed metadata: sticker #%d has invalid id %q", idx, item.ID)}
		}
	}

	return meta, nil
}

func (v *Client) FetchAsset(ctx context.Context, packId, itemId string, animated bool) ([]byte, error) {
	return v.get(ctx, v.AssetURL(packId, itemId, animated))
}

func (v *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &RemoteError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", v.config.UserAgent)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, &RemoteError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &RemoteError{URL: url, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, v.config.MaxBodySize+1))
	if err != nil {
		return nil, &RemoteError{URL: url, Err: err}
	}
	if int64(len(body)) > v.config.MaxBodySize {
		return nil, &RemoteError{URL: url, Err: fmt.Errorf("response exceeds %d bytes", v.config.MaxBodySize)}
	}

	return body, nil
}

func expand(template, packId, itemId string) string {
	return strings.NewReplacer("{pack}", packId, "{item}", itemId).Replace(template)
}
