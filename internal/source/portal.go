package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/afroash/room-balance-monitor/internal/models"
)

// ErrorKind classifies a per-room fetch failure
type ErrorKind string

const (
	KindTransport   ErrorKind = "transport"
	KindTimeout     ErrorKind = "timeout"
	KindUnparseable ErrorKind = "unparseable"
	KindMissingID   ErrorKind = "missing_remote_id"
)

// FetchError is returned for a single room that could not be read
type FetchError struct {
	Kind ErrorKind
	Room models.RoomKey
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Room, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Room, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// maxPageSize bounds how much of a portal page is read
const maxPageSize = 1 << 20

// Unit suffixes the portal appends to the value
var unitSuffixes = []string{"度", "kWh", "KWH", "kwh"}

// PortalConfig configures a PortalSource
type PortalConfig struct {
	BaseURL   string
	UserAgent string
	Label     string // text of the element preceding the value
}

// PortalSource reads one room's balance from the campus payment portal.
// The http.Client is supplied by the caller and carries the authenticated session.
type PortalSource struct {
	client *http.Client
	config PortalConfig
	logger zerolog.Logger
}

// NewPortalSource creates a source. A nil client uses a client with a 15s timeout.
func NewPortalSource(client *http.Client, config PortalConfig, logger zerolog.Logger) (*PortalSource, error) {
	if _, err := url.Parse(config.BaseURL); err != nil || config.BaseURL == "" {
		return nil, fmt.Errorf("invalid portal base url %q", config.BaseURL)
	}
	if config.Label == "" {
		return nil, errors.New("portal label is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &PortalSource{
		client: client,
		config: config,
		logger: logger.With().Str("component", "portal").Logger(),
	}, nil
}

// FetchOne requests the room's page and extracts the balance. Deadlines come from ctx.
func (p *PortalSource) FetchOne(ctx context.Context, entry models.CatalogEntry) (decimal.Decimal, error) {
	if !entry.HasRemoteID() {
		return decimal.Zero, &FetchError{Kind: KindMissingID, Room: entry.Key()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.roomURL(entry), nil)
	if err != nil {
		return decimal.Zero, &FetchError{Kind: KindTransport, Room: entry.Key(), Err: err}
	}
	if p.config.UserAgent != "" {
		req.Header.Set("User-Agent", p.config.UserAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		kind := KindTransport
		if errors.Is(err, context.DeadlineExceeded) {
			kind = KindTimeout
		}
		return decimal.Zero, &FetchError{Kind: kind, Room: entry.Key(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
		return decimal.Zero, &FetchError{
			Kind: KindTransport,
			Room: entry.Key(),
			Err:  fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	value, err := ExtractValue(io.LimitReader(resp.Body, maxPageSize), p.config.Label)
	if err != nil {
		kind := KindUnparseable
		if errors.Is(err, context.DeadlineExceeded) {
			kind = KindTimeout
		}
		return decimal.Zero, &FetchError{Kind: kind, Room: entry.Key(), Err: err}
	}

	p.logger.Debug().
		Str("room", entry.Key().String()).
		Str("value", value.String()).
		Msg("Fetched balance")

	return value, nil
}

func (p *PortalSource) roomURL(entry models.CatalogEntry) string {
	q := url.Values{}
	q.Set("sysid", entry.SysID)
	q.Set("roomid", entry.RemoteID)
	q.Set("areaid", entry.AreaID)
	q.Set("buildid", entry.BuildID)

	sep := "?"
	if strings.Contains(p.config.BaseURL, "?") {
		sep = "&"
	}
	return p.config.BaseURL + sep + q.Encode()
}

// ExtractValue finds the div whose text equals label and parses the next div
// in document order as a decimal, after removing the unit suffix.
func ExtractValue(page io.Reader, label string) (decimal.Decimal, error) {
	doc, err := goquery.NewDocumentFromReader(page)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse page: %w", err)
	}

	divs := doc.Find("div")
	idx := -1
	divs.EachWithBreak(func(i int, s *goquery.Selection) bool {
		if strings.TrimSpace(s.Text()) == label {
			idx = i
			return false
		}
		return true
	})
	if idx < 0 {
		return decimal.Zero, fmt.Errorf("label %q not found", label)
	}
	if idx+1 >= divs.Length() {
		return decimal.Zero, fmt.Errorf("no value after label %q", label)
	}

	return ParseValue(divs.Eq(idx + 1).Text())
}

// ParseValue parses a balance such as "12.50度"
func ParseValue(text string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(text)
	for _, suffix := range unitSuffixes {
		cleaned = strings.TrimSpace(strings.TrimSuffix(cleaned, suffix))
	}
	if cleaned == "" {
		return decimal.Zero, errors.New("empty value")
	}
	v, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("value %q is not numeric: %w", text, err)
	}
	return v, nil
}
