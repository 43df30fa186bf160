package feed

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/user/threatmap/internal/domain"
)

// HTTPFetcher retrieves and parses one feed payload per call. Malformed lines
// are skipped individually; only transport-level problems surface as the
// cycle's fetch error.
type HTTPFetcher struct {
	client *http.Client
	logger *slog.Logger
}

// NewHTTPFetcher creates a fetcher whose requests are bounded by timeout.
func NewHTTPFetcher(timeout time.Duration, logger *slog.Logger) *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{Timeout: timeout},
		logger: logger.With("component", "feed_fetcher"),
	}
}

// Fetch performs one retrieval and returns the cycle's indicators,
// deduplicated by IP within this payload.
func (f *HTTPFetcher) Fetch(ctx context.Context, feed domain.FeedSpec) ([]domain.RawIndicator, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build feed request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	ips, err := f.parse(feed, resp.Body)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	indicators := make([]domain.RawIndicator, 0, len(ips))
	for _, ip := range ips {
		indicators = append(indicators, domain.RawIndicator{
			IP:         ip,
			FeedName:   feed.Name,
			RiskType:   feed.RiskType,
			ObservedAt: now,
		})
	}
	return indicators, nil
}

func (f *HTTPFetcher) parse(feed domain.FeedSpec, body io.Reader) ([]string, error) {
	switch feed.Format {
	case domain.FormatIPList:
		return f.parseLines(feed, body, ipFromPlainLine)
	case domain.FormatKeyValue:
		return f.parseLines(feed, body, ipFromKeyValueLine)
	case domain.FormatCSV:
		return f.parseCSV(feed, body)
	default:
		return nil, fmt.Errorf("unknown feed format %q", feed.Format)
	}
}

// parseLines runs a per-line extractor over the payload, skipping blanks,
// comments, and lines the extractor rejects. Output is deduplicated in
// payload order.
func (f *HTTPFetcher) parseLines(feed domain.FeedSpec, body io.Reader, extract func(string) (string, bool)) ([]string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read feed payload: %w", err)
	}

	seen := make(map[string]struct{})
	var ips []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ip, ok := extract(line)
		if !ok {
			f.logger.Debug("skipping malformed feed line", "feed", feed.Name, "line", line)
			continue
		}
		if _, dup := seen[ip]; dup {
			continue
		}
		seen[ip] = struct{}{}
		ips = append(ips, ip)
	}
	return ips, nil
}

func (f *HTTPFetcher) parseCSV(feed domain.FeedSpec, body io.Reader) ([]string, error) {
	r := csv.NewReader(body)
	r.Comment = '#'
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	ipCol := -1
	for i, name := range header {
		col := strings.TrimSpace(strings.ToLower(name))
		if col == "dst_ip" || col == "ip" {
			ipCol = i
			break
		}
	}
	if ipCol < 0 {
		return nil, fmt.Errorf("csv feed has no ip column")
	}

	seen := make(map[string]struct{})
	var ips []string
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// One broken record does not invalidate the rest of the payload.
			f.logger.Debug("skipping malformed csv record", "feed", feed.Name, "error", err)
			continue
		}
		if ipCol >= len(record) {
			continue
		}
		ip := strings.TrimSpace(record[ipCol])
		if !validIPv4(ip) {
			continue
		}
		if _, dup := seen[ip]; dup {
			continue
		}
		seen[ip] = struct{}{}
		ips = append(ips, ip)
	}
	return ips, nil
}

// ipFromPlainLine handles one-IP-per-line payloads, tolerating "ip:port".
func ipFromPlainLine(line string) (string, bool) {
	ip := line
	if i := strings.IndexByte(line, ':'); i >= 0 {
		ip = line[:i]
	}
	if !validIPv4(ip) {
		return "", false
	}
	return ip, true
}

// ipFromKeyValueLine handles delimited records whose first field is the IP.
func ipFromKeyValueLine(line string) (string, bool) {
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ' ' || r == '\t' || r == ';' || r == ',' || r == '|'
	})
	if len(fields) == 0 {
		return "", false
	}
	return ipFromPlainLine(fields[0])
}

func validIPv4(s string) bool {
	addr, err := netip.ParseAddr(s)
	return err == nil && addr.Is4()
}
