package domain

// FeedFormat identifies how a feed's text payload is parsed.
type FeedFormat string

const (
	// FormatIPList is one IP per line; '#' comments and "ip:port" tolerated.
	FormatIPList FeedFormat = "iplist"
	// FormatKeyValue is delimited records where the first field is the IP.
	FormatKeyValue FeedFormat = "keyvalue"
	// FormatCSV is a CSV payload with a header row and an "ip" or "dst_ip" column.
	FormatCSV FeedFormat = "csv"
)

// FeedSpec describes one external indicator feed, supplied by configuration.
type FeedSpec struct {
	Name     string     `yaml:"name"`
	URL      string     `yaml:"url"`
	Format   FeedFormat `yaml:"format"`
	RiskType string     `yaml:"risk"`
}
