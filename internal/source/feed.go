package source

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/config"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/domain"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/logger"
	"github.com/go-resty/resty/v2"
	"github.com/mmcdole/gofeed"
)

const rssPath = "/ocds/rss/"

// FeedDiscovery reads the portal's per-period RSS index.
type FeedDiscovery struct {
	client    *resty.Client
	baseURL   string
	parser    *gofeed.Parser
	extractor *IDExtractor
	log       *logger.Logger
}

func NewFeedDiscovery(cfg *config.FeedConfig, extractor *IDExtractor, log *logger.Logger) *FeedDiscovery {
	if extractor == nil {
		extractor = DefaultIDExtractor()
	}
	return &FeedDiscovery{
		client:    newClient(cfg),
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		parser:    gofeed.NewParser(),
		extractor: extractor,
		log:       log.WithComponent("feed"),
	}
}

// IndexURL returns the index location for a period.
func (d *FeedDiscovery) IndexURL(period domain.Period) string {
	return d.baseURL + rssPath + period.Path()
}

func (d *FeedDiscovery) Discover(ctx context.Context, period domain.Period) ([]domain.ReleaseDescriptor, error) {
	url := d.IndexURL(period)
	start := time.Now()

	resp, err := d.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/rss+xml, application/xml, text/xml").
		Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch index %s: %w", period, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		d.log.WithField(logger.FieldPeriod, period.Key()).Info("Period index not published")
		return []domain.ReleaseDescriptor{}, nil
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch index %s: status %d", period, resp.StatusCode())
	}

	feed, err := d.parser.ParseString(string(resp.Body()))
	if err != nil {
		return nil, fmt.Errorf("failed to parse index %s: %w", period, err)
	}

	descriptors := make([]domain.ReleaseDescriptor, 0, len(feed.Items))
	dropped := 0
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		id := d.extractor.Extract(item.Link, item.GUID)
		if id == "" {
			dropped++
			d.log.WithFields(logger.Fields{
				logger.FieldPeriod: period.Key(),
				"link":             item.Link,
				"guid":             item.GUID,
			}).Warn("Dropping feed entry without recognizable id")
			continue
		}

		desc := domain.ReleaseDescriptor{
			ID:          id,
			SourceLink:  strings.TrimSpace(item.Link),
			Title:       strings.TrimSpace(item.Title),
			Description: cleanHTML(item.Description),
			GUID:        item.GUID,
			Period:      period,
		}
		switch {
		case item.PublishedParsed != nil:
			desc.PublishDate = item.PublishedParsed.UTC()
		case item.UpdatedParsed != nil:
			desc.PublishDate = item.UpdatedParsed.UTC()
		}
		descriptors = append(descriptors, desc)
	}

	d.log.WithFields(logger.Fields{
		logger.FieldPeriod:     period.Key(),
		logger.FieldCount:      len(descriptors),
		"dropped":              dropped,
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
	}).Info("Period index discovered")

	return descriptors, nil
}

// cleanHTML flattens an HTML fragment to its text with collapsed whitespace.
func cleanHTML(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return strings.Join(strings.Fields(fragment), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.Join(strings.Fields(fragment), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
