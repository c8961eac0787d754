package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eduair94/gastos-gub-uy-sub000/internal/config"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/domain"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Compras Estatales OCDS</title>
  <item>
    <title>Adjudicacion 1001</title>
    <link>https://www.comprasestatales.gub.uy/ocds/release/adjudicacion-1001</link>
    <description><![CDATA[<p>Compra de <b>insumos</b></p>]]></description>
    <pubDate>Fri, 01 Mar 2024 10:00:00 -0300</pubDate>
    <guid>adjudicacion-1001</guid>
  </item>
  <item>
    <title>Sin identificador</title>
    <link>https://www.comprasestatales.gub.uy/about</link>
    <guid>about</guid>
  </item>
  <item>
    <title>Llamado 2002</title>
    <link>https://www.comprasestatales.gub.uy/ocds/release?id=llamado-2002</link>
    <pubDate>Sat, 02 Mar 2024 10:00:00 -0300</pubDate>
  </item>
</channel>
</rss>`

func testFeedConfig(baseURL string) *config.FeedConfig {
	return &config.FeedConfig{
		BaseURL:      baseURL,
		Timeout:      5 * time.Second,
		MaxRetries:   2,
		RetryWait:    time.Millisecond,
		RetryMaxWait: 5 * time.Millisecond,
	}
}

func TestFeedDiscovery_Discover(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(sampleRSS))
	}))
	defer srv.Close()

	d := NewFeedDiscovery(testFeedConfig(srv.URL), nil, logger.Discard())
	got, err := d.Discover(context.Background(), domain.MonthPeriod(2024, time.March))
	require.NoError(t, err)

	assert.Equal(t, "/ocds/rss/2024/03", gotPath)
	require.Len(t, got, 2)
	assert.Equal(t, "adjudicacion-1001", got[0].ID)
	assert.Equal(t, "Compra de insumos", got[0].Description)
	assert.Equal(t, 2024, got[0].PublishDate.Year())
	assert.Equal(t, domain.MonthPeriod(2024, time.March), got[0].Period)
	assert.Equal(t, "llamado-2002", got[1].ID)
}

func TestFeedDiscovery_YearOnlyPath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`<rss version="2.0"><channel><title>x</title></channel></rss>`))
	}))
	defer srv.Close()

	d := NewFeedDiscovery(testFeedConfig(srv.URL), nil, logger.Discard())
	got, err := d.Discover(context.Background(), domain.YearPeriod(2023))
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, "/ocds/rss/2023", gotPath)
}

func TestFeedDiscovery_NotFoundIsEmpty(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	d := NewFeedDiscovery(testFeedConfig(srv.URL), nil, logger.Discard())
	got, err := d.Discover(context.Background(), domain.MonthPeriod(2030, time.January))
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFeedDiscovery_ServerErrorRetriedThenFails(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := NewFeedDiscovery(testFeedConfig(srv.URL), nil, logger.Discard())
	_, err := d.Discover(context.Background(), domain.MonthPeriod(2024, time.March))
	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}
