package education

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/gdmcare/internal/metrics"
	"github.com/hitoshi/gdmcare/internal/security"
)

// ErrReadingUnavailable はフィードを取得できず、キャッシュも無い場合のエラー。
var ErrReadingUnavailable = errors.New("education: further reading unavailable")

// MaxReadings は返却する参考記事の最大件数。
const MaxReadings = 10

const userAgent = "gdmcare/1.0 (+education reader)"

// Reading は外部フィードから取得した参考記事。
// TitleはプレーンテキストでSummaryは許可タグのみを残したHTML。
type Reading struct {
	Title       string     `json:"title"`
	Link        string     `json:"link"`
	Summary     string     `json:"summary"`
	Author      string     `json:"author,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// ReaderConfig はReaderの設定。
type ReaderConfig struct {
	FeedURL string
	TTL     time.Duration
	Timeout time.Duration
	MaxSize int64
}

// Reader は参考記事フィードを取得し、TTLの間キャッシュする。
// 同時に来たリクエストの取得はsingleflightで1回にまとめる。
type Reader struct {
	config    ReaderConfig
	guard     *security.EgressGuard
	client    *http.Client
	sanitizer security.Sanitizer
	metrics   metrics.MetricsCollector
	now       func() time.Time

	group singleflight.Group

	mu           sync.RWMutex
	cached       []Reading
	fetchedAt    time.Time
	resolvedURL  string
	etag         string
	lastModified string
	failures     int
	retryAt      time.Time
}

// NewReader はReaderを生成する。FeedURLが空の場合、Itemsは常に空のスライスを返す。
func NewReader(config ReaderConfig, guard *security.EgressGuard, sanitizer security.Sanitizer, collector metrics.MetricsCollector) *Reader {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if guard == nil {
		guard = security.NewEgressGuard(true)
	}
	return &Reader{
		config:    config,
		guard:     guard,
		client:    guard.Client(config.Timeout, config.MaxSize),
		sanitizer: sanitizer,
		metrics:   collector,
		now:       time.Now,
	}
}

// Enabled はフィードURLが設定されているかを返す。
func (r *Reader) Enabled() bool {
	return r.config.FeedURL != ""
}

// Items は参考記事を返す。
// キャッシュが有効期限内ならそれを返し、期限切れなら再取得する。
// 再取得に失敗した場合、古いキャッシュがあればそれを返す。
// 失敗後のバックオフ期間中は取得を試みない。
func (r *Reader) Items(ctx context.Context) ([]Reading, error) {
	if !r.Enabled() {
		return []Reading{}, nil
	}

	items, fresh := r.cachedItems()
	if fresh {
		r.metrics.RecordReadingFetch("cache_hit")
		return items, nil
	}
	if r.backingOff() {
		r.metrics.RecordReadingFetch("backoff")
		if items != nil {
			return items, nil
		}
		return nil, ErrReadingUnavailable
	}

	v, err, _ := r.group.Do(r.config.FeedURL, func() (interface{}, error) {
		return r.refresh(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, err
	}
	return v.([]Reading), nil
}

func (r *Reader) cachedItems() ([]Reading, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.cached == nil {
		return nil, false
	}
	return r.cached, r.now().Sub(r.fetchedAt) < r.config.TTL
}

func (r *Reader) backingOff() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.now().Before(r.retryAt)
}

func (r *Reader) refresh(ctx context.Context) ([]Reading, error) {
	items, notModified, err := r.fetch(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()

	if err != nil {
		r.failures++
		r.retryAt = r.now().Add(retryDelay(err, r.failures))
	} else {
		r.failures = 0
		r.retryAt = time.Time{}
	}

	switch {
	case err != nil:
		if r.cached != nil {
			slog.Warn("education feed fetch failed, serving stale readings",
				slog.String("url", r.config.FeedURL),
				slog.String("error", err.Error()),
			)
			r.metrics.RecordReadingFetch("stale")
			return r.cached, nil
		}
		slog.Error("education feed fetch failed",
			slog.String("url", r.config.FeedURL),
			slog.String("error", err.Error()),
			slog.Int("consecutive_errors", r.failures),
		)
		r.metrics.RecordReadingFetch("error")
		return nil, fmt.Errorf("%w: %v", ErrReadingUnavailable, err)
	case notModified && r.cached != nil:
		r.fetchedAt = r.now()
		r.metrics.RecordReadingFetch("not_modified")
		return r.cached, nil
	default:
		r.cached = items
		r.fetchedAt = r.now()
		r.metrics.RecordReadingFetch("ok")
		return items, nil
	}
}

// fetch はフィードを取得・パースする。304の場合はnotModifiedにtrueを返す。
func (r *Reader) fetch(ctx context.Context) ([]Reading, bool, error) {
	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	r.mu.RLock()
	target := r.resolvedURL
	r.mu.RUnlock()
	if target == "" {
		target = r.config.FeedURL
	}
	return r.fetchURL(ctx, target, true)
}

// fetchURL はtargetを取得する。discoverがtrueでHTMLが返った場合は
// ページ内のフィードリンクを1回だけたどり、以後はそのURLを直接取得する。
func (r *Reader) fetchURL(ctx context.Context, target string, discover bool) ([]Reading, bool, error) {
	if err := r.guard.ValidateURL(target); err != nil {
		return nil, false, fmt.Errorf("url validation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, text/html;q=0.5")

	r.mu.RLock()
	etag, lastModified := r.etag, r.lastModified
	r.mu.RUnlock()
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastModified != "" {
		req.Header.Set("If-Modified-Since", lastModified)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return nil, true, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, newStatusError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("read body: %w", err)
	}

	if discover && isHTML(resp.Header.Get("Content-Type")) {
		if link := discoverFeedLink(body, target); link != "" {
			slog.Info("education feed discovered from page",
				slog.String("page", target),
				slog.String("feed", link),
			)
			r.mu.Lock()
			r.resolvedURL = link
			r.etag, r.lastModified = "", ""
			r.mu.Unlock()
			return r.fetchURL(ctx, link, false)
		}
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, false, fmt.Errorf("parse feed: %w", err)
	}

	r.mu.Lock()
	r.etag = resp.Header.Get("ETag")
	r.lastModified = resp.Header.Get("Last-Modified")
	r.mu.Unlock()

	return r.convert(feed.Items), false, nil
}

// convert はgofeedのアイテムを参考記事に変換する。
// リンクもタイトルも無いアイテムは捨て、公開日時の新しい順に最大MaxReadings件を返す。
func (r *Reader) convert(items []*gofeed.Item) []Reading {
	readings := make([]Reading, 0, len(items))
	for _, it := range items {
		link := it.Link
		if link == "" && it.GUID != "" {
			link = it.GUID
		}
		title := r.sanitizer.PlainText(it.Title)
		if link == "" && title == "" {
			continue
		}

		summary := it.Description
		if summary == "" {
			summary = it.Content
		}

		reading := Reading{
			Title:   title,
			Link:    link,
			Summary: r.sanitizer.Summary(summary),
		}
		if it.Author != nil {
			reading.Author = r.sanitizer.PlainText(it.Author.Name)
		}
		if it.PublishedParsed != nil {
			t := *it.PublishedParsed
			reading.PublishedAt = &t
		} else if it.UpdatedParsed != nil {
			t := *it.UpdatedParsed
			reading.PublishedAt = &t
		}
		readings = append(readings, reading)
	}

	sort.SliceStable(readings, func(i, j int) bool {
		a, b := readings[i].PublishedAt, readings[j].PublishedAt
		if a == nil || b == nil {
			return a != nil
		}
		return a.After(*b)
	})

	if len(readings) > MaxReadings {
		readings = readings[:MaxReadings]
	}
	return readings
}
