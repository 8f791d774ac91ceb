// Package notion mirrors transcription records into a Notion database. It
// wraps github.com/jomei/notionapi with client-side rate limiting, retry of
// idempotent reads, and classification of API failures into the shared
// error taxonomy in [model].
package notion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/jomei/notionapi"
	"golang.org/x/time/rate"

	"github.com/njoerd114/transcriptrelay/internal/model"
	"github.com/njoerd114/transcriptrelay/internal/retry"
)

// requestsPerSecond is Notion's documented average request rate per
// integration.
const requestsPerSecond = 3

// clientRetries is the number of times notionapi retries a 429 response.
const clientRetries = 3

// DatabaseClient is the subset of [notionapi.DatabaseService] used by the
// adapter. Defining it as an interface allows fake injection in tests.
type DatabaseClient interface {
	Get(ctx context.Context, id notionapi.DatabaseID) (*notionapi.Database, error)
	Update(ctx context.Context, id notionapi.DatabaseID, req *notionapi.DatabaseUpdateRequest) (*notionapi.Database, error)
	Query(ctx context.Context, id notionapi.DatabaseID, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
}

// PageClient is the subset of [notionapi.PageService] used by the adapter.
type PageClient interface {
	Create(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error)
}

// Adapter provides sync-engine oriented operations on one Notion database.
// Create one with [New] or [NewWithClients].
type Adapter struct {
	db      DatabaseClient
	pages   PageClient
	dbID    notionapi.DatabaseID
	limiter *rate.Limiter
	policy  retry.Policy
	logger  *slog.Logger

	// titleProp is the database's title column, learned by EnsureProperties.
	titleProp string
}

// New creates an Adapter backed by the real Notion API.
func New(apiKey, databaseID string, logger *slog.Logger) *Adapter {
	client := notionapi.NewClient(notionapi.Token(apiKey), notionapi.WithRetry(clientRetries))
	return NewWithClients(client.Database, client.Page, databaseID, logger)
}

// NewWithClients creates an Adapter with caller-supplied clients. Intended
// for testing with fakes.
func NewWithClients(db DatabaseClient, pages PageClient, databaseID string, logger *slog.Logger) *Adapter {
	return &Adapter{
		db:      db,
		pages:   pages,
		dbID:    notionapi.DatabaseID(databaseID),
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		policy:  retry.Default,
		logger:  logger,
	}
}

// SetRetryPolicy replaces the backoff used for reads.
func (a *Adapter) SetRetryPolicy(p retry.Policy) {
	a.policy = p
}

// SetRateLimit replaces the client-side request limiter. rate.Inf disables
// limiting.
func (a *Adapter) SetRateLimit(limit rate.Limit) {
	a.limiter = rate.NewLimiter(limit, 1)
}

// Ping retrieves the database and returns its title. It validates the API
// key and that the integration has been shared with the database.
func (a *Adapter) Ping(ctx context.Context) (string, error) {
	db, err := a.getDatabase(ctx)
	if err != nil {
		return "", fmt.Errorf("ping notion: %w", err)
	}
	var b strings.Builder
	for _, rt := range db.Title {
		b.WriteString(rt.PlainText)
	}
	return b.String(), nil
}

// EnsureProperties makes sure every required property exists on the
// database. Missing properties are added in a single update. A property
// that exists with a different type is reported as
// [model.ErrRemoteRejected]; existing columns are never retyped.
func (a *Adapter) EnsureProperties(ctx context.Context, required []model.Property) error {
	db, err := a.getDatabase(ctx)
	if err != nil {
		return fmt.Errorf("ensure properties: %w", err)
	}
	a.titleProp = titleProperty(db.Properties)

	missing := notionapi.PropertyConfigs{}
	var names []string
	for _, p := range required {
		existing, ok := db.Properties[p.Name()]
		if !ok || existing == nil {
			missing[p.Name()] = propertyConfig(p)
			names = append(names, p.Name())
			continue
		}
		if want := configType(p.Kind()); existing.GetType() != want {
			return fmt.Errorf("ensure properties: %q has type %s, want %s: %w",
				p.Name(), existing.GetType(), want, model.ErrRemoteRejected)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	slices.Sort(names)
	a.logger.Info("adding missing database properties", "properties", names)

	if err := a.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("ensure properties: %w", err)
	}
	_, err = a.db.Update(ctx, a.dbID, &notionapi.DatabaseUpdateRequest{Properties: missing})
	if err != nil {
		return fmt.Errorf("add properties %v: %w", names, classify(err, false))
	}
	return nil
}

// ListExistingKeys enumerates every page in the database and returns the
// set of non-empty values of the given property. Each page of results is
// retried on transient failures.
func (a *Adapter) ListExistingKeys(ctx context.Context, key model.Property) (map[string]struct{}, error) {
	keys := make(map[string]struct{})
	var cursor notionapi.Cursor
	pages := 0

	for {
		req := &notionapi.DatabaseQueryRequest{PageSize: queryPageSize, StartCursor: cursor}

		var resp *notionapi.DatabaseQueryResponse
		err := retry.Do(ctx, a.policy, isTransient, func() error {
			if err := a.limiter.Wait(ctx); err != nil {
				return err
			}
			var qErr error
			resp, qErr = a.db.Query(ctx, a.dbID, req)
			return classify(qErr, false)
		})
		if err != nil {
			return nil, fmt.Errorf("list existing keys (page %d): %w", pages+1, err)
		}
		pages++

		for _, page := range resp.Results {
			if v := plainText(page.Properties[key.Name()]); v != "" {
				keys[v] = struct{}{}
			}
		}

		if !resp.HasMore || resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}

	a.logger.Debug("listed remote keys", "keys", len(keys), "pages", pages)
	return keys, nil
}

// CreateRecord creates one page for r. Creation is not retried here: a
// failed upload is retried on the next sync cycle.
func (a *Adapter) CreateRecord(ctx context.Context, r *model.RemoteRecord) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("create record %s: %w", r.SourceID, err)
	}

	req := &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: a.dbID,
		},
		Properties: pageProperties(a.titleProp, r),
		Children:   pageBlocks(r),
	}
	if _, err := a.pages.Create(ctx, req); err != nil {
		return fmt.Errorf("create record %s: %w", r.SourceID, classify(err, true))
	}
	return nil
}

func (a *Adapter) getDatabase(ctx context.Context) (*notionapi.Database, error) {
	var db *notionapi.Database
	err := retry.Do(ctx, a.policy, isTransient, func() error {
		if err := a.limiter.Wait(ctx); err != nil {
			return err
		}
		var getErr error
		db, getErr = a.db.Get(ctx, a.dbID)
		return classify(getErr, false)
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve database: %w", err)
	}
	return db, nil
}

// classify wraps err with the matching [model] sentinel. creating reports
// whether the request was a page creation, where a 400 response means the
// record's content was refused.
func classify(err error, creating bool) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *notionapi.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %w", model.ErrRemoteUnavailable, err)
	}

	switch {
	case apiErr.Status == http.StatusTooManyRequests,
		apiErr.Status == http.StatusConflict,
		apiErr.Status >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %w", model.ErrRemoteUnavailable, err)
	case creating && apiErr.Status == http.StatusBadRequest:
		return fmt.Errorf("%w: %w", model.ErrRecordInvalid, err)
	default:
		return fmt.Errorf("%w: %w", model.ErrRemoteRejected, err)
	}
}

func isTransient(err error) bool {
	return errors.Is(err, model.ErrRemoteUnavailable)
}
