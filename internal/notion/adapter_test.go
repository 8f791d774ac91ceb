package notion

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/jomei/notionapi"
	"golang.org/x/time/rate"

	"github.com/njoerd114/transcriptrelay/internal/model"
	"github.com/njoerd114/transcriptrelay/internal/retry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAdapter(db *fakeDatabase, pages *fakePages) *Adapter {
	a := NewWithClients(db, pages, "0123456789abcdef0123456789abcdef", testLogger())
	a.SetRateLimit(rate.Inf)
	a.SetRetryPolicy(retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
	return a
}

func apiError(status int) error {
	return &notionapi.Error{Status: status, Code: "test_error", Message: http.StatusText(status)}
}

// ---------------------------------------------------------------------------
// Ping
// ---------------------------------------------------------------------------

func TestPing_ReturnsTitle(t *testing.T) {
	a := newTestAdapter(newFakeDatabase(fullSchema()), &fakePages{})
	title, err := a.Ping(context.Background())
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if title != "Transcriptions" {
		t.Errorf("title = %q", title)
	}
}

func TestPing_Unauthorized(t *testing.T) {
	db := newFakeDatabase(fullSchema())
	db.getErrs = []error{apiError(http.StatusUnauthorized)}

	_, err := newTestAdapter(db, &fakePages{}).Ping(context.Background())
	if !errors.Is(err, model.ErrRemoteRejected) {
		t.Errorf("err = %v, want ErrRemoteRejected", err)
	}
}

// ---------------------------------------------------------------------------
// EnsureProperties
// ---------------------------------------------------------------------------

func TestEnsureProperties_AllPresent(t *testing.T) {
	db := newFakeDatabase(fullSchema())
	a := newTestAdapter(db, &fakePages{})

	if err := a.EnsureProperties(context.Background(), model.RequiredSchema()); err != nil {
		t.Fatalf("EnsureProperties: %v", err)
	}
	if len(db.updates) != 0 {
		t.Errorf("updates = %d, want 0", len(db.updates))
	}
	if a.titleProp != "Name" {
		t.Errorf("titleProp = %q, want Name", a.titleProp)
	}
}

func TestEnsureProperties_AddsMissingInOneUpdate(t *testing.T) {
	db := newFakeDatabase(notionapi.PropertyConfigs{
		"Title": &notionapi.TitlePropertyConfig{Type: notionapi.PropertyConfigTypeTitle},
		"Text":  &notionapi.RichTextPropertyConfig{Type: notionapi.PropertyConfigTypeRichText},
	})
	a := newTestAdapter(db, &fakePages{})

	if err := a.EnsureProperties(context.Background(), model.RequiredSchema()); err != nil {
		t.Fatalf("EnsureProperties: %v", err)
	}
	if len(db.updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(db.updates))
	}
	added := db.updates[0].Properties
	for _, name := range []string{"Timestamp", "Duration", "VoiceInk ID"} {
		if _, ok := added[name]; !ok {
			t.Errorf("property %q not added", name)
		}
	}
	if _, ok := added["Text"]; ok {
		t.Error("existing property Text was re-sent")
	}
	if got := added["Duration"].GetType(); got != notionapi.PropertyConfigTypeNumber {
		t.Errorf("Duration type = %s, want number", got)
	}
}

func TestEnsureProperties_WrongTypeRejected(t *testing.T) {
	props := fullSchema()
	props["Duration"] = &notionapi.RichTextPropertyConfig{Type: notionapi.PropertyConfigTypeRichText}
	db := newFakeDatabase(props)

	err := newTestAdapter(db, &fakePages{}).EnsureProperties(context.Background(), model.RequiredSchema())
	if !errors.Is(err, model.ErrRemoteRejected) {
		t.Fatalf("err = %v, want ErrRemoteRejected", err)
	}
	if len(db.updates) != 0 {
		t.Error("a mistyped property must not trigger an update")
	}
}

func TestEnsureProperties_TransientGetRetried(t *testing.T) {
	db := newFakeDatabase(fullSchema())
	db.getErrs = []error{apiError(http.StatusBadGateway), errors.New("connection reset")}

	if err := newTestAdapter(db, &fakePages{}).EnsureProperties(context.Background(), model.RequiredSchema()); err != nil {
		t.Fatalf("EnsureProperties: %v", err)
	}
}

func TestEnsureProperties_UpdateFails(t *testing.T) {
	db := newFakeDatabase(notionapi.PropertyConfigs{})
	db.updateErr = apiError(http.StatusForbidden)

	err := newTestAdapter(db, &fakePages{}).EnsureProperties(context.Background(), model.RequiredSchema())
	if !errors.Is(err, model.ErrRemoteRejected) {
		t.Errorf("err = %v, want ErrRemoteRejected", err)
	}
}

// ---------------------------------------------------------------------------
// ListExistingKeys
// ---------------------------------------------------------------------------

func TestListExistingKeys_Paginates(t *testing.T) {
	db := newFakeDatabase(fullSchema(), "a", "b", "c", "d", "e")
	keys, err := newTestAdapter(db, &fakePages{}).ListExistingKeys(context.Background(), model.PropertyDedupKey)
	if err != nil {
		t.Fatalf("ListExistingKeys: %v", err)
	}
	if len(keys) != 5 {
		t.Errorf("len(keys) = %d, want 5", len(keys))
	}
	if len(db.queries) != 3 {
		t.Errorf("queries = %d, want 3", len(db.queries))
	}
	for _, q := range db.queries {
		if q.PageSize != queryPageSize {
			t.Errorf("PageSize = %d, want %d", q.PageSize, queryPageSize)
		}
	}
	if db.queries[0].StartCursor != "" {
		t.Errorf("first query cursor = %q, want empty", db.queries[0].StartCursor)
	}
}

func TestListExistingKeys_SkipsEmptyAndDuplicates(t *testing.T) {
	db := newFakeDatabase(fullSchema(), "a", "", "a", "  ")
	keys, err := newTestAdapter(db, &fakePages{}).ListExistingKeys(context.Background(), model.PropertyDedupKey)
	if err != nil {
		t.Fatalf("ListExistingKeys: %v", err)
	}
	if len(keys) != 1 {
		t.Errorf("keys = %v, want {a}", keys)
	}
}

func TestListExistingKeys_EmptyDatabase(t *testing.T) {
	keys, err := newTestAdapter(newFakeDatabase(fullSchema()), &fakePages{}).
		ListExistingKeys(context.Background(), model.PropertyDedupKey)
	if err != nil {
		t.Fatalf("ListExistingKeys: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("keys = %v, want empty", keys)
	}
}

func TestListExistingKeys_RetriesTransientPage(t *testing.T) {
	db := newFakeDatabase(fullSchema(), "a", "b", "c")
	db.queryErrs = []error{apiError(http.StatusTooManyRequests)}

	keys, err := newTestAdapter(db, &fakePages{}).ListExistingKeys(context.Background(), model.PropertyDedupKey)
	if err != nil {
		t.Fatalf("ListExistingKeys: %v", err)
	}
	if len(keys) != 3 {
		t.Errorf("len(keys) = %d, want 3", len(keys))
	}
}

func TestListExistingKeys_OutageSurfaces(t *testing.T) {
	db := newFakeDatabase(fullSchema(), "a")
	db.queryErrs = []error{
		apiError(http.StatusServiceUnavailable),
		apiError(http.StatusServiceUnavailable),
		apiError(http.StatusServiceUnavailable),
	}

	_, err := newTestAdapter(db, &fakePages{}).ListExistingKeys(context.Background(), model.PropertyDedupKey)
	if !errors.Is(err, model.ErrRemoteUnavailable) {
		t.Errorf("err = %v, want ErrRemoteUnavailable", err)
	}
	if !errors.Is(err, retry.ErrExhausted) {
		t.Errorf("err = %v, want ErrExhausted", err)
	}
}

// ---------------------------------------------------------------------------
// CreateRecord
// ---------------------------------------------------------------------------

func TestCreateRecord_Request(t *testing.T) {
	db := newFakeDatabase(fullSchema())
	pages := &fakePages{}
	a := newTestAdapter(db, pages)
	ctx := context.Background()

	if err := a.EnsureProperties(ctx, model.RequiredSchema()); err != nil {
		t.Fatalf("EnsureProperties: %v", err)
	}
	if err := a.CreateRecord(ctx, sampleRecord()); err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	if len(pages.created) != 1 {
		t.Fatalf("created = %d, want 1", len(pages.created))
	}
	req := pages.created[0]
	if req.Parent.Type != notionapi.ParentTypeDatabaseID || req.Parent.DatabaseID != a.dbID {
		t.Errorf("parent = %+v", req.Parent)
	}
	if _, ok := req.Properties["Name"]; !ok {
		t.Error("title property missing from request")
	}
	if len(req.Children) != 1 {
		t.Errorf("children = %d, want 1", len(req.Children))
	}
}

func TestCreateRecord_ErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"validation", apiError(http.StatusBadRequest), model.ErrRecordInvalid},
		{"unauthorized", apiError(http.StatusUnauthorized), model.ErrRemoteRejected},
		{"not found", apiError(http.StatusNotFound), model.ErrRemoteRejected},
		{"rate limited", apiError(http.StatusTooManyRequests), model.ErrRemoteUnavailable},
		{"server error", apiError(http.StatusInternalServerError), model.ErrRemoteUnavailable},
		{"network", errors.New("dial tcp: i/o timeout"), model.ErrRemoteUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAdapter(newFakeDatabase(fullSchema()), &fakePages{err: tt.err})
			err := a.CreateRecord(context.Background(), sampleRecord())
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCreateRecord_NotRetried(t *testing.T) {
	pages := &fakePages{err: apiError(http.StatusBadGateway)}
	a := newTestAdapter(newFakeDatabase(fullSchema()), pages)
	_ = a.CreateRecord(context.Background(), sampleRecord())
	if pages.calls != 1 {
		t.Errorf("calls = %d, want 1", pages.calls)
	}
}

func TestClassify_ContextPassesThrough(t *testing.T) {
	err := classify(context.Canceled, true)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if errors.Is(err, model.ErrRemoteUnavailable) {
		t.Error("cancellation must not be classified as an outage")
	}
}
