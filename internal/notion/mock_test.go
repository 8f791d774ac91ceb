package notion

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/jomei/notionapi"
)

// --- Fake database client ----------------------------------------------------

type fakeDatabase struct {
	mu sync.Mutex

	props notionapi.PropertyConfigs
	title string
	keys  []string // dedup key of every page, in query order

	// getErrs and queryErrs are returned (and consumed) before succeeding.
	getErrs   []error
	queryErrs []error
	updateErr error

	updates  []*notionapi.DatabaseUpdateRequest
	queries  []*notionapi.DatabaseQueryRequest
	pageSize int
}

func newFakeDatabase(props notionapi.PropertyConfigs, keys ...string) *fakeDatabase {
	return &fakeDatabase{props: props, title: "Transcriptions", keys: keys, pageSize: 2}
}

func (f *fakeDatabase) Get(_ context.Context, _ notionapi.DatabaseID) (*notionapi.Database, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.getErrs) > 0 {
		err := f.getErrs[0]
		f.getErrs = f.getErrs[1:]
		return nil, err
	}
	return &notionapi.Database{
		Title:      []notionapi.RichText{{PlainText: f.title}},
		Properties: f.props,
	}, nil
}

func (f *fakeDatabase) Update(_ context.Context, _ notionapi.DatabaseID, req *notionapi.DatabaseUpdateRequest) (*notionapi.Database, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.updates = append(f.updates, req)
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	for name, cfg := range req.Properties {
		f.props[name] = cfg
	}
	return &notionapi.Database{Properties: f.props}, nil
}

// Query serves keys in pages of f.pageSize, using the page offset as cursor.
func (f *fakeDatabase) Query(_ context.Context, _ notionapi.DatabaseID, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.queries = append(f.queries, req)
	if len(f.queryErrs) > 0 {
		err := f.queryErrs[0]
		f.queryErrs = f.queryErrs[1:]
		return nil, err
	}

	start := 0
	if req.StartCursor != "" {
		n, err := strconv.Atoi(string(req.StartCursor))
		if err != nil {
			return nil, fmt.Errorf("bad cursor %q", req.StartCursor)
		}
		start = n
	}
	end := min(start+f.pageSize, len(f.keys))

	resp := &notionapi.DatabaseQueryResponse{}
	for _, k := range f.keys[start:end] {
		resp.Results = append(resp.Results, notionapi.Page{
			Properties: notionapi.Properties{
				"VoiceInk ID": &notionapi.RichTextProperty{
					RichText: []notionapi.RichText{{PlainText: k}},
				},
			},
		})
	}
	if end < len(f.keys) {
		resp.HasMore = true
		resp.NextCursor = notionapi.Cursor(strconv.Itoa(end))
	}
	return resp, nil
}

// --- Fake page client --------------------------------------------------------

type fakePages struct {
	mu      sync.Mutex
	created []*notionapi.PageCreateRequest
	calls   int
	err     error
}

func (f *fakePages) Create(_ context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, req)
	return &notionapi.Page{}, nil
}

// fullSchema returns property configs matching every required property.
func fullSchema() notionapi.PropertyConfigs {
	return notionapi.PropertyConfigs{
		"Name":        &notionapi.TitlePropertyConfig{Type: notionapi.PropertyConfigTypeTitle},
		"Text":        &notionapi.RichTextPropertyConfig{Type: notionapi.PropertyConfigTypeRichText},
		"Timestamp":   &notionapi.DatePropertyConfig{Type: notionapi.PropertyConfigTypeDate},
		"Duration":    &notionapi.NumberPropertyConfig{Type: notionapi.PropertyConfigTypeNumber},
		"VoiceInk ID": &notionapi.RichTextPropertyConfig{Type: notionapi.PropertyConfigTypeRichText},
	}
}
