package httpapi

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asonix/eventbot/internal/domain"
	"github.com/asonix/eventbot/internal/eventerr"
)

type fakeBroker struct {
	lookupEvent *domain.Event
	lookupErr   error

	redeemNewEvent *domain.Event
	redeemNewErr   error

	redeemEditEvent *domain.Event
	redeemEditErr   error

	lastCreate domain.CreateEvent
	lastUpdate domain.UpdateEvent
}

func (f *fakeBroker) LookupEditEvent(ctx context.Context, linkID int32, plaintext string) (*domain.Event, error) {
	return f.lookupEvent, f.lookupErr
}

func (f *fakeBroker) RedeemNewEvent(ctx context.Context, linkID int32, plaintext string, create domain.CreateEvent) (*domain.Event, error) {
	f.lastCreate = create
	return f.redeemNewEvent, f.redeemNewErr
}

func (f *fakeBroker) RedeemEditEvent(ctx context.Context, linkID int32, plaintext string, update domain.UpdateEvent) (*domain.Event, error) {
	f.lastUpdate = update
	return f.redeemEditEvent, f.redeemEditErr
}

type fakeScheduler struct {
	edited []domain.Event
}

func (f *fakeScheduler) Edit(ctx context.Context, event domain.Event) {
	f.edited = append(f.edited, event)
}

type fakeAnnouncer struct {
	newCalls     []domain.Event
	updatedCalls []domain.Event
}

func (f *fakeAnnouncer) AnnounceNewEvent(ctx context.Context, event domain.Event) error {
	f.newCalls = append(f.newCalls, event)
	return nil
}

func (f *fakeAnnouncer) AnnounceUpdatedEvent(ctx context.Context, event domain.Event) error {
	f.updatedCalls = append(f.updatedCalls, event)
	return nil
}

func newTestServer() (*Server, *fakeBroker, *fakeScheduler, *fakeAnnouncer) {
	broker := &fakeBroker{}
	sched := &fakeScheduler{}
	announcer := &fakeAnnouncer{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(broker, sched, announcer, log), broker, sched, announcer
}

func TestSplitToken_SplitsOnLastEquals(t *testing.T) {
	plaintext, id, err := splitToken("abc123=17")
	require.NoError(t, err)
	assert.Equal(t, "abc123", plaintext)
	assert.Equal(t, int32(17), id)
}

func TestSplitToken_RejectsMissingEquals(t *testing.T) {
	_, _, err := splitToken("abc123")
	require.Error(t, err)
}

func validFormValues() url.Values {
	return url.Values{
		"title":        {"Potluck"},
		"description":  {"Bring a dish"},
		"start_year":   {"2030"},
		"start_month":  {"0"},
		"start_day":    {"15"},
		"start_hour":   {"10"},
		"start_minute": {"0"},
		"end_year":     {"2030"},
		"end_month":    {"0"},
		"end_day":      {"15"},
		"end_hour":     {"11"},
		"end_minute":   {"0"},
		"timezone":     {"US/Central"},
	}
}

func postForm(t *testing.T, handler http.Handler, path string, values url.Values) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Result()
}

func TestSubmitted_CreatesEventAndAnnounces(t *testing.T) {
	s, broker, sched, announcer := newTestServer()
	broker.redeemNewEvent = &domain.Event{ID: 1, Title: "Potluck"}

	resp := postForm(t, s.Echo(), "/events/new/abc123=17", validFormValues())
	defer resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Len(t, sched.edited, 1)
	assert.Equal(t, int32(1), sched.edited[0].ID)
	require.Len(t, announcer.newCalls, 1)
	assert.Equal(t, "Potluck", broker.lastCreate.Title)
	assert.Equal(t, "Bring a dish", broker.lastCreate.Description)
	assert.Equal(t, "US/Central", broker.lastCreate.Timezone)
	// 10:00 US/Central on 2030-01-15 is 16:00 UTC.
	assert.Equal(t, time.Date(2030, 1, 15, 16, 0, 0, 0, time.UTC), broker.lastCreate.StartDate)
}

func TestSubmitted_MissingFieldReRendersForm(t *testing.T) {
	s, broker, sched, _ := newTestServer()
	values := validFormValues()
	values.Del("title")

	resp := postForm(t, s.Echo(), "/events/new/abc123=17", values)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "missing-keys")
	assert.Contains(t, string(body), "title")
	assert.Empty(t, sched.edited)
	assert.Empty(t, broker.lastCreate.Title)
}

func TestSubmitted_BrokerPermissionErrorIsForbidden(t *testing.T) {
	s, broker, _, _ := newTestServer()
	broker.redeemNewErr = eventerr.New(eventerr.Permissions)

	resp := postForm(t, s.Echo(), "/events/new/abc123=17", validFormValues())
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestUpdated_UpdatesEventAndAnnounces(t *testing.T) {
	s, broker, sched, announcer := newTestServer()
	broker.redeemEditEvent = &domain.Event{ID: 9, Title: "Updated Potluck"}

	resp := postForm(t, s.Echo(), "/events/edit/abc123=5", validFormValues())
	defer resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Len(t, sched.edited, 1)
	require.Len(t, announcer.updatedCalls, 1)
	assert.Equal(t, "Potluck", broker.lastUpdate.Title)
}

func TestEditForm_PrefillsFromLookup(t *testing.T) {
	s, broker, _, _ := newTestServer()
	broker.lookupEvent = &domain.Event{
		ID: 5, Title: "Existing Event", Description: "desc",
		StartDate: time.Date(2030, 6, 1, 16, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2030, 6, 1, 17, 0, 0, 0, time.UTC),
		Timezone:  "US/Central",
	}

	req := httptest.NewRequest(http.MethodGet, "/events/edit/abc123=5", nil)
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	resp := rec.Result()
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "Existing Event")
}

func TestEditForm_RejectsBadLink(t *testing.T) {
	s, broker, _, _ := newTestServer()
	broker.lookupErr = eventerr.New(eventerr.Permissions)

	req := httptest.NewRequest(http.MethodGet, "/events/edit/abc123=5", nil)
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	resp := rec.Result()
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
