package portal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leaseops/leaseverify/internal/config"
	"github.com/leaseops/leaseverify/internal/extract"
	"github.com/leaseops/leaseverify/internal/resilience"
	"github.com/leaseops/leaseverify/pkg/anthropic"
)

type fakeConn struct {
	clicks    []string
	values    map[string]string
	exists    map[string]bool
	existsErr error
	clickErr  map[string]error
	popupURL  string
	html      string
	closed    bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		values:   make(map[string]string),
		exists:   make(map[string]bool),
		clickErr: make(map[string]error),
		html:     "<html><td>record</td></html>",
	}
}

func (c *fakeConn) Click(_ context.Context, selector string) error {
	if err := c.clickErr[selector]; err != nil {
		return err
	}
	c.clicks = append(c.clicks, selector)
	return nil
}

func (c *fakeConn) SetValue(_ context.Context, selector, value string) error {
	c.values[selector] = value
	return nil
}

func (c *fakeConn) Exists(_ context.Context, selector string) (bool, error) {
	if c.existsErr != nil {
		return false, c.existsErr
	}
	return c.exists[selector], nil
}

func (c *fakeConn) OpenRecord(ctx context.Context, selector string) (string, error) {
	if err := c.Click(ctx, selector); err != nil {
		return "", err
	}
	return c.popupURL, nil
}

func (c *fakeConn) Snapshot(_ context.Context) (string, error) {
	return c.html, nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

type fakeDriver struct {
	opens   []string
	conns   map[string]*fakeConn
	openErr error
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{conns: make(map[string]*fakeConn)}
}

func (d *fakeDriver) Open(_ context.Context, identity string, _ config.SystemConfig) (Conn, error) {
	d.opens = append(d.opens, identity)
	if d.openErr != nil {
		return nil, d.openErr
	}
	conn := newFakeConn()
	conn.exists["#result"] = true
	conn.exists["#record"] = true
	d.conns[identity] = conn
	return conn, nil
}

type stubLLM struct {
	reply string
}

func (s *stubLLM) CreateMessage(_ context.Context, _ anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: s.reply}},
	}, nil
}

func testSystems() map[string]config.SystemConfig {
	sys := config.SystemConfig{
		BaseURL:        "https://portal.example",
		MenuSelector:   "#menu",
		SearchSelector: "#search",
		SubmitSelector: "#submit",
		ResultSelector: "#result",
		RecordSelector: "#record",
		PromptID:       extract.PromptPortalRecord,
	}
	return map[string]config.SystemConfig{"leaser": sys, "meterhub": sys}
}

func fastPoll() resilience.PollConfig {
	return resilience.PollConfig{MaxAttempts: 2, Interval: time.Millisecond}
}

func newTestFetcher(t *testing.T, driver *fakeDriver, reply string) (*Fetcher, *SessionCache) {
	t.Helper()
	cache := NewSessionCache(driver, testSystems())
	t.Cleanup(cache.Close)
	adapter := extract.NewAdapter(nil, &stubLLM{reply: reply}, "claude-haiku-4-5", 1024)
	return NewFetcher(cache, adapter, testSystems(), fastPoll()), cache
}

const recordReply = "```json\n{\"Contract Number\": \"100/LO2024/5\", \"Tenant\": \"Acme\"}\n```"

func TestFetcherHappyPath(t *testing.T) {
	driver := newFakeDriver()
	fetcher, _ := newTestFetcher(t, driver, recordReply)

	rec, err := fetcher.Fetch(context.Background(), "leaser", "100_LO2024_5")
	require.NoError(t, err)

	assert.Equal(t, "100/LO2024/5", rec.Fields.GetString("Contract Number"))
	assert.Equal(t, "Acme", rec.Fields.GetString("Tenant"))

	conn := driver.conns["leaser"]
	// The portal is searched with the display form of the key.
	assert.Equal(t, "100/LO2024/5", conn.values["#search"])
	assert.Contains(t, conn.clicks, "#menu")
	assert.Contains(t, conn.clicks, "#submit")
}

func TestFetcherReusesSession(t *testing.T) {
	driver := newFakeDriver()
	fetcher, _ := newTestFetcher(t, driver, recordReply)

	_, err := fetcher.Fetch(context.Background(), "leaser", "100_LO2024_5")
	require.NoError(t, err)
	_, err = fetcher.Fetch(context.Background(), "leaser", "200_LO2024_9")
	require.NoError(t, err)

	assert.Equal(t, []string{"leaser"}, driver.opens, "one login per identity")
}

func TestFetcherSeparateIdentities(t *testing.T) {
	driver := newFakeDriver()
	fetcher, _ := newTestFetcher(t, driver, recordReply)

	_, err := fetcher.Fetch(context.Background(), "leaser", "100_LO2024_5")
	require.NoError(t, err)
	_, err = fetcher.Fetch(context.Background(), "meterhub", "100_LO2024_5")
	require.NoError(t, err)

	assert.Len(t, driver.opens, 2)
}

func TestSessionCacheEvict(t *testing.T) {
	driver := newFakeDriver()
	fetcher, cache := newTestFetcher(t, driver, recordReply)

	_, err := fetcher.Fetch(context.Background(), "leaser", "100_LO2024_5")
	require.NoError(t, err)

	first := driver.conns["leaser"]
	cache.Evict("leaser")
	assert.True(t, first.closed)

	_, err = fetcher.Fetch(context.Background(), "leaser", "100_LO2024_5")
	require.NoError(t, err)
	assert.Len(t, driver.opens, 2, "eviction forces a fresh login")
}

func TestSessionCacheLoginFailure(t *testing.T) {
	driver := newFakeDriver()
	driver.openErr = errors.New("bad credentials")
	cache := NewSessionCache(driver, testSystems())
	t.Cleanup(cache.Close)

	_, err := cache.Acquire(context.Background(), "leaser")
	require.Error(t, err)

	var auth *resilience.AuthenticationFailure
	require.ErrorAs(t, err, &auth)
	assert.Equal(t, "leaser", auth.Identity)
}

func TestSessionCacheUnknownIdentity(t *testing.T) {
	cache := NewSessionCache(newFakeDriver(), testSystems())
	t.Cleanup(cache.Close)

	_, err := cache.Acquire(context.Background(), "nosuch")
	var auth *resilience.AuthenticationFailure
	require.ErrorAs(t, err, &auth)
}

func TestFetcherResultNotFound(t *testing.T) {
	driver := newFakeDriver()
	fetcher, _ := newTestFetcher(t, driver, recordReply)

	// Log in first so we can flip the result selector off.
	_, err := fetcher.Fetch(context.Background(), "leaser", "100_LO2024_5")
	require.NoError(t, err)
	driver.conns["leaser"].exists["#result"] = false

	_, err = fetcher.Fetch(context.Background(), "leaser", "999_LO2024_1")
	var nf *resilience.FetchNotFound
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "result row", nf.What)
	assert.Equal(t, "999/LO2024/1", nf.SearchKey)
}

func TestFetcherRecordViewNotFound(t *testing.T) {
	driver := newFakeDriver()
	fetcher, _ := newTestFetcher(t, driver, recordReply)

	_, err := fetcher.Fetch(context.Background(), "leaser", "100_LO2024_5")
	require.NoError(t, err)
	driver.conns["leaser"].exists["#record"] = false

	_, err = fetcher.Fetch(context.Background(), "leaser", "100_LO2024_5")
	var nf *resilience.FetchNotFound
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "record view", nf.What)
}

func TestFetcherStepTimeout(t *testing.T) {
	driver := newFakeDriver()
	fetcher, _ := newTestFetcher(t, driver, recordReply)

	_, err := fetcher.Fetch(context.Background(), "leaser", "100_LO2024_5")
	require.NoError(t, err)
	driver.conns["leaser"].clickErr["#menu"] = context.DeadlineExceeded

	_, err = fetcher.Fetch(context.Background(), "leaser", "100_LO2024_5")
	var timeout *resilience.FetchTimeout
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "open menu", timeout.Step)
}

func TestFetcherPassesThroughConnErrors(t *testing.T) {
	driver := newFakeDriver()
	fetcher, _ := newTestFetcher(t, driver, recordReply)

	_, err := fetcher.Fetch(context.Background(), "leaser", "100_LO2024_5")
	require.NoError(t, err)

	stale := errors.New("target closed")
	driver.conns["leaser"].existsErr = stale

	_, err = fetcher.Fetch(context.Background(), "leaser", "100_LO2024_5")
	require.ErrorIs(t, err, stale, "non-timeout errors surface for eviction handling")
}
