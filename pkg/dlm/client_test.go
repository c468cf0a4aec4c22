package dlm

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/schlitzered/DLMEngineUpdater/pkg/internal/testoutput"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

const (
	testIdentity = "host1.example.com"
	testLock     = "patchday"
)

// testService is a minimal lock service recording the requests it receives.
type testService struct {
	mu       sync.Mutex
	holder   string
	requests []string
	payloads []lockPayload
	headers  []http.Header

	postStatus   int
	deleteStatus int
}

func (s *testService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, r.Method+" "+r.URL.Path)
	s.headers = append(s.headers, r.Header.Clone())
	if r.URL.Path != "/locks/"+testLock {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodGet:
		if s.holder == "" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"detail":"not found"}`))
			return
		}
		json.NewEncoder(w).Encode(lockPayload{AcquiredBy: s.holder})
	case http.MethodPost:
		var p lockPayload
		body, _ := ioutil.ReadAll(r.Body)
		json.Unmarshal(body, &p)
		s.payloads = append(s.payloads, p)
		if s.postStatus != 0 {
			w.WriteHeader(s.postStatus)
			w.Write([]byte(`{"detail":"refused"}`))
			return
		}
		if s.holder != "" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"detail":"lock exists"}`))
			return
		}
		s.holder = p.AcquiredBy
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(p)
	case http.MethodDelete:
		if s.deleteStatus != 0 {
			w.WriteHeader(s.deleteStatus)
			w.Write([]byte(`{}`))
			return
		}
		s.holder = ""
		w.Write([]byte(`{}`))
	}
}

func (s *testService) count(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if r == method+" /locks/"+testLock {
			n++
		}
	}
	return n
}

func testClient(t *testing.T, endpoint string, mutate ...func(*Config)) *Client {
	cfg := Config{
		Endpoint: endpoint,
		LockName: testLock,
		SecretID: "id",
		Secret:   "s3cret",
		Identity: testIdentity,
		WaitMax:  3600,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := New(testoutput.Logger(t, "dlm"), cfg)
	assert.NilError(t, err)
	c.waitUnit = time.Microsecond
	c.releaseDelay = time.Microsecond
	return c
}

func TestAcquireFreeLock(t *testing.T) {
	svc := &testService{}
	srv := httptest.NewServer(svc)
	defer srv.Close()

	c := testClient(t, srv.URL)
	assert.NilError(t, c.Acquire(context.Background()))

	assert.DeepEqual(t, svc.requests, []string{"GET /locks/" + testLock, "POST /locks/" + testLock})
	assert.DeepEqual(t, svc.payloads, []lockPayload{{AcquiredBy: testIdentity}})
	post := svc.headers[1]
	assert.Equal(t, post.Get("x-secret-id"), "id")
	assert.Equal(t, post.Get("x-secret"), "s3cret")
	assert.Equal(t, svc.holder, testIdentity)
}

func TestAcquireAlreadyHeldByUs(t *testing.T) {
	svc := &testService{holder: testIdentity}
	srv := httptest.NewServer(svc)
	defer srv.Close()

	c := testClient(t, srv.URL+"/")
	assert.NilError(t, c.Acquire(context.Background()))
	assert.Equal(t, svc.count(http.MethodPost), 0)
	assert.Equal(t, svc.count(http.MethodGet), 1)
}

func TestAcquireHeldByOtherNoWait(t *testing.T) {
	svc := &testService{holder: "host2.example.com"}
	srv := httptest.NewServer(svc)
	defer srv.Close()

	c := testClient(t, srv.URL)
	err := c.Acquire(context.Background())
	assert.Check(t, errors.Cause(err) == ErrAcquireFailed)
	assert.Equal(t, svc.count(http.MethodPost), 1)
	assert.Equal(t, svc.holder, "host2.example.com")
}

func TestAcquireRefusedNoWait(t *testing.T) {
	svc := &testService{postStatus: http.StatusForbidden}
	srv := httptest.NewServer(svc)
	defer srv.Close()

	err := testClient(t, srv.URL).Acquire(context.Background())
	assert.Check(t, errors.Cause(err) == ErrAcquireFailed)
}

func TestAcquireWaitsForOtherHolder(t *testing.T) {
	svc := &testService{holder: "host2.example.com"}
	srv := httptest.NewServer(svc)
	defer srv.Close()

	c := testClient(t, srv.URL, func(cfg *Config) { cfg.Wait = true })
	c.intn = func(n int) int {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		// The other host lets go after the second attempt.
		if len(svc.payloads) >= 2 {
			svc.holder = ""
		}
		return 0
	}
	assert.NilError(t, c.Acquire(context.Background()))
	assert.Equal(t, svc.count(http.MethodPost), 3)
	assert.Equal(t, c.Waited(), 2*(waitSleepMin+waitOverhead))
}

func TestAcquireWaitUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := testClient(t, url, func(cfg *Config) {
		cfg.Wait = true
		cfg.WaitMax = 100
	})
	var sleeps []int
	c.intn = func(n int) int {
		assert.Equal(t, n, waitSleepMax-waitSleepMin+1)
		s := len(sleeps) * 25 % n
		sleeps = append(sleeps, waitSleepMin+s)
		return s
	}
	err := c.Acquire(context.Background())
	assert.Check(t, errors.Cause(err) == ErrWaitExceeded)

	total := 0
	for _, s := range sleeps {
		assert.Check(t, s >= waitSleepMin && s <= waitSleepMax)
		total += s + waitOverhead
	}
	assert.Equal(t, c.Waited(), total)
	assert.Check(t, c.Waited() > 100)
	// The last sleep was the one that pushed the total over the limit.
	assert.Check(t, total-(sleeps[len(sleeps)-1]+waitOverhead) <= 100)
}

func TestAcquireWaitCancelled(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := testClient(t, url, func(cfg *Config) { cfg.Wait = true })
	c.waitUnit = time.Hour
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.Acquire(ctx)
	assert.Check(t, err != nil)
	assert.Check(t, errors.Cause(err) != ErrWaitExceeded)
}

func TestReleaseOK(t *testing.T) {
	svc := &testService{holder: testIdentity}
	srv := httptest.NewServer(svc)
	defer srv.Close()

	assert.NilError(t, testClient(t, srv.URL).Release(context.Background()))
	assert.Equal(t, svc.holder, "")
	assert.DeepEqual(t, svc.requests, []string{"DELETE /locks/" + testLock})
	assert.Equal(t, svc.headers[0].Get("x-secret"), "s3cret")
}

func TestReleaseRefusedIsFinal(t *testing.T) {
	svc := &testService{holder: testIdentity, deleteStatus: http.StatusForbidden}
	srv := httptest.NewServer(svc)
	defer srv.Close()

	err := testClient(t, srv.URL).Release(context.Background())
	assert.Check(t, errors.Is(err, ErrReleaseFailed))
	assert.Equal(t, svc.count(http.MethodDelete), 1)
}

type failingTransport struct {
	calls int
}

func (f *failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	f.calls++
	return nil, errors.New("connection refused")
}

func TestReleaseRetriesTransportErrors(t *testing.T) {
	c := testClient(t, "https://dlm.invalid/api/")
	transport := &failingTransport{}
	c.http.Transport = transport

	err := c.Release(context.Background())
	assert.Check(t, errors.Is(err, ErrReleaseFailed))
	assert.Equal(t, transport.calls, releaseAttempts)
}

func TestNoop(t *testing.T) {
	c := testClient(t, "https://dlm.invalid/", func(cfg *Config) { cfg.Noop = true })
	transport := &failingTransport{}
	c.http.Transport = transport

	assert.NilError(t, c.Acquire(context.Background()))
	assert.NilError(t, c.Release(context.Background()))
	assert.Equal(t, transport.calls, 0)
}

func TestLockURL(t *testing.T) {
	c := testClient(t, "https://dlm.example.com/api/v1")
	assert.Equal(t, c.LockURL(), "https://dlm.example.com/api/v1/locks/"+testLock)
	assert.Equal(t, c.LockName(), testLock)
	assert.Equal(t, c.Identity(), testIdentity)
}

func TestMissingCABundle(t *testing.T) {
	_, err := New(testoutput.Logger(t, "dlm"), Config{CA: "/nonexistent/ca.pem", Identity: testIdentity})
	assert.Check(t, is.ErrorContains(err, "CA bundle"))
}
