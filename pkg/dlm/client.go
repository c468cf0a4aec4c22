package dlm

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"io"
	"io/ioutil"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/pkg/errors"
	"github.com/schlitzered/DLMEngineUpdater/pkg/internal/logfields"
	"github.com/schlitzered/DLMEngineUpdater/pkg/logging"
	"github.com/schlitzered/DLMEngineUpdater/pkg/phase"
	"github.com/sirupsen/logrus"
)

const (
	requestTimeout = time.Second * 10

	releaseAttempts = 10
	releaseDelay    = time.Second * 5

	// maxBodyLog bounds how much of a response body ends up in the log.
	maxBodyLog = 4096
)

var (
	// ErrAcquireFailed is returned when the lock could not be acquired and
	// waiting is disabled.
	ErrAcquireFailed = errors.New("could not acquire lock")
	// ErrWaitExceeded is returned when waiting for the lock took longer than
	// the configured maximum.
	ErrWaitExceeded = errors.New("exceeded max wait time")
	// ErrReleaseFailed is returned when the lock could not be released.
	ErrReleaseFailed = errors.New("could not release lock")

	errAttemptFailed = errors.New("acquire attempt failed")
)

// Config describes the lock to take and how to reach the lock service.
type Config struct {
	// Endpoint is the base URL of the lock service, ending in a slash.
	Endpoint string
	LockName string
	SecretID string
	Secret   string
	// CA is a PEM bundle to verify the service against instead of the
	// system roots.
	CA string
	// Wait keeps retrying a failed acquire until WaitMax seconds were spent.
	Wait    bool
	WaitMax int
	// Noop turns acquire and release into successful no-ops.
	Noop bool
	// Identity is the name the lock is held under, the host's FQDN when
	// empty.
	Identity string
}

// Client acquires and releases one named lock.
type Client struct {
	log      logging.Logger
	cfg      Config
	http     *http.Client
	identity string

	intn            func(int) int
	waitUnit        time.Duration
	releaseDelay    time.Duration
	releaseAttempts uint
	waited          int
}

type lockPayload struct {
	AcquiredBy string `json:"acquired_by"`
}

// New creates a Client for cfg.
func New(log logging.Logger, cfg Config) (*Client, error) {
	identity := cfg.Identity
	if identity == "" && !cfg.Noop {
		fqdn, err := FQDN()
		if err != nil {
			return nil, errors.Wrap(err, "unable to determine host identity")
		}
		identity = fqdn
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.CA != "" {
		pool, err := loadCA(cfg.CA)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: pool}
	}
	if cfg.Endpoint != "" && !strings.HasSuffix(cfg.Endpoint, "/") {
		cfg.Endpoint += "/"
	}
	return &Client{
		log:      log,
		cfg:      cfg,
		identity: identity,
		http: &http.Client{
			Timeout:   requestTimeout,
			Transport: transport,
		},
		waitUnit:        time.Second,
		releaseDelay:    releaseDelay,
		releaseAttempts: releaseAttempts,
	}, nil
}

func loadCA(path string) (*x509.CertPool, error) {
	pem, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read CA bundle")
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.Errorf("no certificates found in CA bundle %q", path)
	}
	return pool, nil
}

// LockName is the name of the managed lock.
func (c *Client) LockName() string {
	return c.cfg.LockName
}

// Identity is the name the lock is held under.
func (c *Client) Identity() string {
	return c.identity
}

// LockURL is the lock's resource on the lock service.
func (c *Client) LockURL() string {
	return c.cfg.Endpoint + "locks/" + c.cfg.LockName
}

// Waited is the accounted time in seconds the last Acquire spent waiting.
func (c *Client) Waited() int {
	return c.waited
}

func (c *Client) logger(p phase.Phase) logrus.FieldLogger {
	return c.log.WithFields(logfields.InPhase(p.String())).WithField(logfields.Lock, c.cfg.LockName)
}

// Acquire takes the lock. A lock already held under this host's identity
// counts as acquired, so a run interrupted after acquiring can resume.
func (c *Client) Acquire(ctx context.Context) error {
	log := c.logger(phase.LockGet)
	c.waited = 0
	if c.cfg.Noop {
		log.Info("noop mode acquire")
		return nil
	}
	log.Debugf("waiting is set to %t", c.cfg.Wait)
	log.Debugf("max wait time is set to %d", c.cfg.WaitMax)

	if !c.cfg.Wait {
		if !c.tryAcquire(ctx, log) {
			log.Error("quitting")
			return ErrAcquireFailed
		}
		return nil
	}

	budget := newWaitBudget(c.cfg.WaitMax, c.waitUnit, c.intn)
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if c.tryAcquire(ctx, log) {
			return struct{}{}, nil
		}
		return struct{}{}, errAttemptFailed
	},
		backoff.WithBackOff(budget),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(_ error, next time.Duration) {
			log.Errorf("sleeping %d seconds", int(next/c.waitUnit))
		}),
	)
	c.waited = budget.Waited()
	if err == nil {
		return nil
	}
	if errors.Is(err, errAttemptFailed) {
		log.WithField("waited", c.waited).Error("exceeded max wait time, quitting")
		return ErrWaitExceeded
	}
	return errors.Wrap(err, "waiting for lock")
}

func (c *Client) tryAcquire(ctx context.Context, log logrus.FieldLogger) bool {
	log.Infof("trying to acquire: %s", c.LockURL())
	if c.heldByUs(ctx, log) {
		return true
	}

	body, err := json.Marshal(lockPayload{AcquiredBy: c.identity})
	if err != nil {
		log.WithError(err).Error("unable to encode lock request")
		return false
	}
	status, respBody, err := c.do(ctx, http.MethodPost, body)
	if err != nil {
		log.WithError(err).Error("request error, retrying")
		return false
	}
	log.Debugf("http status_code is: %d", status)
	log.Debugf("http_response is %s", respBody)
	if status != http.StatusCreated {
		log.Errorf("could not acquire lock: %s", respBody)
		return false
	}
	log.Info("success acquiring lock")
	return true
}

// heldByUs reports whether the lock service shows the lock held under our
// identity.
func (c *Client) heldByUs(ctx context.Context, log logrus.FieldLogger) bool {
	log.Info("checking if lock has been acquired")
	status, body, err := c.do(ctx, http.MethodGet, nil)
	if err != nil {
		log.WithError(err).Error("request error checking lock")
		return false
	}
	if status != http.StatusOK {
		log.Info("lock currently not present in the system")
		return false
	}
	var held lockPayload
	if err := json.Unmarshal(body, &held); err != nil {
		log.WithError(err).Errorf("unable to decode lock: %s", body)
		return false
	}
	if held.AcquiredBy != c.identity {
		log.Infof("lock is currently acquired by %s", held.AcquiredBy)
		return false
	}
	log.Info("lock has been already acquired by this instance")
	return true
}

// Release gives up the lock. Requests failing in transport are retried a fixed
// number of times, a refusal from the lock service is final.
func (c *Client) Release(ctx context.Context) error {
	log := c.logger(phase.LockRelease)
	if c.cfg.Noop {
		log.Info("noop mode release")
		return nil
	}
	log.Infof("trying to release: %s", c.LockURL())

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		status, body, err := c.do(ctx, http.MethodDelete, nil)
		if err != nil {
			log.WithError(err).Error("request error, retrying")
			return struct{}{}, err
		}
		log.Debugf("http status_code is: %d", status)
		log.Debugf("http_response is %s", body)
		if status != http.StatusOK {
			log.Errorf("could not release lock: %s", body)
			return struct{}{}, backoff.Permanent(errors.Wrapf(ErrReleaseFailed, "status %d", status))
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(c.releaseDelay)),
		backoff.WithMaxTries(c.releaseAttempts),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil {
		if errors.Is(err, ErrReleaseFailed) {
			return err
		}
		log.WithError(err).Error("could not release lock")
		return errors.Wrap(ErrReleaseFailed, err.Error())
	}
	log.Info("success releasing lock")
	return nil
}

// do performs a request against the lock resource. Transport failures are
// returned as errors, any HTTP status is returned to the caller.
func (c *Client) do(ctx context.Context, method string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.LockURL(), reader)
	if err != nil {
		return 0, nil, errors.Wrap(err, "unable to build request")
	}
	req.Header.Set("x-secret-id", c.cfg.SecretID)
	req.Header.Set("x-secret", c.cfg.Secret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	if logging.Debuggable {
		if dump, err := httputil.DumpResponse(resp, false); err == nil {
			c.log.WithField("method", method).Debugf("lock service response:\n%s", dump)
		}
	}

	respBody, err := ioutil.ReadAll(io.LimitReader(resp.Body, maxBodyLog))
	if err != nil {
		return 0, nil, errors.Wrap(err, "unable to read response")
	}
	return resp.StatusCode, respBody, nil
}
