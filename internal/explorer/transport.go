package explorer

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// maxLoggedBody bounds how much of a response body is logged.
const maxLoggedBody = 2048

// LoggingTransport logs each request and response at debug level. The
// apikey query parameter is redacted.
type LoggingTransport struct {
	next   http.RoundTripper
	logger *logrus.Entry
}

// NewLoggingTransport wraps next, or http.DefaultTransport when nil.
func NewLoggingTransport(next http.RoundTripper, logger *logrus.Entry) *LoggingTransport {
	if next == nil {
		next = http.DefaultTransport
	}
	if logger == nil {
		logger = logrus.WithField("component", "http")
	}
	return &LoggingTransport{next: next, logger: logger}
}

// RoundTrip logs req and its response, then returns the response unchanged.
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	log := t.logger.WithFields(logrus.Fields{
		"method": req.Method,
		"url":    redact(req),
	})
	log.Debug("request")

	resp, err := t.next.RoundTrip(req)
	if err != nil {
		log.WithError(err).WithField("elapsed", time.Since(start)).Debug("request failed")
		return nil, err
	}

	if t.logger.Logger.IsLevelEnabled(logrus.DebugLevel) {
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, readErr
		}
		resp.Body = io.NopCloser(bytes.NewReader(body))

		logged := body
		if len(logged) > maxLoggedBody {
			logged = logged[:maxLoggedBody]
		}
		log.WithFields(logrus.Fields{
			"status":  resp.StatusCode,
			"elapsed": time.Since(start),
			"body":    string(logged),
		}).Debug("response")
	}
	return resp, nil
}

func redact(req *http.Request) string {
	u := *req.URL
	q := u.Query()
	if q.Has("apikey") {
		q.Set("apikey", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
