package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type loggedCall struct {
	level string
	msg   string
	args  []any
}

type fakeLogger struct {
	calls []loggedCall
}

func (f *fakeLogger) Info(msg string, v ...any) {
	f.calls = append(f.calls, loggedCall{level: "info", msg: msg, args: v})
}

func (f *fakeLogger) Warn(msg string, v ...any) {
	f.calls = append(f.calls, loggedCall{level: "warn", msg: msg, args: v})
}

func TestLoggerMiddleware(t *testing.T) {
	request := func(t *testing.T, status int) *fakeLogger {
		logger := &fakeLogger{}

		h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			_, err := w.Write([]byte("hi"))
			require.NoError(t, err, "should write response")
		})

		middleware := LoggerMiddleware(logger)
		srv := httptest.NewServer(middleware(h))
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/test")
		require.NoError(t, err, "should make request to test server")
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err, "should read response body")
		defer resp.Body.Close() // nolint:errcheck

		require.Equalf(t, status, resp.StatusCode, "unexpected status. Resp: %s", string(body))
		require.Equal(t, "hi", string(body), "should return 'hi' in response")

		return logger
	}

	t.Run("log request fields", func(t *testing.T) {
		logger := request(t, http.StatusTeapot)

		require.Len(t, logger.calls, 1, "logger should be called once")
		call := logger.calls[0]
		require.Equal(t, "info", call.level)
		require.Equal(t, "got HTTP request", call.msg, "logger should log 'got HTTP request'")

		args := call.args
		require.Len(t, args, 12, "logger should log 12 fields")
		require.Equal(t, "method", args[0])
		require.Equal(t, "GET", args[1])
		require.Equal(t, "uri", args[2])
		require.Equal(t, "/test", args[3])
		require.Equal(t, "ip", args[4])
		require.Equal(t, "127.0.0.1", args[5])
		require.Equal(t, "duration", args[6])
		require.NotEmpty(t, args[7], "duration should not be empty")
		require.Equal(t, "status", args[8])
		require.Equal(t, http.StatusTeapot, args[9])
		require.Equal(t, "size", args[10])
		require.Equal(t, 2, args[11], "size should be 2 (length of 'hi')")
	})

	t.Run("server errors at warn level", func(t *testing.T) {
		logger := request(t, http.StatusInternalServerError)

		require.Len(t, logger.calls, 1)
		require.Equal(t, "warn", logger.calls[0].level)
	})
}
