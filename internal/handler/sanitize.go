package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#x27;",
	"/", "&#x2F;",
)

// Secrets, opaque tokens and addresses are compared byte for byte, so they
// are never escaped.
var rawFields = map[string]bool{
	"email":           true,
	"password":        true,
	"currentPassword": true,
	"newPassword":     true,
	"idToken":         true,
	"refreshToken":    true,
}

// Sanitize strips operator-like keys ("$where", "a.b") from JSON bodies and
// query strings, HTML-escapes string values, and keeps only the last value
// of a repeated query parameter.
func Sanitize() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			if req.URL.RawQuery != "" {
				req.URL.RawQuery = sanitizeQuery(req.URL.Query()).Encode()
			}

			if req.Body != nil && req.ContentLength != 0 &&
				strings.HasPrefix(req.Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
				body, err := io.ReadAll(req.Body)
				if err != nil {
					return err
				}
				body = sanitizeJSON(body)
				req.Body = io.NopCloser(bytes.NewReader(body))
				req.ContentLength = int64(len(body))
				req.Header.Set(echo.HeaderContentLength, strconv.Itoa(len(body)))
			}

			return next(c)
		}
	}
}

func sanitizeQuery(q url.Values) url.Values {
	out := make(url.Values, len(q))
	for key, values := range q {
		if blockedKey(key) || len(values) == 0 {
			continue
		}
		last := values[len(values)-1]
		if !rawFields[key] {
			last = htmlEscaper.Replace(last)
		}
		out.Set(key, last)
	}
	return out
}

// sanitizeJSON returns body unchanged when it is not valid JSON; binding
// reports the error.
func sanitizeJSON(body []byte) []byte {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return body
	}
	out, err := json.Marshal(sanitizeValue("", v))
	if err != nil {
		return body
	}
	return out
}

func sanitizeValue(key string, v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, inner := range t {
			if blockedKey(k) {
				delete(t, k)
				continue
			}
			t[k] = sanitizeValue(k, inner)
		}
		return t
	case []any:
		for i, inner := range t {
			t[i] = sanitizeValue(key, inner)
		}
		return t
	case string:
		if rawFields[key] {
			return t
		}
		return htmlEscaper.Replace(t)
	default:
		return t
	}
}

func blockedKey(k string) bool {
	return strings.HasPrefix(k, "$") || strings.Contains(k, ".")
}
