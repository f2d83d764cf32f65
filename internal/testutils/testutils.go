// Package testutils provides shared test infrastructure: a fake identity
// provider and product download service, and (with the integration build
// tag) a Minio container.
package testutils

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// Hook can take over a product request. attempt counts GET requests for
// the id, starting at 1. Returning false falls through to normal serving.
type Hook func(w http.ResponseWriter, r *http.Request, attempt int) bool

// ProductServer serves products at /odata/v1/Products({id})/$value with
// range support, and password grants at /token.
type ProductServer struct {
	*httptest.Server

	mu        sync.Mutex
	products  map[string][]byte
	hooks     map[string]Hook
	requests  map[string]int
	ranges    map[string][]string
	valid     string
	exchanges int
}

// NewProductServer starts a server holding the given products.
func NewProductServer(t *testing.T, products map[string][]byte) *ProductServer {
	t.Helper()

	s := &ProductServer{
		products: products,
		hooks:    make(map[string]Hook),
		requests: make(map[string]int),
		ranges:   make(map[string][]string),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serveHTTP))
	t.Cleanup(s.Close)
	return s
}

// TokenURL is the password grant endpoint.
func (s *ProductServer) TokenURL() string {
	return s.URL + "/token"
}

// DownloadURL is the OData service root.
func (s *ProductServer) DownloadURL() string {
	return s.URL + "/odata/v1"
}

// Hook installs fn for requests of id.
func (s *ProductServer) Hook(id string, fn Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks[id] = fn
}

// IssueToken makes a new token the only valid one, as an exchange would.
func (s *ProductServer) IssueToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueLocked()
}

// Expire invalidates the current token without issuing a new one.
func (s *ProductServer) Expire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.valid = "expired-" + s.valid
}

// Requests returns how many GET requests id received.
func (s *ProductServer) Requests(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[id]
}

// Ranges returns the Range headers id was requested with ("" for none).
func (s *ProductServer) Ranges(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ranges[id]...)
}

// Exchanges returns how many password grants were answered.
func (s *ProductServer) Exchanges() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exchanges
}

func (s *ProductServer) issueLocked() string {
	s.exchanges++
	s.valid = fmt.Sprintf("tok-%d", s.exchanges)
	return s.valid
}

func (s *ProductServer) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/token" {
		s.serveToken(w, r)
		return
	}

	id, ok := productID(r.URL.Path)
	if !ok || r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	s.mu.Lock()
	s.requests[id]++
	attempt := s.requests[id]
	s.ranges[id] = append(s.ranges[id], r.Header.Get("Range"))
	hook := s.hooks[id]
	data, exists := s.products[id]
	valid := s.valid
	s.mu.Unlock()

	if hook != nil && hook(w, r, attempt) {
		return
	}
	if r.Header.Get("Authorization") != "Bearer "+valid || valid == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if !exists {
		http.NotFound(w, r)
		return
	}

	ServeProduct(w, r, data, -1)
}

func (s *ProductServer) serveToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "password" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if r.PostForm.Get("username") == "" || r.PostForm.Get("password") == "bad" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"invalid_grant"}`)
		return
	}

	s.mu.Lock()
	tok := s.issueLocked()
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"access_token":%q,"refresh_token":"refresh-%s","token_type":"Bearer","expires_in":600}`, tok, tok)
}

// ServeProduct writes data honouring an open-ended Range header. The
// declared Content-Length always covers the rest of the object; when limit
// is not negative only limit bytes are actually sent, which the client sees
// as a dropped connection.
func ServeProduct(w http.ResponseWriter, r *http.Request, data []byte, limit int) {
	size := int64(len(data))
	start := int64(0)

	if rh := r.Header.Get("Range"); rh != "" {
		from := strings.TrimSuffix(strings.TrimPrefix(rh, "bytes="), "-")
		n, err := strconv.ParseInt(from, 10, 64)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if n >= size {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		start = n
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, size-1, size))
	}

	body := data[start:]
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	if start > 0 {
		w.WriteHeader(http.StatusPartialContent)
	}
	if limit >= 0 && limit < len(body) {
		body = body[:limit]
	}
	w.Write(body)
}

// GenerateTestData returns size bytes of a deterministic pattern.
func GenerateTestData(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func productID(path string) (string, bool) {
	i := strings.Index(path, "/Products(")
	if i < 0 || !strings.HasSuffix(path, ")/$value") {
		return "", false
	}
	id := strings.TrimSuffix(path[i+len("/Products("):], ")/$value")
	return id, id != ""
}
