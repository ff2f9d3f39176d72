package server

import (
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestSanitizeBase(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/", ""},
		{"api", "/api"},
		{"/api", "/api"},
		{"/api/", "/api"},
		{" api ", "/api"},
	}
	for _, c := range cases {
		if got := sanitizeBase(c.in); got != c.want {
			t.Fatalf("sanitizeBase(%q)=%q want %q", c.in, got, c.want)
		}
	}
}

func TestIsSafeAbsPath(t *testing.T) {
	// empty means "keep the current path" on update
	if !isSafeAbsPath("") {
		t.Fatalf("empty should be allowed")
	}
	abs := t.TempDir()
	if !isSafeAbsPath(abs) {
		t.Fatalf("abs clean path should be allowed: %s", abs)
	}
	sep := string(filepath.Separator)
	bad := sep + "tmp" + sep + ".." + sep + "etc"
	if isSafeAbsPath(bad) {
		t.Fatalf("path with traversal should be rejected: %s", bad)
	}
}

func TestIsSafeAbsPathApplicationDirs(t *testing.T) {
	cases := []struct {
		path string
		ok   bool
	}{
		{"/srv/apps/api", true},
		{"/srv/apps/api/", true},
		{"/home/deploy/my-app_v2", true},
		{"/var/www/shop.example.com", true},
		{"/", true},
		{"srv/apps/api", false},
		{"./api", false},
		{"~/apps/api", false},
		{"../api", false},
		{"/srv/apps/../etc", false},
		{"/srv/apps/api/..", false},
		{"/srv/./apps", false},
		{"/srv//apps", false},
	}
	for _, c := range cases {
		if got := isSafeAbsPath(c.path); got != c.ok {
			t.Fatalf("isSafeAbsPath(%q)=%v want %v", c.path, got, c.ok)
		}
	}
}

func TestWriteJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", func(c *gin.Context) { writeJSON(c, 201, map[string]any{"a": 1}) })
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/x", nil))
	if rec.Code != 201 {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type: %s", ct)
	}
}
