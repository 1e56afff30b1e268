package whatsapp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNormalizeJID(t *testing.T) {
	cases := []struct{ in, want string }{
		{"22670000000", "22670000000@s.whatsapp.net"},
		{"+226 70-00-00-00", "22670000000@s.whatsapp.net"},
		{"120363025@g.us", "120363025@g.us"},
		{StatusBroadcast, StatusBroadcast},
		{" 22670000000@s.whatsapp.net", "22670000000@s.whatsapp.net"},
	}
	for _, c := range cases {
		got, err := NormalizeJID(c.in)
		if err != nil || got != c.want {
			t.Errorf("NormalizeJID(%q) = %q, %v; want %q", c.in, got, err, c.want)
		}
	}
	if _, err := NormalizeJID("abc"); err == nil {
		t.Error("expected error for recipient without digits")
	}
}

func TestJIDHelpers(t *testing.T) {
	if !IsGroupJID("120363025@g.us") || IsGroupJID("22670000000@s.whatsapp.net") {
		t.Fatal("IsGroupJID misclassified")
	}
	if got := PhoneFromJID("22670000000:12@s.whatsapp.net"); got != "22670000000" {
		t.Fatalf("PhoneFromJID = %q", got)
	}
}

func TestHTTPMediaFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/cake.png":
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte("\x89PNG\r\n\x1a\n...."))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewHTTPMediaFetcher(5 * time.Second)
	data, mimeType, err := f.Fetch(context.Background(), srv.URL+"/cake.png")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if mimeType != "image/png" || len(data) == 0 {
		t.Fatalf("mime=%q len=%d", mimeType, len(data))
	}

	if _, _, err := f.Fetch(context.Background(), srv.URL+"/missing.png"); err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestMediaPayload(t *testing.T) {
	cases := []struct {
		url  string
		want PayloadKind
	}{
		{"", PayloadText},
		{"https://cdn.example/cake.JPG", PayloadImage},
		{"https://cdn.example/promo.mp4?sig=abc", PayloadVideo},
		{"https://cdn.example/file", PayloadImage},
	}
	for _, c := range cases {
		if got := MediaPayload(c.url, "caption"); got.Kind != c.want || got.Text != "caption" {
			t.Errorf("MediaPayload(%q) = %+v, want kind %s", c.url, got, c.want)
		}
	}
}
