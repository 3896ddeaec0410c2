package publisher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"landpub/internal/store"
)

func strPtr(s string) *string { return &s }

func TestBuildRequestPrefersMapImage(t *testing.T) {
	l := store.Listing{
		ID:          1,
		ImageURL:    strPtr("https://img.example/plot.jpg"),
		MapImageURL: strPtr("https://img.example/map.png"),
	}
	req := BuildRequest(l)
	if req.ImageURL != "https://img.example/map.png" {
		t.Errorf("expected map image, got %q", req.ImageURL)
	}
}

func TestBuildRequestFallsBackToListingImage(t *testing.T) {
	l := store.Listing{ID: 1, ImageURL: strPtr("https://img.example/plot.jpg")}
	req := BuildRequest(l)
	if req.ImageURL != "https://img.example/plot.jpg" {
		t.Errorf("expected listing image, got %q", req.ImageURL)
	}
}

func TestBuildRequestNoImage(t *testing.T) {
	empty := ""
	l := store.Listing{ID: 1, MapImageURL: &empty}
	req := BuildRequest(l)
	if req.ImageURL != "" {
		t.Errorf("expected empty image url, got %q", req.ImageURL)
	}
}

func TestMessageIncludesUtilities(t *testing.T) {
	req := Request{
		Title:          "Plot by the lake",
		AreaSqM:        1200,
		Price:          450000,
		Location:       "Zelenogradsk",
		District:       "Zelenogradsky",
		HasElectricity: true,
		HasWater:       true,
	}
	msg := req.Message()
	if !strings.Contains(msg, "electricity") || !strings.Contains(msg, "water") {
		t.Errorf("message missing utilities: %q", msg)
	}
	if strings.Contains(msg, "gas") {
		t.Errorf("message lists absent utility: %q", msg)
	}
	if strings.Contains(msg, "Cadastral") {
		t.Errorf("message lists empty cadastral number: %q", msg)
	}
}

func TestMapVKError(t *testing.T) {
	cases := []struct {
		code int
		want Kind
	}{
		{vkErrTooManyPerSec, KindRateLimited},
		{vkErrUnauthorized, KindUnauthorized},
		{vkErrAccessDenied, KindUnauthorized},
		{vkErrInvalidParams, KindInvalid},
		{vkErrWallPostDenied, KindInvalid},
		{9999, KindUnknown},
	}
	for _, c := range cases {
		if got := mapVKError(c.code); got != c.want {
			t.Errorf("code %d: got %s, want %s", c.code, got, c.want)
		}
	}
}

func TestMapTelegramError(t *testing.T) {
	cases := []struct {
		code int
		want Kind
	}{
		{429, KindRateLimited},
		{401, KindUnauthorized},
		{403, KindUnauthorized},
		{400, KindInvalid},
		{404, KindNotFound},
		{500, KindUnknown},
	}
	for _, c := range cases {
		if got := mapTelegramError(c.code); got != c.want {
			t.Errorf("code %d: got %s, want %s", c.code, got, c.want)
		}
	}
}

func TestKindOf(t *testing.T) {
	err := fmt.Errorf("publish listing 7: %w", &Error{Kind: KindRateLimited, Code: 6, Message: "Too many requests per second"})
	if KindOf(err) != KindRateLimited {
		t.Errorf("expected wrapped error to classify as rate_limited")
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Errorf("expected plain error to classify as unknown")
	}
}

type failingPublisher struct{ calls int }

func (f *failingPublisher) Platform() string { return "test" }
func (f *failingPublisher) Publish(ctx context.Context, req Request) (*Result, error) {
	f.calls++
	return nil, &Error{Kind: KindNetwork, Message: "connection refused"}
}
func (f *failingPublisher) DeletePost(ctx context.Context, id string) error { return nil }

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &failingPublisher{}
	p := WithBreaker(inner)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := p.Publish(ctx, Request{ListingID: 1})
		if err == nil {
			t.Fatal("expected failure")
		}
	}
	if inner.calls >= 10 {
		t.Errorf("breaker never opened, inner saw %d calls", inner.calls)
	}
	_, err := p.Publish(ctx, Request{ListingID: 1})
	if KindOf(err) != KindNetwork {
		t.Errorf("open breaker should surface as network kind, got %s", KindOf(err))
	}
}
