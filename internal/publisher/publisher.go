// Package publisher holds the outbound side of the export: platform clients
// that turn a normalized listing request into an external post.
package publisher

import (
	"context"
	"errors"
	"fmt"

	"landpub/internal/store"
)

// Kind classifies platform failures so the drainer can branch on a type
// instead of matching message text.
type Kind int

const (
	KindUnknown Kind = iota
	KindRateLimited
	KindNotFound
	KindUnauthorized
	KindInvalid
	KindNetwork
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindInvalid:
		return "invalid"
	case KindNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// Error is a classified platform failure. Code carries the platform's own
// error code when one was returned.
type Error struct {
	Kind    Kind
	Code    int
	Message string
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s (code %d): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// KindOf extracts the failure kind from any error returned by a Publisher.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// Request is a normalized publish request built from one listing.
type Request struct {
	ListingID       int64
	Title           string
	CadastralNumber string
	AreaSqM         float64
	Price           int64
	Location        string
	District        string
	HasElectricity  bool
	HasGas          bool
	HasWater        bool
	// ImageURL is empty when the listing has no usable image.
	ImageURL string
}

// Result identifies the created external post.
type Result struct {
	ExternalPostID string
	ExternalURL    string
}

type Publisher interface {
	Platform() string
	Publish(ctx context.Context, req Request) (*Result, error)
	DeletePost(ctx context.Context, externalPostID string) error
}

// BuildRequest normalizes a listing into a publish request. The map-rendered
// image wins over the generic listing image; a listing without either still
// publishes, just without an image.
func BuildRequest(l store.Listing) Request {
	req := Request{
		ListingID:       l.ID,
		Title:           l.Title,
		CadastralNumber: l.CadastralNumber,
		AreaSqM:         l.AreaSqM,
		Price:           l.Price,
		Location:        l.Location,
		District:        l.District,
		HasElectricity:  l.HasElectricity,
		HasGas:          l.HasGas,
		HasWater:        l.HasWater,
	}
	if l.MapImageURL != nil && *l.MapImageURL != "" {
		req.ImageURL = *l.MapImageURL
	} else if l.ImageURL != nil && *l.ImageURL != "" {
		req.ImageURL = *l.ImageURL
	}
	return req
}

// Message renders the post body shared by all platforms.
func (r Request) Message() string {
	msg := fmt.Sprintf("%s\n\nArea: %.2f sq m\nPrice: %d RUB\nLocation: %s, %s",
		r.Title, r.AreaSqM, r.Price, r.Location, r.District)
	if r.CadastralNumber != "" {
		msg += fmt.Sprintf("\nCadastral number: %s", r.CadastralNumber)
	}
	utilities := ""
	if r.HasElectricity {
		utilities += " electricity"
	}
	if r.HasGas {
		utilities += " gas"
	}
	if r.HasWater {
		utilities += " water"
	}
	if utilities != "" {
		msg += fmt.Sprintf("\nUtilities:%s", utilities)
	}
	return msg
}
