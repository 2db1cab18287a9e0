package pagination

import (
	"errors"
	"testing"
	"time"
)

func TestEncodeDecodeTokenRoundTrip(t *testing.T) {
	type cursor struct {
		ID        string    `json:"id"`
		CreatedAt time.Time `json:"createdAt"`
	}

	created := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	token, err := EncodeToken(cursor{ID: "ord_42", CreatedAt: created})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if token == "" {
		t.Fatalf("expected non-empty token")
	}

	var decoded cursor
	if err := DecodeToken(token, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID != "ord_42" || !decoded.CreatedAt.Equal(created) {
		t.Fatalf("unexpected cursor: %+v", decoded)
	}
}

func TestDecodeTokenRejectsGarbage(t *testing.T) {
	var decoded struct{}
	for _, token := range []string{"", "   ", "!!!", "bm90LWpzb24"} {
		if err := DecodeToken(token, &decoded); !errors.Is(err, ErrInvalidPageToken) {
			t.Fatalf("token %q: expected ErrInvalidPageToken, got %v", token, err)
		}
	}
}
