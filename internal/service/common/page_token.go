// Package common holds helpers shared by the HTTP layer and services.
package common

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"

	apperrors "github.com/acme/voice-campaign-core/pkg/errors"
)

// EncodePageToken wraps an opaque store paging state in a URL-safe token bound to the
// campaign it was issued for.
func EncodePageToken(campaignID uuid.UUID, state []byte) string {
	if len(state) == 0 {
		return ""
	}
	buf := make([]byte, 0, len(campaignID)+len(state))
	buf = append(buf, campaignID[:]...)
	buf = append(buf, state...)
	return base64.RawURLEncoding.EncodeToString(buf)
}

// DecodePageToken returns the paging state carried by token. Tokens issued for another
// campaign are rejected. An empty token means the first page.
func DecodePageToken(campaignID uuid.UUID, token string) ([]byte, error) {
	if token == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed page token", apperrors.ErrValidation)
	}
	if len(data) <= len(campaignID) || !bytes.Equal(data[:len(campaignID)], campaignID[:]) {
		return nil, fmt.Errorf("%w: page token does not belong to this campaign", apperrors.ErrValidation)
	}
	return data[len(campaignID):], nil
}
