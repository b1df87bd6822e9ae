package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bhulekhchain/title-registry/internal/adapter"
)

const signaturePrefix = "sha256="

// GenerateSignedPayload serializes the event and signs it with HMAC-SHA256.
// The signed string is {timestamp}.{event_id}.{json_body} so clients can reject
// replays and deduplicate by event id.
func GenerateSignedPayload(j adapter.JSON, secret string, event WebhookEvent, now time.Time) (payload []byte, signature string, timestamp int64, err error) {
	payload, err = j.Marshal(event)
	if err != nil {
		return nil, "", 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	timestamp = now.Unix()
	return payload, Sign(secret, timestamp, event.EventID, payload), timestamp, nil
}

// Sign returns the signature header value for a payload
func Sign(secret string, timestamp int64, eventID string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(strconv.FormatInt(timestamp, 10)))
	h.Write([]byte("."))
	h.Write([]byte(eventID))
	h.Write([]byte("."))
	h.Write(payload)
	return signaturePrefix + hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks a received signature in constant time and rejects
// timestamps further than tolerance from now
func VerifySignature(secret, signature string, timestamp int64, eventID string, payload []byte, now time.Time, tolerance time.Duration) error {
	if !strings.HasPrefix(signature, signaturePrefix) {
		return fmt.Errorf("unsupported signature format")
	}

	skew := now.Sub(time.Unix(timestamp, 0))
	if skew < 0 {
		skew = -skew
	}
	if tolerance > 0 && skew > tolerance {
		return fmt.Errorf("signature timestamp outside tolerance: %s", skew)
	}

	expected := Sign(secret, timestamp, eventID, payload)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}
