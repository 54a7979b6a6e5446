package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/leadcore/internal/payment/domain"
)

// SignatureHeader carries "t=<unix seconds>,v1=<hex hmac>". Several v1 values
// may be present while a secret is being rotated.
const SignatureHeader = "X-Leadcore-Signature"

const DefaultTolerance = 5 * time.Minute

// Sign returns the header value for payload signed at ts.
func Sign(secret string, payload []byte, ts time.Time) string {
	timestamp := strconv.FormatInt(ts.Unix(), 10)
	return fmt.Sprintf("t=%s,v1=%s", timestamp, computeSignature(secret, timestamp, payload))
}

// Verify checks header against payload with HMAC-SHA256 over "t.payload".
func Verify(secret string, payload []byte, header string, now time.Time, tolerance time.Duration) error {
	if strings.TrimSpace(secret) == "" {
		return paymentdomain.ErrWebhookDisabled
	}
	timestamp, signatures, err := parseSignature(header)
	if err != nil {
		return err
	}
	seconds, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	if tolerance > 0 {
		age := now.Sub(time.Unix(seconds, 0))
		if age < 0 {
			age = -age
		}
		if age > tolerance {
			return paymentdomain.ErrSignatureExpired
		}
	}

	expected := computeSignature(secret, timestamp, payload)
	for _, sig := range signatures {
		if hmac.Equal([]byte(expected), []byte(strings.ToLower(sig))) {
			return nil
		}
	}
	return paymentdomain.ErrInvalidSignature
}

func computeSignature(secret, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func parseSignature(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, paymentdomain.ErrInvalidSignature
	}
	return timestamp, signatures, nil
}
