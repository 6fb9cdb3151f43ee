package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/stellar/go/keypair"
)

// Request authentication headers.
const (
	headerAddress   = "X-Stellar-Address"
	headerSignature = "X-Stellar-Signature"
	headerTimestamp = "X-Timestamp"
)

// signatureValidity is the accepted clock skew around the signed timestamp.
const signatureValidity = 300 * time.Second

// signPayload builds the canonical message covered by the request
// signature: METHOD|PATH|SHA256_HEX(BODY)|TIMESTAMP.
func signPayload(method, path string, body []byte, timestamp int64) []byte {
	bodyHash := sha256.Sum256(body)
	return []byte(fmt.Sprintf("%s|%s|%s|%d", method, path, hex.EncodeToString(bodyHash[:]), timestamp))
}

// authenticate verifies the three auth headers against the request and
// returns the verified address. The request body is restored for the
// handler. now is injected for testing the validity window.
func authenticate(r *http.Request, now func() time.Time) (string, error) {
	address := r.Header.Get(headerAddress)
	signature := r.Header.Get(headerSignature)
	tsHeader := r.Header.Get(headerTimestamp)
	if address == "" || signature == "" || tsHeader == "" {
		return "", fmt.Errorf("missing authentication headers")
	}

	timestamp, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid timestamp format")
	}
	skew := now().Unix() - timestamp
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Second > signatureValidity {
		return "", fmt.Errorf("timestamp expired or too far in future")
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	sigBytes, err := hex.DecodeString(signature)
	if err != nil {
		return "", fmt.Errorf("invalid signature encoding")
	}

	kp, err := keypair.ParseAddress(address)
	if err != nil {
		return "", fmt.Errorf("invalid address")
	}
	if err := kp.Verify(signPayload(r.Method, r.URL.Path, body, timestamp), sigBytes); err != nil {
		return "", fmt.Errorf("invalid signature")
	}
	return address, nil
}
