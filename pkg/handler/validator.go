package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"log"
	"strconv"
	"time"
)

// replayWindow is how far a request timestamp may drift from the local clock
// before the request is treated as a possible replay of captured traffic.
const replayWindow = 300 // seconds

// VerifySlackSignature validates the Slack request signature.
// This ensures the request came from Slack and is not a replay.
// See: https://api.slack.com/authentication/verifying-requests-from-slack
//
// The caller is responsible for rejecting missing headers or body as a
// client error before calling this; a false return here means the request
// must be refused with 403.
func VerifySlackSignature(body []byte, timestamp string, signature string, signingSecret string) bool {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		log.Printf("Invalid timestamp: %s", timestamp)
		return false
	}

	now := time.Now().Unix()
	drift := now - ts
	if drift < 0 {
		drift = -drift
	}
	if drift > replayWindow {
		log.Printf("Request timestamp outside replay window: %d (current: %d)", ts, now)
		return false
	}

	// Signature base string: v0:<timestamp>:<body>
	baseString := fmt.Sprintf("v0:%s:%s", timestamp, string(body))

	h := hmac.New(sha256.New, []byte(signingSecret))
	h.Write([]byte(baseString))
	expectedSig := "v0=" + fmt.Sprintf("%x", h.Sum(nil))

	// Constant-time comparison only; never compare signatures byte-by-byte
	// with early exit.
	if !hmac.Equal([]byte(expectedSig), []byte(signature)) {
		log.Printf("Invalid signature for request at %s", timestamp)
		return false
	}

	return true
}
