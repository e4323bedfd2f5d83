package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hearth-security/hearth-server/internal/apperr"
	"github.com/hearth-security/hearth-server/internal/session"
	"github.com/hearth-security/hearth-server/pkg/crypto"
)

// DefaultMaxSkew is the accepted distance between frame and server time
const DefaultMaxSkew = 60 * time.Second

// Frame validation errors. All of them end the session.
var (
	ErrMalformedFrame = fmt.Errorf("malformed frame: %w", apperr.ErrBadRequest)
	ErrUnknownFrame   = fmt.Errorf("unknown frame type: %w", apperr.ErrBadRequest)
	ErrBadMAC         = fmt.Errorf("mac check failed: %w", apperr.ErrUnauthorized)
	ErrStaleSequence  = fmt.Errorf("%w: %w", session.ErrStaleSequence, apperr.ErrUnauthorized)
	ErrReplayedNonce  = fmt.Errorf("%w: %w", session.ErrReplayedNonce, apperr.ErrUnauthorized)
	ErrClockSkew      = fmt.Errorf("timestamp outside window: %w", apperr.ErrUnauthorized)
)

// CheckTimestamp rejects ts further than maxSkew from now
func CheckTimestamp(ts int64, now time.Time, maxSkew time.Duration) error {
	d := now.Sub(time.Unix(ts, 0))
	if d < 0 {
		d = -d
	}
	if d > maxSkew {
		return ErrClockSkew
	}
	return nil
}

// Channel authenticates inbound frames and seals outbound ones for
// established sessions
type Channel struct {
	sessions *session.Store
	maxSkew  time.Duration
	now      func() time.Time
}

// NewChannel creates a channel over the given session store
func NewChannel(sessions *session.Store, maxSkew time.Duration) *Channel {
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}
	return &Channel{
		sessions: sessions,
		maxSkew:  maxSkew,
		now:      time.Now,
	}
}

// Open validates raw against sess in order: MAC, sequence, nonce,
// timestamp. On success the sequence number and nonce are recorded before
// the frame is returned.
func (c *Channel) Open(sess *session.Session, raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, ErrMalformedFrame
	}
	if f.Type == "" || f.MAC == "" {
		return nil, ErrMalformedFrame
	}

	if err := crypto.VerifyMAC(sess.Key(), raw, f.MAC); err != nil {
		return nil, ErrBadMAC
	}

	if err := sess.CheckSequence(f.Seq); err != nil {
		return nil, ErrStaleSequence
	}

	if err := sess.CheckNonce(f.Nonce); err != nil {
		return nil, ErrReplayedNonce
	}

	if err := CheckTimestamp(f.TS, c.now(), c.maxSkew); err != nil {
		return nil, err
	}

	if err := c.sessions.Touch(sess, f.Seq, f.Nonce); err != nil {
		if errors.Is(err, session.ErrReplayedNonce) {
			return nil, ErrReplayedNonce
		}
		return nil, ErrStaleSequence
	}

	return &f, nil
}

// Seal builds an authenticated outbound frame using the session's next
// sequence number
func (c *Channel) Seal(sess *session.Session, typ FrameType, payload interface{}) ([]byte, error) {
	return SealFrame(sess.Key(), typ, sess.NextSeqOut(), c.now().Unix(), payload)
}

// SealFrame builds an authenticated frame with an explicit sequence number
// and timestamp
func SealFrame(key []byte, typ FrameType, seq uint64, ts int64, payload interface{}) ([]byte, error) {
	nonce, err := crypto.Nonce()
	if err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	f := Frame{
		Type:  typ,
		Seq:   seq,
		TS:    ts,
		Nonce: nonce,
	}
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		f.Payload = body
	}

	unsigned, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}

	f.MAC, err = crypto.MAC(key, unsigned)
	if err != nil {
		return nil, err
	}

	return json.Marshal(f)
}

// Ack builds the <type>_ack payload for a handler result
func Ack(err error) AckPayload {
	if err == nil {
		return AckPayload{OK: true}
	}
	return AckPayload{OK: false, Error: ackReason(err)}
}

// ackReason reports only the error class to the device
func ackReason(err error) string {
	switch {
	case errors.Is(err, apperr.ErrBadRequest):
		return "bad_request"
	case errors.Is(err, apperr.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, apperr.ErrConflict):
		return "conflict"
	case errors.Is(err, apperr.ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
