package handler

import (
	"errors"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/l1jgo/sched/internal/net"
	"github.com/l1jgo/sched/internal/net/packet"
)

// MaxAuthFailures closes a session after this many bad tokens.
const MaxAuthFailures = 3

var ErrAuthFailed = errors.New("authentication failed")

// HandleAuth processes AUTH. Format: [opcode][token\0]
func HandleAuth(sess *net.Session, r *packet.Reader, deps *Deps) error {
	deps.count("auth")
	token := r.ReadS()
	if err := malformed(r); err != nil {
		return err
	}

	if err := bcrypt.CompareHashAndPassword(deps.TokenHash, []byte(token)); err != nil {
		sess.AuthFailures++
		sess.Log().Warn("control auth failed",
			zap.String("ip", sess.IP),
			zap.Int("failures", sess.AuthFailures),
		)
		if sess.AuthFailures >= MaxAuthFailures {
			sess.SetState(packet.StateDisconnecting)
		}
		return ErrAuthFailed
	}

	sess.SetState(packet.StateAuthenticated)
	sess.Log().Info("control client authenticated", zap.String("ip", sess.IP))
	sendOK(sess, "authenticated")
	return nil
}

// HashToken returns the bcrypt hash to put in control.token_hash.
func HashToken(token string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
