// Package pairing issues and claims short-lived device pairing codes,
// the gateway's lightweight stand-in for a full device-authorization
// flow.
package pairing

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/ehrlich-b/homiegw/internal/router"
	"github.com/ehrlich-b/homiegw/internal/store"
	"github.com/ehrlich-b/homiegw/internal/wire"
)

const (
	defaultTTL      = 300 * time.Second
	codeAlphabet    = "BCDFGHJKLMNPQRSTVWXYZ23456789" // no vowels, no 0/1/O/I: avoids ambiguous reads
	codeLength      = 6
	claimRateLimit  = 1  // claims per second, per connection
	claimRateBurst  = 3
)

// Service is the connection-scoped handler exposing pairing.* methods.
// Each connection gets its own claim rate limiter, so one misbehaving
// client can't exhaust a shared budget for everyone else.
type Service struct {
	store   store.Store
	limiter *rate.Limiter
}

func NewService(st store.Store) *Service {
	return &Service{store: st, limiter: rate.NewLimiter(claimRateLimit, claimRateBurst)}
}

func (s *Service) Namespace() string { return "pairing" }

func (s *Service) HandleBinary(frame *wire.BinaryFrame) {}
func (s *Service) Reap() []router.ReapEvent             { return nil }
func (s *Service) Shutdown()                            {}

type createParams struct {
	TTLSecs int64 `json:"ttl_secs,omitempty"`
}

type codeParams struct {
	Code string `json:"code"`
}

type pairingIDParams struct {
	PairingID string `json:"pairing_id"`
}

func (s *Service) HandleRequest(ctx context.Context, id uuid.UUID, method string, params json.RawMessage) *wire.Envelope {
	switch method {
	case "pairing.create":
		return s.create(id, params)
	case "pairing.claim":
		return s.claim(id, params)
	case "pairing.status":
		return s.status(id, params)
	default:
		return wire.ErrorResponse(id, wire.MethodNotFound("unknown method: "+method))
	}
}

func (s *Service) create(id uuid.UUID, raw json.RawMessage) *wire.Envelope {
	var p createParams
	if err := wire.DecodeParams(raw, &p); err != nil {
		return wire.ErrorResponse(id, wire.InvalidParams("invalid params: "+err.Error()))
	}
	ttl := defaultTTL
	if p.TTLSecs > 0 {
		ttl = time.Duration(p.TTLSecs) * time.Second
	}

	code, err := generateCode()
	if err != nil {
		return wire.ErrorResponse(id, wire.InternalError("generate code: "+err.Error()))
	}

	now := time.Now()
	rec := &store.PairingRecord{
		PairingID: uuid.New().String(),
		Code:      code,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
	if err := s.store.UpsertPairing(rec); err != nil {
		return wire.ErrorResponse(id, wire.InternalError(err.Error()))
	}

	resp, _ := wire.SuccessResponse(id, map[string]any{
		"pairing_id": rec.PairingID,
		"code":       rec.Code,
		"expires_at": rec.ExpiresAt,
	})
	return resp
}

func (s *Service) claim(id uuid.UUID, raw json.RawMessage) *wire.Envelope {
	if !s.limiter.Allow() {
		return wire.ErrorResponse(id, wire.InvalidParams("too many claim attempts, slow down"))
	}

	var p codeParams
	if err := wire.DecodeParams(raw, &p); err != nil || p.Code == "" {
		return wire.ErrorResponse(id, wire.InvalidParams("missing code"))
	}

	rec, err := s.store.GetPairingByCode(p.Code)
	if err != nil {
		return wire.ErrorResponse(id, wire.InvalidParams("unknown or expired code"))
	}
	now := time.Now().Unix()
	if now > rec.ExpiresAt {
		return wire.ErrorResponse(id, wire.InvalidParams("code expired"))
	}
	if err := s.store.ClaimPairing(rec.PairingID, "connection:"+id.String(), now); err != nil {
		return wire.ErrorResponse(id, wire.InvalidParams("code already claimed"))
	}

	resp, _ := wire.SuccessResponse(id, map[string]any{"ok": true, "pairing_id": rec.PairingID})
	return resp
}

func (s *Service) status(id uuid.UUID, raw json.RawMessage) *wire.Envelope {
	var p pairingIDParams
	if err := wire.DecodeParams(raw, &p); err != nil || p.PairingID == "" {
		return wire.ErrorResponse(id, wire.InvalidParams("missing pairing_id"))
	}
	rec, err := s.store.GetPairing(p.PairingID)
	if err != nil {
		return wire.ErrorResponse(id, wire.InvalidParams("unknown pairing_id"))
	}

	result := map[string]any{"claimed": rec.ClaimedBy != ""}
	if rec.ClaimedBy != "" {
		result["claimed_at"] = rec.ClaimedAt
	}
	resp, _ := wire.SuccessResponse(id, result)
	return resp
}

func generateCode() (string, error) {
	out := make([]byte, codeLength)
	for i := range out {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		out[i] = codeAlphabet[n.Int64()]
	}
	return string(out), nil
}
