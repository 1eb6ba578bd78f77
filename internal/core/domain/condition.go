package domain

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"conditional-ledger/pkg/apperror"
)

// ConditionType identifies the crypto-condition algorithm.
type ConditionType uint16

// ConditionTypePreimageSHA256 is the only algorithm this ledger accepts.
const ConditionTypePreimageSHA256 ConditionType = 0

const (
	// MaxConditionBitmask is the largest bitmask the ledger can represent.
	MaxConditionBitmask uint64 = 0xFFFFFFFF
	// SupportedConditionFeatures are the feature bits of PREIMAGE-SHA-256.
	SupportedConditionFeatures uint64 = 0x03
	// MaxFulfillmentLength caps the declared fulfillment length of a condition.
	MaxFulfillmentLength uint64 = 65535
)

var (
	conditionPattern   = regexp.MustCompile(`^cc:([1-9a-f][0-9a-f]{0,3}|0):[1-9a-f][0-9a-f]{0,15}:[A-Za-z0-9_-]{0,86}:([1-9][0-9]{0,17}|0)$`)
	fulfillmentPattern = regexp.MustCompile(`^cf:([1-9a-f][0-9a-f]{0,3}|0):[A-Za-z0-9_-]*$`)
)

// Condition is a parsed execution condition. It is immutable once parsed.
type Condition struct {
	TypeID               ConditionType
	Bitmask              uint64
	Fingerprint          []byte
	MaxFulfillmentLength uint64
}

// ParseCondition parses a condition URI of the form
// cc:<type-hex>:<bitmask-hex>:<fingerprint-base64url>:<max-fulfillment-length>.
func ParseCondition(uri string) (*Condition, error) {
	if uri == "" {
		return nil, apperror.ErrParse("condition must be a non-empty string")
	}
	parts := strings.Split(uri, ":")
	if len(parts) != 5 {
		return nil, apperror.ErrParse(fmt.Sprintf("condition must have 5 segments, got %d", len(parts)))
	}
	if parts[0] != "cc" {
		return nil, apperror.ErrParse("condition must start with the cc: prefix")
	}
	if !conditionPattern.MatchString(uri) {
		return nil, apperror.ErrParse("condition does not match the cc:<type>:<bitmask>:<fingerprint>:<length> format")
	}

	// The pattern bounds every numeric segment, so the conversions below cannot overflow.
	typeID, err := strconv.ParseUint(parts[1], 16, 16)
	if err != nil {
		return nil, apperror.ErrParse("condition type is not valid hex")
	}
	bitmask, err := strconv.ParseUint(parts[2], 16, 64)
	if err != nil {
		return nil, apperror.ErrParse("condition bitmask is not valid hex")
	}
	fingerprint, err := base64.RawURLEncoding.DecodeString(parts[3])
	if err != nil {
		return nil, apperror.ErrParse("condition fingerprint is not valid base64url")
	}
	maxLen, err := strconv.ParseUint(parts[4], 10, 64)
	if err != nil {
		return nil, apperror.ErrParse("condition max fulfillment length is not a valid integer")
	}

	return &Condition{
		TypeID:               ConditionType(typeID),
		Bitmask:              bitmask,
		Fingerprint:          fingerprint,
		MaxFulfillmentLength: maxLen,
	}, nil
}

// Validate checks the condition against what this ledger supports.
// Checks run in a fixed order and the first failure is returned.
func (c *Condition) Validate() error {
	if c.TypeID != ConditionTypePreimageSHA256 {
		return apperror.ErrUnsupportedType()
	}
	if c.Bitmask > MaxConditionBitmask {
		return apperror.ErrBitmaskTooLarge()
	}
	if c.Bitmask&^SupportedConditionFeatures != 0 {
		return apperror.ErrUnsupportedBitmaskFeatures()
	}
	if c.MaxFulfillmentLength > MaxFulfillmentLength {
		return apperror.ErrFulfillmentTooLong()
	}
	return nil
}

// String renders the condition back into its URI form.
func (c *Condition) String() string {
	return fmt.Sprintf("cc:%x:%x:%s:%d",
		uint16(c.TypeID), c.Bitmask,
		base64.RawURLEncoding.EncodeToString(c.Fingerprint),
		c.MaxFulfillmentLength)
}

// Fulfillment is a parsed cf:<type-hex>:<payload-base64url> string.
// For PREIMAGE-SHA-256 the payload is the preimage itself.
type Fulfillment struct {
	TypeID  ConditionType
	Payload []byte
}

// ParseFulfillment parses a fulfillment URI.
func ParseFulfillment(uri string) (*Fulfillment, error) {
	if uri == "" {
		return nil, apperror.ErrParse("fulfillment must be a non-empty string")
	}
	parts := strings.Split(uri, ":")
	if len(parts) != 3 {
		return nil, apperror.ErrParse(fmt.Sprintf("fulfillment must have 3 segments, got %d", len(parts)))
	}
	if !fulfillmentPattern.MatchString(uri) {
		return nil, apperror.ErrParse("fulfillment does not match the cf:<type>:<payload> format")
	}
	typeID, err := strconv.ParseUint(parts[1], 16, 16)
	if err != nil {
		return nil, apperror.ErrParse("fulfillment type is not valid hex")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, apperror.ErrParse("fulfillment payload is not valid base64url")
	}
	return &Fulfillment{TypeID: ConditionType(typeID), Payload: payload}, nil
}

// NewPreimageFulfillment wraps a preimage as a PREIMAGE-SHA-256 fulfillment.
func NewPreimageFulfillment(preimage []byte) *Fulfillment {
	return &Fulfillment{TypeID: ConditionTypePreimageSHA256, Payload: append([]byte(nil), preimage...)}
}

// String renders the fulfillment back into its URI form.
func (f *Fulfillment) String() string {
	return fmt.Sprintf("cf:%x:%s", uint16(f.TypeID), base64.RawURLEncoding.EncodeToString(f.Payload))
}

// Condition derives the condition this fulfillment satisfies.
func (f *Fulfillment) Condition() *Condition {
	sum := sha256.Sum256(f.Payload)
	return &Condition{
		TypeID:               f.TypeID,
		Bitmask:              SupportedConditionFeatures,
		Fingerprint:          sum[:],
		MaxFulfillmentLength: uint64(len(f.Payload)),
	}
}

// VerifyFulfillment reports whether ff satisfies cond.
func VerifyFulfillment(cond *Condition, ff *Fulfillment) bool {
	if cond == nil || ff == nil {
		return false
	}
	if cond.TypeID != ConditionTypePreimageSHA256 || ff.TypeID != cond.TypeID {
		return false
	}
	if uint64(len(ff.Payload)) > cond.MaxFulfillmentLength {
		return false
	}
	sum := sha256.Sum256(ff.Payload)
	return subtle.ConstantTimeCompare(sum[:], cond.Fingerprint) == 1
}
