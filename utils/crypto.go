// Package utils provides serialization, hashing, signing and validation
// helpers shared by the engine packages.
package utils

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vitwit/reqnet/types"
)

// actionBody is the portion of an action covered by its signature. The
// field order is fixed by the struct, which makes encoding/json output
// deterministic across replays.
type actionBody struct {
	Type       types.ActionType `json:"type"`
	Parameters types.Parameters `json:"parameters"`
	Timestamp  int64            `json:"timestamp"`
}

// CanonicalActionBody returns the canonical JSON serialization of the
// signed portion of an action.
func CanonicalActionBody(action types.Action) ([]byte, error) {
	body := actionBody{
		Type:       action.Type,
		Parameters: action.Parameters,
		Timestamp:  action.Timestamp,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize action body: %w", err)
	}
	return data, nil
}

// ActionHash hashes the canonical action body under the Ethereum
// personal-message prefix.
func ActionHash(action types.Action) ([]byte, error) {
	body, err := CanonicalActionBody(action)
	if err != nil {
		return nil, err
	}
	return personalHash(body), nil
}

// RequestIDFromAction derives the content-addressed request id from a
// creation action. The id is the hex keccak256 of the canonical body, so
// the same creation action always yields the same id.
func RequestIDFromAction(action types.Action) (string, error) {
	body, err := CanonicalActionBody(action)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(crypto.Keccak256(body)), nil
}

// SignAction signs the action body with the given private key and returns
// a copy of the action carrying the signature and the signer identity.
func SignAction(action types.Action, privateKey *ecdsa.PrivateKey) (types.Action, error) {
	hash, err := ActionHash(action)
	if err != nil {
		return types.Action{}, err
	}

	sig, err := crypto.Sign(hash, privateKey)
	if err != nil {
		return types.Action{}, fmt.Errorf("failed to sign action: %w", err)
	}
	// Shift the recovery id into the 27/28 form wallets emit.
	sig[64] += 27

	action.Signature = "0x" + hex.EncodeToString(sig)
	action.Actor = types.Identity{
		Type:  types.IdentityEthereumAddress,
		Value: crypto.PubkeyToAddress(privateKey.PublicKey).Hex(),
	}
	return action, nil
}

// VerifyActionSignature recovers the signer of the action and checks it
// matches the declared actor identity.
func VerifyActionSignature(action types.Action) error {
	if action.Actor.Type != types.IdentityEthereumAddress {
		return &types.EngineError{
			Code:    types.ErrInvalidAction,
			Message: fmt.Sprintf("unsupported identity type: %s", action.Actor.Type),
		}
	}

	hash, err := ActionHash(action)
	if err != nil {
		return err
	}

	recovered, err := RecoverAddress(hash, action.Signature)
	if err != nil {
		return &types.EngineError{
			Code:    types.ErrInvalidAction,
			Message: fmt.Sprintf("signature recovery failed: %v", err),
		}
	}

	if !strings.EqualFold(recovered.Hex(), action.Actor.Value) {
		return &types.EngineError{
			Code:    types.ErrInvalidAction,
			Message: fmt.Sprintf("signature does not match actor %s", action.Actor.Value),
		}
	}
	return nil
}

// RecoverAddress recovers the Ethereum address that produced the given
// 65-byte signature over hash.
func RecoverAddress(hash []byte, signature string) (common.Address, error) {
	signature = strings.TrimPrefix(signature, "0x")

	sigBytes, err := hex.DecodeString(signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to decode signature: %w", err)
	}

	if len(sigBytes) != 65 {
		return common.Address{}, fmt.Errorf("signature must be 65 bytes, got %d", len(sigBytes))
	}

	// Adjust recovery id for Ethereum
	if sigBytes[64] >= 27 {
		sigBytes[64] -= 27
	}

	pubKey, err := crypto.SigToPub(hash, sigBytes)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}

	return crypto.PubkeyToAddress(*pubKey), nil
}

// PrivateKeyFromHex creates a private key from a hex string.
func PrivateKeyFromHex(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	return crypto.HexToECDSA(hexKey)
}

// AddressFromPrivateKey derives the Ethereum address from a private key.
func AddressFromPrivateKey(privateKey *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(privateKey.PublicKey)
}

// PaymentReference derives the 8-byte reference a payer must attach when
// paying through a proxy contract: the last 8 bytes of
// keccak256(lowercase(requestID + salt + address)).
func PaymentReference(requestID, salt, address string) string {
	data := strings.ToLower(requestID + salt + address)
	hash := crypto.Keccak256([]byte(data))
	return hex.EncodeToString(hash[len(hash)-8:])
}

func personalHash(data []byte) []byte {
	msg := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(data), data)
	return crypto.Keccak256([]byte(msg))
}
