package rpc

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"jobmarket/crypto"
	"jobmarket/native/market"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeUnavailable    = -32002

	codeMarketInvalid   = -32030
	codeMarketNotFound  = -32031
	codeMarketForbidden = -32032
	codeMarketConflict  = -32033
	codeMarketEscrow    = -32034
)

// ledgerFailure classifies a ledger error. The message carries the stable
// error code so clients can rebuild the sentinel.
func ledgerFailure(err error) *failure {
	code := market.ErrorCode(err)
	fail := &failure{message: code, data: err.Error()}
	switch code {
	case "INVALID_BUDGET", "INVALID_BID_AMOUNT", "INVALID_AMOUNT", "INVALID_DESCRIPTION", "INVALID_CALLER":
		fail.status, fail.code = http.StatusBadRequest, codeMarketInvalid
	case "NOT_FOUND":
		fail.status, fail.code = http.StatusNotFound, codeMarketNotFound
	case "UNAUTHORIZED", "EMPLOYER_CANNOT_BID":
		fail.status, fail.code = http.StatusForbidden, codeMarketForbidden
	case "JOB_CLOSED", "BID_NOT_LOWER", "ALREADY_LOWEST_BIDDER", "STALE_SELECTION",
		"WINNER_ALREADY_SET", "NO_WINNER", "INSUFFICIENT_FUNDS":
		fail.status, fail.code = http.StatusConflict, codeMarketConflict
	case "ESCROW_VERIFICATION_FAILED":
		fail.status, fail.code = http.StatusPreconditionFailed, codeMarketEscrow
	default:
		return internalFailure(err)
	}
	return fail
}

func internalFailure(err error) *failure {
	return &failure{status: http.StatusInternalServerError, code: codeServerError, message: "INTERNAL", data: err.Error()}
}

func invalidParams(detail string) *failure {
	return &failure{status: http.StatusBadRequest, code: codeInvalidParams, message: "invalid_params", data: detail}
}

func unavailable(backend string) *failure {
	return &failure{status: http.StatusServiceUnavailable, code: codeUnavailable, message: backend + " unavailable"}
}

func parseAddress(raw string) ([20]byte, *failure) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return [20]byte{}, invalidParams("address required")
	}
	addr, err := crypto.ParseAddress(trimmed)
	if err != nil {
		return [20]byte{}, invalidParams(err.Error())
	}
	return addr, nil
}

func formatAddress(addr [20]byte) string { return crypto.FormatHex(addr) }

func decodeSignature(raw string) ([]byte, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "0x") {
		trimmed = "0x" + trimmed
	}
	sig, err := hexutil.Decode(trimmed)
	if err != nil {
		return nil, fmt.Errorf("signature: %w", err)
	}
	if len(sig) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	return sig, nil
}
