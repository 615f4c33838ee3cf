package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"jobmarket/native/market"
)

var csvHeader = []string{"job_id", "employer", "status", "budget", "bids", "current_bid", "winner", "payout", "refund", "created_at", "completed_at", "description"}

func amount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func timestamp(unix int64) string {
	if unix == 0 {
		return ""
	}
	return time.Unix(unix, 0).UTC().Format(time.RFC3339)
}

func row(job *market.Job) []string {
	current, _, _ := job.CurrentMinimum()
	winner := ""
	if job.HasWinner() {
		winner = common.Address(job.Winner).Hex()
	}
	return []string{
		strconv.FormatUint(job.ID, 10),
		common.Address(job.Employer).Hex(),
		job.Status().String(),
		amount(job.Budget),
		strconv.Itoa(len(job.Bids)),
		current.String(),
		winner,
		amount(job.Payout),
		amount(job.Refund),
		timestamp(job.CreatedAt),
		timestamp(job.CompletedAt),
		job.Description,
	}
}

// JobsCSV builds a CSV export of the supplied jobs and returns the serialised
// data alongside a SHA-256 checksum of the payload.
func JobsCSV(jobs []*market.Job) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	if err := writer.Write(csvHeader); err != nil {
		return nil, "", err
	}
	for _, job := range jobs {
		if job == nil {
			continue
		}
		if err := writer.Write(row(job)); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}

// JobsJSONL builds a JSON Lines export keyed by the CSV column names.
func JobsJSONL(jobs []*market.Job) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, job := range jobs {
		if job == nil {
			continue
		}
		values := row(job)
		payload := make(map[string]string, len(values))
		for i, key := range csvHeader {
			payload[key] = values[i]
		}
		if err := encoder.Encode(payload); err != nil {
			return nil, "", err
		}
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
