package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type whaleTrade struct {
	TxHash    string  `json:"txHash"`
	Wallet    string  `json:"wallet"`
	Side      string  `json:"side"`
	AmountUSD float64 `json:"amountUsd"`
	Timestamp int64   `json:"timestamp"`
}

// OccurredAt accepts both second and millisecond epochs.
func (t whaleTrade) OccurredAt() time.Time {
	if t.Timestamp > 1e12 {
		return time.UnixMilli(t.Timestamp).UTC()
	}
	return time.Unix(t.Timestamp, 0).UTC()
}

type whaleClient struct {
	baseURL string
	http    *http.Client
}

func newWhaleClient(baseURL string, client *http.Client) *whaleClient {
	return &whaleClient{baseURL: strings.TrimRight(baseURL, "/"), http: client}
}

func (c *whaleClient) FetchTrades(ctx context.Context, chain, pairAddress string) ([]whaleTrade, error) {
	endpoint := c.baseURL + "/v1/trades?" + url.Values{"chain": {chain}, "pair": {pairAddress}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("trades get: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("trades status %d", resp.StatusCode)
	}
	var decoded struct {
		Trades []whaleTrade `json:"trades"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("trades decode: %w", err)
	}
	return decoded.Trades, nil
}

// filterWhaleTrades keeps trades at or above minUSD, dropping blank and repeated hashes.
func filterWhaleTrades(trades []whaleTrade, minUSD float64) []whaleTrade {
	seen := make(map[string]bool, len(trades))
	out := []whaleTrade{}
	for _, t := range trades {
		hash := strings.ToLower(strings.TrimSpace(t.TxHash))
		if hash == "" || seen[hash] || t.AmountUSD < minUSD {
			continue
		}
		seen[hash] = true
		t.TxHash = hash
		t.Side = strings.ToLower(strings.TrimSpace(t.Side))
		out = append(out, t)
	}
	return out
}

func insertWhaleEntry(ctx context.Context, e execer, tokenID string, t whaleTrade) (bool, error) {
	res, err := e.ExecContext(ctx, `
		INSERT INTO whale_entries (tx_hash, token_id, wallet, side, amount_usd, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tx_hash) DO NOTHING
	`, t.TxHash, tokenID, t.Wallet, t.Side, t.AmountUSD, t.OccurredAt())
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func whaleEntriesJob(db *sql.DB, client *whaleClient, minUSD float64) jobFunc {
	return func(ctx context.Context, run *jobRun) error {
		if client == nil || client.baseURL == "" {
			return errJobNotConfigured
		}
		tokens, err := loadDexTokens(ctx, db)
		if err != nil {
			return fmt.Errorf("load tokens: %w", err)
		}
		for _, token := range tokens {
			if err := run.pace(ctx); err != nil {
				return err
			}
			trades, err := client.FetchTrades(ctx, token.Chain, token.PairAddress)
			if err != nil {
				run.itemFailed(token.PairAddress, err)
				continue
			}
			var insertErr error
			for _, trade := range filterWhaleTrades(trades, minUSD) {
				if _, err := insertWhaleEntry(ctx, db, token.ID, trade); err != nil {
					insertErr = err
					break
				}
			}
			if insertErr != nil {
				run.itemFailed(token.PairAddress, insertErr)
				continue
			}
			run.itemDone()
		}
		return nil
	}
}
