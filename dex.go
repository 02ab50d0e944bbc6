package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	errDexRateLimited = errors.New("dexscreener rate limited")
	errDexPairMissing = errors.New("dexscreener pair not found")
)

type dexPairsResponse struct {
	Pairs []dexPair `json:"pairs"`
	Pair  *dexPair  `json:"pair"`
}

type dexPair struct {
	ChainID     string `json:"chainId"`
	PairAddress string `json:"pairAddress"`
	BaseToken   struct {
		Address string `json:"address"`
		Symbol  string `json:"symbol"`
	} `json:"baseToken"`
	PriceNative string `json:"priceNative"`
	PriceUsd    string `json:"priceUsd"`
	Txns        struct {
		H24 struct {
			Buys  int `json:"buys"`
			Sells int `json:"sells"`
		} `json:"h24"`
	} `json:"txns"`
	Volume struct {
		H24 float64 `json:"h24"`
	} `json:"volume"`
	PriceChange struct {
		H24 float64 `json:"h24"`
	} `json:"priceChange"`
	Liquidity struct {
		Usd float64 `json:"usd"`
	} `json:"liquidity"`
}

type dexClient struct {
	baseURL string
	http    *http.Client
}

func newDexClient(baseURL string, client *http.Client) *dexClient {
	return &dexClient{baseURL: strings.TrimRight(baseURL, "/"), http: client}
}

func (c *dexClient) FetchPair(ctx context.Context, chain, pairAddress string) (*dexPair, error) {
	endpoint := fmt.Sprintf("%s/latest/dex/pairs/%s/%s", c.baseURL, url.PathEscape(chain), url.PathEscape(pairAddress))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dexscreener get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, errDexRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("dexscreener status %d: %s", resp.StatusCode, string(body))
	}

	var decoded dexPairsResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("dexscreener decode: %w", err)
	}
	if decoded.Pair != nil {
		return decoded.Pair, nil
	}
	for i := range decoded.Pairs {
		if strings.EqualFold(decoded.Pairs[i].PairAddress, pairAddress) {
			return &decoded.Pairs[i], nil
		}
	}
	if len(decoded.Pairs) > 0 {
		return &decoded.Pairs[0], nil
	}
	return nil, errDexPairMissing
}

type dexToken struct {
	ID          string
	Chain       string
	PairAddress string
	Symbol      string
}

type dexSnapshot struct {
	TokenID        string
	CapturedAt     time.Time
	PriceUSD       float64
	PriceNative    float64
	LiquidityUSD   float64
	VolumeH24      float64
	PriceChangeH24 float64
	BuysH24        int
	SellsH24       int
}

var dexSnapshotColumns = []string{
	"token_id",
	"captured_at",
	"price_usd",
	"price_native",
	"liquidity_usd",
	"volume_h24",
	"price_change_h24",
	"buys_h24",
	"sells_h24",
}

// snapshotCopier is the bulk insert surface of a pgx pool.
type snapshotCopier interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

func parseDexFloat(value string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0
	}
	return f
}

func snapshotFromPair(tokenID string, p *dexPair, at time.Time) dexSnapshot {
	return dexSnapshot{
		TokenID:        tokenID,
		CapturedAt:     at,
		PriceUSD:       parseDexFloat(p.PriceUsd),
		PriceNative:    parseDexFloat(p.PriceNative),
		LiquidityUSD:   p.Liquidity.Usd,
		VolumeH24:      p.Volume.H24,
		PriceChangeH24: p.PriceChange.H24,
		BuysH24:        p.Txns.H24.Buys,
		SellsH24:       p.Txns.H24.Sells,
	}
}

func snapshotRows(snapshots []dexSnapshot) ([][]interface{}, error) {
	rows := make([][]interface{}, 0, len(snapshots))
	for _, s := range snapshots {
		tokenID, err := uuid.Parse(s.TokenID)
		if err != nil {
			return nil, fmt.Errorf("token id %q: %w", s.TokenID, err)
		}
		rows = append(rows, []interface{}{
			tokenID,
			s.CapturedAt,
			s.PriceUSD,
			s.PriceNative,
			s.LiquidityUSD,
			s.VolumeH24,
			s.PriceChangeH24,
			s.BuysH24,
			s.SellsH24,
		})
	}
	return rows, nil
}

func loadDexTokens(ctx context.Context, db *sql.DB) ([]dexToken, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, chain, pair_address, symbol
		FROM dex_tokens
		ORDER BY last_synced_at ASC NULLS FIRST, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tokens := []dexToken{}
	for rows.Next() {
		var t dexToken
		if err := rows.Scan(&t.ID, &t.Chain, &t.PairAddress, &t.Symbol); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func updateDexTokenLatest(ctx context.Context, db *sql.DB, retries int, s dexSnapshot) error {
	_, err := withDBRetry(ctx, retries, func() (sql.Result, error) {
		return db.ExecContext(ctx, `
			UPDATE dex_tokens
			SET last_price_usd = $2,
				last_liquidity_usd = $3,
				last_volume_h24 = $4,
				last_synced_at = $5
			WHERE id = $1
		`, s.TokenID, s.PriceUSD, s.LiquidityUSD, s.VolumeH24, s.CapturedAt)
	})
	return err
}

func dexSnapshotJob(db *sql.DB, copier snapshotCopier, client *dexClient, retries int) jobFunc {
	return func(ctx context.Context, run *jobRun) error {
		tokens, err := loadDexTokens(ctx, db)
		if err != nil {
			return fmt.Errorf("load tokens: %w", err)
		}

		snapshots := make([]dexSnapshot, 0, len(tokens))
		for _, token := range tokens {
			if err := run.pace(ctx); err != nil {
				return err
			}
			pair, err := client.FetchPair(ctx, token.Chain, token.PairAddress)
			if err != nil {
				run.itemFailed(token.PairAddress, err)
				continue
			}
			snapshots = append(snapshots, snapshotFromPair(token.ID, pair, time.Now().UTC()))
		}

		if len(snapshots) == 0 {
			return nil
		}
		rows, err := snapshotRows(snapshots)
		if err != nil {
			return err
		}
		// Latest values are only updated once the snapshots are stored.
		if _, err := copier.CopyFrom(ctx, pgx.Identifier{"dex_snapshots"}, dexSnapshotColumns, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("copy snapshots: %w", err)
		}
		for _, snapshot := range snapshots {
			if err := updateDexTokenLatest(ctx, db, retries, snapshot); err != nil {
				run.itemFailed(snapshot.TokenID, err)
				continue
			}
			run.itemDone()
		}
		return nil
	}
}
