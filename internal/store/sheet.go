package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/user/scraper-service/internal/entity"
)

// invalidTokenCode is the vendor error code for an expired tenant token.
const invalidTokenCode = 99991663

// maxChunkRows bounds a single value-range write when the bulk endpoints
// reject the payload.
const maxChunkRows = 50

// SheetClient talks to the spreadsheet service API. It caches the tenant
// access token and transparently refreshes it once per request on expiry.
type SheetClient struct {
	baseURL   string
	appID     string
	appSecret string
	http      *http.Client

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

// NewSheetClient builds a client for the service at baseURL.
func NewSheetClient(baseURL, appID, appSecret string) *SheetClient {
	return &SheetClient{
		baseURL:   baseURL,
		appID:     appID,
		appSecret: appSecret,
		http:      &http.Client{Timeout: 30 * time.Second},
	}
}

type apiEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type tokenResponse struct {
	Code              int    `json:"code"`
	Msg               string `json:"msg"`
	TenantAccessToken string `json:"tenant_access_token"`
	Expire            int    `json:"expire"`
}

// tenantToken returns a valid token, fetching a fresh one when forced or
// when the cached token is close to expiry.
func (c *SheetClient) tenantToken(ctx context.Context, force bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !force && c.token != "" && time.Until(c.tokenExp) > time.Minute {
		return c.token, nil
	}

	payload, _ := json.Marshal(map[string]string{
		"app_id":     c.appID,
		"app_secret": c.appSecret,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/open-apis/auth/v3/tenant_access_token/internal", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("request tenant token: %w", err)
	}
	defer resp.Body.Close()

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode tenant token response: %w", err)
	}
	if tr.Code != 0 || tr.TenantAccessToken == "" {
		return "", fmt.Errorf("tenant token refused: code=%d msg=%s", tr.Code, tr.Msg)
	}

	c.token = tr.TenantAccessToken
	c.tokenExp = time.Now().Add(time.Duration(tr.Expire) * time.Second)
	slog.Debug("tenant token refreshed", "expires_in", tr.Expire)
	return c.token, nil
}

// call performs one authenticated API request. An expired token (HTTP 401 or
// vendor code 99991663) triggers exactly one forced refresh and retry.
func (c *SheetClient) call(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
	}

	refreshed := false
	force := false
	for {
		token, err := c.tenantToken(ctx, force)
		if err != nil {
			return nil, err
		}

		var reader *bytes.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		} else {
			reader = bytes.NewReader(nil)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", method, path, err)
		}

		var env apiEnvelope
		decodeErr := json.NewDecoder(resp.Body).Decode(&env)
		resp.Body.Close()

		expired := resp.StatusCode == http.StatusUnauthorized ||
			(decodeErr == nil && env.Code == invalidTokenCode)
		if expired && !refreshed {
			slog.Warn("tenant token expired, refreshing", "path", path)
			refreshed = true
			force = true
			continue
		}

		if decodeErr != nil {
			return nil, fmt.Errorf("%s %s: decode response (http %d): %w", method, path, resp.StatusCode, decodeErr)
		}
		if resp.StatusCode >= 400 || env.Code != 0 {
			return nil, fmt.Errorf("%s %s: api error http=%d code=%d msg=%s", method, path, resp.StatusCode, env.Code, env.Msg)
		}
		return env.Data, nil
	}
}

// SheetStore is one sheet of one remote spreadsheet exposed as a
// TabularStore.
type SheetStore struct {
	client           *SheetClient
	spreadsheetToken string
	sheetID          string
}

// NewSheetStore binds a client to a spreadsheet sheet.
func NewSheetStore(client *SheetClient, spreadsheetToken, sheetID string) *SheetStore {
	return &SheetStore{client: client, spreadsheetToken: spreadsheetToken, sheetID: sheetID}
}

func (s *SheetStore) Kind() string { return "remote" }

func (s *SheetStore) valuesPath() string {
	return fmt.Sprintf("/open-apis/sheets/v2/spreadsheets/%s/values", s.spreadsheetToken)
}

// ReadAll fetches the full sheet. Unlike the local store, a read failure
// here is always surfaced: silently treating a reachable-but-failing remote
// as empty would clobber it on the next write.
func (s *SheetStore) ReadAll(ctx context.Context) (*entity.Dataset, error) {
	data, err := s.client.call(ctx, http.MethodGet,
		fmt.Sprintf("%s/%s", s.valuesPath(), s.sheetID), nil)
	if err != nil {
		return nil, fmt.Errorf("read remote sheet: %w", err)
	}

	var parsed struct {
		ValueRange struct {
			Values [][]any `json:"values"`
		} `json:"valueRange"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("decode remote sheet values: %w", err)
	}

	values := make([][]string, len(parsed.ValueRange.Values))
	for i, row := range parsed.ValueRange.Values {
		cells := make([]string, len(row))
		for j, cell := range row {
			cells[j] = cellToString(cell)
		}
		values[i] = cells
	}
	return entity.DatasetFromValues(values), nil
}

// WriteAll pushes the dataset in tiers: a single bulk value write first,
// the batch-update endpoint if that fails, and finally chunks of at most 50
// rows. Value writes only cover rows 1..len(values), so when the dataset
// shrank, stale rows below the written range are deleted afterwards.
func (s *SheetStore) WriteAll(ctx context.Context, d *entity.Dataset) error {
	values := d.Values()
	rangeRef := s.rangeRef(1, len(values), len(d.Headers))

	oldCount, err := s.valueRowCount(ctx)
	if err != nil {
		slog.Warn("could not read current sheet size before write", "sheet", s.sheetID, "error", err)
		oldCount = 0
	}

	if err := s.writeValues(ctx, rangeRef, values, len(d.Headers)); err != nil {
		return err
	}

	if oldCount > len(values) {
		if err := s.deleteRowRange(ctx, len(values)+1, oldCount); err != nil {
			return fmt.Errorf("trim stale rows %d-%d: %w", len(values)+1, oldCount, err)
		}
		slog.Info("stale trailing rows trimmed", "sheet", s.sheetID, "from", len(values)+1, "to", oldCount)
	}
	return nil
}

func (s *SheetStore) writeValues(ctx context.Context, rangeRef string, values [][]string, width int) error {
	_, err := s.client.call(ctx, http.MethodPut, s.valuesPath(), map[string]any{
		"valueRange": map[string]any{"range": rangeRef, "values": values},
	})
	if err == nil {
		slog.Info("remote sheet updated", "sheet", s.sheetID, "rows", len(values))
		return nil
	}
	slog.Warn("bulk value write failed, trying batch update", "sheet", s.sheetID, "error", err)

	_, err = s.client.call(ctx, http.MethodPost, s.valuesPath()+"_batch_update", map[string]any{
		"valueRanges": []map[string]any{
			{"range": rangeRef, "values": values},
		},
	})
	if err == nil {
		slog.Info("remote sheet updated via batch endpoint", "sheet", s.sheetID, "rows", len(values))
		return nil
	}
	slog.Warn("batch update failed, falling back to chunked writes", "sheet", s.sheetID, "error", err)

	return s.writeChunked(ctx, values, width)
}

// valueRowCount returns how many value rows (header included) the sheet
// currently holds.
func (s *SheetStore) valueRowCount(ctx context.Context) (int, error) {
	d, err := s.ReadAll(ctx)
	if err != nil {
		return 0, err
	}
	if len(d.Headers) == 0 {
		return 0, nil
	}
	return len(d.Rows) + 1, nil
}

func (s *SheetStore) writeChunked(ctx context.Context, values [][]string, width int) error {
	for start := 0; start < len(values); start += maxChunkRows {
		end := start + maxChunkRows
		if end > len(values) {
			end = len(values)
		}
		chunk := values[start:end]
		_, err := s.client.call(ctx, http.MethodPut, s.valuesPath(), map[string]any{
			"valueRange": map[string]any{
				"range":  s.rangeRef(start+1, end, width),
				"values": chunk,
			},
		})
		if err != nil {
			return fmt.Errorf("chunked write rows %d-%d: %w", start+1, end, err)
		}
	}
	slog.Info("remote sheet updated via chunked writes", "sheet", s.sheetID, "rows", len(values))
	return nil
}

// AppendRows has no true partial-append primitive upstream, so it merges:
// read, extend, write back whole.
func (s *SheetStore) AppendRows(ctx context.Context, rows []entity.Record) error {
	d, err := s.ReadAll(ctx)
	if err != nil {
		return err
	}
	for _, row := range rows {
		d.Append(row)
	}
	return s.WriteAll(ctx, d)
}

// DeleteWhere removes matching rows one by one, highest index first so the
// remaining indices stay valid as rows shift up.
func (s *SheetStore) DeleteWhere(ctx context.Context, field string, urls []string) (int, error) {
	d, err := s.ReadAll(ctx)
	if err != nil {
		return 0, err
	}
	idx := matchRows(d, field, urls)
	if len(idx) == 0 {
		return 0, nil
	}

	deleted := 0
	for i := len(idx) - 1; i >= 0; i-- {
		// Sheet rows are 1-based and row 1 is the header.
		rowNum := idx[i] + 2
		if err := s.deleteRowRange(ctx, rowNum, rowNum); err != nil {
			return deleted, fmt.Errorf("delete remote row %d: %w", rowNum, err)
		}
		deleted++
	}
	slog.Info("remote rows deleted", "sheet", s.sheetID, "count", deleted)
	return deleted, nil
}

// deleteRowRange removes sheet rows startRow through endRow inclusive,
// 1-based with the header as row 1.
func (s *SheetStore) deleteRowRange(ctx context.Context, startRow, endRow int) error {
	_, err := s.client.call(ctx, http.MethodDelete,
		fmt.Sprintf("/open-apis/sheets/v2/spreadsheets/%s/dimension_range", s.spreadsheetToken),
		map[string]any{
			"dimension": map[string]any{
				"sheetId":        s.sheetID,
				"majorDimension": "ROWS",
				"startIndex":     startRow,
				"endIndex":       endRow,
			},
		})
	return err
}

// Exists reports whether url is present in the sheet's field column.
func (s *SheetStore) Exists(ctx context.Context, field, url string) (bool, error) {
	d, err := s.ReadAll(ctx)
	if err != nil {
		return false, err
	}
	return hasURL(d, field, url), nil
}

// rangeRef renders an A1-style range covering rows [startRow, endRow] and
// width columns, e.g. "shtid!A1:K42".
func (s *SheetStore) rangeRef(startRow, endRow, width int) string {
	if width < 1 {
		width = 1
	}
	return fmt.Sprintf("%s!A%d:%s%d", s.sheetID, startRow, columnName(width), endRow)
}

// columnName converts a 1-based column number to its letter reference.
func columnName(n int) string {
	name := ""
	for n > 0 {
		n--
		name = string(rune('A'+n%26)) + name
		n /= 26
	}
	return name
}

// cellToString renders an API cell value as a string. Rich cells (link
// objects, segment arrays) are kept as their JSON encoding so the identity
// extractor can resolve them later.
func cellToString(cell any) string {
	switch v := cell.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}
